package main

import (
	"os"

	"github.com/gravitational/apisession/lib"
)

// VersionCmd prints the binary version.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run() error {
	lib.PrintVersion(os.Stdout, appName, Version, Gitref)
	return nil
}
