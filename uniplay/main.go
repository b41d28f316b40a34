/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/gravitational/trace"

	"github.com/gravitational/apisession/lib"
	"github.com/gravitational/apisession/lib/logger"
)

const (
	appName        = "uniplay"
	appDescription = "Tournament portal client keeping an authenticated API session"
)

var (
	// Version is the binary version, set at build time.
	Version = "dev"
	// Gitref is the git commit, set at build time.
	Gitref = "unknown"
)

func main() {
	logger.Init()

	var cli CLI
	ctx := kong.Parse(
		&cli,
		kong.UsageOnError(),
		kong.Configuration(KongTOMLResolver),
		kong.Name(appName),
		kong.Description(appDescription),
	)

	// See respective commands Run() methods
	err := ctx.Run(&cli)
	if err == nil {
		return
	}
	if cli.Debug {
		fmt.Fprintf(os.Stderr, "%v\n", trace.DebugReport(err))
	}
	lib.Bail(err)
}
