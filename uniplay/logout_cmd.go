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
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gravitational/trace"

	"github.com/gravitational/apisession/apiclient"
)

// LogoutCmd forgets the stored session. Nothing is sent to the API.
type LogoutCmd struct{}

// Run executes the logout command.
func (c *LogoutCmd) Run(cli *CLI) error {
	return c.run(context.Background(), cli, os.Stdout)
}

func (c *LogoutCmd) run(ctx context.Context, cli *CLI, w io.Writer) error {
	a, err := newApp(ctx, cli, apiclient.DiscardNavigator)
	if err != nil {
		return trace.Wrap(err)
	}
	defer a.Close()

	if !a.client.IsAuthenticated(ctx) {
		fmt.Fprintln(w, "Not logged in.")
		return nil
	}
	a.client.Logout(ctx)
	fmt.Fprintln(w, "Logged out.")
	return nil
}
