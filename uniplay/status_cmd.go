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
	"io"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/olekukonko/tablewriter"

	"github.com/gravitational/apisession/apiclient"
)

// StatusCmd shows the stored session. Token values are never printed.
type StatusCmd struct{}

// Run executes the status command.
func (c *StatusCmd) Run(cli *CLI) error {
	return c.run(context.Background(), cli, os.Stdout)
}

func (c *StatusCmd) run(ctx context.Context, cli *CLI, w io.Writer) error {
	a, err := newApp(ctx, cli, apiclient.DiscardNavigator)
	if err != nil {
		return trace.Wrap(err)
	}
	defer a.Close()

	sess := a.store.Get(ctx)
	updated := "never"
	if !sess.UpdatedAt.IsZero() {
		updated = sess.UpdatedAt.Local().Format(time.RFC1123)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.AppendBulk([][]string{
		{"API", cli.APIURL},
		{"Storage", cli.StorageType},
		{"Profile", cli.StorageProfile},
		{"Logged in", yesNo(sess.IsAuthenticated())},
		{"Access token", presence(sess.AccessToken)},
		{"Refresh token", presence(sess.RefreshToken)},
		{"Updated", updated},
	})
	table.Render()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func presence(token string) string {
	if token == "" {
		return "absent"
	}
	return "present"
}
