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
	"strings"

	"github.com/gravitational/trace"
	"github.com/tidwall/gjson"

	"github.com/gravitational/apisession/apiclient"
)

// GetCmd fetches an API resource with the stored session.
type GetCmd struct {
	// Path is the resource path under the API root
	Path string `arg:"true" help:"Resource path under the API root, e.g. /games/" required:"true"`

	// Raw disables pretty printing
	Raw bool `help:"Print the reply as received"`
}

// Run executes the get command.
func (c *GetCmd) Run(cli *CLI) error {
	return c.run(context.Background(), cli, os.Stdout)
}

func (c *GetCmd) run(ctx context.Context, cli *CLI, w io.Writer) error {
	a, err := newApp(ctx, cli, cliNavigator{w: os.Stderr})
	if err != nil {
		return trace.Wrap(err)
	}
	defer a.Close()

	resp, err := a.client.R(ctx).Get(resourcePath(c.Path))
	if apiclient.IsSessionCleared(err) {
		return trace.AccessDenied("the session ended while the request was in flight")
	}
	if err != nil {
		return trace.Wrap(err)
	}

	body := resp.Body()
	if !c.Raw && gjson.ValidBytes(body) {
		body = []byte(gjson.GetBytes(body, "@pretty").Raw)
	}
	_, err = fmt.Fprintln(w, strings.TrimRight(string(body), "\n"))
	return trace.Wrap(err)
}

// resourcePath makes p relative to the API root.
func resourcePath(p string) string {
	return "/" + strings.TrimLeft(p, "/")
}
