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
	"github.com/manifoldco/promptui"
)

// LoginCmd exchanges credentials for a token pair and stores it.
type LoginCmd struct {
	// Username is prompted for when empty
	Username string `help:"Username, prompted for when empty" short:"u" env:"UNIPLAY_USERNAME"`

	// Password is prompted for when empty
	Password string `help:"Password, prompted for when empty" env:"UNIPLAY_PASSWORD"`
}

// Run executes the login command.
func (c *LoginCmd) Run(cli *CLI) error {
	return c.run(context.Background(), cli, os.Stdout)
}

func (c *LoginCmd) run(ctx context.Context, cli *CLI, w io.Writer) error {
	a, err := newApp(ctx, cli, cliNavigator{w: os.Stderr})
	if err != nil {
		return trace.Wrap(err)
	}
	defer a.Close()

	username, password := c.Username, c.Password
	if username == "" {
		if username, err = prompt("Username", 0); err != nil {
			return trace.Wrap(err)
		}
	}
	if password == "" {
		if password, err = prompt("Password", '*'); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := a.client.Login(ctx, username, password); err != nil {
		return trace.Wrap(err)
	}
	fmt.Fprintf(w, "Logged in as %s.\n", username)
	return nil
}

func prompt(label string, mask rune) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  mask,
		Validate: func(input string) error {
			if input == "" {
				return trace.BadParameter("%s is required", label)
			}
			return nil
		},
	}
	result, err := p.Run()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return result, nil
}
