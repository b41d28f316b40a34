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
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"
)

// KongTOMLResolver is the kong resolver function for toml configuration file.
// A flag named "api-login-path" is looked up as "login_path" in the [api]
// section, flags without a section are looked up at the top level.
func KongTOMLResolver(r io.Reader) (kong.Resolver, error) {
	config, err := toml.LoadReader(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// ResolverFunc reads configuration variables from the external source, TOML file in this case
	var f kong.ResolverFunc = func(context *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		name := flag.Name

		if section, key, ok := strings.Cut(name, "-"); ok {
			valueWithinSection := config.Get(section + "." + strings.ReplaceAll(key, "-", "_"))
			if valueWithinSection != nil {
				return valueWithinSection, nil
			}
		}

		return config.Get(name), nil
	}

	return f, nil
}
