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

package apiclient

import "context"

// Navigator moves the user to another screen. The client calls it with the
// login screen once the session is gone.
type Navigator interface {
	Redirect(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

// Redirect implements Navigator.
func (f NavigatorFunc) Redirect(ctx context.Context, path string) {
	f(ctx, path)
}

// DiscardNavigator ignores redirects.
var DiscardNavigator Navigator = NavigatorFunc(func(context.Context, string) {})
