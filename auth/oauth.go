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

// Package auth talks to the API token endpoints: it logs in with user
// credentials and exchanges a refresh token for a new access token.
package auth

import (
	"context"
)

// Credentials are the user's login and password.
type Credentials struct {
	Username string
	Password string
}

// Tokens are issued by the token endpoints. RefreshToken is empty when a
// refresh did not rotate it.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Authorizer logs users in and refreshes their access tokens.
type Authorizer interface {
	Exchanger
	Refresher
}

// Exchanger exchanges user credentials for a token pair.
type Exchanger interface {
	Login(ctx context.Context, creds Credentials) (*Tokens, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
}
