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

package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/tidwall/gjson"
)

const (
	// DefaultLoginPath is the token pair endpoint.
	DefaultLoginPath = "/auth/token/"
	// DefaultRefreshPath is the token refresh endpoint.
	DefaultRefreshPath = "/auth/token/refresh/"
	// DefaultAccessField names the access token in endpoint replies.
	DefaultAccessField = "access"
	// DefaultRefreshField names the refresh token in requests and replies.
	DefaultRefreshField = "refresh"

	defaultHTTPTimeout = 10 * time.Second
	maxConns           = 10
)

// Config configures TokenAuthorizer.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8000/api.
	BaseURL string
	// LoginPath is the token pair endpoint relative to BaseURL.
	LoginPath string
	// RefreshPath is the refresh endpoint relative to BaseURL.
	RefreshPath string
	// AccessField is the JSON field carrying the access token.
	AccessField string
	// RefreshField is the JSON field carrying the refresh token, both in the
	// refresh request body and in replies.
	RefreshField string
	// Timeout bounds every call.
	Timeout time.Duration
	// Transport overrides the HTTP transport, used in tests.
	Transport http.RoundTripper
}

// CheckAndSetDefaults validates the config and fills in the defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.BaseURL == "" {
		return trace.BadParameter("missing API base URL")
	}
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	if c.RefreshPath == "" {
		c.RefreshPath = DefaultRefreshPath
	}
	if c.AccessField == "" {
		c.AccessField = DefaultAccessField
	}
	if c.RefreshField == "" {
		c.RefreshField = DefaultRefreshField
	}
	if c.Timeout == 0 {
		c.Timeout = defaultHTTPTimeout
	}
	if c.Transport == nil {
		c.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     maxConns,
			MaxIdleConnsPerHost: maxConns,
		}
	}
	return nil
}

// TokenAuthorizer implements Authorizer against the API token endpoints.
// It uses its own HTTP client without session hooks, so a failing refresh
// never loops back into the refresh logic.
type TokenAuthorizer struct {
	client *resty.Client

	loginPath    string
	refreshPath  string
	accessField  string
	refreshField string
}

var _ Authorizer = &TokenAuthorizer{}

// NewTokenAuthorizer returns a new TokenAuthorizer.
func NewTokenAuthorizer(cfg Config) (*TokenAuthorizer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client := resty.
		NewWithClient(&http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBaseURL(cfg.BaseURL)

	return &TokenAuthorizer{
		client:       client,
		loginPath:    cfg.LoginPath,
		refreshPath:  cfg.RefreshPath,
		accessField:  cfg.AccessField,
		refreshField: cfg.RefreshField,
	}, nil
}

// Login implements Exchanger. Both tokens must be present in the reply.
func (a *TokenAuthorizer) Login(ctx context.Context, creds Credentials) (*Tokens, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, trace.BadParameter("username and password are required")
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"username": creds.Username,
			"password": creds.Password,
		}).
		Post(a.loginPath)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "login request failed")
	}
	if !resp.IsSuccess() {
		return nil, trace.AccessDenied("login rejected (HTTP %v): %s", resp.StatusCode(), errorDetail(resp.Body()))
	}

	body := resp.Body()
	access, err := tokenField(body, a.accessField)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	refresh, err := tokenField(body, a.refreshField)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh implements Refresher. Any non-2xx reply is a rejection and a
// reply without a usable access token is malformed, there is no guessing.
func (a *TokenAuthorizer) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, trace.BadParameter("missing refresh token")
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{a.refreshField: refreshToken}).
		Post(a.refreshPath)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "refresh request failed")
	}
	if !resp.IsSuccess() {
		return nil, trace.AccessDenied("refresh rejected (HTTP %v): %s", resp.StatusCode(), errorDetail(resp.Body()))
	}

	body := resp.Body()
	access, err := tokenField(body, a.accessField)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tokens := &Tokens{AccessToken: access}
	// Servers rotating refresh tokens send the new one along.
	if rotated := gjson.GetBytes(body, a.refreshField); rotated.Type == gjson.String && rotated.Str != "" {
		tokens.RefreshToken = rotated.Str
	}
	return tokens, nil
}

func tokenField(body []byte, field string) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", trace.BadParameter("malformed token response: not JSON")
	}
	value := gjson.GetBytes(body, field)
	if value.Type != gjson.String || value.Str == "" {
		return "", trace.BadParameter("malformed token response: missing %q", field)
	}
	return value.Str, nil
}

// errorDetail extracts the human readable error from an API error reply.
func errorDetail(body []byte) string {
	if !gjson.ValidBytes(body) {
		return "no details"
	}
	for _, field := range []string{"detail", "error", "message"} {
		if v := gjson.GetBytes(body, field); v.Type == gjson.String {
			return v.Str
		}
	}
	return "no details"
}
