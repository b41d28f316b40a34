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

// Package apiclient is the HTTP client views use to call the API. It
// authorizes every call with the stored access token and transparently
// recovers from an expired one.
package apiclient

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"

	"github.com/gravitational/apisession/auth"
	"github.com/gravitational/apisession/lib/logger"
	"github.com/gravitational/apisession/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is an authorized API client.
type Client struct {
	client     *resty.Client
	refresh    *refreshAttempt
	store      *session.Store
	tokens     auth.Refresher
	nav        Navigator
	authorizer *Authorizer
	cfg        Config
}

// New creates a Client. When tokens is nil the API token endpoints are
// used. Login needs tokens to also implement auth.Exchanger.
func New(cfg Config, store *session.Store, tokens auth.Refresher, nav Navigator) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if store == nil {
		return nil, trace.BadParameter("missing session store")
	}
	if nav == nil {
		nav = DiscardNavigator
	}
	if tokens == nil {
		authorizer, err := auth.NewTokenAuthorizer(auth.Config{
			BaseURL:     cfg.BaseURL,
			LoginPath:   cfg.LoginPath,
			RefreshPath: cfg.RefreshPath,
			Timeout:     cfg.Timeout,
			Transport:   cfg.Transport,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		tokens = authorizer
	}

	authorizer := NewAuthorizer(store)
	orchestrator := &Orchestrator{
		next:       cfg.Transport,
		store:      store,
		authorizer: authorizer,
		refresh: &refreshAttempt{
			refresher:   tokens,
			store:       store,
			nav:         nav,
			loginScreen: cfg.LoginScreen,
			timeout:     cfg.Timeout,
		},
		nav:         nav,
		loginScreen: cfg.LoginScreen,
		timeout:     cfg.Timeout,
		excluded:    excludedPaths(cfg.endpointPath(cfg.LoginPath), cfg.endpointPath(cfg.RefreshPath)),
	}

	client := resty.
		NewWithClient(&http.Client{
			Transport: orchestrator,
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetBaseURL(cfg.BaseURL)
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal
	client.OnBeforeRequest(authorizer.OnBeforeRequest)
	client.OnAfterResponse(checkResponse)

	return &Client{
		client:     client,
		refresh:    orchestrator.refresh,
		store:      store,
		tokens:     tokens,
		nav:        nav,
		authorizer: authorizer,
		cfg:        cfg,
	}, nil
}

// R returns a request bound to ctx for calls not covered by the helpers.
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.client.R().SetContext(ctx)
}

// Transport returns the round tripper authorizing and recovering requests,
// for plain net/http callers.
func (c *Client) Transport() http.RoundTripper {
	return c.client.GetClient().Transport
}

// Get fetches path into result.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	_, err := c.R(ctx).SetResult(result).Get(path)
	return trace.Wrap(err)
}

// Post sends body to path and decodes the reply into result.
func (c *Client) Post(ctx context.Context, path string, body, result interface{}) error {
	_, err := c.R(ctx).SetBody(body).SetResult(result).Post(path)
	return trace.Wrap(err)
}

// Patch sends a partial update to path and decodes the reply into result.
func (c *Client) Patch(ctx context.Context, path string, body, result interface{}) error {
	_, err := c.R(ctx).SetBody(body).SetResult(result).Patch(path)
	return trace.Wrap(err)
}

// Delete deletes path.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.R(ctx).Delete(path)
	return trace.Wrap(err)
}

// Login exchanges credentials for a token pair and stores it.
func (c *Client) Login(ctx context.Context, username, password string) error {
	exchanger, ok := c.tokens.(auth.Exchanger)
	if !ok {
		return trace.NotImplemented("token provider %T does not support login", c.tokens)
	}
	tokens, err := exchanger.Login(ctx, auth.Credentials{Username: username, Password: password})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := c.store.SetTokens(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return trace.Wrap(err)
	}
	logger.Get(ctx).WithField("username", username).Info("Logged in")
	return nil
}

// Logout clears the session and navigates to the login screen. It is
// local only, nothing is sent to the API.
func (c *Client) Logout(ctx context.Context) {
	c.store.Clear(ctx, session.ClearReasonLogout)
	c.nav.Redirect(ctx, c.cfg.LoginScreen)
}

// IsAuthenticated reports whether an access token is stored.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	return c.store.Get(ctx).IsAuthenticated()
}

// Store returns the credential store.
func (c *Client) Store() *session.Store {
	return c.store
}

// Close stops new token refreshes and waits for the one in flight to
// settle, so its outcome reaches the store before the store is closed.
func (c *Client) Close(ctx context.Context) error {
	return trace.Wrap(c.refresh.Close(ctx))
}
