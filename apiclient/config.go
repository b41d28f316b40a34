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

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/apisession/auth"
	"github.com/gravitational/apisession/session"
)

const (
	// DefaultBaseURL is the API root of a local development server.
	DefaultBaseURL = "http://localhost:8000/api"
	// DefaultTimeout bounds every call, the refresh call included.
	DefaultTimeout = 10 * time.Second
	// DefaultUserAgent is sent with every call.
	DefaultUserAgent = "apisession"

	defaultMaxConns = 100
)

// Config configures Client.
type Config struct {
	// BaseURL is the API root.
	BaseURL string `toml:"url"`
	// LoginPath is the token pair endpoint relative to BaseURL.
	LoginPath string `toml:"login_path"`
	// RefreshPath is the token refresh endpoint relative to BaseURL.
	RefreshPath string `toml:"refresh_path"`
	// LoginScreen is where the user is sent once the session is gone.
	LoginScreen string `toml:"login_screen"`
	// Timeout bounds each leg of a call: the original request, the
	// refresh call and the replay.
	Timeout time.Duration `toml:"timeout"`
	// MaxConns limits connections per host.
	MaxConns int `toml:"max_conns"`
	// UserAgent is sent with every call.
	UserAgent string `toml:"user_agent"`

	// Transport is the base transport, used in tests.
	Transport http.RoundTripper `toml:"-"`
}

// CheckAndSetDefaults validates the config and fills in the defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return trace.BadParameter("invalid API URL %q: %v", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return trace.BadParameter("API URL %q must be http or https", c.BaseURL)
	}
	if u.Host == "" {
		return trace.BadParameter("API URL %q has no host", c.BaseURL)
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.LoginPath == "" {
		c.LoginPath = auth.DefaultLoginPath
	}
	if c.RefreshPath == "" {
		c.RefreshPath = auth.DefaultRefreshPath
	}
	if c.LoginScreen == "" {
		c.LoginScreen = session.DefaultLoginPath
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout < 0 {
		return trace.BadParameter("timeout must be positive")
	}
	if c.MaxConns == 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Transport == nil {
		c.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     c.MaxConns,
			MaxIdleConnsPerHost: c.MaxConns,
		}
	}
	return nil
}

// endpointPath returns the absolute URL path of an endpoint under the
// API root, without the trailing slash.
func (c *Config) endpointPath(endpoint string) string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return cleanEndpoint(endpoint)
	}
	return cleanEndpoint(strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(endpoint, "/"))
}

func cleanEndpoint(p string) string {
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
