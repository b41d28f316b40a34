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

package session

import (
	"context"
	"path"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/apisession/lib/stringset"
)

const (
	// DefaultLoginPath is the screen unauthenticated users are sent to.
	DefaultLoginPath = "/login"
	// DefaultHomePath is the screen authenticated users are sent to.
	DefaultHomePath = "/dashboard"
	// DefaultRegisterPath is the registration screen.
	DefaultRegisterPath = "/register"
)

// GuardConfig configures Guard.
type GuardConfig struct {
	// Store is the credential store the guard reads.
	Store *Store
	// LoginPath is where unauthenticated users are redirected.
	LoginPath string
	// HomePath is where authenticated users are redirected from auth screens.
	HomePath string
	// AuthScreens are only shown to unauthenticated users.
	AuthScreens []string
	// PublicPaths are shown to everybody. A trailing "/*" matches a subtree.
	PublicPaths []string
}

// CheckAndSetDefaults validates the config and fills in the defaults.
func (c *GuardConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing session store")
	}
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	if c.HomePath == "" {
		c.HomePath = DefaultHomePath
	}
	if len(c.AuthScreens) == 0 {
		c.AuthScreens = []string{c.LoginPath, DefaultRegisterPath}
	}
	return nil
}

// Decision is the outcome of a guard check.
type Decision struct {
	// Allow is true when the requested screen may be rendered.
	Allow bool
	// Redirect is the screen to go to instead when Allow is false.
	Redirect string
}

// Guard gates screens on the presence of an access token. It is advisory:
// the server stays the source of truth and any response may still end the
// session.
type Guard struct {
	store       *Store
	loginPath   string
	homePath    string
	authScreens stringset.StringSet
	public      []string
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	screens := stringset.New()
	for _, p := range cfg.AuthScreens {
		screens.Add(cleanPath(p))
	}
	public := make([]string, 0, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public = append(public, strings.TrimSuffix(p, "/*"))
	}
	return &Guard{
		store:       cfg.Store,
		loginPath:   cfg.LoginPath,
		homePath:    cfg.HomePath,
		authScreens: screens,
		public:      public,
	}, nil
}

// IsAuthenticated reports whether an access token is stored. No network
// call is made.
func (g *Guard) IsAuthenticated(ctx context.Context) bool {
	return g.store.Get(ctx).IsAuthenticated()
}

// LoginPath returns the login screen path.
func (g *Guard) LoginPath() string { return g.loginPath }

// HomePath returns the home screen path.
func (g *Guard) HomePath() string { return g.homePath }

// Check decides whether the screen at p may be rendered.
func (g *Guard) Check(ctx context.Context, p string) Decision {
	p = cleanPath(p)
	authenticated := g.IsAuthenticated(ctx)

	if g.authScreens.Contains(p) {
		if authenticated {
			return Decision{Redirect: g.homePath}
		}
		return Decision{Allow: true}
	}
	if g.isPublic(p) || authenticated {
		return Decision{Allow: true}
	}
	return Decision{Redirect: g.loginPath}
}

func (g *Guard) isPublic(p string) bool {
	for _, prefix := range g.public {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
