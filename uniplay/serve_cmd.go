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
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/apisession/lib"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd serves the web portal
type ServeCmd struct {
	// PortalListen is the listen address
	PortalListen string `help:"Portal listen address" default:"127.0.0.1:3000" env:"UNIPLAY_PORTAL_LISTEN" name:"portal-listen"`

	// PortalInsecure serves plain HTTP
	PortalInsecure bool `help:"Serve plain HTTP" default:"true" env:"UNIPLAY_PORTAL_INSECURE" name:"portal-insecure"`

	// PortalCertFile is the TLS certificate
	PortalCertFile string `help:"Portal TLS certificate file" env:"UNIPLAY_PORTAL_CERT_FILE" name:"portal-https-cert-file"`

	// PortalKeyFile is the TLS key
	PortalKeyFile string `help:"Portal TLS key file" env:"UNIPLAY_PORTAL_KEY_FILE" name:"portal-https-key-file"`

	// PortalBaseURL is the external portal URL
	PortalBaseURL string `help:"External portal URL" env:"UNIPLAY_PORTAL_BASE_URL" name:"portal-base-url"`

	// PortalLoginAttempts is the number of failed logins allowed per lock period
	PortalLoginAttempts int `help:"Failed logins allowed per lock period" default:"5" env:"UNIPLAY_PORTAL_LOGIN_ATTEMPTS" name:"portal-login-attempts"`

	// PortalLockPeriod is the failed login window
	PortalLockPeriod time.Duration `help:"Failed login window" default:"1m" env:"UNIPLAY_PORTAL_LOCK_PERIOD" name:"portal-lock-period"`
}

func (c *ServeCmd) portalConfig() PortalConfig {
	return PortalConfig{
		HTTP: lib.HTTPConfig{
			Listen:     c.PortalListen,
			KeyFile:    c.PortalKeyFile,
			CertFile:   c.PortalCertFile,
			RawBaseURL: c.PortalBaseURL,
			Insecure:   c.PortalInsecure,
		},
		LoginAttempts: c.PortalLoginAttempts,
		LockPeriod:    c.PortalLockPeriod,
	}
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cli, portalNavigator{})
	if err != nil {
		return trace.Wrap(err)
	}
	defer a.Close()

	portal, err := NewPortal(a, c.portalConfig())
	if err != nil {
		return trace.Wrap(err)
	}
	go lib.ServeSignals(ctx, portal, shutdownTimeout)
	return trace.Wrap(portal.Run(ctx))
}
