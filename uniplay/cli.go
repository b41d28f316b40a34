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
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gravitational/trace"

	"github.com/gravitational/apisession/apiclient"
	"github.com/gravitational/apisession/auth"
	"github.com/gravitational/apisession/lib"
	"github.com/gravitational/apisession/lib/logger"
	"github.com/gravitational/apisession/session"
)

const (
	storageMemory = "memory"
	storageFile   = "file"
	storageBolt   = "bolt"
	storageRedis  = "redis"

	boltFileName = "session.db"
)

// APIConfig is the API connection configuration
type APIConfig struct {
	// APIURL is the API root, a bare host is accepted
	APIURL string `help:"API root URL" default:"http://localhost:8000/api" env:"UNIPLAY_API_URL" name:"api-url"`

	// APILoginPath is the token pair endpoint
	APILoginPath string `help:"Token pair endpoint" default:"/auth/token/" env:"UNIPLAY_API_LOGIN_PATH" name:"api-login-path"`

	// APIRefreshPath is the token refresh endpoint
	APIRefreshPath string `help:"Token refresh endpoint" default:"/auth/token/refresh/" env:"UNIPLAY_API_REFRESH_PATH" name:"api-refresh-path"`

	// APITimeout bounds every API call
	APITimeout time.Duration `help:"API call timeout" default:"10s" env:"UNIPLAY_API_TIMEOUT" name:"api-timeout"`
}

// StorageConfig is the session storage configuration
type StorageConfig struct {
	// StorageType selects the session backend
	StorageType string `help:"Session storage" enum:"memory,file,bolt,redis" default:"file" env:"UNIPLAY_STORAGE_TYPE" name:"storage-type"`

	// StorageDir is the directory of the file and bolt backends
	StorageDir string `help:"Session storage directory, defaults to the user config directory" env:"UNIPLAY_STORAGE_DIR" name:"storage-dir"`

	// StorageProfile names the session record, several logins may coexist
	StorageProfile string `help:"Session profile name" default:"default" env:"UNIPLAY_STORAGE_PROFILE" name:"storage-profile"`

	// StorageRedisAddr is the redis address of the redis backend
	StorageRedisAddr string `help:"Redis address" default:"localhost:6379" env:"UNIPLAY_STORAGE_REDIS_ADDR" name:"storage-redis-addr"`

	// StorageRedisTTL expires an idle redis session
	StorageRedisTTL time.Duration `help:"Redis session TTL, zero keeps it forever" default:"0s" env:"UNIPLAY_STORAGE_REDIS_TTL" name:"storage-redis-ttl"`
}

// LogConfig is the logging configuration
type LogConfig struct {
	// LogOutput is stderr, stdout or a file path
	LogOutput string `help:"Log output" default:"stderr" env:"UNIPLAY_LOG_OUTPUT" name:"log-output"`

	// LogSeverity is the minimal level logged
	LogSeverity string `help:"Log severity" default:"info" env:"UNIPLAY_LOG_SEVERITY" name:"log-severity"`

	// LogFormat is text or json
	LogFormat string `help:"Log format" enum:"text,json" default:"text" env:"UNIPLAY_LOG_FORMAT" name:"log-format"`
}

// CLI represents command structure
type CLI struct {
	// Config is the path to configuration file
	Config kong.ConfigFlag `help:"Path to TOML configuration file" optional:"true" type:"existingfile" env:"UNIPLAY_CONFIG"`

	// Debug is a debug logging mode flag
	Debug bool `help:"Debug logging" short:"d"`

	APIConfig
	StorageConfig
	LogConfig

	// Version is the version print command
	Version VersionCmd `cmd:"true" help:"Print version"`

	// Login is the login command
	Login LoginCmd `cmd:"true" help:"Log in and store the session"`

	// Logout is the logout command
	Logout LogoutCmd `cmd:"true" help:"Forget the stored session"`

	// Status is the session status command
	Status StatusCmd `cmd:"true" help:"Show the stored session"`

	// Get is the API fetch command
	Get GetCmd `cmd:"true" help:"Fetch an API resource with the stored session"`

	// Serve is the portal command
	Serve ServeCmd `cmd:"true" help:"Serve the web portal"`
}

// CheckAndSetDefaults normalizes the API URL and fills in the storage directory.
func (c *CLI) CheckAndSetDefaults() error {
	u, err := lib.AddrToURL(c.APIURL)
	if err != nil {
		return trace.Wrap(err, "invalid API URL")
	}
	c.APIURL = u.String()

	if c.StorageDir == "" && (c.StorageType == storageFile || c.StorageType == storageBolt) {
		dir, err := os.UserConfigDir()
		if err != nil {
			return trace.Wrap(err, "failed to locate the config directory, set --storage-dir")
		}
		c.StorageDir = filepath.Join(dir, appName)
	}
	return nil
}

// apiConfig builds the API client configuration.
func (c *CLI) apiConfig() apiclient.Config {
	return apiclient.Config{
		BaseURL:     c.APIURL,
		LoginPath:   c.APILoginPath,
		RefreshPath: c.APIRefreshPath,
		LoginScreen: session.DefaultLoginPath,
		Timeout:     c.APITimeout,
		UserAgent:   appName + "/" + Version,
	}
}

// authConfig builds the token endpoints configuration.
func (c *CLI) authConfig() auth.Config {
	return auth.Config{
		BaseURL:     c.APIURL,
		LoginPath:   c.APILoginPath,
		RefreshPath: c.APIRefreshPath,
		Timeout:     c.APITimeout,
	}
}

// logConfig builds the logger configuration.
func (c *CLI) logConfig() logger.Config {
	severity := c.LogSeverity
	if c.Debug {
		severity = "debug"
	}
	return logger.Config{
		Output:   c.LogOutput,
		Severity: severity,
		Format:   c.LogFormat,
	}
}
