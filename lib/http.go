/*
Copyright 2021 Gravitational, Inc.

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

package lib

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/apisession/lib/logger"
)

// HTTPConfig configures HTTP.
type HTTPConfig struct {
	Listen     string `toml:"listen"`
	KeyFile    string `toml:"https_key_file"`
	CertFile   string `toml:"https_cert_file"`
	RawBaseURL string `toml:"base_url"`

	Insecure bool `toml:"insecure"`
}

// BaseURL builds the external URL of the server from base_url or listen.
func (conf *HTTPConfig) BaseURL() (*url.URL, error) {
	if raw := conf.RawBaseURL; raw != "" {
		u, err := url.Parse(raw)
		return u, trace.Wrap(err)
	}
	scheme := "https"
	if conf.Insecure {
		scheme = "http"
	}
	host := conf.Listen
	if h, port, err := net.SplitHostPort(host); err == nil && (h == "" || h == "0.0.0.0") {
		host = net.JoinHostPort("localhost", port)
	}
	return &url.URL{Scheme: scheme, Host: host}, nil
}

// Check validates the config.
func (conf *HTTPConfig) Check() error {
	if conf.Listen == "" {
		return trace.BadParameter("missing listen address")
	}
	if _, err := conf.BaseURL(); err != nil {
		return trace.Wrap(err)
	}
	if conf.KeyFile != "" && conf.CertFile == "" {
		return trace.BadParameter("https_cert_file is required when https_key_file is specified")
	}
	if conf.CertFile != "" && conf.KeyFile == "" {
		return trace.BadParameter("https_key_file is required when https_cert_file is specified")
	}
	if !conf.Insecure && conf.CertFile == "" {
		return trace.BadParameter("https_cert_file and https_key_file are required unless insecure is set")
	}
	return nil
}

// HTTP is a tiny wrapper around standard net/http with an httprouter.
// The server is bound to a context and closed when it is done.
type HTTP struct {
	HTTPConfig
	baseURL *url.URL
	*httprouter.Router
	server http.Server

	mu       sync.Mutex
	listener net.Listener
	readyCh  chan struct{}
}

// NewHTTP creates a new HTTP wrapper.
func NewHTTP(config HTTPConfig) (*HTTP, error) {
	if err := config.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	baseURL, err := config.BaseURL()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	router := httprouter.New()
	return &HTTP{
		HTTPConfig: config,
		baseURL:    baseURL,
		Router:     router,
		server:     http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
		readyCh:    make(chan struct{}),
	}, nil
}

// BuildURLPath joins escaped path segments.
func BuildURLPath(args ...string) string {
	pathArgs := make([]string, 0, len(args))
	for _, a := range args {
		pathArgs = append(pathArgs, url.PathEscape(a))
	}
	return path.Join(pathArgs...)
}

// ListenAndServe runs a http(s) server until ctx is done.
func (h *HTTP) ListenAndServe(ctx context.Context) error {
	log := logger.Get(ctx)
	defer log.Debug("HTTP server terminated")

	h.server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
	listener, err := net.Listen("tcp", h.Listen)
	if err != nil {
		close(h.readyCh)
		return trace.ConvertSystemError(err)
	}
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()
	close(h.readyCh)

	go func() {
		<-ctx.Done()
		h.server.Close()
	}()

	if h.Insecure {
		log.Debugf("Starting insecure HTTP server on %s", listener.Addr())
		err = h.server.Serve(listener)
	} else {
		log.Debugf("Starting secure HTTPS server on %s", listener.Addr())
		err = h.server.ServeTLS(listener, h.CertFile, h.KeyFile)
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return trace.Wrap(err)
}

// WaitReady waits until the listener is bound. It reports false if the
// server failed to listen.
func (h *HTTP) WaitReady(ctx context.Context) (bool, error) {
	select {
	case <-h.readyCh:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.listener != nil, nil
	case <-ctx.Done():
		return false, trace.Wrap(ctx.Err())
	}
}

// Addr returns the bound address once the server is ready.
func (h *HTTP) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Shutdown stops the server gracefully.
func (h *HTTP) Shutdown(ctx context.Context) error {
	return trace.Wrap(h.server.Shutdown(ctx))
}

// ShutdownWithTimeout stops the server gracefully.
func (h *HTTP) ShutdownWithTimeout(ctx context.Context, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	return h.Shutdown(ctx)
}

// BaseURL returns an url on which the server is accessible externally.
func (h *HTTP) BaseURL() *url.URL {
	url := *h.baseURL
	return &url
}

// NewURL builds an external url for a specific path and query parameters.
func (h *HTTP) NewURL(subpath string, values url.Values) *url.URL {
	url := h.BaseURL()
	url.Path = path.Join(url.Path, subpath)

	if values != nil {
		url.RawQuery = values.Encode()
	}

	return url
}
