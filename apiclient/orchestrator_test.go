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
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/apisession/auth"
	"github.com/gravitational/apisession/session"
)

type stubRefresher struct {
	calls  int32
	access string
	err    error
}

func (r *stubRefresher) Refresh(ctx context.Context, refreshToken string) (*auth.Tokens, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}
	return &auth.Tokens{AccessToken: r.access}, nil
}

func (r *stubRefresher) Calls() int {
	return int(atomic.LoadInt32(&r.calls))
}

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(session.StoreConfig{Backend: session.NewMemoryBackend()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// newTokenServer accepts only the given bearer token.
func newTokenServer(t *testing.T, token *atomic.Value) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		var n int
		if v, ok := seen.Load(authz); ok {
			n = v.(int)
		}
		seen.Store(authz, n+1)
		if authz != "Bearer "+token.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestStaleTokenReplaysWithoutRefresh(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SetTokens(ctx, "old", "refresh"))

	var valid atomic.Value
	valid.Store("new")
	srv, seen := newTokenServer(t, &valid)

	// Another request refreshes the token while ours is in flight.
	base := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := http.DefaultTransport.RoundTrip(req)
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			require.NoError(t, store.SetAccess(ctx, "new"))
		}
		return resp, err
	})

	refresher := &stubRefresher{access: "unused"}
	client, err := New(Config{BaseURL: srv.URL, Transport: base}, store, refresher, nil)
	require.NoError(t, err)

	resp, err := client.R(ctx).Get("/games/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Equal(t, 0, refresher.Calls())

	n, _ := seen.Load("Bearer new")
	require.Equal(t, 1, n)
}

func TestCancelledWaiterDoesNotAbortRefresh(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetTokens(context.Background(), "old", "refresh"))

	var valid atomic.Value
	valid.Store("new")
	srv, _ := newTokenServer(t, &valid)

	started, gate := make(chan struct{}), make(chan struct{})
	var once sync.Once
	refresher := &stubRefresher{access: "new"}
	slow := refresherFunc(func(ctx context.Context, token string) (*auth.Tokens, error) {
		once.Do(func() { close(started) })
		<-gate
		return refresher.Refresh(ctx, token)
	})

	client, err := New(Config{BaseURL: srv.URL}, store, slow, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		_, err := client.R(ctx).Get("/games/")
		errC <- err
	}()

	<-started
	cancel()
	require.Error(t, <-errC)

	// The attempt outlives the caller that started it.
	close(gate)
	require.Eventually(t, func() bool {
		return store.Get(context.Background()).AccessToken == "new"
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, refresher.Calls())
}

func TestRefreshFailureRedirectsOnce(t *testing.T) {
	const n = 5
	store := newTestStore(t)
	require.NoError(t, store.SetTokens(context.Background(), "old", "refresh"))

	var valid atomic.Value
	valid.Store("never")
	srv, _ := newTokenServer(t, &valid)

	gate := make(chan struct{})
	var waiting int32
	refresher := &stubRefresher{err: trace.AccessDenied("token is blacklisted")}
	slow := refresherFunc(func(ctx context.Context, token string) (*auth.Tokens, error) {
		<-gate
		return refresher.Refresh(ctx, token)
	})
	nav := &recordingNavigator{}

	// Requests count themselves as rejected before joining the refresh.
	base := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := http.DefaultTransport.RoundTrip(req)
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			atomic.AddInt32(&waiting, 1)
		}
		return resp, err
	})
	client, err := New(Config{BaseURL: srv.URL, Transport: base}, store, slow, nav)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.R(context.Background()).Get("/teams/")
			assert.True(t, trace.IsAccessDenied(err), "got %v", err)
		}()
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&waiting) == n }, 3*time.Second, 10*time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, 1, refresher.Calls())
	require.True(t, store.Get(context.Background()).IsZero())
	// Requests seeing the cleared session redirect too, the attempt itself
	// redirects only once.
	require.NotEmpty(t, nav.Redirects())
	for _, path := range nav.Redirects() {
		require.Equal(t, "/login", path)
	}
}

func TestRefreshTimeoutClearsSession(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetTokens(context.Background(), "old", "refresh"))

	var valid atomic.Value
	valid.Store("never")
	srv, _ := newTokenServer(t, &valid)

	hung := refresherFunc(func(ctx context.Context, token string) (*auth.Tokens, error) {
		<-ctx.Done()
		return nil, trace.ConnectionProblem(ctx.Err(), "refresh timed out")
	})
	nav := &recordingNavigator{}
	client, err := New(Config{BaseURL: srv.URL, Timeout: 200 * time.Millisecond}, store, hung, nav)
	require.NoError(t, err)

	_, err = client.R(context.Background()).Get("/games/")
	require.True(t, trace.IsAccessDenied(err), "got %v", err)

	// Settled before the caller got its answer.
	require.Equal(t, []string{"/login"}, nav.Redirects())
	require.False(t, client.IsAuthenticated(context.Background()))
}

func TestSlowRequestTimesOutWithoutTouchingSession(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetTokens(context.Background(), "valid", "refresh"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	refresher := &stubRefresher{access: "unused"}
	nav := &recordingNavigator{}
	client, err := New(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond}, store, refresher, nav)
	require.NoError(t, err)

	_, err = client.R(context.Background()).Get("/games/")
	require.Error(t, err)
	require.False(t, trace.IsAccessDenied(err), "got %v", err)
	require.Equal(t, 0, refresher.Calls())
	require.Empty(t, nav.Redirects())
	require.Equal(t, "valid", store.Get(context.Background()).AccessToken)
}

func TestCloseWaitsForRefreshInFlight(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetTokens(context.Background(), "old", "refresh"))

	var valid atomic.Value
	valid.Store("never")
	srv, _ := newTokenServer(t, &valid)

	started, gate := make(chan struct{}), make(chan struct{})
	var once sync.Once
	refresher := &stubRefresher{err: trace.AccessDenied("token is blacklisted")}
	slow := refresherFunc(func(ctx context.Context, token string) (*auth.Tokens, error) {
		once.Do(func() { close(started) })
		<-gate
		return refresher.Refresh(ctx, token)
	})
	client, err := New(Config{BaseURL: srv.URL}, store, slow, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() {
		_, err := client.R(ctx).Get("/games/")
		errC <- err
	}()
	<-started
	cancel()
	require.Error(t, <-errC)

	closed := make(chan error, 1)
	go func() { closed <- client.Close(context.Background()) }()
	require.Never(t, func() bool { return len(closed) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	close(gate)
	require.NoError(t, <-closed)
	// The failed refresh has landed by the time Close returns.
	require.True(t, store.Get(context.Background()).IsZero())

	// A closed client no longer refreshes and leaves the session alone.
	require.NoError(t, store.SetTokens(context.Background(), "old", "refresh"))
	_, err = client.R(context.Background()).Get("/games/")
	require.ErrorIs(t, err, ErrClientClosed)
	require.Equal(t, "refresh", store.Get(context.Background()).RefreshToken)
	require.Equal(t, 1, refresher.Calls())
}

func TestCloseTimesOut(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetTokens(context.Background(), "old", "refresh"))

	var valid atomic.Value
	valid.Store("never")
	srv, _ := newTokenServer(t, &valid)

	started, gate := make(chan struct{}), make(chan struct{})
	defer close(gate)
	var once sync.Once
	slow := refresherFunc(func(ctx context.Context, token string) (*auth.Tokens, error) {
		once.Do(func() { close(started) })
		<-gate
		return &auth.Tokens{AccessToken: "new"}, nil
	})
	client, err := New(Config{BaseURL: srv.URL}, store, slow, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _, _ = client.R(ctx).Get("/games/") }()
	<-started
	cancel()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer closeCancel()
	require.Error(t, client.Close(closeCtx))
}

func TestExcludedPaths(t *testing.T) {
	cfg := Config{BaseURL: "http://localhost:8000/api/"}
	require.NoError(t, cfg.CheckAndSetDefaults())

	o := &Orchestrator{excluded: excludedPaths(cfg.endpointPath(cfg.LoginPath), cfg.endpointPath(cfg.RefreshPath))}
	for path, want := range map[string]bool{
		"/api/auth/token/":          true,
		"/api/auth/token":           true,
		"/api/auth/token/refresh/":  true,
		"/api/auth/token/refresh":   true,
		"/api/auth/token/verify/":   false,
		"/auth/token/":              false,
		"/api/games/":               false,
		"/api/auth/token/refresh/x": false,
	} {
		require.Equal(t, want, o.isExcluded(path), path)
	}
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, DefaultBaseURL, cfg.BaseURL)
	require.Equal(t, auth.DefaultLoginPath, cfg.LoginPath)
	require.Equal(t, auth.DefaultRefreshPath, cfg.RefreshPath)
	require.Equal(t, session.DefaultLoginPath, cfg.LoginScreen)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.NotNil(t, cfg.Transport)

	for _, bad := range []string{"ftp://example.com", "http://", "://nope"} {
		cfg := Config{BaseURL: bad}
		err := cfg.CheckAndSetDefaults()
		require.True(t, trace.IsBadParameter(err), "%v: got %v", bad, err)
	}

	cfg = Config{Timeout: -time.Second}
	require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
}

func TestPendingRequestBuild(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/matches/", strings.NewReader(`{"home":"Red"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer stale")

	p, err := newPendingRequest(req)
	require.NoError(t, err)
	require.NotEmpty(t, p.id)

	for _, token := range []string{"fresh", ""} {
		out := p.build(stamp{token: token})
		body, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		require.Equal(t, `{"home":"Red"}`, string(body))
		require.Equal(t, int64(len(body)), out.ContentLength)
		require.Equal(t, p.id, out.Header.Get(requestIDHeader))
		if token == "" {
			require.Empty(t, out.Header.Get("Authorization"))
		} else {
			require.Equal(t, "Bearer "+token, out.Header.Get("Authorization"))
		}
		st, ok := stampFromContext(out.Context())
		require.True(t, ok)
		require.Equal(t, token, st.token)
	}
	// The original request is left alone.
	require.Equal(t, "Bearer stale", req.Header.Get("Authorization"))
}

type refresherFunc func(ctx context.Context, token string) (*auth.Tokens, error)

func (f refresherFunc) Refresh(ctx context.Context, token string) (*auth.Tokens, error) {
	return f(ctx, token)
}
