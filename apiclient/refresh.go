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
	"sync"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/sync/singleflight"

	"github.com/gravitational/apisession/auth"
	"github.com/gravitational/apisession/lib/logger"
	"github.com/gravitational/apisession/session"
)

const refreshKey = "refresh"

// refreshResult is what a settled attempt hands to its waiters.
type refreshResult struct {
	accessToken string
	epoch       uint64
}

// refreshAttempt coalesces concurrent refreshes: at most one refresh call
// is in flight and every request rejected meanwhile waits for it.
type refreshAttempt struct {
	group singleflight.Group

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	refresher   auth.Refresher
	store       *session.Store
	nav         Navigator
	loginScreen string
	timeout     time.Duration
}

// Wait joins the attempt in flight or starts one. The attempt outlives the
// caller that started it, each caller only stops waiting when its own
// context is done.
func (r *refreshAttempt) Wait(ctx context.Context) (refreshResult, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return refreshResult{}, ErrClientClosed
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	ch := r.group.DoChan(refreshKey, func() (interface{}, error) {
		return r.run(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		r.inflight.Done()
		if res.Err != nil {
			return refreshResult{}, res.Err
		}
		return res.Val.(refreshResult), nil
	case <-ctx.Done():
		// Close still waits for the attempt this caller joined.
		go func() {
			<-ch
			r.inflight.Done()
		}()
		return refreshResult{}, trace.Wrap(ctx.Err())
	}
}

// Close refuses new attempts and waits until every joined attempt settled
// or ctx is done.
func (r *refreshAttempt) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return trace.Wrap(ctx.Err(), "token refresh still in flight")
	}
}

// run performs the refresh call. On any failure the session is cleared and
// the user is redirected here, once for all waiters.
func (r *refreshAttempt) run(ctx context.Context) (refreshResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	log := logger.Get(ctx)

	snap := r.store.Snapshot(ctx)
	if snap.RefreshToken == "" {
		r.store.Clear(ctx, session.ClearReasonNoRefreshToken)
		r.nav.Redirect(ctx, r.loginScreen)
		return refreshResult{}, trace.AccessDenied("no refresh token")
	}

	log.Debug("Refreshing access token")
	tokens, err := r.refresher.Refresh(ctx, snap.RefreshToken)
	if err != nil {
		log.WithError(err).Warn("Token refresh failed, clearing the session")
		r.store.Clear(ctx, session.ClearReasonRefreshRejected)
		r.nav.Redirect(ctx, r.loginScreen)
		return refreshResult{}, trace.Wrap(err)
	}

	if err := r.store.CompareAndSetAccess(ctx, snap.Epoch, tokens.AccessToken, tokens.RefreshToken); err != nil {
		if trace.IsCompareFailed(err) {
			log.WithError(err).Info("Session was cleared during token refresh, dropping the new token")
			r.nav.Redirect(ctx, r.loginScreen)
			return refreshResult{}, trace.Wrap(err)
		}
		// The token can't be persisted, the session is as good as gone.
		log.WithError(err).Error("Failed to store the refreshed access token")
		r.store.Clear(ctx, session.ClearReasonRefreshRejected)
		r.nav.Redirect(ctx, r.loginScreen)
		return refreshResult{}, trace.Wrap(err)
	}
	log.Debug("Access token refreshed")
	return refreshResult{accessToken: tokens.AccessToken, epoch: snap.Epoch}, nil
}
