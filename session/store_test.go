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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type failingBackend struct {
	*MemoryBackend
	loadErr  error
	eraseErr error
}

func (f *failingBackend) Load(ctx context.Context) (Session, error) {
	if f.loadErr != nil {
		return Session{}, f.loadErr
	}
	return f.MemoryBackend.Load(ctx)
}

func (f *failingBackend) Erase(ctx context.Context) error {
	if f.eraseErr != nil {
		return f.eraseErr
	}
	return f.MemoryBackend.Erase(ctx)
}

func newTestStore(t *testing.T, backend Backend, clock clockwork.Clock) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Backend: backend, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyIsAbsent", func(t *testing.T) {
		store := newTestStore(t, NewMemoryBackend(), nil)
		require.Equal(t, Session{}, store.Get(ctx))
		require.False(t, store.Get(ctx).IsAuthenticated())
	})

	t.Run("SetTokens", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		store := newTestStore(t, NewMemoryBackend(), clock)

		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))
		sess := store.Get(ctx)
		require.Equal(t, "access1", sess.AccessToken)
		require.Equal(t, "refresh1", sess.RefreshToken)
		require.Equal(t, clock.Now().UTC(), sess.UpdatedAt)

		require.True(t, trace.IsBadParameter(store.SetTokens(ctx, "", "refresh")))
	})

	t.Run("SetAccessKeepsRefresh", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		store := newTestStore(t, NewMemoryBackend(), clock)

		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))
		clock.Advance(time.Minute)
		require.NoError(t, store.SetAccess(ctx, "access2"))

		sess := store.Get(ctx)
		require.Equal(t, "access2", sess.AccessToken)
		require.Equal(t, "refresh1", sess.RefreshToken)
		require.Equal(t, clock.Now().UTC(), sess.UpdatedAt)
	})

	t.Run("ClearIsIdempotent", func(t *testing.T) {
		store := newTestStore(t, NewMemoryBackend(), nil)
		store.Clear(ctx, ClearReasonLogout)
		require.Equal(t, uint64(1), store.Epoch())

		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))
		store.Clear(ctx, ClearReasonLogout)
		store.Clear(ctx, ClearReasonLogout)

		require.True(t, store.Get(ctx).IsZero())
		require.Equal(t, uint64(3), store.Epoch())
	})

	t.Run("ClearFallsBackToOverwrite", func(t *testing.T) {
		backend := &failingBackend{MemoryBackend: NewMemoryBackend(), eraseErr: trace.ConnectionProblem(nil, "down")}
		store := newTestStore(t, backend, nil)

		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))
		store.Clear(ctx, ClearReasonLogout)
		require.True(t, store.Get(ctx).IsZero())
	})

	t.Run("LoadErrorIsAbsent", func(t *testing.T) {
		backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
		store := newTestStore(t, backend, nil)
		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))

		backend.loadErr = trace.ConnectionProblem(nil, "down")
		require.Equal(t, Session{}, store.Get(ctx))
	})

	t.Run("OnCleared", func(t *testing.T) {
		store := newTestStore(t, NewMemoryBackend(), nil)

		var reasons []ClearReason
		unsubscribe := store.OnCleared(func(reason ClearReason) {
			// The session must already be gone when subscribers run.
			require.False(t, store.Get(ctx).IsAuthenticated())
			reasons = append(reasons, reason)
		})

		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))
		store.Clear(ctx, ClearReasonRefreshRejected)
		unsubscribe()
		store.Clear(ctx, ClearReasonLogout)

		require.Equal(t, []ClearReason{ClearReasonRefreshRejected}, reasons)
	})

	t.Run("CompareAndSetAccess", func(t *testing.T) {
		store := newTestStore(t, NewMemoryBackend(), nil)
		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))

		snap := store.Snapshot(ctx)
		require.NoError(t, store.CompareAndSetAccess(ctx, snap.Epoch, "access2", ""))
		require.Equal(t, Session{AccessToken: "access2", RefreshToken: "refresh1"}, withoutTime(store.Get(ctx)))

		require.NoError(t, store.CompareAndSetAccess(ctx, snap.Epoch, "access3", "refresh2"))
		require.Equal(t, Session{AccessToken: "access3", RefreshToken: "refresh2"}, withoutTime(store.Get(ctx)))
	})

	t.Run("CompareAndSetAccessAfterClear", func(t *testing.T) {
		store := newTestStore(t, NewMemoryBackend(), nil)
		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))

		snap := store.Snapshot(ctx)
		store.Clear(ctx, ClearReasonLogout)

		err := store.CompareAndSetAccess(ctx, snap.Epoch, "access2", "refresh2")
		require.True(t, trace.IsCompareFailed(err), "got %v", err)
		require.True(t, store.Get(ctx).IsZero())
	})

	t.Run("CompareAndSetAccessAfterRemoteErase", func(t *testing.T) {
		backend := NewMemoryBackend()
		store := newTestStore(t, backend, nil)
		require.NoError(t, store.SetTokens(ctx, "access1", "refresh1"))

		snap := store.Snapshot(ctx)
		require.NoError(t, backend.Erase(ctx))

		err := store.CompareAndSetAccess(ctx, snap.Epoch, "access2", "")
		require.True(t, trace.IsCompareFailed(err), "got %v", err)
		require.False(t, store.Get(ctx).IsAuthenticated())
	})

	t.Run("ConcurrentReadsSeeWholePairs", func(t *testing.T) {
		store := newTestStore(t, NewMemoryBackend(), nil)
		require.NoError(t, store.SetTokens(ctx, "access-0", "refresh-0"))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i < 200; i++ {
				require.NoError(t, store.SetTokens(ctx, fmt.Sprintf("access-%d", i), fmt.Sprintf("refresh-%d", i)))
			}
		}()
		for i := 0; i < 200; i++ {
			sess := store.Get(ctx)
			var a, r int
			_, err := fmt.Sscanf(sess.AccessToken, "access-%d", &a)
			require.NoError(t, err)
			_, err = fmt.Sscanf(sess.RefreshToken, "refresh-%d", &r)
			require.NoError(t, err)
			require.Equal(t, a, r)
		}
		wg.Wait()
	})
}

func withoutTime(s Session) Session {
	s.UpdatedAt = time.Time{}
	return s
}
