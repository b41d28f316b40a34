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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBackend(t *testing.T, profile string, ttl time.Duration) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend, err := NewRedisBackend(RedisConfig{Client: client, Profile: profile, TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend, mr
}

func TestBackends(t *testing.T) {
	ctx := context.Background()

	backends := map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"diskv": func(t *testing.T) Backend {
			backend, err := NewDiskBackend(t.TempDir(), "")
			require.NoError(t, err)
			return backend
		},
		"bbolt": func(t *testing.T) Backend {
			backend, err := OpenBoltBackend(filepath.Join(t.TempDir(), "sessions.db"), "")
			require.NoError(t, err)
			t.Cleanup(func() { backend.Close() })
			return backend
		},
		"redis": func(t *testing.T) Backend {
			backend, _ := newRedisBackend(t, "", 0)
			return backend
		},
	}

	for name, newBackend := range backends {
		newBackend := newBackend
		t.Run(name, func(t *testing.T) {
			backend := newBackend(t)

			_, err := backend.Load(ctx)
			require.True(t, trace.IsNotFound(err), "got %v", err)

			want := Session{
				AccessToken:  "access",
				RefreshToken: "refresh",
				UpdatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			}
			require.NoError(t, backend.Save(ctx, want))
			got, err := backend.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, cmp.Diff(want, got))

			want.AccessToken = "access2"
			require.NoError(t, backend.Save(ctx, want))
			got, err = backend.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, cmp.Diff(want, got))

			require.NoError(t, backend.Erase(ctx))
			require.NoError(t, backend.Erase(ctx))
			_, err = backend.Load(ctx)
			require.True(t, trace.IsNotFound(err), "got %v", err)

			// Store loads concurrently under a read lock.
			require.NoError(t, backend.Save(ctx, want))
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					got, err := backend.Load(ctx)
					assert.NoError(t, err)
					assert.Empty(t, cmp.Diff(want, got))
				}()
			}
			wg.Wait()
		})
	}
}

func TestDiskBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewDiskBackend(dir, "alice")
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, Session{AccessToken: "access", RefreshToken: "refresh"}))

	info, err := os.Stat(filepath.Join(dir, sessionKeyPrefix+"alice"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := NewDiskBackend(dir, "alice")
	require.NoError(t, err)
	got, err := second.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "access", got.AccessToken)

	other, err := NewDiskBackend(dir, "bob")
	require.NoError(t, err)
	_, err = other.Load(ctx)
	require.True(t, trace.IsNotFound(err))
}

func TestDiskBackendCorruptRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionKeyPrefix+DefaultProfile), []byte("{not json"), 0600))

	backend, err := NewDiskBackend(dir, "")
	require.NoError(t, err)
	_, err = backend.Load(ctx)
	require.True(t, trace.IsBadParameter(err), "got %v", err)

	// The store treats a corrupt record as absent.
	store := newTestStore(t, backend, nil)
	require.False(t, store.Get(ctx).IsAuthenticated())
}

func TestRedisBackendTTL(t *testing.T) {
	ctx := context.Background()
	backend, mr := newRedisBackend(t, "shared", time.Hour)

	require.NoError(t, backend.Save(ctx, Session{AccessToken: "access", RefreshToken: "refresh"}))
	require.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+"shared"))

	mr.FastForward(2 * time.Hour)
	_, err := backend.Load(ctx)
	require.True(t, trace.IsNotFound(err))
}

func TestRedisBackendSharedBetweenStores(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	newStore := func() *Store {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		backend, err := NewRedisBackend(RedisConfig{Client: client, Profile: "shared"})
		require.NoError(t, err)
		return newTestStore(t, backend, nil)
	}
	first, second := newStore(), newStore()

	require.NoError(t, first.SetTokens(ctx, "access1", "refresh1"))
	require.Equal(t, "access1", second.Get(ctx).AccessToken)

	require.NoError(t, second.SetAccess(ctx, "access2"))
	require.Equal(t, "access2", first.Get(ctx).AccessToken)

	first.Clear(ctx, ClearReasonLogout)
	require.False(t, second.Get(ctx).IsAuthenticated())
}

func TestRedisBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	backend, mr := newRedisBackend(t, "", 0)
	mr.Close()

	_, err := backend.Load(ctx)
	require.True(t, trace.IsConnectionProblem(err), "got %v", err)
}
