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
	"io"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/apisession/lib/logger"
)

// StoreConfig configures Store.
type StoreConfig struct {
	// Backend persists the session record.
	Backend Backend
	// Clock stamps UpdatedAt.
	Clock clockwork.Clock
	// Log is the store logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and fills in the defaults.
func (c *StoreConfig) CheckAndSetDefaults() error {
	if c.Backend == nil {
		return trace.BadParameter("missing session backend")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// Store is the credential store. It is the only owner of the session:
// callers get copies and are expected to read again on every use.
//
// Every mutation and every read used for request stamping is serialized,
// a reader never observes half of a token pair.
type Store struct {
	backend Backend
	clock   clockwork.Clock
	log     logrus.FieldLogger

	mu    sync.RWMutex // protects backend calls and epoch
	epoch uint64

	subsMu  sync.Mutex // protects the below fields
	subs    map[int]func(ClearReason)
	nextSub int
}

// NewStore creates a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{
		backend: cfg.Backend,
		clock:   cfg.Clock,
		log:     cfg.Log,
		subs:    make(map[int]func(ClearReason)),
	}, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if closer, ok := s.backend.(io.Closer); ok {
		return trace.Wrap(closer.Close())
	}
	return nil
}

// Get returns the current session. It never fails: if nothing is stored or
// the backend can't be read the absent session is returned.
func (s *Store) Get(ctx context.Context) Session {
	return s.Snapshot(ctx).Session
}

// Snapshot returns the current session together with the clear epoch.
func (s *Store) Snapshot(ctx context.Context) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Session: s.load(ctx), Epoch: s.epoch}
}

// Epoch returns the number of Clear calls so far.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// SetTokens stores a freshly issued pair.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	if access == "" {
		return trace.BadParameter("missing access token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.save(ctx, Session{AccessToken: access, RefreshToken: refresh}))
}

// SetAccess replaces the access token and keeps the refresh token.
func (s *Store) SetAccess(ctx context.Context, access string) error {
	if access == "" {
		return trace.BadParameter("missing access token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.load(ctx)
	current.AccessToken = access
	return trace.Wrap(s.save(ctx, current))
}

// CompareAndSetAccess stores a refreshed access token unless the session
// was cleared after epoch. A non-empty refresh rotates the refresh token.
// It returns trace.CompareFailed when the session is gone, so a refresh that
// settles after a logout can't bring the session back.
func (s *Store) CompareAndSetAccess(ctx context.Context, epoch uint64, access, refresh string) error {
	if access == "" {
		return trace.BadParameter("missing access token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return trace.CompareFailed("session was cleared during refresh")
	}
	current := s.load(ctx)
	if current.RefreshToken == "" && refresh == "" {
		// Erased by another process sharing the backend.
		return trace.CompareFailed("session was removed during refresh")
	}
	current.AccessToken = access
	if refresh != "" {
		current.RefreshToken = refresh
	}
	return trace.Wrap(s.save(ctx, current))
}

// Clear destroys the session. It is idempotent and never fails, backend
// errors are logged. Subscribers are notified after the session is gone.
func (s *Store) Clear(ctx context.Context, reason ClearReason) {
	s.mu.Lock()
	s.epoch++
	if err := s.backend.Erase(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to erase the session, overwriting it instead")
		if err := s.backend.Save(ctx, Session{UpdatedAt: s.clock.Now().UTC()}); err != nil {
			s.log.WithError(err).Error("Failed to clear the session")
		}
	}
	s.mu.Unlock()

	s.log.WithField("reason", reason).Debug("Session cleared")

	s.subsMu.Lock()
	subs := make([]func(ClearReason), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(reason)
	}
}

// OnCleared registers fn to be called after every Clear. The returned
// function removes the subscription.
func (s *Store) OnCleared(fn func(ClearReason)) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// load must be called with mu held.
func (s *Store) load(ctx context.Context) Session {
	sess, err := s.backend.Load(ctx)
	switch {
	case trace.IsNotFound(err):
		return Session{}
	case err != nil:
		s.log.WithError(err).Warn("Failed to read the session, treating it as absent")
		return Session{}
	}
	return sess
}

// save must be called with mu held.
func (s *Store) save(ctx context.Context, sess Session) error {
	sess.UpdatedAt = s.clock.Now().UTC()
	return trace.Wrap(s.backend.Save(ctx, sess))
}
