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
	"sync"
	"time"

	"github.com/gravitational/trace"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
)

// loginLimiter locks a username out of the login form after too many
// failed attempts.
type loginLimiter struct {
	rl limiter.Store

	mu     sync.Mutex
	locked map[string]time.Time
}

func newLoginLimiter(attempts int, period time.Duration) (*loginLimiter, error) {
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   uint64(attempts),
		Interval: period,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &loginLimiter{rl: store, locked: make(map[string]time.Time)}, nil
}

// Locked reports whether username is locked out.
func (l *loginLimiter) Locked(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.locked[username]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(l.locked, username)
		return false
	}
	return true
}

// Failed records a failed attempt. It returns true once username got
// locked out.
func (l *loginLimiter) Failed(ctx context.Context, username string) (bool, error) {
	_, _, reset, ok, err := l.rl.Take(ctx, username)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if ok {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked[username] = time.Unix(0, int64(reset))
	return true, nil
}

// Close stops the limiter.
func (l *loginLimiter) Close(ctx context.Context) error {
	return trace.Wrap(l.rl.Close(ctx))
}
