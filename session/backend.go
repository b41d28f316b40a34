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
	"sync"

	"github.com/gravitational/trace"
)

// DefaultProfile is the record name used when none is configured.
const DefaultProfile = "default"

// Backend persists a single session record. Store serializes Save and
// Erase, but Load runs concurrently with other Loads, so implementations
// must be safe for concurrent reads.
type Backend interface {
	// Load returns the stored session or trace.NotFound if there is none.
	Load(ctx context.Context) (Session, error)
	// Save replaces the stored session as a whole.
	Save(ctx context.Context, s Session) error
	// Erase removes the stored session. Erasing a missing record is not an error.
	Erase(ctx context.Context) error
}

// MemoryBackend keeps the session for the lifetime of the process.
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements Backend.
func (m *MemoryBackend) Load(_ context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return Session{}, trace.NotFound("no session stored")
	}
	s, err := unmarshalSession(m.data)
	return s, trace.Wrap(err)
}

// Save implements Backend.
func (m *MemoryBackend) Save(_ context.Context, s Session) error {
	data, err := marshalSession(s)
	if err != nil {
		return trace.Wrap(err)
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

// Erase implements Backend.
func (m *MemoryBackend) Erase(_ context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}
