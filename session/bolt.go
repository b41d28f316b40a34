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
	"time"

	"github.com/gravitational/trace"
	"go.etcd.io/bbolt"
)

var (
	boltBucket = []byte("sessions")
)

// BoltBackend stores sessions in a single BBolt database file, one key per
// profile.
type BoltBackend struct {
	db  *bbolt.DB
	key []byte
}

// NewBoltBackend wraps an open database.
func NewBoltBackend(db *bbolt.DB, profile string) *BoltBackend {
	if profile == "" {
		profile = DefaultProfile
	}
	return &BoltBackend{db: db, key: []byte(profile)}
}

// OpenBoltBackend opens (or creates) the database at path.
func OpenBoltBackend(path, profile string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, trace.Wrap(err, "opening session database %v", path)
	}
	return NewBoltBackend(db, profile), nil
}

// Close closes the underlying database.
func (b *BoltBackend) Close() error {
	return trace.Wrap(b.db.Close())
}

// Load implements Backend.
func (b *BoltBackend) Load(_ context.Context) (Session, error) {
	var s Session
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return trace.NotFound("no session stored")
		}
		data := bucket.Get(b.key)
		if data == nil {
			return trace.NotFound("no session stored")
		}
		var err error
		s, err = unmarshalSession(data)
		return err
	})
	if err != nil {
		return Session{}, trace.Wrap(err)
	}
	return s, nil
}

// Save implements Backend.
func (b *BoltBackend) Save(_ context.Context, s Session) error {
	data, err := marshalSession(s)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return bucket.Put(b.key, data)
	}))
}

// Erase implements Backend.
func (b *BoltBackend) Erase(_ context.Context) error {
	return trace.Wrap(b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete(b.key)
	}))
}
