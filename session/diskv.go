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

	"github.com/gravitational/trace"
	"github.com/peterbourgon/diskv/v3"
)

const (
	// sessionKeyPrefix is the session record key prefix
	sessionKeyPrefix = "session_"

	// diskTempDir receives records before they are renamed into place
	diskTempDir = ".tmp"
)

// DiskBackend stores the session as a file in a directory. It survives
// process restarts, the record is not encrypted.
type DiskBackend struct {
	// dv is a diskv instance
	dv *diskv.Diskv
	// key is the record name
	key string
}

// NewDiskBackend creates a DiskBackend storing the given profile in dir.
func NewDiskBackend(dir, profile string) (*DiskBackend, error) {
	if dir == "" {
		return nil, trace.BadParameter("missing storage directory")
	}
	if profile == "" {
		profile = DefaultProfile
	}

	// Simplest transform function: put all the data files into the base dir.
	flatTransform := func(s string) []string { return []string{} }

	// No memory cache: another process sharing the directory may rotate
	// the tokens, every read goes to disk.
	dv := diskv.New(diskv.Options{
		BasePath:  dir,
		Transform: flatTransform,
		TempDir:   filepath.Join(dir, diskTempDir),
		PathPerm:  0700,
		FilePerm:  0600,
	})

	return &DiskBackend{dv: dv, key: sessionKeyPrefix + profile}, nil
}

// Load implements Backend.
func (d *DiskBackend) Load(_ context.Context) (Session, error) {
	if !d.dv.Has(d.key) {
		return Session{}, trace.NotFound("no session stored")
	}

	b, err := d.dv.Read(d.key)
	if err != nil {
		return Session{}, trace.ConvertSystemError(err)
	}

	s, err := unmarshalSession(b)
	return s, trace.Wrap(err)
}

// Save implements Backend. With TempDir set diskv renames the record into
// place, a concurrent reader sees either the old or the new pair.
func (d *DiskBackend) Save(_ context.Context, s Session) error {
	b, err := marshalSession(s)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.ConvertSystemError(d.dv.Write(d.key, b))
}

// Erase implements Backend.
func (d *DiskBackend) Erase(_ context.Context) error {
	err := d.dv.Erase(d.key)
	if err != nil && !os.IsNotExist(err) {
		return trace.ConvertSystemError(err)
	}
	return nil
}
