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

// Package session holds the client-side credential store and the guard
// views use to decide whether a screen may be rendered.
package session

import (
	"time"

	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"
)

// Session represents the bearer credentials of an authenticated client.
// Tokens are opaque: the client never inspects them, an empty string means
// the token is absent.
type Session struct {
	// AccessToken is sent as the Bearer credential on every API call.
	AccessToken string `json:"access,omitempty"`
	// RefreshToken is exchanged for a new access token once the server
	// starts rejecting the current one.
	RefreshToken string `json:"refresh,omitempty"`
	// UpdatedAt is the time of the last mutation. Informational only.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IsAuthenticated reports whether an access token is present.
func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// IsZero reports whether neither token is present.
func (s Session) IsZero() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Snapshot is a Session read together with the store's clear epoch.
type Snapshot struct {
	Session
	// Epoch is incremented on every Clear. Comparing epochs tells whether
	// the session was cleared between two points in time.
	Epoch uint64
}

// ClearReason tells subscribers why the session was destroyed.
type ClearReason string

const (
	// ClearReasonLogout is an explicit user logout.
	ClearReasonLogout ClearReason = "logout"
	// ClearReasonNoRefreshToken means the server rejected the access token
	// and there was nothing to refresh it with.
	ClearReasonNoRefreshToken ClearReason = "no_refresh_token"
	// ClearReasonRefreshRejected means the refresh call failed.
	ClearReasonRefreshRejected ClearReason = "refresh_rejected"
	// ClearReasonReplayRejected means the request was rejected again after
	// a successful refresh.
	ClearReasonReplayRejected ClearReason = "replay_rejected"
)

// record codec, all fields are always serialized together so a reader can
// never observe half of a pair.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

func marshalSession(s Session) ([]byte, error) {
	data, err := codec.Marshal(&s)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

func unmarshalSession(data []byte) (Session, error) {
	var s Session
	if len(data) == 0 {
		return s, nil
	}
	if err := codec.Unmarshal(data, &s); err != nil {
		return Session{}, trace.BadParameter("corrupt session record: %v", err)
	}
	return s, nil
}
