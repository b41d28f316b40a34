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
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/gravitational/apisession/session"
)

const (
	authorizationHeader = "Authorization"
	requestIDHeader     = "X-Request-ID"
)

// stamp is the credential a request was sent with and the clear epoch it
// was read at.
type stamp struct {
	token string
	epoch uint64
}

type stampKey struct{}

func withStamp(ctx context.Context, st stamp) context.Context {
	return context.WithValue(ctx, stampKey{}, st)
}

func stampFromContext(ctx context.Context) (stamp, bool) {
	st, ok := ctx.Value(stampKey{}).(stamp)
	return st, ok
}

// Authorizer attaches the current access token to outbound requests. It
// never fails a request and never refreshes: a request without a token is
// sent as is and the server decides.
type Authorizer struct {
	store *session.Store
}

// NewAuthorizer returns an Authorizer reading from store.
func NewAuthorizer(store *session.Store) *Authorizer {
	return &Authorizer{store: store}
}

// OnBeforeRequest is a resty request middleware.
func (a *Authorizer) OnBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()
	st := a.current(ctx)
	if st.token != "" {
		req.SetHeader(authorizationHeader, bearer(st.token))
	} else {
		req.Header.Del(authorizationHeader)
	}
	if req.Header.Get(requestIDHeader) == "" {
		req.SetHeader(requestIDHeader, uuid.NewString())
	}
	req.SetContext(withStamp(ctx, st))
	return nil
}

// Stamp returns a copy of req carrying the current access token.
func (a *Authorizer) Stamp(req *http.Request) *http.Request {
	ctx := req.Context()
	st := a.current(ctx)
	out := req.Clone(withStamp(ctx, st))
	setBearer(out.Header, st.token)
	return out
}

func (a *Authorizer) current(ctx context.Context) stamp {
	snap := a.store.Snapshot(ctx)
	return stamp{token: snap.AccessToken, epoch: snap.Epoch}
}

func setBearer(h http.Header, token string) {
	if token == "" {
		h.Del(authorizationHeader)
		return
	}
	h.Set(authorizationHeader, bearer(token))
}

func bearer(token string) string {
	return "Bearer " + token
}
