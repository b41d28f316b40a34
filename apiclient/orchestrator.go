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
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/gravitational/apisession/lib/logger"
	"github.com/gravitational/apisession/lib/stringset"
	"github.com/gravitational/apisession/session"
)

// maxDrain is how much of a discarded response body is read so the
// connection can be reused.
const maxDrain = 64 << 10

// pendingRequest is one logical request. Its body is buffered so a replay
// sends the same bytes.
type pendingRequest struct {
	id      string
	req     *http.Request
	body    []byte
	retried bool
}

func newPendingRequest(req *http.Request) (*pendingRequest, error) {
	p := &pendingRequest{
		id:  req.Header.Get(requestIDHeader),
		req: req,
	}
	if p.id == "" {
		p.id = uuid.NewString()
	}
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		p.body = body
	}
	return p, nil
}

// build returns a fresh copy of the request carrying st's credential.
func (p *pendingRequest) build(st stamp) *http.Request {
	out := p.req.Clone(withStamp(p.req.Context(), st))
	out.Header.Set(requestIDHeader, p.id)
	setBearer(out.Header, st.token)
	if p.body != nil {
		body := p.body
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}
	return out
}

// Orchestrator is an http.RoundTripper recovering requests rejected with
// 401. A rejected request triggers at most one refresh and is replayed at
// most once. When recovery is impossible the session is cleared and the
// user is sent to the login screen. Each leg, the original call and the
// replay, is bounded by timeout on its own, and so is the refresh call.
type Orchestrator struct {
	next        http.RoundTripper
	store       *session.Store
	authorizer  *Authorizer
	refresh     *refreshAttempt
	nav         Navigator
	loginScreen string
	timeout     time.Duration
	excluded    stringset.StringSet
}

// RoundTrip implements http.RoundTripper.
func (o *Orchestrator) RoundTrip(req *http.Request) (*http.Response, error) {
	// Token endpoint failures are surfaced as is, a failed login must never
	// turn into a refresh.
	if o.isExcluded(req.URL.Path) {
		return o.send(req)
	}

	p, err := newPendingRequest(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ctx, log := logger.WithFields(req.Context(), logrus.Fields{
		"request_id": p.id,
		"method":     req.Method,
		"url":        req.URL.Path,
	})

	st, ok := stampFromContext(ctx)
	if !ok {
		st = o.authorizer.current(ctx)
	}

	for {
		resp, err := o.send(p.build(st))
		if err != nil {
			// Transport errors never touch the session.
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return o.settle(ctx, st, resp)
		}

		if p.retried {
			log.Info("Request rejected after token refresh, clearing the session")
			o.store.Clear(ctx, session.ClearReasonReplayRejected)
			o.nav.Redirect(ctx, o.loginScreen)
			return resp, nil
		}
		p.retried = true

		next, ok, err := o.recover(ctx, st)
		if err != nil {
			drain(resp)
			return nil, err
		}
		if !ok {
			return resp, nil
		}
		drain(resp)
		log.Debug("Replaying request")
		st = next
	}
}

// recover decides how a rejected request continues. It returns the
// credential to replay with, or false when the rejection is final.
func (o *Orchestrator) recover(ctx context.Context, sent stamp) (stamp, bool, error) {
	log := logger.Get(ctx)
	snap := o.store.Snapshot(ctx)

	if snap.Epoch != sent.epoch {
		log.Debug("Session was cleared while the request was in flight")
		o.nav.Redirect(ctx, o.loginScreen)
		return stamp{}, false, nil
	}
	if snap.AccessToken != "" && snap.AccessToken != sent.token {
		// Another request refreshed the token meanwhile.
		return stamp{token: snap.AccessToken, epoch: snap.Epoch}, true, nil
	}
	if snap.RefreshToken == "" {
		log.Info("Request rejected and there is no refresh token, clearing the session")
		o.store.Clear(ctx, session.ClearReasonNoRefreshToken)
		o.nav.Redirect(ctx, o.loginScreen)
		return stamp{}, false, nil
	}

	res, err := o.refresh.Wait(ctx)
	switch {
	case err == nil:
		return stamp{token: res.accessToken, epoch: res.epoch}, true, nil
	case errors.Is(err, ErrClientClosed):
		return stamp{}, false, err
	case ctx.Err() != nil:
		// The caller gave up, the attempt goes on for the others.
		return stamp{}, false, trace.Wrap(err)
	default:
		// The attempt has already cleared the session and redirected.
		return stamp{}, false, nil
	}
}

// settle returns resp unless the session it was authorized with has been
// cleared since, a stale success must never reach the caller after logout.
func (o *Orchestrator) settle(ctx context.Context, st stamp, resp *http.Response) (*http.Response, error) {
	if st.token == "" || o.store.Epoch() == st.epoch {
		return resp, nil
	}
	logger.Get(ctx).Debug("Session was cleared while the request was in flight, discarding the response")
	drain(resp)
	o.nav.Redirect(ctx, o.loginScreen)
	return nil, ErrSessionCleared
}

// send performs a single leg. The leg deadline covers reading the body and
// is released when the body is closed.
func (o *Orchestrator) send(req *http.Request) (*http.Response, error) {
	if o.timeout <= 0 {
		return o.next.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), o.timeout)
	resp, err := o.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (o *Orchestrator) isExcluded(path string) bool {
	return o.excluded.Contains(cleanEndpoint(path))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()
}

func excludedPaths(paths ...string) stringset.StringSet {
	out := stringset.New()
	for _, p := range paths {
		out.Add(cleanEndpoint(strings.TrimSpace(p)))
	}
	return out
}
