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
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/tidwall/gjson"
)

// ErrSessionCleared is returned for a request that settled after its
// session was cleared. The response is discarded and the user is sent to
// the login screen.
var ErrSessionCleared = errors.New("session was cleared while the request was in flight")

// ErrClientClosed is returned for a rejected request that would need a
// token refresh after the client was closed. The session is left alone.
var ErrClientClosed = errors.New("API client is closed")

// IsSessionCleared reports whether err is or wraps ErrSessionCleared.
func IsSessionCleared(err error) bool {
	return errors.Is(err, ErrSessionCleared) || errors.Is(trace.Unwrap(err), ErrSessionCleared)
}

// checkResponse is a resty response middleware turning API errors into
// trace errors. It only sees what the session layer let through: a 401
// here means the request was rejected even after recovery.
func checkResponse(_ *resty.Client, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	req := resp.Request
	detail := errorDetail(resp.Body())
	switch code := resp.StatusCode(); code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return trace.AccessDenied("%s %s: %s", req.Method, req.URL, detail)
	case http.StatusNotFound:
		return trace.NotFound("%s %s: %s", req.Method, req.URL, detail)
	case http.StatusBadRequest:
		return trace.BadParameter("%s %s: %s", req.Method, req.URL, detail)
	default:
		return trace.Errorf("%s %s: http error code=%v, detail=%s", req.Method, req.URL, code, detail)
	}
}

func errorDetail(body []byte) string {
	if !gjson.ValidBytes(body) {
		if len(body) == 0 {
			return "no details"
		}
		return string(body)
	}
	for _, field := range []string{"detail", "error", "message"} {
		if v := gjson.GetBytes(body, field); v.Type == gjson.String {
			return v.Str
		}
	}
	return gjson.ParseBytes(body).Raw
}
