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

// Package fakeapi is an in-process API server issuing and checking JWT
// bearer tokens the way the tournament API does.
package fakeapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

const (
	// APIPrefix is the path every route is served under.
	APIPrefix = "/api"
	// LoginPath is the token pair endpoint relative to APIPrefix.
	LoginPath = "/auth/token/"
	// RefreshPath is the refresh endpoint relative to APIPrefix.
	RefreshPath = "/auth/token/refresh/"
	// RegisterPath is the sign up endpoint relative to APIPrefix.
	RegisterPath = "/auth/register/"

	// DefaultAccessTTL is the lifetime of access tokens.
	DefaultAccessTTL = 5 * time.Minute
	// DefaultRefreshTTL is the lifetime of refresh tokens.
	DefaultRefreshTTL = 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Config configures Server.
type Config struct {
	// Users maps usernames to passwords.
	Users map[string]string
	// RotateRefresh makes every refresh blacklist the used refresh token
	// and issue a new one.
	RotateRefresh bool
	// AccessTTL is the access token lifetime.
	AccessTTL time.Duration
	// RefreshTTL is the refresh token lifetime.
	RefreshTTL time.Duration
	// Clock drives token issue and expiry.
	Clock clockwork.Clock
}

// Request is what the server saw on an API call.
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
	Body          string
}

type claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Server is a fake tournament API.
type Server struct {
	srv    *httptest.Server
	secret []byte
	clock  clockwork.Clock
	cfg    Config

	loginCalls   int32
	refreshCalls int32
	rejected     int32
	tournaments  int32

	mu           sync.Mutex
	revoked      map[string]bool
	requests     []Request
	refreshHook  func()
	refreshReply func(rw http.ResponseWriter) bool
}

// New starts a fake API server. It is closed by Close.
func New(cfg Config) *Server {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	}

	users := make(map[string]string, len(cfg.Users))
	for name, password := range cfg.Users {
		users[name] = password
	}
	cfg.Users = users

	router := httprouter.New()
	s := &Server{
		secret:  []byte(uuid.NewString()),
		clock:   cfg.Clock,
		cfg:     cfg,
		revoked: make(map[string]bool),
	}

	router.POST(APIPrefix+LoginPath, s.login)
	router.POST(APIPrefix+RefreshPath, s.refresh)
	router.POST(APIPrefix+RegisterPath, s.register)

	router.GET(APIPrefix+"/games/", s.protected(s.list("game", "Chess", "Go")))
	router.GET(APIPrefix+"/teams/", s.protected(s.list("team", "Red", "Blue")))
	router.GET(APIPrefix+"/tournaments/", s.protected(s.list("tournament", "Spring Cup")))
	router.GET(APIPrefix+"/tournaments/:id/", s.protected(s.item("tournament")))
	router.GET(APIPrefix+"/matches/:id/", s.protected(s.item("match")))
	router.GET(APIPrefix+"/invitations/", s.protected(s.list("invitation")))
	router.POST(APIPrefix+"/matches/", s.protected(s.echo))
	router.POST(APIPrefix+"/tournaments/", s.protected(s.createTournament))
	router.POST(APIPrefix+"/invitations/:id/:action/", s.protected(s.respond))
	router.GET(APIPrefix+"/locked/", s.protected(func(rw http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) {
		s.reject(rw, "You do not have permission to perform this action.")
	}))

	s.srv = httptest.NewServer(router)
	return s
}

// URL returns the API base URL, prefix included.
func (s *Server) URL() string {
	return s.srv.URL + APIPrefix
}

// RootURL returns the server URL without the API prefix.
func (s *Server) RootURL() string {
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// Clock returns the clock used for token expiry.
func (s *Server) Clock() clockwork.Clock {
	return s.clock
}

// FakeClock returns the clock as a fake clock, it panics if a real clock
// was configured.
func (s *Server) FakeClock() clockwork.FakeClock {
	return s.clock.(clockwork.FakeClock)
}

// ExpireAccessTokens moves the clock past the access token lifetime.
func (s *Server) ExpireAccessTokens() {
	s.FakeClock().Advance(s.cfg.AccessTTL + time.Second)
}

// IssuePair issues a token pair for user without a login call.
func (s *Server) IssuePair(user string) (access, refresh string) {
	access, err := s.issue(user, tokenTypeAccess, s.cfg.AccessTTL)
	fatalIf(err)
	refresh, err = s.issue(user, tokenTypeRefresh, s.cfg.RefreshTTL)
	fatalIf(err)
	return access, refresh
}

// Revoke blacklists a refresh token.
func (s *Server) Revoke(refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[refresh] = true
}

// OnRefresh installs fn to run before every refresh is answered.
func (s *Server) OnRefresh(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshHook = fn
}

// OverrideRefresh installs fn to write refresh replies. fn returns false to
// fall through to the normal handling.
func (s *Server) OverrideRefresh(fn func(rw http.ResponseWriter) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshReply = fn
}

// LoginCalls returns the number of login calls.
func (s *Server) LoginCalls() int {
	return int(atomic.LoadInt32(&s.loginCalls))
}

// RefreshCalls returns the number of refresh calls.
func (s *Server) RefreshCalls() int {
	return int(atomic.LoadInt32(&s.refreshCalls))
}

// Rejected returns the number of protected calls answered with 401.
func (s *Server) Rejected() int {
	return int(atomic.LoadInt32(&s.rejected))
}

// Requests returns the protected calls seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the protected calls seen for path.
func (s *Server) RequestsTo(path string) []Request {
	var out []Request
	for _, req := range s.Requests() {
		if req.Path == APIPrefix+path {
			out = append(out, req)
		}
	}
	return out
}

func (s *Server) login(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	atomic.AddInt32(&s.loginCalls, 1)

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "malformed request"})
		return
	}
	s.mu.Lock()
	password, ok := s.cfg.Users[creds.Username]
	s.mu.Unlock()
	if !ok || password != creds.Password {
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	access, refresh := s.IssuePair(creds.Username)
	writeJSON(rw, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) refresh(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	atomic.AddInt32(&s.refreshCalls, 1)

	s.mu.Lock()
	hook, reply := s.refreshHook, s.refreshReply
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if reply != nil && reply(rw) {
		return
	}

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"refresh": "This field is required."})
		return
	}
	user, err := s.verify(req.Refresh, tokenTypeRefresh)
	if err != nil {
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
		return
	}

	access, err := s.issue(user, tokenTypeAccess, s.cfg.AccessTTL)
	fatalIf(err)
	resp := map[string]string{"access": access}
	if s.cfg.RotateRefresh {
		s.Revoke(req.Refresh)
		rotated, err := s.issue(user, tokenTypeRefresh, s.cfg.RefreshTTL)
		fatalIf(err)
		resp["refresh"] = rotated
	}
	writeJSON(rw, http.StatusOK, resp)
}

type protectedHandler func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params, user string)

func (s *Server) protected(next protectedHandler) httprouter.Handle {
	return func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		body, err := io.ReadAll(r.Body)
		fatalIf(err)
		authz := r.Header.Get("Authorization")

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: authz,
			RequestID:     r.Header.Get("X-Request-ID"),
			Body:          string(body),
		})
		s.mu.Unlock()

		token := strings.TrimPrefix(authz, "Bearer ")
		if authz == "" || token == authz {
			s.reject(rw, "Authentication credentials were not provided.")
			return
		}
		user, err := s.verify(token, tokenTypeAccess)
		if err != nil {
			s.reject(rw, "Given token not valid for any token type")
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		next(rw, r, ps, user)
	}
}

func (s *Server) reject(rw http.ResponseWriter, detail string) {
	atomic.AddInt32(&s.rejected, 1)
	writeJSON(rw, http.StatusUnauthorized, map[string]string{"detail": detail})
}

func (s *Server) list(kind string, names ...string) protectedHandler {
	return func(rw http.ResponseWriter, _ *http.Request, _ httprouter.Params, _ string) {
		items := make([]map[string]interface{}, 0, len(names))
		for i, name := range names {
			items = append(items, map[string]interface{}{"id": i + 1, "kind": kind, "name": name})
		}
		writeJSON(rw, http.StatusOK, items)
	}
}

func (s *Server) item(kind string) protectedHandler {
	return func(rw http.ResponseWriter, _ *http.Request, ps httprouter.Params, _ string) {
		id := ps.ByName("id")
		if id == "404" {
			writeJSON(rw, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]interface{}{"id": id, "kind": kind})
	}
}

func (s *Server) echo(rw http.ResponseWriter, r *http.Request, _ httprouter.Params, user string) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "malformed request"})
		return
	}
	payload["created_by"] = user
	writeJSON(rw, http.StatusCreated, payload)
}

func (s *Server) createTournament(rw http.ResponseWriter, r *http.Request, _ httprouter.Params, user string) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "malformed request"})
		return
	}
	if title, _ := payload["title"].(string); title == "" {
		writeJSON(rw, http.StatusBadRequest, map[string][]string{"title": {"This field is required."}})
		return
	}
	switch payload["bracket_format"] {
	case "single", "double", "round_robin":
	default:
		writeJSON(rw, http.StatusBadRequest, map[string][]string{"bracket_format": {"Not a valid choice."}})
		return
	}
	payload["id"] = atomic.AddInt32(&s.tournaments, 1) + 1
	payload["created_by"] = user
	writeJSON(rw, http.StatusCreated, payload)
}

func (s *Server) register(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "malformed request"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "username and password are required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cfg.Users[req.Username]; ok {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "A user with that username already exists."})
		return
	}
	s.cfg.Users[req.Username] = req.Password
	writeJSON(rw, http.StatusCreated, map[string]string{"username": req.Username, "email": req.Email})
}

func (s *Server) respond(rw http.ResponseWriter, _ *http.Request, ps httprouter.Params, user string) {
	var status string
	switch ps.ByName("action") {
	case "accept":
		status = "accepted"
	case "decline":
		status = "declined"
	default:
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "unknown action"})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"id": ps.ByName("id"), "status": status, "user": user})
}

func (s *Server) issue(user, tokenType string, ttl time.Duration) (string, error) {
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	return signed, trace.Wrap(err)
}

func (s *Server) verify(raw, tokenType string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return "", trace.AccessDenied("invalid token: %v", err)
	}
	if c.TokenType != tokenType {
		return "", trace.AccessDenied("wrong token type %q", c.TokenType)
	}
	if tokenType == tokenTypeRefresh {
		s.mu.Lock()
		revoked := s.revoked[raw]
		s.mu.Unlock()
		if revoked {
			return "", trace.AccessDenied("token is blacklisted")
		}
	}
	return c.Subject, nil
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	err := json.NewEncoder(rw).Encode(v)
	fatalIf(err)
}

func fatalIf(err error) {
	if err != nil {
		log.WithError(err).Fatal("fake API failed")
	}
}
