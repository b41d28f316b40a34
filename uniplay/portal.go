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
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/apisession/apiclient"
	"github.com/gravitational/apisession/lib"
	"github.com/gravitational/apisession/lib/logger"
)

const (
	registerAPIPath = "/auth/register/"

	defaultLoginAttempts = 5
	defaultLockPeriod    = time.Minute
)

// PortalConfig configures Portal.
type PortalConfig struct {
	// HTTP is the listener configuration.
	HTTP lib.HTTPConfig
	// LoginAttempts is the number of failed logins a username gets per
	// LockPeriod before it is locked out.
	LoginAttempts int
	// LockPeriod is the failed login window.
	LockPeriod time.Duration
}

// CheckAndSetDefaults validates the config and fills in the defaults.
func (c *PortalConfig) CheckAndSetDefaults() error {
	if c.LoginAttempts < 0 {
		return trace.BadParameter("login attempts must not be negative")
	}
	if c.LoginAttempts == 0 {
		c.LoginAttempts = defaultLoginAttempts
	}
	if c.LockPeriod == 0 {
		c.LockPeriod = defaultLockPeriod
	}
	return trace.Wrap(c.HTTP.Check())
}

// Portal serves the tournament screens. Every screen passes the guard
// first, the data screens then fetch from the API with the stored session.
type Portal struct {
	app     *app
	http    *lib.HTTP
	pages   *template.Template
	limiter *loginLimiter
	process *lib.Process
}

type page struct {
	Title         string
	Authenticated bool
	Error         string
	Flash         string
	Username      string
	Sections      []section
	Invitations   []string
	Games         []gameOption
	Formats       map[string]string
	Form          tournamentForm
}

type gameOption struct {
	ID   string
	Name string
}

// tournamentForm is what the tournament create screen submits.
type tournamentForm struct {
	Title     string
	Game      string
	PrizePool string
	StartDate string
	Format    string
}

// bracketFormats are the formats the API accepts, by value.
var bracketFormats = map[string]string{
	"single":      "Single elimination",
	"double":      "Double elimination",
	"round_robin": "Round-robin",
}

// newTournamentStatus is the status of a tournament open for teams.
const newTournamentStatus = "registration"

type section struct {
	Title string
	JSON  string
}

// resource is an API list or item rendered on a screen.
type resource struct {
	title string
	path  func(ps httprouter.Params) string
}

func apiPath(p string) func(httprouter.Params) string {
	return func(httprouter.Params) string { return p }
}

// NewPortal creates a Portal.
func NewPortal(a *app, conf PortalConfig) (*Portal, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	srv, err := lib.NewHTTP(conf.HTTP)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pages, err := template.New("portal").Parse(pageTemplates)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	limiter, err := newLoginLimiter(conf.LoginAttempts, conf.LockPeriod)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p := &Portal{app: a, http: srv, pages: pages, limiter: limiter}

	srv.GET("/", p.index)
	srv.GET("/login", p.guarded(p.loginForm))
	srv.POST("/login", p.guarded(p.login))
	srv.GET("/register", p.guarded(p.registerForm))
	srv.POST("/register", p.guarded(p.register))
	srv.POST("/logout", p.logout)

	srv.GET("/dashboard", p.guarded(p.show("Dashboard",
		resource{title: "Games", path: apiPath("/games/")},
		resource{title: "Tournaments", path: apiPath("/tournaments/")},
	)))
	srv.GET("/games", p.guarded(p.show("Games", resource{title: "Games", path: apiPath("/games/")})))
	srv.GET("/teams", p.guarded(p.show("Teams", resource{title: "Teams", path: apiPath("/teams/")})))
	srv.GET("/tournaments", p.guarded(p.show("Tournaments", resource{title: "Tournaments", path: apiPath("/tournaments/")})))
	tournament := p.show("Tournament", resource{
		title: "Tournament",
		path:  func(ps httprouter.Params) string { return "/" + lib.BuildURLPath("tournaments", ps.ByName("id")) + "/" },
	})
	// httprouter can't route a static segment next to :id.
	srv.GET("/tournaments/:id", p.guarded(func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("id") == "create" {
			p.tournamentCreateForm(rw, r, ps)
			return
		}
		tournament(rw, r, ps)
	}))
	srv.POST("/tournaments", p.guarded(p.createTournament))
	srv.GET("/matches/:id", p.guarded(p.show("Match", resource{
		title: "Match",
		path:  func(ps httprouter.Params) string { return "/" + lib.BuildURLPath("matches", ps.ByName("id")) + "/" },
	})))
	srv.GET("/invitations", p.guarded(p.invitations))
	srv.POST("/invitations/:id/:action", p.guarded(p.respond))

	return p, nil
}

// Run serves until the portal is shut down.
func (p *Portal) Run(ctx context.Context) error {
	logger.Get(ctx).Infof("Starting %s portal %s:%s", appName, Version, Gitref)
	p.process = lib.NewProcess(ctx)
	p.process.SpawnCritical(p.http.ListenAndServe)
	<-p.process.Done()
	return trace.Wrap(p.process.Err())
}

// WaitReady waits for the listener to be bound.
func (p *Portal) WaitReady(ctx context.Context) (bool, error) {
	return p.http.WaitReady(ctx)
}

// Err returns the serving errors.
func (p *Portal) Err() error {
	if p.process == nil {
		return nil
	}
	return p.process.Err()
}

// Shutdown stops the server gracefully.
func (p *Portal) Shutdown(ctx context.Context) error {
	if err := p.http.Shutdown(ctx); err != nil {
		return trace.Wrap(err)
	}
	if err := p.process.Shutdown(ctx); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(p.limiter.Close(ctx))
}

// Close stops the server immediately.
func (p *Portal) Close() {
	p.process.Close()
	if err := p.limiter.Close(context.Background()); err != nil {
		logger.Standard().WithError(err).Debug("Failed to close the login limiter")
	}
}

// Addr returns the bound address.
func (p *Portal) Addr() net.Addr {
	return p.http.Addr()
}

func (p *Portal) guarded(next httprouter.Handle) httprouter.Handle {
	return func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		decision := p.app.guard.Check(r.Context(), r.URL.Path)
		if !decision.Allow {
			logger.Get(r.Context()).WithFields(log.Fields{
				"screen":   r.URL.Path,
				"redirect": decision.Redirect,
			}).Debug("Screen is not available")
			http.Redirect(rw, r, decision.Redirect, http.StatusSeeOther)
			return
		}
		next(rw, r, ps)
	}
}

func (p *Portal) index(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	to := p.app.guard.LoginPath()
	if p.app.guard.IsAuthenticated(r.Context()) {
		to = p.app.guard.HomePath()
	}
	http.Redirect(rw, r, to, http.StatusSeeOther)
}

func (p *Portal) loginForm(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	data := page{Title: "Log in"}
	if r.URL.Query().Get("registered") != "" {
		data.Flash = "Account created, you can log in now."
	}
	p.render(rw, r, http.StatusOK, "login", data)
}

func (p *Portal) login(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	username, password := r.PostFormValue("username"), r.PostFormValue("password")
	data := page{Title: "Log in", Username: username}
	if p.limiter.Locked(username) {
		data.Error = "Too many failed attempts, try again later."
		p.render(rw, r, http.StatusTooManyRequests, "login", data)
		return
	}

	err := p.app.client.Login(ctx, username, password)
	if err == nil {
		http.Redirect(rw, r, p.app.guard.HomePath(), http.StatusSeeOther)
		return
	}

	status := http.StatusBadGateway
	switch {
	case trace.IsBadParameter(err):
		data.Error, status = "Username and password are required.", http.StatusBadRequest
	case trace.IsAccessDenied(err):
		data.Error, status = "Invalid username or password.", http.StatusUnauthorized
		locked, lerr := p.limiter.Failed(ctx, username)
		if lerr != nil {
			logger.Get(ctx).WithError(lerr).Warn("Failed to count the login attempt")
		}
		if locked {
			logger.Get(ctx).WithField("username", username).Warn("Too many failed logins, locking the username out")
			data.Error, status = "Too many failed attempts, try again later.", http.StatusTooManyRequests
		}
	default:
		logger.Get(ctx).WithError(err).Error("Login failed")
		data.Error = "The server could not be reached, try again later."
	}
	p.render(rw, r, status, "login", data)
}

func (p *Portal) registerForm(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p.render(rw, r, http.StatusOK, "register", page{Title: "Register"})
}

func (p *Portal) register(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	username, email := r.PostFormValue("username"), r.PostFormValue("email")
	if email != "" && !lib.IsEmail(email) {
		p.render(rw, r, http.StatusBadRequest, "register", page{Title: "Register", Username: username, Error: "Enter a valid email address."})
		return
	}
	err := p.app.client.Post(ctx, registerAPIPath, map[string]string{
		"username": username,
		"email":    email,
		"password": r.PostFormValue("password"),
	}, nil)
	if err != nil {
		logger.Get(ctx).WithError(err).Info("Registration failed")
		p.render(rw, r, statusOf(err), "register", page{Title: "Register", Username: username, Error: err.Error()})
		return
	}
	to := url.URL{Path: p.app.guard.LoginPath(), RawQuery: url.Values{"registered": {"1"}}.Encode()}
	http.Redirect(rw, r, to.String(), http.StatusSeeOther)
}

func (p *Portal) logout(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, slot := withRedirectSlot(r.Context())
	p.app.client.Logout(ctx)
	to := slot.get()
	if to == "" {
		to = p.app.guard.LoginPath()
	}
	http.Redirect(rw, r, to, http.StatusSeeOther)
}

// show renders the resources fetched in parallel.
func (p *Portal) show(title string, resources ...resource) httprouter.Handle {
	return func(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx, slot := withRedirectSlot(r.Context())
		sections := make([]section, len(resources))

		group, gctx := errgroup.WithContext(ctx)
		for i, res := range resources {
			i, res := i, res
			group.Go(func() error {
				body, err := p.fetch(gctx, res.path(ps))
				if err != nil {
					return trace.Wrap(err)
				}
				sections[i] = section{Title: res.title, JSON: body}
				return nil
			})
		}
		err := group.Wait()
		if p.sessionEnded(rw, r, slot, err) {
			return
		}
		if err != nil {
			p.renderError(rw, r, err)
			return
		}
		p.render(rw, r, http.StatusOK, "resource", page{Title: title, Sections: sections})
	}
}

func (p *Portal) invitations(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, slot := withRedirectSlot(r.Context())
	resp, err := p.app.client.R(ctx).Get("/invitations/")
	if p.sessionEnded(rw, r, slot, err) {
		return
	}
	if err != nil {
		p.renderError(rw, r, err)
		return
	}
	var ids []string
	gjson.GetBytes(resp.Body(), "#.id").ForEach(func(_, id gjson.Result) bool {
		ids = append(ids, id.String())
		return true
	})
	p.render(rw, r, http.StatusOK, "resource", page{
		Title:       "Invitations",
		Sections:    []section{{Title: "Invitations", JSON: pretty(resp.Body())}},
		Invitations: ids,
	})
}

func (p *Portal) respond(rw http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	action := ps.ByName("action")
	if action != "accept" && action != "decline" {
		p.renderError(rw, r, trace.BadParameter("unknown invitation action %q", action))
		return
	}
	ctx, slot := withRedirectSlot(r.Context())
	err := p.app.client.Post(ctx, "/"+lib.BuildURLPath("invitations", ps.ByName("id"), action)+"/", nil, nil)
	if p.sessionEnded(rw, r, slot, err) {
		return
	}
	if err != nil {
		p.renderError(rw, r, err)
		return
	}
	http.Redirect(rw, r, "/invitations", http.StatusSeeOther)
}

func (p *Portal) tournamentCreateForm(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p.renderTournamentForm(rw, r, http.StatusOK, tournamentForm{Format: "single"}, "")
}

func (p *Portal) createTournament(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	form := tournamentForm{
		Title:     strings.TrimSpace(r.PostFormValue("title")),
		Game:      r.PostFormValue("game"),
		PrizePool: r.PostFormValue("prize_pool"),
		StartDate: r.PostFormValue("start_date"),
		Format:    r.PostFormValue("bracket_format"),
	}
	game, err := strconv.Atoi(form.Game)
	switch {
	case form.Title == "":
		p.renderTournamentForm(rw, r, http.StatusBadRequest, form, "Enter a title.")
		return
	case err != nil:
		p.renderTournamentForm(rw, r, http.StatusBadRequest, form, "Pick a game.")
		return
	case bracketFormats[form.Format] == "":
		p.renderTournamentForm(rw, r, http.StatusBadRequest, form, "Pick a bracket format.")
		return
	}

	ctx, slot := withRedirectSlot(r.Context())
	err = p.app.client.Post(ctx, "/tournaments/", map[string]interface{}{
		"title":          form.Title,
		"game":           game,
		"prize_pool":     form.PrizePool,
		"start_date":     form.StartDate,
		"bracket_format": form.Format,
		"status":         newTournamentStatus,
		"teams":          []int{},
		"referees":       []int{},
		"moderators":     []int{},
	}, nil)
	if p.sessionEnded(rw, r, slot, err) {
		return
	}
	if err != nil {
		logger.Get(ctx).WithError(err).Info("Failed to create tournament")
		p.renderTournamentForm(rw, r, statusOf(err), form, err.Error())
		return
	}
	http.Redirect(rw, r, "/tournaments", http.StatusSeeOther)
}

// renderTournamentForm lists the games to pick from and renders the form.
func (p *Portal) renderTournamentForm(rw http.ResponseWriter, r *http.Request, status int, form tournamentForm, message string) {
	ctx, slot := withRedirectSlot(r.Context())
	resp, err := p.app.client.R(ctx).Get("/games/")
	if p.sessionEnded(rw, r, slot, err) {
		return
	}
	if err != nil {
		p.renderError(rw, r, err)
		return
	}
	var games []gameOption
	gjson.ParseBytes(resp.Body()).ForEach(func(_, g gjson.Result) bool {
		games = append(games, gameOption{ID: g.Get("id").String(), Name: g.Get("name").String()})
		return true
	})
	p.render(rw, r, status, "tournament_create", page{
		Title:   "Create tournament",
		Error:   message,
		Games:   games,
		Formats: bracketFormats,
		Form:    form,
	})
}

func (p *Portal) fetch(ctx context.Context, path string) (string, error) {
	resp, err := p.app.client.R(ctx).Get(path)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return pretty(resp.Body()), nil
}

// sessionEnded redirects to the login screen when the session was lost
// while serving the screen. Nothing of the screen is rendered then.
func (p *Portal) sessionEnded(rw http.ResponseWriter, r *http.Request, slot *redirectSlot, err error) bool {
	to := slot.get()
	if to == "" && err != nil && (apiclient.IsSessionCleared(err) || !p.app.guard.IsAuthenticated(r.Context())) {
		to = p.app.guard.LoginPath()
	}
	if to == "" {
		return false
	}
	http.Redirect(rw, r, to, http.StatusSeeOther)
	return true
}

func (p *Portal) renderError(rw http.ResponseWriter, r *http.Request, err error) {
	log := logger.Get(r.Context()).WithError(err).WithField("screen", r.URL.Path)
	if lib.IsCanceled(err) {
		log.Debug("Browser went away")
		return
	}
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("Failed to render screen")
	} else {
		log.Debug("Screen is not available")
	}
	p.render(rw, r, status, "error", page{Title: http.StatusText(status), Error: err.Error()})
}

func (p *Portal) render(rw http.ResponseWriter, r *http.Request, status int, name string, data page) {
	data.Authenticated = p.app.guard.IsAuthenticated(r.Context())
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.WriteHeader(status)
	if err := p.pages.ExecuteTemplate(rw, name, data); err != nil {
		logger.Get(r.Context()).WithError(err).Errorf("Failed to execute template %q", name)
	}
}

func statusOf(err error) int {
	switch {
	case lib.IsDeadline(err):
		return http.StatusGatewayTimeout
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsAccessDenied(err):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func pretty(body []byte) string {
	if !gjson.ValidBytes(body) {
		return string(body)
	}
	return gjson.GetBytes(body, "@pretty").Raw
}
