package testing

import (
	"context"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/gravitational/apisession/lib/logger"
	"github.com/gravitational/apisession/lib/testing/fakeapi"
	"github.com/gravitational/apisession/session"
)

// DefaultTestTimeout bounds every test of a Suite unless SetContext is
// called first.
const DefaultTestTimeout = 5 * time.Second

// Suite is a testify suite talking to a fake API. It keeps per-test
// contexts and starts long running apps such as the portal.
type Suite struct {
	suite.Suite
	appCtx context.Context
	ctx    context.Context
	app    AppI
}

// AppI is a long running app started by StartApp.
type AppI interface {
	Run(ctx context.Context) error
	WaitReady(ctx context.Context) (bool, error)
	Err() error
	Shutdown(ctx context.Context) error
}

// SetContext sets the per-test contexts. The app context outlives the test
// context slightly so assertions fail before the app does.
func (s *Suite) SetContext(timeout time.Duration) (appCtx, ctx context.Context) {
	t := s.T()
	t.Helper()

	require.Nil(t, s.appCtx, "Context cannot be set twice")

	base, _ := logger.WithField(context.Background(), "test", t.Name())
	appCtx, appCancel := context.WithTimeout(base, timeout+100*time.Millisecond)
	ctx, cancel := context.WithTimeout(appCtx, timeout)
	t.Cleanup(func() {
		cancel()
		appCancel()
		s.appCtx, s.ctx = nil, nil
	})
	s.appCtx, s.ctx = appCtx, ctx
	return appCtx, ctx
}

// AppCtx returns the context apps started by StartApp run with.
func (s *Suite) AppCtx() context.Context {
	if s.appCtx == nil {
		s.SetContext(DefaultTestTimeout)
	}
	return s.appCtx
}

// Ctx returns the per-test context, created on first use.
func (s *Suite) Ctx() context.Context {
	s.T().Helper()
	if s.ctx == nil {
		s.SetContext(DefaultTestTimeout)
	}
	return s.ctx
}

// StartAPI starts a fake API server closed with the test.
func (s *Suite) StartAPI(cfg fakeapi.Config) *fakeapi.Server {
	api := fakeapi.New(cfg)
	s.T().Cleanup(api.Close)
	return api
}

// NewMemoryStore returns an empty session store closed with the test.
func (s *Suite) NewMemoryStore() *session.Store {
	t := s.T()
	t.Helper()

	store, err := session.NewStore(session.StoreConfig{Backend: session.NewMemoryBackend()})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

// SignIn stores a token pair the API issued for user without calling the
// login endpoint.
func (s *Suite) SignIn(store *session.Store, api *fakeapi.Server, user string) (access, refresh string) {
	t := s.T()
	t.Helper()

	access, refresh = api.IssuePair(user)
	require.NoError(t, store.SetTokens(s.Ctx(), access, refresh))
	return access, refresh
}

// StartApp runs app until the test ends and waits for it to be ready.
func (s *Suite) StartApp(app AppI) {
	t := s.T()
	t.Helper()

	require.Nil(t, s.app, "Cannot start app twice")

	ctx := s.AppCtx()
	go func() {
		if err := app.Run(ctx); err != nil {
			panic(err)
		}
	}()

	t.Cleanup(func() {
		assert.NoError(t, app.Shutdown(ctx))
		assert.NoError(t, app.Err())
		s.app = nil
	})

	ok, err := app.WaitReady(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	s.app = app
}
