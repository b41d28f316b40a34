package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/apisession/lib"
	"github.com/gravitational/apisession/lib/testing/fakeapi"
)

func newTestCLI(t *testing.T, api *fakeapi.Server, storage StorageConfig) *CLI {
	t.Helper()
	if storage.StorageProfile == "" {
		storage.StorageProfile = "test"
	}
	return &CLI{
		APIConfig: APIConfig{
			APIURL:         api.URL(),
			APILoginPath:   fakeapi.LoginPath,
			APIRefreshPath: fakeapi.RefreshPath,
			APITimeout:     5 * time.Second,
		},
		StorageConfig: storage,
		LogConfig: LogConfig{
			LogOutput:   "stderr",
			LogSeverity: "debug",
			LogFormat:   "text",
		},
	}
}

func newTestAPI(t *testing.T) *fakeapi.Server {
	t.Helper()
	api := fakeapi.New(fakeapi.Config{Users: map[string]string{"alice": "wonderland"}})
	t.Cleanup(api.Close)
	return api
}

func runGet(ctx context.Context, cli *CLI, path string) (string, error) {
	var out bytes.Buffer
	err := (&GetCmd{Path: path}).run(ctx, cli, &out)
	return out.String(), err
}

func TestCommandsFileStorage(t *testing.T) {
	ctx := context.Background()
	api := newTestAPI(t)
	cli := newTestCLI(t, api, StorageConfig{StorageType: storageFile, StorageDir: t.TempDir()})

	var out bytes.Buffer
	require.NoError(t, (&StatusCmd{}).run(ctx, cli, &out))
	require.Contains(t, out.String(), "absent")

	out.Reset()
	err := (&LoginCmd{Username: "alice", Password: "nope"}).run(ctx, cli, &out)
	require.True(t, trace.IsAccessDenied(err), "got %v", err)
	require.Equal(t, lib.ExitUnauthenticated, lib.ExitCode(err))

	require.NoError(t, (&LoginCmd{Username: "alice", Password: "wonderland"}).run(ctx, cli, &out))
	require.Equal(t, "Logged in as alice.\n", out.String())

	out.Reset()
	require.NoError(t, (&StatusCmd{}).run(ctx, cli, &out))
	require.Contains(t, out.String(), "present")
	require.NotContains(t, out.String(), "eyJ", "token values must not be printed")

	body, err := runGet(ctx, cli, "games/")
	require.NoError(t, err)
	require.Contains(t, body, `"Chess"`)

	// The next command finds the expired token on disk and refreshes it.
	api.ExpireAccessTokens()
	body, err = runGet(ctx, cli, "/teams/")
	require.NoError(t, err)
	require.Contains(t, body, `"Blue"`)
	require.Equal(t, 1, api.RefreshCalls())

	_, err = runGet(ctx, cli, "/tournaments/404/")
	require.True(t, trace.IsNotFound(err), "got %v", err)

	out.Reset()
	require.NoError(t, (&LogoutCmd{}).run(ctx, cli, &out))
	require.Equal(t, "Logged out.\n", out.String())

	out.Reset()
	require.NoError(t, (&LogoutCmd{}).run(ctx, cli, &out))
	require.Equal(t, "Not logged in.\n", out.String())

	_, err = runGet(ctx, cli, "/games/")
	require.True(t, trace.IsAccessDenied(err), "got %v", err)
}

func TestCommandsBoltStorage(t *testing.T) {
	ctx := context.Background()
	api := newTestAPI(t)
	cli := newTestCLI(t, api, StorageConfig{StorageType: storageBolt, StorageDir: t.TempDir()})

	var out bytes.Buffer
	require.NoError(t, (&LoginCmd{Username: "alice", Password: "wonderland"}).run(ctx, cli, &out))

	body, err := runGet(ctx, cli, "/tournaments/")
	require.NoError(t, err)
	require.Contains(t, body, `"Spring Cup"`)
}

func TestCommandsShareRedisSession(t *testing.T) {
	ctx := context.Background()
	api := fakeapi.New(fakeapi.Config{
		Users:         map[string]string{"alice": "wonderland"},
		RotateRefresh: true,
	})
	t.Cleanup(api.Close)
	mr := miniredis.RunT(t)

	storage := StorageConfig{StorageType: storageRedis, StorageRedisAddr: mr.Addr(), StorageProfile: "shared"}
	first := newTestCLI(t, api, storage)
	second := newTestCLI(t, api, storage)

	var out bytes.Buffer
	require.NoError(t, (&LoginCmd{Username: "alice", Password: "wonderland"}).run(ctx, first, &out))

	// A rotation done by one client is picked up by the other.
	api.ExpireAccessTokens()
	_, err := runGet(ctx, first, "/games/")
	require.NoError(t, err)
	api.ExpireAccessTokens()
	_, err = runGet(ctx, second, "/games/")
	require.NoError(t, err)
	require.Equal(t, 2, api.RefreshCalls())
}

func TestRedisStorageUnavailable(t *testing.T) {
	api := newTestAPI(t)
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cli := newTestCLI(t, api, StorageConfig{StorageType: storageRedis, StorageRedisAddr: addr})
	var out bytes.Buffer
	err := (&StatusCmd{}).run(context.Background(), cli, &out)
	require.True(t, trace.IsConnectionProblem(err), "got %v", err)
}

func TestResourcePath(t *testing.T) {
	require.Equal(t, "/games/", resourcePath("games/"))
	require.Equal(t, "/games/", resourcePath("//games/"))
	require.Equal(t, "/", resourcePath(""))
}
