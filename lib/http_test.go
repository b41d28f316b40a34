package lib

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestHTTPConfigCheck(t *testing.T) {
	for name, tc := range map[string]struct {
		conf HTTPConfig
		ok   bool
	}{
		"insecure":         {conf: HTTPConfig{Listen: ":8080", Insecure: true}, ok: true},
		"tls":              {conf: HTTPConfig{Listen: ":8443", CertFile: "a.crt", KeyFile: "a.key"}, ok: true},
		"no listen":        {conf: HTTPConfig{Insecure: true}},
		"key without cert": {conf: HTTPConfig{Listen: ":8443", KeyFile: "a.key"}},
		"cert without key": {conf: HTTPConfig{Listen: ":8443", CertFile: "a.crt"}},
		"secure no certs":  {conf: HTTPConfig{Listen: ":8443"}},
	} {
		err := tc.conf.Check()
		if tc.ok {
			require.NoError(t, err, name)
		} else {
			require.True(t, trace.IsBadParameter(err), "%v: got %v", name, err)
		}
	}
}

func TestHTTPBaseURL(t *testing.T) {
	conf := HTTPConfig{Listen: ":3000", Insecure: true}
	u, err := conf.BaseURL()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3000", u.String())

	conf.RawBaseURL = "https://portal.example.com/app"
	srv, err := NewHTTP(HTTPConfig{Listen: ":3000", Insecure: true, RawBaseURL: conf.RawBaseURL})
	require.NoError(t, err)
	require.Equal(t, "https://portal.example.com/app/tournaments/7", srv.NewURL(BuildURLPath("tournaments", "7"), nil).String())
}

func TestHTTPListenAndServe(t *testing.T) {
	srv, err := NewHTTP(HTTPConfig{Listen: "127.0.0.1:0", Insecure: true})
	require.NoError(t, err)
	srv.GET("/ping", func(rw http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		_, _ = io.WriteString(rw, "pong")
	})

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() { errC <- srv.ListenAndServe(ctx) }()

	ok, err := srv.WaitReady(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", srv.Addr()))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-errC:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
