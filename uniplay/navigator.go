package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gravitational/apisession/lib/logger"
)

// cliNavigator has no screens to go to, it tells the user to log in again.
type cliNavigator struct {
	w io.Writer
}

func (n cliNavigator) Redirect(ctx context.Context, path string) {
	logger.Get(ctx).WithField("screen", path).Debug("Redirect requested")
	fmt.Fprintf(n.w, "Session ended, run '%s login' to log in again.\n", appName)
}

type redirectKey struct{}

// redirectSlot carries the screen a portal request must end on.
type redirectSlot struct {
	mu   sync.Mutex
	path string
}

func (s *redirectSlot) set(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

func (s *redirectSlot) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func withRedirectSlot(ctx context.Context) (context.Context, *redirectSlot) {
	slot := &redirectSlot{}
	return context.WithValue(ctx, redirectKey{}, slot), slot
}

// portalNavigator records the redirect in the slot of the page request
// that triggered it.
type portalNavigator struct{}

func (portalNavigator) Redirect(ctx context.Context, path string) {
	logger.Get(ctx).WithField("screen", path).Info("Session ended, redirecting")
	if slot, ok := ctx.Value(redirectKey{}).(*redirectSlot); ok {
		slot.set(path)
	}
}
