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
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"

	"github.com/gravitational/apisession/apiclient"
	"github.com/gravitational/apisession/auth"
	"github.com/gravitational/apisession/lib/logger"
	"github.com/gravitational/apisession/session"
)

// app is what every command needs: the session store, the API client and
// the guard, all sharing one backend.
type app struct {
	store  *session.Store
	client *apiclient.Client
	guard  *session.Guard

	// closeTimeout bounds waiting for a token refresh in flight on Close.
	closeTimeout time.Duration
}

// newApp sets up logging and opens the session. nav receives the login
// screen once the session is gone.
func newApp(ctx context.Context, cli *CLI, nav apiclient.Navigator) (*app, error) {
	if err := cli.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := logger.Setup(cli.logConfig()); err != nil {
		return nil, trace.Wrap(err)
	}
	log := logger.Get(ctx)

	backend, err := openBackend(ctx, cli.StorageConfig)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	store, err := session.NewStore(session.StoreConfig{Backend: backend, Log: log})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	store.OnCleared(func(reason session.ClearReason) {
		log.WithField("reason", reason).Info("Session cleared")
	})

	tokens, err := auth.NewTokenAuthorizer(cli.authConfig())
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}
	client, err := apiclient.New(cli.apiConfig(), store, tokens, nav)
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}
	guard, err := session.NewGuard(session.GuardConfig{
		Store:       store,
		LoginPath:   session.DefaultLoginPath,
		HomePath:    session.DefaultHomePath,
		PublicPaths: []string{"/static/*"},
	})
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}
	log.WithField("storage", cli.StorageType).Debug("Session store opened")

	return &app{
		store:        store,
		client:       client,
		guard:        guard,
		closeTimeout: 2 * cli.APITimeout,
	}, nil
}

// Close lets a token refresh in flight land in the store, then releases
// the session backend.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.closeTimeout)
	defer cancel()
	var errs []error
	if err := a.client.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return trace.NewAggregate(errs...)
}

func openBackend(ctx context.Context, conf StorageConfig) (session.Backend, error) {
	switch conf.StorageType {
	case storageMemory:
		return session.NewMemoryBackend(), nil
	case storageFile:
		backend, err := session.NewDiskBackend(conf.StorageDir, conf.StorageProfile)
		return backend, trace.Wrap(err)
	case storageBolt:
		if err := os.MkdirAll(conf.StorageDir, 0700); err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		backend, err := session.OpenBoltBackend(filepath.Join(conf.StorageDir, boltFileName), conf.StorageProfile)
		return backend, trace.Wrap(err)
	case storageRedis:
		client := redis.NewClient(&redis.Options{Addr: conf.StorageRedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, trace.ConnectionProblem(err, "failed to reach redis at %v", conf.StorageRedisAddr)
		}
		backend, err := session.NewRedisBackend(session.RedisConfig{
			Client:  client,
			Profile: conf.StorageProfile,
			TTL:     conf.StorageRedisTTL,
		})
		return backend, trace.Wrap(err)
	default:
		return nil, trace.BadParameter("unknown storage type %q", conf.StorageType)
	}
}
