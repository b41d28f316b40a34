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

package session

import (
	"context"
	"errors"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "apisession:"

// RedisBackend keeps the session in Redis so several client processes can
// share one login. A rotation done by any of them is visible to the others
// on their next read.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// RedisConfig configures RedisBackend.
type RedisConfig struct {
	// Client is a connected redis client.
	Client redis.UniversalClient
	// Profile names the record.
	Profile string
	// TTL expires an idle record. Zero keeps it forever.
	TTL time.Duration
}

// NewRedisBackend returns a RedisBackend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Client == nil {
		return nil, trace.BadParameter("missing redis client")
	}
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.TTL < 0 {
		return nil, trace.BadParameter("redis TTL must not be negative")
	}
	return &RedisBackend{
		client: cfg.Client,
		key:    redisKeyPrefix + cfg.Profile,
		ttl:    cfg.TTL,
	}, nil
}

// Close closes the redis client.
func (r *RedisBackend) Close() error {
	return trace.Wrap(r.client.Close())
}

// Load implements Backend.
func (r *RedisBackend) Load(ctx context.Context) (Session, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, trace.NotFound("no session stored")
	}
	if err != nil {
		return Session{}, trace.ConnectionProblem(err, "reading session from redis")
	}
	s, err := unmarshalSession(data)
	return s, trace.Wrap(err)
}

// Save implements Backend.
func (r *RedisBackend) Save(ctx context.Context, s Session) error {
	data, err := marshalSession(s)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return trace.ConnectionProblem(err, "writing session to redis")
	}
	return nil
}

// Erase implements Backend.
func (r *RedisBackend) Erase(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return trace.ConnectionProblem(err, "erasing session from redis")
	}
	return nil
}
