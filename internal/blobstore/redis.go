package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed Store, grounded on the teacher's RedisCache
// (internal/services/cache.go) but storing raw blobs rather than JSON
// envelopes, and supporting Glob via SCAN MATCH. Intended for the chat cache
// blob in multi-process deployments; session files and the session lock
// still want Local, since a crashed process leaving a stray key behaves the
// same either way but Local needs no network round-trip on the hot path.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing *redis.Client. prefix namespaces all keys (e.g.
// "tgpool:") so the blob store can share a Redis instance with other uses.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) fullKey(key string) string {
	return r.prefix + key
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.fullKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type redisReadHandle struct {
	*bytes.Reader
}

func (redisReadHandle) Write(_ []byte) (int, error) {
	return 0, fmt.Errorf("blobstore: handle opened read-only")
}

func (redisReadHandle) Close() error { return nil }

type redisWriteHandle struct {
	ctx    context.Context
	client *redis.Client
	key    string
	buf    bytes.Buffer
}

func (h *redisWriteHandle) Read(_ []byte) (int, error) {
	return 0, fmt.Errorf("blobstore: handle opened write-only")
}

func (h *redisWriteHandle) Write(p []byte) (int, error) {
	return h.buf.Write(p)
}

func (h *redisWriteHandle) Close() error {
	return h.client.Set(h.ctx, h.key, h.buf.Bytes(), 0).Err()
}

func (r *Redis) Open(ctx context.Context, key string, mode OpenMode) (Handle, error) {
	if mode == WriteOnly {
		return &redisWriteHandle{ctx: ctx, client: r.client, key: r.fullKey(key)}, nil
	}
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("blobstore: key %q not found", key)
		}
		return nil, err
	}
	return redisReadHandle{Reader: bytes.NewReader(data)}, nil
}

func (r *Redis) Touch(ctx context.Context, key string) error {
	return r.client.Set(ctx, r.fullKey(key), []byte{}, 0).Err()
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.fullKey(key)).Err()
}

func (r *Redis) Glob(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.fullKey(pattern), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
