// Package blobstore defines the key→blob persistence contract used for
// session strings, the cross-process session lock, and the chat cache. It is
// the Go-native form of the external BlobStore collaborator (spec.md §6):
// duck-typed in the source this is distilled from, made explicit here as a
// capability interface.
package blobstore

import (
	"context"
	"io"
)

// OpenMode selects read or write access for Open.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	WriteOnly
)

// Handle is a scoped byte stream. Close must be called to release the
// underlying resource; for WriteOnly handles, Close is also the durability
// point — writes are not guaranteed visible to Exists/Open until Close
// returns without error.
type Handle interface {
	io.ReadWriteCloser
}

// Store is the minimum surface a BlobStore backend must expose. Every method
// takes a context so backends with network round-trips (Redis) can respect
// caller deadlines and cancellation.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string, mode OpenMode) (Handle, error)
	Touch(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// Well-known keys used by the pool and chat cache.
const (
	SessionLockKey = ".session_lock"
	ChatCacheKey   = ".chat_cache"
)

// SessionFilename returns the default session blob key for a phone number,
// matching the original's f"{phone}.session".
func SessionFilename(phone string) string {
	return phone + ".session"
}

// ReadAll opens key for reading and returns its full contents, closing the
// handle on every path.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	h, err := s.Open(ctx, key, ReadOnly)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return io.ReadAll(h)
}

// WriteAll opens key for writing, writes data in full, and closes the handle,
// surfacing any close-time error (the backend's durability point).
func WriteAll(ctx context.Context, s Store, key string, data []byte) error {
	h, err := s.Open(ctx, key, WriteOnly)
	if err != nil {
		return err
	}
	if _, err := h.Write(data); err != nil {
		h.Close()
		return err
	}
	return h.Close()
}
