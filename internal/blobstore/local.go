package blobstore

import (
	"context"
	"os"
	"path/filepath"
)

// Local is a filesystem-backed Store rooted at a base directory. It is the
// default backend: simple, with no external dependency; Glob("*.session") is
// a plain directory match.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, creating it if necessary.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Local{root: dir}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, key)
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Local) Open(_ context.Context, key string, mode OpenMode) (Handle, error) {
	if mode == WriteOnly {
		f, err := os.OpenFile(l.path(key), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	f, err := os.Open(l.path(key))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *Local) Touch(_ context.Context, key string) error {
	f, err := os.OpenFile(l.path(key), os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func (l *Local) Remove(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *Local) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(l.path(pattern))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(matches))
	for i, m := range matches {
		rel, err := filepath.Rel(l.root, m)
		if err != nil {
			return nil, err
		}
		keys[i] = rel
	}
	return keys, nil
}
