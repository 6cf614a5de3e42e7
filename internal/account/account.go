// Package account implements a single authenticated session to the
// messaging platform: load → connect → re-authenticate on demand → persist
// → release. It is the ~20% "hard engineering" component named in spec.md
// §2, grounded on the original tg/account/account.py.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/rpcclient"
)

// ErrNoSessionFile is returned by Start when no session blob exists for the
// account and revalidate is false.
var ErrNoSessionFile = errors.New("account: no session file")

// ErrSessionUnusable is returned by Start when the stored session is
// rejected by the server (or fails to deserialize) and revalidate is false.
// It wraps the underlying cause.
type ErrSessionUnusable struct {
	Phone string
	Cause error
}

func (e *ErrSessionUnusable) Error() string {
	return fmt.Sprintf("account: session unusable for %s: %v", e.Phone, e.Cause)
}

func (e *ErrSessionUnusable) Unwrap() error { return e.Cause }

// CodeFunc retrieves a login code, typically by blocking on human input.
type CodeFunc func(ctx context.Context) (string, error)

// PasswordFunc retrieves a 2FA password, typically by blocking on human input.
type PasswordFunc func(ctx context.Context) (string, error)

// Config carries the credentials and wiring an Account needs to authenticate
// a fresh session.
type Config struct {
	APIID   int
	APIHash string
}

// Account is one session to the messaging platform, identified by phone
// number. Its RPC client and credentials are touched by at most one owner at
// a time (the caller currently holding it checked out of the Pool), but
// started/flood-wait state is also read by the Pool's checkout path and
// written by its flood-wait timer goroutine concurrently with that owner, so
// those fields alone are guarded by mu (see spec.md §5).
type Account struct {
	Phone    string
	Filename string

	store   blobstore.Store
	factory rpcclient.Factory
	cfg     Config

	client rpcclient.Client

	mu               sync.RWMutex
	started          bool
	floodWaitFrom    *time.Time
	floodWaitTimeout time.Duration
}

// New creates an Account for phone, defaulting Filename to
// blobstore.SessionFilename(phone) per spec.md §3.
func New(store blobstore.Store, factory rpcclient.Factory, cfg Config, phone string) *Account {
	return &Account{
		Phone:    phone,
		Filename: blobstore.SessionFilename(phone),
		store:    store,
		factory:  factory,
		cfg:      cfg,
	}
}

func (a *Account) String() string {
	return fmt.Sprintf("<Account %s>", a.Phone)
}

// Started reports whether the account currently holds a live connection.
func (a *Account) Started() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

func (a *Account) setStarted(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = v
}

// Client returns the live RPC client. Only valid while Started().
func (a *Account) Client() rpcclient.Client { return a.client }

// SetFloodWait records (or clears, passing a nil from) the flood-wait window
// currently penalizing this account. The Pool calls this from its flood-wait
// timer goroutine while the account may be concurrently inspected by
// Available/FloodWait from a checkout path.
func (a *Account) SetFloodWait(from *time.Time, timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.floodWaitFrom = from
	a.floodWaitTimeout = timeout
}

// FloodWait returns the current flood-wait window, or (nil, 0) if the account
// is not parked.
func (a *Account) FloodWait() (*time.Time, time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.floodWaitFrom, a.floodWaitTimeout
}

// Start brings the account's session up, per spec.md §4.1:
//   - an existing session blob is loaded and connected; an unauthorized or
//     undeserializable session falls through to setup_new_session only when
//     revalidate is true, otherwise Start fails.
//   - a missing session blob requires revalidate to bootstrap a new one.
func (a *Account) Start(ctx context.Context, revalidate bool, codeFn CodeFunc, passwordFn PasswordFunc) error {
	slog.Debug("account start", "phone", a.Phone, "revalidate", revalidate)

	exists, err := a.store.Exists(ctx, a.Filename)
	if err != nil {
		return fmt.Errorf("account %s: checking session file: %w", a.Phone, err)
	}

	switch {
	case exists:
		if err := a.startFromExistingSession(ctx, revalidate, codeFn, passwordFn); err != nil {
			return err
		}
	case revalidate:
		slog.Debug("no session file; setting up new session", "phone", a.Phone)
		if err := a.setupNewSession(ctx, codeFn, passwordFn); err != nil {
			return err
		}
	default:
		return ErrNoSessionFile
	}

	a.setStarted(true)
	a.SetFloodWait(nil, 0)
	slog.Info("account started", "phone", a.Phone)
	return nil
}

func (a *Account) startFromExistingSession(ctx context.Context, revalidate bool, codeFn CodeFunc, passwordFn PasswordFunc) error {
	raw, err := blobstore.ReadAll(ctx, a.store, a.Filename)
	if err != nil {
		return fmt.Errorf("account %s: reading session file: %w", a.Phone, err)
	}
	sessionString := strings.TrimSpace(string(raw))

	client, err := a.factory.New(a.cfg.APIID, a.cfg.APIHash, a.Phone, sessionString)
	if err != nil {
		if errors.Is(err, rpcclient.ErrInvalidSession) {
			slog.Warn("stored session string invalid", "phone", a.Phone, "revalidate", revalidate)
			if !revalidate {
				return &ErrSessionUnusable{Phone: a.Phone, Cause: err}
			}
			return a.setupNewSession(ctx, codeFn, passwordFn)
		}
		return fmt.Errorf("account %s: constructing client: %w", a.Phone, err)
	}
	a.client = client

	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("account %s: connect: %w", a.Phone, err)
	}
	slog.Debug("client connected", "phone", a.Phone, "connected", a.client.IsConnected())

	authorized, err := a.client.IsUserAuthorized(ctx)
	if err != nil {
		if errors.Is(err, rpcclient.ErrAuthKeyUnregistered) || errors.Is(err, rpcclient.ErrUserDeactivated) {
			if revalidate {
				return a.setupNewSession(ctx, codeFn, passwordFn)
			}
			return &ErrSessionUnusable{Phone: a.Phone, Cause: err}
		}
		return fmt.Errorf("account %s: checking authorization: %w", a.Phone, err)
	}
	if !authorized {
		slog.Info("client not authorized", "phone", a.Phone)
		if !revalidate {
			return &ErrSessionUnusable{Phone: a.Phone, Cause: errors.New("saved session is not authorized")}
		}
		return a.setupNewSession(ctx, codeFn, passwordFn)
	}

	return nil
}

// setupNewSession connects with fresh credentials, drives the interactive
// login flow, and immediately persists the resulting session string to avoid
// a stale read on a subsequent Start (spec.md §4.1).
func (a *Account) setupNewSession(ctx context.Context, codeFn CodeFunc, passwordFn PasswordFunc) error {
	slog.Info("setting up new session", "phone", a.Phone)

	client, err := a.factory.New(a.cfg.APIID, a.cfg.APIHash, a.Phone, "")
	if err != nil {
		return fmt.Errorf("account %s: constructing client: %w", a.Phone, err)
	}
	a.client = client

	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("account %s: connect during setup: %w", a.Phone, err)
	}

	if err := a.client.SendCodeRequest(ctx, a.Phone); err != nil {
		return fmt.Errorf("account %s: send code request: %w", a.Phone, err)
	}

	code, err := codeFn(ctx)
	if err != nil {
		return fmt.Errorf("account %s: retrieving code: %w", a.Phone, err)
	}

	if err := a.client.SignIn(ctx, a.Phone, code); err != nil {
		if !errors.Is(err, rpcclient.ErrPasswordNeeded) {
			return fmt.Errorf("account %s: sign in: %w", a.Phone, err)
		}
		slog.Info("2FA required", "phone", a.Phone)
		password, err := passwordFn(ctx)
		if err != nil {
			return fmt.Errorf("account %s: retrieving password: %w", a.Phone, err)
		}
		if err := a.client.SignInPassword(ctx, password); err != nil {
			return fmt.Errorf("account %s: sign in with password: %w", a.Phone, err)
		}
	}

	a.setStarted(true)
	slog.Info("new session established", "phone", a.Phone)
	return a.SaveSessionString(ctx)
}

// Stop is a no-op if the account is not started; otherwise it persists the
// session string, disconnects, and clears started. Safe to call from any
// completion path.
func (a *Account) Stop(ctx context.Context) error {
	if !a.Started() {
		return nil
	}

	if err := a.SaveSessionString(ctx); err != nil {
		return fmt.Errorf("account %s: saving session on stop: %w", a.Phone, err)
	}

	if a.client.IsConnected() {
		slog.Debug("disconnecting client", "phone", a.Phone)
		if err := a.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("account %s: disconnect: %w", a.Phone, err)
		}
	}

	a.setStarted(false)
	slog.Info("account stopped", "phone", a.Phone)
	return nil
}

// SaveSessionString overwrites the blob at Filename with the client's
// current serialized auth state.
func (a *Account) SaveSessionString(ctx context.Context) error {
	sessionStr, err := a.client.SaveSession()
	if err != nil {
		return fmt.Errorf("account %s: serializing session: %w", a.Phone, err)
	}
	if err := blobstore.WriteAll(ctx, a.store, a.Filename, []byte(sessionStr)); err != nil {
		return fmt.Errorf("account %s: writing session file: %w", a.Phone, err)
	}
	slog.Debug("session string saved", "phone", a.Phone, "length", len(sessionStr))
	return nil
}

// Session is a scoped acquisition combining Start/Stop with guaranteed
// release on every exit path, mirroring the original's
// @contextlib.asynccontextmanager session().
func (a *Account) Session(ctx context.Context, revalidate bool, codeFn CodeFunc, passwordFn PasswordFunc, fn func(ctx context.Context) error) error {
	if err := a.Start(ctx, revalidate, codeFn, passwordFn); err != nil {
		return err
	}
	defer func() {
		if err := a.Stop(ctx); err != nil {
			slog.Error("error stopping account after session", "phone", a.Phone, "error", err)
		}
	}()
	return fn(ctx)
}

// Available reports whether the account is started and not currently parked
// under a flood-wait penalty, per the invariant in spec.md §3.
func (a *Account) Available(now time.Time) bool {
	if !a.Started() {
		return false
	}
	from, timeout := a.FloodWait()
	if from == nil {
		return true
	}
	remaining := timeout - now.Sub(*from)
	return remaining <= 0
}
