package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/rpcclient"
)

// fakeClient is a minimal in-memory rpcclient.Client double, grounded on the
// pack's own emulator-struct test pattern (EternisAI's promQueryAPIEmulator).
type fakeClient struct {
	connected  bool
	authorized bool
	saveErr    error
	sessionStr string
}

func (c *fakeClient) Connect(ctx context.Context) error    { c.connected = true; return nil }
func (c *fakeClient) Disconnect(ctx context.Context) error { c.connected = false; return nil }
func (c *fakeClient) IsConnected() bool                    { return c.connected }
func (c *fakeClient) IsUserAuthorized(ctx context.Context) (bool, error) {
	return c.authorized, nil
}
func (c *fakeClient) SendCodeRequest(ctx context.Context, phone string) error { return nil }
func (c *fakeClient) SignIn(ctx context.Context, phone, code string) error {
	c.authorized = true
	return nil
}
func (c *fakeClient) SignInPassword(ctx context.Context, password string) error {
	c.authorized = true
	return nil
}
func (c *fakeClient) SaveSession() (string, error) {
	if c.saveErr != nil {
		return "", c.saveErr
	}
	return c.sessionStr, nil
}
func (c *fakeClient) GetEntity(ctx context.Context, chatID string) (rpcclient.Entity, error) {
	return nil, errors.New("not implemented")
}
func (c *fakeClient) IterMessages(ctx context.Context, entity rpcclient.Entity, opts rpcclient.IterMessagesOptions) (rpcclient.MessageIterator, error) {
	return nil, errors.New("not implemented")
}
func (c *fakeClient) GetFullChannel(ctx context.Context, entity rpcclient.Entity) (rpcclient.FullChat, error) {
	return rpcclient.FullChat{}, errors.New("not implemented")
}
func (c *fakeClient) GetFullChat(ctx context.Context, entity rpcclient.Entity) (rpcclient.FullChat, error) {
	return rpcclient.FullChat{}, errors.New("not implemented")
}

// fakeFactory hands out a preconfigured fakeClient, or fails New entirely
// when newErr is set.
type fakeFactory struct {
	client         *fakeClient
	newErr         error
	invalidSession bool
}

func (f *fakeFactory) New(apiID int, apiHash, phone, sessionString string) (rpcclient.Client, error) {
	if f.invalidSession && sessionString != "" {
		return nil, rpcclient.ErrInvalidSession
	}
	if f.newErr != nil {
		return nil, f.newErr
	}
	return f.client, nil
}

func newTestStore(t *testing.T) blobstore.Store {
	t.Helper()
	store, err := blobstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return store
}

func neverCalledCode(ctx context.Context) (string, error) {
	return "", errors.New("unexpected code prompt")
}

func neverCalledPassword(ctx context.Context) (string, error) {
	return "", errors.New("unexpected password prompt")
}

func TestAccount_Start_NoSessionFile_NoRevalidate(t *testing.T) {
	store := newTestStore(t)
	a := New(store, &fakeFactory{}, Config{}, "+1000000000")

	err := a.Start(context.Background(), false, neverCalledCode, neverCalledPassword)
	if !errors.Is(err, ErrNoSessionFile) {
		t.Fatalf("Start with no session file, revalidate=false: got %v, want ErrNoSessionFile", err)
	}
	if a.Started() {
		t.Error("Started() = true after a failed Start")
	}
}

func TestAccount_Start_ExistingAuthorizedSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := blobstore.WriteAll(ctx, store, blobstore.SessionFilename("+1000000000"), []byte("existing-session")); err != nil {
		t.Fatalf("seeding session file: %v", err)
	}

	client := &fakeClient{authorized: true}
	a := New(store, &fakeFactory{client: client}, Config{}, "+1000000000")

	if err := a.Start(ctx, false, neverCalledCode, neverCalledPassword); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Started() {
		t.Error("Started() = false after a successful Start")
	}
	if !client.connected {
		t.Error("client was never connected")
	}
	if from, timeout := a.FloodWait(); from != nil || timeout != 0 {
		t.Errorf("FloodWait() = %v, %v; want cleared after Start", from, timeout)
	}
}

func TestAccount_Start_UnauthorizedSession_NoRevalidate_Fails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := blobstore.WriteAll(ctx, store, blobstore.SessionFilename("+1"), []byte("stale-session")); err != nil {
		t.Fatalf("seeding session file: %v", err)
	}

	client := &fakeClient{authorized: false}
	a := New(store, &fakeFactory{client: client}, Config{}, "+1")

	err := a.Start(ctx, false, neverCalledCode, neverCalledPassword)
	var unusable *ErrSessionUnusable
	if !errors.As(err, &unusable) {
		t.Fatalf("Start with unauthorized session, revalidate=false: got %v, want *ErrSessionUnusable", err)
	}
}

func TestAccount_Start_InvalidSessionString_Revalidate_FallsThroughToSetup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := blobstore.WriteAll(ctx, store, blobstore.SessionFilename("+1"), []byte("corrupt")); err != nil {
		t.Fatalf("seeding session file: %v", err)
	}

	fresh := &fakeClient{}
	factory := &fakeFactory{client: fresh, invalidSession: true}
	a := New(store, factory, Config{}, "+1")

	codeFn := func(ctx context.Context) (string, error) { return "12345", nil }
	if err := a.Start(ctx, true, codeFn, neverCalledPassword); err != nil {
		t.Fatalf("Start with revalidate=true over an invalid session: %v", err)
	}
	if !a.Started() {
		t.Error("Started() = false after a successful revalidated Start")
	}
	if !fresh.authorized {
		t.Error("fresh client was never signed in")
	}
}

func TestAccount_StopIsNoopWhenNotStarted(t *testing.T) {
	a := New(newTestStore(t), &fakeFactory{}, Config{}, "+1")
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on a never-started account: %v", err)
	}
}

func TestAccount_Stop_PersistsSessionAndDisconnects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := blobstore.WriteAll(ctx, store, blobstore.SessionFilename("+1"), []byte("seed")); err != nil {
		t.Fatalf("seeding session file: %v", err)
	}

	client := &fakeClient{authorized: true, sessionStr: "updated-session"}
	a := New(store, &fakeFactory{client: client}, Config{}, "+1")
	if err := a.Start(ctx, false, neverCalledCode, neverCalledPassword); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if client.connected {
		t.Error("client still connected after Stop")
	}
	if a.Started() {
		t.Error("Started() = true after Stop")
	}

	raw, err := blobstore.ReadAll(ctx, store, blobstore.SessionFilename("+1"))
	if err != nil {
		t.Fatalf("reading persisted session: %v", err)
	}
	if string(raw) != "updated-session" {
		t.Errorf("persisted session = %q, want %q", raw, "updated-session")
	}
}

func TestAccount_Session_ReleasesOnErrorPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := blobstore.WriteAll(ctx, store, blobstore.SessionFilename("+1"), []byte("seed")); err != nil {
		t.Fatalf("seeding session file: %v", err)
	}
	client := &fakeClient{authorized: true}
	a := New(store, &fakeFactory{client: client}, Config{}, "+1")

	sentinel := errors.New("boom")
	err := a.Session(ctx, false, neverCalledCode, neverCalledPassword, func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Session returned %v, want sentinel error", err)
	}
	if a.Started() {
		t.Error("Started() = true after Session returned, want released")
	}
}

func TestAccount_Available(t *testing.T) {
	a := New(newTestStore(t), &fakeFactory{}, Config{}, "+1")
	now := time.Now()

	if a.Available(now) {
		t.Error("Available() = true before Start")
	}

	a.setStarted(true)
	if !a.Available(now) {
		t.Error("Available() = false for a started, unparked account")
	}

	a.SetFloodWait(&now, 10*time.Minute)
	if a.Available(now.Add(time.Minute)) {
		t.Error("Available() = true mid flood-wait window")
	}
	if !a.Available(now.Add(11 * time.Minute)) {
		t.Error("Available() = false after the flood-wait window elapsed")
	}
}
