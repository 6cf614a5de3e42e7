package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leshchenko/tgpool/internal/account"
	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/pool"
	"github.com/leshchenko/tgpool/internal/rpcclient"
)

// NewRegistry registers its collectors against the default Prometheus
// registry, which panics on a second registration of the same metric name —
// so every assertion below shares a single Registry built once.
func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("observe helpers don't panic", func(t *testing.T) {
		r.ObserveCheckoutWait(0.25)
		r.IncCheckoutFailure()
		r.IncFloodWait()
	})

	t.Run("SamplePool samples a live pool", func(t *testing.T) {
		store, err := blobstore.NewLocal(t.TempDir())
		if err != nil {
			t.Fatalf("NewLocal: %v", err)
		}
		phone := "+1"
		if err := blobstore.WriteAll(context.Background(), store, blobstore.SessionFilename(phone), []byte("seed")); err != nil {
			t.Fatalf("seeding session file: %v", err)
		}
		accounts := map[string]*account.Account{
			phone: account.New(store, noopFactory{}, account.Config{}, phone),
		}
		p, err := pool.New(accounts, store, pool.PolicyIgnore, pool.Options{MaxWait: time.Second})
		if err != nil {
			t.Fatalf("pool.New: %v", err)
		}

		err = p.Session(context.Background(), nil, func(ctx context.Context) error {
			r.SamplePool(p)
			return nil
		})
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
	})

	t.Run("Registry satisfies pool.Observer and wires via SetObserver", func(t *testing.T) {
		store, err := blobstore.NewLocal(t.TempDir())
		if err != nil {
			t.Fatalf("NewLocal: %v", err)
		}
		phone := "+1"
		if err := blobstore.WriteAll(context.Background(), store, blobstore.SessionFilename(phone), []byte("seed")); err != nil {
			t.Fatalf("seeding session file: %v", err)
		}
		accounts := map[string]*account.Account{
			phone: account.New(store, noopFactory{}, account.Config{}, phone),
		}
		p, err := pool.New(accounts, store, pool.PolicyIgnore, pool.Options{MaxWait: time.Second})
		if err != nil {
			t.Fatalf("pool.New: %v", err)
		}
		p.SetObserver(r)

		err = p.Session(context.Background(), nil, func(ctx context.Context) error {
			return p.WithAccount(ctx, func(ctx context.Context, acc *account.Account) error {
				return nil
			})
		})
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
	})

	t.Run("Handler serves the Prometheus exposition format", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/metrics", nil)
		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("Handler status = %d, want 200", rec.Code)
		}
		if rec.Body.Len() == 0 {
			t.Fatal("Handler wrote an empty body")
		}
	})
}

type noopClient struct{}

func (noopClient) Connect(ctx context.Context) error                        { return nil }
func (noopClient) Disconnect(ctx context.Context) error                     { return nil }
func (noopClient) IsConnected() bool                                        { return true }
func (noopClient) IsUserAuthorized(ctx context.Context) (bool, error)       { return true, nil }
func (noopClient) SendCodeRequest(ctx context.Context, phone string) error  { return nil }
func (noopClient) SignIn(ctx context.Context, phone, code string) error    { return nil }
func (noopClient) SignInPassword(ctx context.Context, password string) error {
	return nil
}
func (noopClient) SaveSession() (string, error) { return "session", nil }
func (noopClient) GetEntity(ctx context.Context, chatID string) (rpcclient.Entity, error) {
	return nil, nil
}
func (noopClient) IterMessages(ctx context.Context, entity rpcclient.Entity, opts rpcclient.IterMessagesOptions) (rpcclient.MessageIterator, error) {
	return nil, nil
}
func (noopClient) GetFullChannel(ctx context.Context, entity rpcclient.Entity) (rpcclient.FullChat, error) {
	return rpcclient.FullChat{}, nil
}
func (noopClient) GetFullChat(ctx context.Context, entity rpcclient.Entity) (rpcclient.FullChat, error) {
	return rpcclient.FullChat{}, nil
}

type noopFactory struct{}

func (noopFactory) New(apiID int, apiHash, phone, sessionString string) (rpcclient.Client, error) {
	return noopClient{}, nil
}
