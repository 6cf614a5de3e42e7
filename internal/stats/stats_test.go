package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leshchenko/tgpool/internal/account"
	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/chatcache"
	"github.com/leshchenko/tgpool/internal/pool"
	"github.com/leshchenko/tgpool/internal/rpcclient"
	"github.com/leshchenko/tgpool/internal/scanner"
	"github.com/leshchenko/tgpool/internal/workers"
)

func TestCalcMsgPopularity(t *testing.T) {
	cases := []struct {
		name string
		msg  Msg
		want float64
	}{
		{"zero reach avoids division by zero", Msg{Likes: 5, Replies: 2, Forwards: 1, Reach: 0}, 0},
		{"normal case", Msg{Likes: 10, Replies: 5, Forwards: 5, Reach: 100}, 0.2},
		{"all zero engagement", Msg{Reach: 50}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalcMsgPopularity(tc.msg); got != tc.want {
				t.Errorf("CalcMsgPopularity(%+v) = %v, want %v", tc.msg, got, tc.want)
			}
		})
	}
}

func TestApplyMeanReach(t *testing.T) {
	channels := []Channel{
		{Username: "@a"},
		{Username: "@b"},
		{Username: "@c"}, // no messages collected
	}
	msgs := []Msg{
		{Username: "@a", Reach: 100},
		{Username: "@a", Reach: 200},
		{Username: "@b", Reach: 50},
	}

	applyMeanReach(channels, msgs)

	want := map[string]int{"@a": 150, "@b": 50, "@c": 0}
	for _, ch := range channels {
		if ch.Reach != want[ch.Username] {
			t.Errorf("channel %s Reach = %d, want %d", ch.Username, ch.Reach, want[ch.Username])
		}
	}
}

func TestCollector_MinDate_DepthTakesPrecedenceWhenSet(t *testing.T) {
	c := &Collector{Depth: 0}
	if !c.minDate().IsZero() {
		t.Errorf("minDate() with Depth=0 and MinDate unset should be zero, got %v", c.minDate())
	}

	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c = &Collector{MinDate: fixed, Depth: time.Hour}
	if got := c.minDate(); !got.After(fixed) {
		t.Errorf("minDate() with Depth=1h and MinDate=%v = %v, want now-1h (Depth wins)", fixed, got)
	}
}

// --- deadlock regression: parallel channel scans must not starve the
// bounded pool the per-message fan-out depends on. ---

type fakeEntity struct{ id int64 }

func (e fakeEntity) Kind() rpcclient.EntityKind { return rpcclient.EntityChannel }
func (e fakeEntity) ID() int64                  { return e.id }

type sliceIterator struct {
	msgs []rpcclient.Message
	i    int
}

func (it *sliceIterator) Next(ctx context.Context) (rpcclient.Message, bool, error) {
	if it.i >= len(it.msgs) {
		return rpcclient.Message{}, false, nil
	}
	m := it.msgs[it.i]
	it.i++
	return m, true, nil
}
func (it *sliceIterator) Close() error { return nil }

// fakeClient resolves any chat to a distinct entity by name and serves a
// fixed-size message history; discussion-reply lookups always come back
// empty, which is all CollectMsgStats needs to exercise its fan-out.
type fakeClient struct{ msgsPerChannel int }

func (c *fakeClient) Connect(ctx context.Context) error                       { return nil }
func (c *fakeClient) Disconnect(ctx context.Context) error                    { return nil }
func (c *fakeClient) IsConnected() bool                                       { return true }
func (c *fakeClient) IsUserAuthorized(ctx context.Context) (bool, error)      { return true, nil }
func (c *fakeClient) SendCodeRequest(ctx context.Context, phone string) error { return nil }
func (c *fakeClient) SignIn(ctx context.Context, phone, code string) error    { return nil }
func (c *fakeClient) SignInPassword(ctx context.Context, password string) error {
	return nil
}
func (c *fakeClient) SaveSession() (string, error) { return "session", nil }
func (c *fakeClient) GetEntity(ctx context.Context, chatID string) (rpcclient.Entity, error) {
	return fakeEntity{id: int64(len(chatID))}, nil
}
func (c *fakeClient) IterMessages(ctx context.Context, entity rpcclient.Entity, opts rpcclient.IterMessagesOptions) (rpcclient.MessageIterator, error) {
	if opts.ReplyTo != 0 {
		return &sliceIterator{}, nil
	}
	msgs := make([]rpcclient.Message, c.msgsPerChannel)
	for i := range msgs {
		msgs[i] = rpcclient.Message{ID: i + 1, Date: time.Now(), Views: 10}
	}
	return &sliceIterator{msgs: msgs}, nil
}
func (c *fakeClient) GetFullChannel(ctx context.Context, entity rpcclient.Entity) (rpcclient.FullChat, error) {
	return rpcclient.FullChat{ParticipantsCount: 1}, nil
}
func (c *fakeClient) GetFullChat(ctx context.Context, entity rpcclient.Entity) (rpcclient.FullChat, error) {
	return rpcclient.FullChat{ParticipantsCount: 1}, nil
}

type fakeFactory struct{ client *fakeClient }

func (f *fakeFactory) New(apiID int, apiHash, phone, sessionString string) (rpcclient.Client, error) {
	return f.client, nil
}

func TestCollectAllStats_Parallel_DoesNotStarveMessageFanOut(t *testing.T) {
	store, err := blobstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	phone := "+1"
	if err := blobstore.WriteAll(context.Background(), store, blobstore.SessionFilename(phone), []byte("seed")); err != nil {
		t.Fatalf("seeding session file: %v", err)
	}
	client := &fakeClient{msgsPerChannel: 3}
	accounts := map[string]*account.Account{
		phone: account.New(store, &fakeFactory{client: client}, account.Config{}, phone),
	}
	// Enough accounts aren't needed: GetChat/WithAccount checkout is
	// serialized per call, not held for the duration of a channel scan, so a
	// single account lets every channel's history/member-count calls
	// interleave fine. What matters is the *worker pool* having fewer slots
	// than the number of parallel channels.
	p, err := pool.New(accounts, store, pool.PolicyIgnore, pool.Options{MaxWait: 5 * time.Second})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	sc := scanner.New(p, chatcache.New(store))

	// Two workers, five channels: if the channel-level fan-out still
	// submitted to this same bounded pool, all workers would be occupied
	// running channel-level scans blocked on message-level tasks that can
	// never get a worker, and CollectAllStats would hang forever.
	workerPool := workers.New(workers.Config{MinWorkers: 1, MaxWorkers: 2})
	defer workerPool.Shutdown()
	collector := New(sc, workerPool)

	channels := make([]string, 5)
	for i := range channels {
		channels[i] = fmt.Sprintf("@channel%d", i)
	}

	done := make(chan error, 1)
	go func() {
		err := sc.Session(context.Background(), nil, func(ctx context.Context) error {
			_, err := collector.CollectAllStats(ctx, channels, true, nil)
			return err
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("CollectAllStats: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("CollectAllStats(parallel=true) hung: channel-level fan-out is starving the message-level worker pool")
	}
}
