package chatcache

import (
	"context"
	"testing"

	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/rpcclient"
)

type fakeEntity struct {
	kind rpcclient.EntityKind
	id   int64
}

func (e fakeEntity) Kind() rpcclient.EntityKind { return e.kind }
func (e fakeEntity) ID() int64                  { return e.id }

func newTestStore(t *testing.T) blobstore.Store {
	t.Helper()
	store, err := blobstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return store
}

func TestCache_GetMiss(t *testing.T) {
	c := New(newTestStore(t))
	if _, ok := c.Get("@durov"); ok {
		t.Fatal("Get on empty cache returned ok=true")
	}
}

func TestCache_SetThenGet_NormalizesKey(t *testing.T) {
	c := New(newTestStore(t))
	item := ItemFromEntity(fakeEntity{kind: rpcclient.EntityChannel, id: 42})
	c.Set("Durov", item)

	got, ok := c.Get("@durov")
	if !ok {
		t.Fatal("Get(\"@durov\") after Set(\"Durov\", ...) = ok=false, want true")
	}
	if got.EntityID != 42 || got.EntityKind != rpcclient.EntityChannel {
		t.Errorf("got %+v, want EntityID=42 EntityKind=EntityChannel", got)
	}

	if !c.Contains("DUROV") {
		t.Error("Contains(\"DUROV\") = false, want true (case-insensitive normalization)")
	}
}

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := New(store)
	c.Set("@durov", ItemFromEntity(fakeEntity{kind: rpcclient.EntityUser, id: 1}))
	members := 500
	c.Set("@telegram", &Item{EntityKind: rpcclient.EntityChannel, EntityID: 2, MembersCount: &members})

	if err := c.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := New(store)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	durov, ok := reloaded.Get("@durov")
	if !ok || durov.EntityID != 1 {
		t.Errorf("reloaded @durov = %+v, ok=%v; want EntityID=1, ok=true", durov, ok)
	}
	telegram, ok := reloaded.Get("@telegram")
	if !ok || telegram.MembersCount == nil || *telegram.MembersCount != 500 {
		t.Errorf("reloaded @telegram = %+v, ok=%v; want MembersCount=500, ok=true", telegram, ok)
	}
}

func TestCache_LoadMissingBlob_LeavesEmpty(t *testing.T) {
	c := New(newTestStore(t))
	c.Set("@stale", ItemFromEntity(fakeEntity{kind: rpcclient.EntityUser, id: 9}))

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load with no prior Save: %v", err)
	}
	if c.Contains("@stale") {
		t.Error("Load with no existing blob should reset the cache, but stale entry survived")
	}
}

func TestCache_Load_RenormalizesKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	// Simulate a blob written before a normalization-rule change: an
	// unnormalized key in the raw JSON.
	raw := `{"Durov":{"entity_kind":1,"entity_id":7}}`
	if err := blobstore.WriteAll(ctx, store, blobstore.ChatCacheKey, []byte(raw)); err != nil {
		t.Fatalf("seeding raw blob: %v", err)
	}

	c := New(store)
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Contains("@durov") {
		t.Error("Load should have renormalized \"Durov\" to \"@durov\"")
	}
}
