package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/keygate/internal/credential"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/store/sqlite"
)

var base = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared with the service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), store.ConnectionConfig{Driver: "sqlite"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestService returns a service over an in-memory store with a fixed
// clock, cheap bcrypt and synchronous usage accounting.
func newTestService(t *testing.T, st store.Store) (*KeyService, *testClock) {
	t.Helper()
	if st == nil {
		st = newTestStore(t)
	}
	clock := &testClock{now: base}
	svc := NewKeyService(st, Options{
		Dispatcher: SyncDispatcher{},
		Now:        clock.Now,
		Policy:     credential.Policy{Cost: bcrypt.MinCost},
	})
	return svc, clock
}

// faultyStore overrides selected Store methods.
type faultyStore struct {
	store.Store

	findByKey   func(ctx context.Context, key string) (*model.KeyRecord, error)
	findByOwner func(ctx context.Context, name, email string) (*model.KeyRecord, error)
	insert      func(ctx context.Context, rec *model.KeyRecord) error
	update      func(ctx context.Context, key string, f store.Fields) error
	listAll     func(ctx context.Context) ([]model.KeyRecord, error)
}

func (f *faultyStore) FindByKey(ctx context.Context, key string) (*model.KeyRecord, error) {
	if f.findByKey != nil {
		return f.findByKey(ctx, key)
	}
	return f.Store.FindByKey(ctx, key)
}

func (f *faultyStore) FindByOwner(ctx context.Context, name, email string) (*model.KeyRecord, error) {
	if f.findByOwner != nil {
		return f.findByOwner(ctx, name, email)
	}
	return f.Store.FindByOwner(ctx, name, email)
}

func (f *faultyStore) Insert(ctx context.Context, rec *model.KeyRecord) error {
	if f.insert != nil {
		return f.insert(ctx, rec)
	}
	return f.Store.Insert(ctx, rec)
}

func (f *faultyStore) UpdateFields(ctx context.Context, key string, fields store.Fields) error {
	if f.update != nil {
		return f.update(ctx, key, fields)
	}
	return f.Store.UpdateFields(ctx, key, fields)
}

func (f *faultyStore) ListAll(ctx context.Context) ([]model.KeyRecord, error) {
	if f.listAll != nil {
		return f.listAll(ctx)
	}
	return f.Store.ListAll(ctx)
}

func validRequest() IssueRequest {
	return IssueRequest{
		OwnerName:  "alice",
		OwnerEmail: "alice@example.com",
		Password:   "Str0ng#Pass",
	}
}
