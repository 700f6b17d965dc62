package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingStore struct{}

func (failingStore) Acquire(context.Context, string, int, int) (Usage, error) {
	return Usage{}, ErrStoreUnavailable
}

func (failingStore) Lookup(context.Context, string, int) (Usage, error) {
	return Usage{}, ErrStoreUnavailable
}

type fakeAccount struct {
	snap       *AccountSnapshot
	checkErr   error
	increments []int
	incErr     error
	checkCalls int
}

func (f *fakeAccount) Check(context.Context, string) (*AccountSnapshot, error) {
	f.checkCalls++
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.snap, nil
}

func (f *fakeAccount) Increment(_ context.Context, _ string, cost int) error {
	f.increments = append(f.increments, cost)
	return f.incErr
}

func newTestEngine(store Store, account AccountService, cfg EngineConfig) *Engine {
	return NewEngine(store, account, cfg, zap.NewNop(), nil)
}

func TestEngine_Decide_Anonymous(t *testing.T) {
	ctx := context.Background()
	cfg := EngineConfig{AnonymousLimit: 2, FreeLimit: 10}

	t.Run("admits while under the IP limit", func(t *testing.T) {
		e := newTestEngine(NewMemoryStore(), &fakeAccount{}, cfg)

		d := e.Decide(ctx, Anonymous("1.2.3.4"), 1)
		assert.True(t, d.Admitted)
		assert.Equal(t, LimitIPBased, d.LimitKind)
		assert.Equal(t, 1, d.Remaining)
		assert.False(t, d.ResetAt.IsZero())
	})

	t.Run("denies with requires_auth when exhausted", func(t *testing.T) {
		e := newTestEngine(NewMemoryStore(), &fakeAccount{}, cfg)

		id := Anonymous("1.2.3.4")
		require.True(t, e.Decide(ctx, id, 2).Admitted)

		d := e.Decide(ctx, id, 1)
		assert.False(t, d.Admitted)
		assert.Equal(t, ReasonRequiresAuth, d.Reason)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, 1, d.Requested)
	})

	t.Run("denies a batch that does not fit whole", func(t *testing.T) {
		e := newTestEngine(NewMemoryStore(), &fakeAccount{}, cfg)

		id := Anonymous("1.2.3.4")
		require.True(t, e.Decide(ctx, id, 1).Admitted)

		d := e.Decide(ctx, id, 2)
		assert.False(t, d.Admitted)
		assert.Equal(t, 1, d.Remaining)
		assert.Equal(t, 2, d.Requested)
	})

	t.Run("fails open on store outage by default", func(t *testing.T) {
		e := newTestEngine(failingStore{}, &fakeAccount{}, cfg)

		d := e.Decide(ctx, Anonymous("1.2.3.4"), 1)
		assert.True(t, d.Admitted)
		assert.True(t, d.FailedOpen)
	})

	t.Run("fails closed when configured", func(t *testing.T) {
		closed := cfg
		closed.FailClosed = true
		e := newTestEngine(failingStore{}, &fakeAccount{}, closed)

		d := e.Decide(ctx, Anonymous("1.2.3.4"), 1)
		assert.False(t, d.Admitted)
		assert.Equal(t, ReasonRequiresAuth, d.Reason)
	})
}

func TestEngine_Decide_Premium(t *testing.T) {
	ctx := context.Background()
	account := &fakeAccount{}
	e := newTestEngine(NewMemoryStore(), account, EngineConfig{AnonymousLimit: 2, FreeLimit: 10})

	d := e.Decide(ctx, Authenticated("user@example.com", TierPremium), 10)
	assert.True(t, d.Admitted)
	assert.True(t, d.Unlimited)
	assert.Equal(t, LimitNone, d.LimitKind)

	// Premium never touches the account counter.
	assert.Zero(t, account.checkCalls)
	assert.Empty(t, account.increments)
}

func TestEngine_Decide_FreeAccount(t *testing.T) {
	ctx := context.Background()
	cfg := EngineConfig{AnonymousLimit: 2, FreeLimit: 10}
	id := Authenticated("user@example.com", TierFree)

	t.Run("admits and increments the remote counter", func(t *testing.T) {
		account := &fakeAccount{snap: &AccountSnapshot{Used: 3, Limit: 10, Tier: TierFree}}
		e := newTestEngine(NewMemoryStore(), account, cfg)

		d := e.Decide(ctx, id, 2)
		assert.True(t, d.Admitted)
		assert.Equal(t, LimitUserBased, d.LimitKind)
		assert.Equal(t, 5, d.Remaining)
		assert.Equal(t, 5, d.Used)
		assert.Equal(t, []int{2}, account.increments)
	})

	t.Run("denies with requires_payment when the batch exceeds remaining", func(t *testing.T) {
		account := &fakeAccount{snap: &AccountSnapshot{Used: 9, Limit: 10, Tier: TierFree}}
		e := newTestEngine(NewMemoryStore(), account, cfg)

		d := e.Decide(ctx, id, 3)
		assert.False(t, d.Admitted)
		assert.Equal(t, ReasonRequiresPayment, d.Reason)
		assert.Equal(t, 1, d.Remaining)
		assert.Equal(t, 3, d.Requested)
		assert.Empty(t, account.increments)
	})

	t.Run("treats an unknown account as fresh", func(t *testing.T) {
		account := &fakeAccount{checkErr: ErrAccountNotFound}
		e := newTestEngine(NewMemoryStore(), account, cfg)

		d := e.Decide(ctx, id, 1)
		assert.True(t, d.Admitted)
		assert.Equal(t, 9, d.Remaining)
		assert.Equal(t, 10, d.Limit)
	})

	t.Run("fails open on account service outage", func(t *testing.T) {
		account := &fakeAccount{checkErr: ErrAccountUnavailable}
		e := newTestEngine(NewMemoryStore(), account, cfg)

		d := e.Decide(ctx, id, 1)
		assert.True(t, d.Admitted)
		assert.True(t, d.FailedOpen)
		assert.Empty(t, account.increments)
	})

	t.Run("honors a premium tier reported by the account service", func(t *testing.T) {
		account := &fakeAccount{snap: &AccountSnapshot{Used: 42, Limit: 10, Tier: TierPremium}}
		e := newTestEngine(NewMemoryStore(), account, cfg)

		// Token says free, the account service knows better.
		d := e.Decide(ctx, id, 5)
		assert.True(t, d.Admitted)
		assert.True(t, d.Unlimited)
		assert.Empty(t, account.increments)
	})

	t.Run("admits even when the increment fails", func(t *testing.T) {
		account := &fakeAccount{
			snap:   &AccountSnapshot{Used: 0, Limit: 10, Tier: TierFree},
			incErr: errors.New("boom"),
		}
		e := newTestEngine(NewMemoryStore(), account, cfg)

		d := e.Decide(ctx, id, 1)
		assert.True(t, d.Admitted)
	})
}

func TestEngine_Status(t *testing.T) {
	ctx := context.Background()
	cfg := EngineConfig{AnonymousLimit: 2, FreeLimit: 10}

	t.Run("anonymous status never consumes quota", func(t *testing.T) {
		store := NewMemoryStore()
		e := newTestEngine(store, &fakeAccount{}, cfg)
		id := Anonymous("1.2.3.4")

		require.True(t, e.Decide(ctx, id, 1).Admitted)

		first := e.Status(ctx, id)
		second := e.Status(ctx, id)
		assert.Equal(t, first.Used, second.Used)
		assert.Equal(t, 1, second.Used)
		assert.Equal(t, 1, second.Remaining)
	})

	t.Run("free account status never increments", func(t *testing.T) {
		account := &fakeAccount{snap: &AccountSnapshot{Used: 4, Limit: 10, Tier: TierFree}}
		e := newTestEngine(NewMemoryStore(), account, cfg)

		d := e.Status(ctx, Authenticated("user@example.com", TierFree))
		assert.True(t, d.Admitted)
		assert.Equal(t, 6, d.Remaining)
		assert.Empty(t, account.increments)
	})

	t.Run("premium status is unlimited", func(t *testing.T) {
		e := newTestEngine(NewMemoryStore(), &fakeAccount{}, cfg)

		d := e.Status(ctx, Authenticated("user@example.com", TierPremium))
		assert.True(t, d.Admitted)
		assert.True(t, d.Unlimited)
	})
}
