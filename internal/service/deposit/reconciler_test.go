package deposit

import (
	"context"
	"sync"
	"testing"
	"time"

	"goblin-core/internal/event"
	"goblin-core/internal/model"
	"goblin-core/internal/store"
	"goblin-core/pkg/lock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore(time.Second)
	r := NewReconciler(st, lock.NewLocalLock(), 10*time.Second, time.Second)
	r.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r, st
}

func seedPlayer(t *testing.T, st *store.MemStore, userID, memoCode string) {
	t.Helper()
	err := st.Atomic(context.Background(), []string{userID}, func(tx store.Tx) error {
		return tx.CreatePlayer(&model.Player{
			UserID:        userID,
			Memo:          memoCode,
			LastAccrualAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		})
	})
	require.NoError(t, err)
}

func observed(txID, memoCode, amount string) event.DepositObservedEvent {
	return event.DepositObservedEvent{
		ExternalTxID: txID,
		Memo:         memoCode,
		Amount:       amount,
		ObservedAt:   time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC),
	}
}

func TestReconcileCredits(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "123456")

	require.NoError(t, r.Reconcile(ctx, observed("tx-1", "123456", "2.5")))

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("2.5")), "ton=%s", p.TonBalance)

	// outbox 里有入账完成事件
	msgs, err := st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, event.TopicDepositCredited, msgs[0].Topic)
}

// at-least-once 重复投递只入账一次。
func TestReconcileReplayCreditsOnce(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "123456")

	ev := observed("tx-1", "123456", "2.5")
	require.NoError(t, r.Reconcile(ctx, ev))
	require.NoError(t, r.Reconcile(ctx, ev))
	require.NoError(t, r.Reconcile(ctx, ev))

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("2.5")), "ton=%s", p.TonBalance)
}

// 并发投递同一笔 tx: 恰好入账一次。
func TestReconcileConcurrentReplay(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "123456")

	ev := observed("tx-1", "123456", "2.5")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Busy 意味着对面正在处理, MQ 会重投, 这里等价于不处理
			_ = r.Reconcile(ctx, ev)
		}()
	}
	wg.Wait()

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("2.5")), "ton=%s", p.TonBalance)
}

func TestReconcileUnmatched(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, observed("tx-1", "999999", "1")))

	records, err := st.UnmatchedDeposits(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "tx-1", records[0].ExternalTxID)
	assert.False(t, records[0].Credited)
	assert.Nil(t, records[0].PlayerID)
}

func TestReconcileBadMemoGoesUnmatched(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "123456")

	require.NoError(t, r.Reconcile(ctx, observed("tx-1", "abc", "1")))

	n, err := st.CountUnmatchedDeposits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcileBadAmountDropped(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, observed("tx-1", "123456", "not-a-number")))
	require.NoError(t, r.Reconcile(ctx, observed("tx-2", "123456", "-5")))

	n, err := st.CountUnmatchedDeposits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// 先充值后注册: Retry 补入账。
func TestRetryMatchesLateRegistration(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, r.Reconcile(ctx, observed("tx-1", "123456", "3")))
	n, _ := st.CountUnmatchedDeposits(ctx)
	require.Equal(t, int64(1), n)

	// 玩家随后注册, memo 出现
	seedPlayer(t, st, "u1", "123456")

	require.NoError(t, r.Retry(ctx, 100))

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("3")), "ton=%s", p.TonBalance)

	n, err = st.CountUnmatchedDeposits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// Retry 后重投原事件也不会再入账。
func TestRetryThenReplayStillOnce(t *testing.T) {
	r, st := newTestReconciler(t)
	ctx := context.Background()

	ev := observed("tx-1", "123456", "3")
	require.NoError(t, r.Reconcile(ctx, ev))
	seedPlayer(t, st, "u1", "123456")
	require.NoError(t, r.Retry(ctx, 100))
	require.NoError(t, r.Reconcile(ctx, ev))

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("3")), "ton=%s", p.TonBalance)
}
