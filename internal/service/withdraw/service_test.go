package withdraw

import (
	"context"
	"testing"
	"time"

	"goblin-core/internal/event"
	"goblin-core/internal/model"
	"goblin-core/internal/store"
	"goblin-core/pkg/config"
	"goblin-core/pkg/errno"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore(time.Second)
	svc := New(st, config.GameConfig{
		RatePerHour:      "0.014",
		StartingGoblins:  3000,
		ExchangeMinGold:  "100",
		ExchangeRate:     "0.95",
		MinWithdrawalTON: "1",
	})
	svc.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, st
}

func seedPlayer(t *testing.T, st *store.MemStore, userID, ton string) {
	t.Helper()
	err := st.Atomic(context.Background(), []string{userID}, func(tx store.Tx) error {
		return tx.CreatePlayer(&model.Player{
			UserID:        userID,
			Memo:          "123456",
			TonBalance:    decimal.RequireFromString(ton),
			LastAccrualAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		})
	})
	require.NoError(t, err)
}

func TestRequestDebitsImmediately(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "5")

	w, err := svc.Request(ctx, "u1", "UQAddr", decimal.RequireFromString("2"))
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPending, w.Status)

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("3")), "ton=%s", p.TonBalance)

	// outbox 通知转账层
	msgs, err := st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, event.TopicWithdrawRequested, msgs[0].Topic)
}

func TestRequestBelowMinimum(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "5")

	_, err := svc.Request(ctx, "u1", "UQAddr", decimal.RequireFromString("0.5"))
	assert.True(t, errno.ErrBelowMinimum.Is(err))

	// 余额不动
	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("5")))
}

func TestRequestInsufficientFunds(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "1")

	_, err := svc.Request(ctx, "u1", "UQAddr", decimal.RequireFromString("2"))
	assert.True(t, errno.ErrInsufficientFunds.Is(err))
}

func TestLifecycleSentThenConfirmed(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "5")

	w, err := svc.Request(ctx, "u1", "UQAddr", decimal.RequireFromString("2"))
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, event.WithdrawalResultEvent{
		WithdrawalID: w.ID, Status: model.WithdrawalSent, TxHash: "hash-1",
	}))
	got, err := st.Withdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalSent, got.Status)
	assert.Equal(t, "hash-1", got.TxHash)

	require.NoError(t, svc.HandleResult(ctx, event.WithdrawalResultEvent{
		WithdrawalID: w.ID, Status: model.WithdrawalConfirmed, TxHash: "hash-1",
	}))
	got, err = st.Withdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalConfirmed, got.Status)

	// confirmed 不退款
	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("3")))
}

func TestFailedRefunds(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "5")

	w, err := svc.Request(ctx, "u1", "UQAddr", decimal.RequireFromString("2"))
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, event.WithdrawalResultEvent{
		WithdrawalID: w.ID, Status: model.WithdrawalFailed, Reason: "insufficient hot wallet",
	}))

	got, err := st.Withdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRefunded, got.Status)

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("5")), "ton=%s", p.TonBalance)
}

// 重复/乱序回报不产生第二次退款, 终态不可回退。
func TestForwardOnlyTransitions(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "5")

	w, err := svc.Request(ctx, "u1", "UQAddr", decimal.RequireFromString("2"))
	require.NoError(t, err)

	fail := event.WithdrawalResultEvent{WithdrawalID: w.ID, Status: model.WithdrawalFailed}
	require.NoError(t, svc.HandleResult(ctx, fail))
	require.NoError(t, svc.HandleResult(ctx, fail)) // 重复投递
	require.NoError(t, svc.HandleResult(ctx, event.WithdrawalResultEvent{
		WithdrawalID: w.ID, Status: model.WithdrawalSent, // 乱序
	}))

	p, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("5")), "ton=%s", p.TonBalance)

	got, err := st.Withdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRefunded, got.Status)
}

// 不存在的提现 id 不可重试: 返回 err 会让 MQ 无限重投坏消息, 必须丢弃。
func TestHandleResultUnknownWithdrawalDropped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.HandleResult(ctx, event.WithdrawalResultEvent{WithdrawalID: 42, Status: model.WithdrawalSent})
	assert.NoError(t, err)
}

func TestHandleResultUnknownStatusDropped(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seedPlayer(t, st, "u1", "5")

	w, err := svc.Request(ctx, "u1", "UQAddr", decimal.RequireFromString("2"))
	require.NoError(t, err)

	require.NoError(t, svc.HandleResult(ctx, event.WithdrawalResultEvent{
		WithdrawalID: w.ID, Status: "exploded",
	}))

	got, err := st.Withdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPending, got.Status)
}
