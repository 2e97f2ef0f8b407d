package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"goblin-core/internal/model"
	"goblin-core/internal/service/accrual"
	"goblin-core/internal/store"
	"goblin-core/pkg/config"
	"goblin-core/pkg/errno"
	"goblin-core/pkg/memo"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.GameConfig {
	return config.GameConfig{
		RatePerHour:      "0.014",
		StartingGoblins:  3000,
		ExchangeMinGold:  "100",
		ExchangeRate:     "0.95",
		MinWithdrawalTON: "1",
		Packages: map[string]config.GoblinPackage{
			"small": {Goblins: 3000, PriceTON: "1"},
			"large": {Goblins: 15000, PriceTON: "5"},
		},
	}
}

func newTestService(t *testing.T) (*Service, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore(time.Second)
	cfg := testConfig()
	svc := New(st, accrual.NewEngine(cfg.Rate()), cfg)
	svc.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, st
}

func TestInitCreatesPlayer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, int64(3000), p.Goblins)
	assert.True(t, p.Gold.IsZero())
	assert.True(t, p.TonBalance.IsZero())
	assert.True(t, memo.Valid(p.Memo), "memo %q должен быть 6-значным", p.Memo)
}

func TestInitIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	second, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first.Memo, second.Memo)
	assert.Equal(t, first.Goblins, second.Goblins)
}

func TestInitUniqueMemos(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for _, uid := range []string{"a", "b", "c", "d", "e"} {
		p, err := svc.Init(ctx, uid)
		require.NoError(t, err)
		assert.False(t, seen[p.Memo], "memo %q выдан дважды", p.Memo)
		seen[p.Memo] = true
	}
}

func TestInitSettlesAccrual(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	// 一小时后再 init: 3000 goblins * 0.014 = 42 золота
	svc.Now = func() time.Time { return time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC) }
	p, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	want := decimal.RequireFromString("42")
	assert.True(t, p.Gold.Sub(want).Abs().LessThan(decimal.RequireFromString("0.0001")),
		"gold=%s", p.Gold)
}

func TestBuyGoblins(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	p, err := svc.Init(ctx, "u1")
	require.NoError(t, err)
	fund(t, st, "u1", "10")

	p, err = svc.BuyGoblins(ctx, "u1", "small")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), p.Goblins)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("9")), "balance=%s", p.TonBalance)

	p, err = svc.BuyGoblins(ctx, "u1", "large")
	require.NoError(t, err)
	assert.Equal(t, int64(21000), p.Goblins)
	assert.True(t, p.TonBalance.Equal(decimal.RequireFromString("4")), "balance=%s", p.TonBalance)
}

func TestBuyGoblinsInvalidPackage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.BuyGoblins(ctx, "u1", "mega")
	assert.True(t, errno.ErrInvalidPackage.Is(err))
}

func TestBuyGoblinsInsufficientFunds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.BuyGoblins(ctx, "u1", "small")
	assert.True(t, errno.ErrInsufficientFunds.Is(err))

	// 余额不变
	p, err := svc.Init(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.TonBalance.IsZero())
	assert.Equal(t, int64(3000), p.Goblins)
}

func TestExchangeGold(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)
	fundGold(t, st, "u1", "150")

	res, err := svc.ExchangeGold(ctx, "u1", decimal.RequireFromString("100"))
	require.NoError(t, err)

	// 100 * 0.95 = 95, floor
	assert.Equal(t, int64(95), res.GoblinsReceived)
	assert.Equal(t, int64(3095), res.Player.Goblins)
	assert.True(t, res.Player.Gold.Equal(decimal.RequireFromString("50")), "gold=%s", res.Player.Gold)
}

func TestExchangeGoldFloorsOdd(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)
	fundGold(t, st, "u1", "101")

	res, err := svc.ExchangeGold(ctx, "u1", decimal.RequireFromString("101"))
	require.NoError(t, err)
	// 101 * 0.95 = 95.95 -> 95
	assert.Equal(t, int64(95), res.GoblinsReceived)
}

func TestExchangeGoldBelowMinimum(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)
	fundGold(t, st, "u1", "99")

	_, err = svc.ExchangeGold(ctx, "u1", decimal.RequireFromString("99"))
	assert.True(t, errno.ErrBelowMinimum.Is(err))

	// 账户没动
	p, err := svc.Init(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Gold.Equal(decimal.RequireFromString("99")))
	assert.Equal(t, int64(3000), p.Goblins)
}

func TestExchangeGoldInsufficient(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)
	fundGold(t, st, "u1", "100")

	_, err = svc.ExchangeGold(ctx, "u1", decimal.RequireFromString("200"))
	assert.True(t, errno.ErrInsufficientGold.Is(err))
}

// fund 直接往账户里打 TON (测试夹具)。
func fund(t *testing.T, st *store.MemStore, userID, amount string) {
	t.Helper()
	err := st.Atomic(context.Background(), []string{userID}, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(userID)
		if err != nil {
			return err
		}
		p.TonBalance = p.TonBalance.Add(decimal.RequireFromString(amount))
		return tx.SavePlayer(p)
	})
	require.NoError(t, err)
}

func fundGold(t *testing.T, st *store.MemStore, userID, amount string) {
	t.Helper()
	err := st.Atomic(context.Background(), []string{userID}, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(userID)
		if err != nil {
			return err
		}
		p.Gold = p.Gold.Add(decimal.RequireFromString(amount))
		return tx.SavePlayer(p)
	})
	require.NoError(t, err)
}

// failingLedgerStore 让 AppendLedger 失败, 其余操作透传。
// 用来验证流水插入失败时整个变更回滚, 不会出现余额变了而流水缺失。
type failingLedgerStore struct {
	store.Store
}

var errLedgerDown = errors.New("ledger insert failed")

func (s *failingLedgerStore) Atomic(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	return s.Store.Atomic(ctx, keys, func(tx store.Tx) error {
		return fn(&failingLedgerTx{tx})
	})
}

type failingLedgerTx struct{ store.Tx }

func (t *failingLedgerTx) AppendLedger(e *model.LedgerEntry) error { return errLedgerDown }

func TestSettleLedgerFailureRollsBack(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := svc.Init(ctx, "u1")
	require.NoError(t, err)

	// 一小时后产金结算, 但流水插入失败
	broken := New(&failingLedgerStore{Store: st}, svc.accrual, testConfig())
	broken.Now = func() time.Time { return base.Add(time.Hour) }

	_, err = broken.Init(ctx, "u1")
	require.ErrorIs(t, err, errLedgerDown)

	// 余额和结算点都不能变
	after, err := st.Player(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, after.Gold.IsZero(), "gold=%s", after.Gold)
	assert.True(t, after.LastAccrualAt.Equal(base))
}
