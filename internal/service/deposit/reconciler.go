package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goblin-core/internal/event"
	"goblin-core/internal/model"
	"goblin-core/internal/store"
	"goblin-core/pkg/crypto_util"
	"goblin-core/pkg/errno"
	"goblin-core/pkg/lock"
	"goblin-core/pkg/logger"
	"goblin-core/pkg/memo"
	"goblin-core/pkg/monitor"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconciler 消费链上观察层的入金事件, 按 MEMO 对账入账。
// 投递语义是 at-least-once, 防重分三层:
//  1. 消费入口的去重锁 (挡住并发的重复投递)
//  2. 事务内 DepositByTxID 快查
//  3. external_tx_id 唯一索引 (最后一道防线)
type Reconciler struct {
	store  store.Store
	locker lock.DistributedLock

	lockTTL     time.Duration
	lockTimeout time.Duration

	Now func() time.Time
}

func NewReconciler(st store.Store, locker lock.DistributedLock, lockTTL, lockTimeout time.Duration) *Reconciler {
	return &Reconciler{
		store:       st,
		locker:      locker,
		lockTTL:     lockTTL,
		lockTimeout: lockTimeout,
		Now:         time.Now,
	}
}

// Reconcile 处理一笔观察到的入金。
// 返回 nil 表示消费完成 (含"已入账过"和"暂时无法匹配"两种情况, 都不需要重投),
// 返回 error 表示应当重试投递。
func (r *Reconciler) Reconcile(ctx context.Context, ev event.DepositObservedEvent) error {
	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil || !amount.IsPositive() {
		// 观察层给出的金额非法, 重投也没用
		logger.Error("入金金额非法, 丢弃",
			zap.String("external_tx_id", ev.ExternalTxID),
			zap.String("amount", ev.Amount))
		return nil
	}

	// tx id 长度不可控, 哈希后做锁 key
	lockKey := "deposit:" + crypto_util.CalculateBlake3([]byte(ev.ExternalTxID))
	ok, err := lock.AcquireWithTimeout(ctx, r.locker, lockKey, r.lockTTL, r.lockTimeout)
	if err != nil {
		return err
	}
	if !ok {
		// 同一笔 tx 正在被处理, 让 MQ 稍后重投
		return errno.ErrBusy
	}
	defer func() { _ = r.locker.Release(ctx, lockKey) }()

	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = r.Now()
	}

	if !memo.Valid(ev.Memo) {
		return r.recordUnmatched(ctx, ev, amount)
	}
	playerID, err := r.store.PlayerIDByMemo(ctx, ev.Memo)
	if errors.Is(err, store.ErrNotFound) {
		return r.recordUnmatched(ctx, ev, amount)
	}
	if err != nil {
		return err
	}
	return r.credit(ctx, playerID, ev, amount)
}

// credit 给匹配到的玩家入账。一个事务完成: 落充值记录、加余额、记流水、写 outbox。
func (r *Reconciler) credit(ctx context.Context, playerID string, ev event.DepositObservedEvent, amount decimal.Decimal) error {
	credited := false
	err := r.store.Atomic(ctx, []string{playerID}, func(tx store.Tx) error {
		existing, err := tx.DepositByTxID(ev.ExternalTxID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := r.Now()
		var rec *model.DepositRecord
		switch {
		case existing == nil:
			rec = &model.DepositRecord{
				ExternalTxID: ev.ExternalTxID,
				MemoObserved: ev.Memo,
				Amount:       amount,
				PlayerID:     &playerID,
				Credited:     true,
				ObservedAt:   ev.ObservedAt,
				CreditedAt:   &now,
			}
			if err := tx.CreateDeposit(rec); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					// 并发投递的败方: 对面已入账
					return nil
				}
				return err
			}
		case existing.Credited:
			// 重复投递, 已入账
			return nil
		default:
			// 此前 unmatched 的记录, 现在匹配上了 (玩家后注册的情况)
			rec = existing
			rec.PlayerID = &playerID
			rec.Credited = true
			rec.CreditedAt = &now
			if err := tx.SaveDeposit(rec); err != nil {
				return err
			}
		}

		p, err := tx.PlayerForUpdate(playerID)
		if errors.Is(err, store.ErrNotFound) {
			// memo 索引和玩家表不一致, 不应发生
			return errno.ErrPlayerNotFound
		}
		if err != nil {
			return err
		}
		p.TonBalance = p.TonBalance.Add(amount)

		if err := tx.AppendLedger(&model.LedgerEntry{
			PlayerID:    playerID,
			Type:        model.EntryDeposit,
			Amount:      amount,
			Description: fmt.Sprintf("Пополнение %s TON (tx %s)", amount.String(), ev.ExternalTxID),
		}); err != nil {
			return err
		}
		if err := tx.Outbox(event.TopicDepositCredited, playerID, event.DepositCreditedEvent{
			ExternalTxID: ev.ExternalTxID,
			PlayerID:     playerID,
			Amount:       amount.String(),
		}); err != nil {
			return err
		}
		if err := tx.SavePlayer(p); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return err
	}
	if credited {
		if monitor.Business != nil {
			monitor.Business.DepositsCreditedTotal.Inc()
		}
		logger.Info("入金已入账",
			zap.String("external_tx_id", ev.ExternalTxID),
			zap.String("player_id", playerID),
			zap.String("amount", amount.String()))
	}
	return nil
}

// recordUnmatched 落一条未匹配记录, 等定时重试或人工处理。
func (r *Reconciler) recordUnmatched(ctx context.Context, ev event.DepositObservedEvent, amount decimal.Decimal) error {
	err := r.store.Atomic(ctx, []string{"deposit-intake"}, func(tx store.Tx) error {
		return tx.CreateDeposit(&model.DepositRecord{
			ExternalTxID: ev.ExternalTxID,
			MemoObserved: ev.Memo,
			Amount:       amount,
			Credited:     false,
			ObservedAt:   ev.ObservedAt,
		})
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Warn("入金未匹配到玩家",
		zap.String("external_tx_id", ev.ExternalTxID),
		zap.String("memo", ev.Memo))
	r.refreshUnmatchedGauge(ctx)
	return nil
}

// Retry 重扫未匹配记录。玩家可能在充值后才注册, memo 此时才出现。
// 由 cron 定时触发 (多实例部署时套分布式锁, 见 cron 装配处)。
func (r *Reconciler) Retry(ctx context.Context, batch int) error {
	records, err := r.store.UnmatchedDeposits(ctx, batch)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if !memo.Valid(rec.MemoObserved) {
			continue
		}
		playerID, err := r.store.PlayerIDByMemo(ctx, rec.MemoObserved)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		ev := event.DepositObservedEvent{
			ExternalTxID: rec.ExternalTxID,
			Memo:         rec.MemoObserved,
			Amount:       rec.Amount.String(),
			ObservedAt:   rec.ObservedAt,
		}
		if err := r.credit(ctx, playerID, ev, rec.Amount); err != nil {
			logger.Error("重试入账失败",
				zap.String("external_tx_id", rec.ExternalTxID),
				zap.Error(err))
			continue
		}
	}
	r.refreshUnmatchedGauge(ctx)
	return nil
}

// Unmatched 给运营后台用的未匹配列表。
func (r *Reconciler) Unmatched(ctx context.Context, limit int) ([]model.DepositRecord, error) {
	return r.store.UnmatchedDeposits(ctx, limit)
}

func (r *Reconciler) refreshUnmatchedGauge(ctx context.Context) {
	if monitor.Business == nil {
		return
	}
	if n, err := r.store.CountUnmatchedDeposits(ctx); err == nil {
		monitor.Business.UnmatchedDeposits.Set(float64(n))
	}
}
