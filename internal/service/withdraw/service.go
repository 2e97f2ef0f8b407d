package withdraw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goblin-core/internal/event"
	"goblin-core/internal/model"
	"goblin-core/internal/store"
	"goblin-core/pkg/config"
	"goblin-core/pkg/errno"
	"goblin-core/pkg/logger"
	"goblin-core/pkg/monitor"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service 提现生命周期。
// 受理时立即扣减 TON (资金预留), 链上执行结果异步回报:
// pending -> sent -> confirmed, 失败则 failed -> refunded (退回余额)。
// 状态机只允许前进, 乱序/重复回报直接忽略。
type Service struct {
	store store.Store
	cfg   config.GameConfig

	Now func() time.Time
}

func New(st store.Store, cfg config.GameConfig) *Service {
	return &Service{store: st, cfg: cfg, Now: time.Now}
}

// Request 受理提现申请。扣减余额、落 pending 记录、写 outbox 通知转账层,
// 全部在一个事务里。
func (s *Service) Request(ctx context.Context, playerID, toAddress string, amount decimal.Decimal) (*model.Withdrawal, error) {
	min := s.cfg.MinWithdrawal()
	if amount.LessThan(min) {
		return nil, errno.ErrBelowMinimum.WithMessage(
			fmt.Sprintf("Минимальный вывод %s TON", min.String()))
	}
	if toAddress == "" {
		return nil, errno.ErrBind.WithMessage("Не указан адрес вывода")
	}

	var out *model.Withdrawal
	err := s.store.Atomic(ctx, []string{playerID}, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(playerID)
		if errors.Is(err, store.ErrNotFound) {
			return errno.ErrPlayerNotFound.WithMessage("Игрок не найден")
		}
		if err != nil {
			return err
		}
		if p.TonBalance.LessThan(amount) {
			return errno.ErrInsufficientFunds.WithMessage("Недостаточно TON")
		}

		p.TonBalance = p.TonBalance.Sub(amount)
		w := &model.Withdrawal{
			PlayerID:  playerID,
			Amount:    amount,
			ToAddress: toAddress,
			Status:    model.WithdrawalPending,
		}
		if err := tx.CreateWithdrawal(w); err != nil {
			return err
		}
		if err := tx.AppendLedger(&model.LedgerEntry{
			PlayerID:    playerID,
			Type:        model.EntryWithdrawal,
			Amount:      amount,
			Description: fmt.Sprintf("Вывод %s TON на %s", amount.String(), toAddress),
		}); err != nil {
			return err
		}
		if err := tx.Outbox(event.TopicWithdrawRequested, playerID, event.WithdrawalRequestedEvent{
			WithdrawalID: w.ID,
			PlayerID:     playerID,
			ToAddress:    toAddress,
			Amount:       amount.String(),
		}); err != nil {
			return err
		}
		if err := tx.SavePlayer(p); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	if monitor.Business != nil {
		monitor.Business.WithdrawalsTotal.WithLabelValues(model.WithdrawalPending).Inc()
	}
	logger.Info("提现受理",
		zap.Uint64("withdrawal_id", out.ID),
		zap.String("player_id", playerID),
		zap.String("amount", amount.String()))
	return out, nil
}

// statusRank 状态机的前进顺序。failed 之后只剩 refunded。
var statusRank = map[string]int{
	model.WithdrawalPending:   0,
	model.WithdrawalSent:      1,
	model.WithdrawalConfirmed: 2,
	model.WithdrawalFailed:    2,
	model.WithdrawalRefunded:  3,
}

// HandleResult 消费转账层的结果回报 (at-least-once)。
// 乱序或重复的回报按状态机丢弃; failed 在同一事务里退款并置 refunded。
func (s *Service) HandleResult(ctx context.Context, ev event.WithdrawalResultEvent) error {
	switch ev.Status {
	case model.WithdrawalSent, model.WithdrawalConfirmed, model.WithdrawalFailed:
	default:
		logger.Error("未知的提现回报状态, 丢弃",
			zap.Uint64("withdrawal_id", ev.WithdrawalID),
			zap.String("status", ev.Status))
		return nil
	}

	// 无锁快照拿 player id (提现的归属不可变), 事务内重新加载。
	// 不存在的提现 id 不可重试, 丢弃, 否则坏消息会被无限重投。
	snap, err := s.store.Withdrawal(ctx, ev.WithdrawalID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Error("提现回报指向不存在的记录, 丢弃",
			zap.Uint64("withdrawal_id", ev.WithdrawalID),
			zap.String("status", ev.Status))
		return nil
	}
	if err != nil {
		return err
	}

	applied := ""
	err = s.store.Atomic(ctx, []string{snap.PlayerID, withdrawLockKey(ev.WithdrawalID)}, func(tx store.Tx) error {
		w, err := tx.WithdrawalForUpdate(ev.WithdrawalID)
		if errors.Is(err, store.ErrNotFound) {
			// 快照见过的记录不会消失, 真走到这里也不可重试
			logger.Error("提现记录在事务内丢失, 丢弃回报",
				zap.Uint64("withdrawal_id", ev.WithdrawalID))
			return nil
		}
		if err != nil {
			return err
		}
		if statusRank[ev.Status] <= statusRank[w.Status] {
			// 重复或乱序回报
			return nil
		}

		w.Status = ev.Status
		if ev.TxHash != "" {
			w.TxHash = ev.TxHash
		}

		if ev.Status == model.WithdrawalFailed {
			// 退款和状态迁移一个事务完成, 不存在 failed 停留态
			p, err := tx.PlayerForUpdate(w.PlayerID)
			if err != nil {
				return err
			}
			p.TonBalance = p.TonBalance.Add(w.Amount)
			if err := tx.AppendLedger(&model.LedgerEntry{
				PlayerID:    w.PlayerID,
				Type:        model.EntryRefund,
				Amount:      w.Amount,
				Description: fmt.Sprintf("Возврат %s TON (вывод #%d: %s)", w.Amount.String(), w.ID, ev.Reason),
			}); err != nil {
				return err
			}
			if err := tx.SavePlayer(p); err != nil {
				return err
			}
			w.Status = model.WithdrawalRefunded
		}

		if err := tx.SaveWithdrawal(w); err != nil {
			return err
		}
		applied = w.Status
		return nil
	})
	if err != nil {
		return err
	}
	if applied != "" {
		if monitor.Business != nil {
			monitor.Business.WithdrawalsTotal.WithLabelValues(applied).Inc()
		}
		logger.Info("提现状态迁移",
			zap.Uint64("withdrawal_id", ev.WithdrawalID),
			zap.String("status", applied))
	}
	return nil
}

// withdrawLockKey 提现记录自身的锁键, 与账户键共用一个锁空间。
func withdrawLockKey(id uint64) string {
	return fmt.Sprintf("withdrawal:%d", id)
}
