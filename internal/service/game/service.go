package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goblin-core/internal/model"
	"goblin-core/internal/service/accrual"
	"goblin-core/internal/store"
	"goblin-core/pkg/config"
	"goblin-core/pkg/errno"
	"goblin-core/pkg/logger"
	"goblin-core/pkg/memo"
	"goblin-core/pkg/monitor"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memo 撞号重试上限。6 位号段有一百万个, 实际撞号概率极低。
const memoMintAttempts = 10

// Service 游戏核心: 注册/结算、金币商店、黄金兑换。
type Service struct {
	store   store.Store
	accrual *accrual.Engine
	cfg     config.GameConfig

	// Now 可在测试里替换以控制结算区间
	Now func() time.Time
}

func New(st store.Store, eng *accrual.Engine, cfg config.GameConfig) *Service {
	return &Service{
		store:   st,
		accrual: eng,
		cfg:     cfg,
		Now:     time.Now,
	}
}

// ExchangeResult 黄金兑换结果。
type ExchangeResult struct {
	Player          *model.Player
	GoblinsReceived int64
}

// settle 懒结算: 把截至 now 的产金记入账户并写流水。
// 必须在任何读写 gold 的操作前调用。
func (s *Service) settle(tx store.Tx, p *model.Player, now time.Time) error {
	delta := s.accrual.Apply(p, now)
	if delta.IsZero() {
		return nil
	}
	if err := tx.AppendLedger(&model.LedgerEntry{
		PlayerID:    p.UserID,
		Type:        model.EntryAccrual,
		Amount:      delta,
		Description: fmt.Sprintf("Накоплено %s кг золота (%d гоблинов)", delta.StringFixed(4), p.Goblins),
	}); err != nil {
		return err
	}
	if monitor.Business != nil {
		f, _ := delta.Float64()
		monitor.Business.GoldAccruedTotal.Add(f)
	}
	return nil
}

// Init 幂等注册: 首次调用创建账户 (初始 goblin 配额 + 新 MEMO),
// 之后的调用结算产金并返回当前状态。
func (s *Service) Init(ctx context.Context, userID string) (*model.Player, error) {
	if userID == "" {
		return nil, errno.ErrBind.WithMessage("user_id обязателен")
	}

	var out *model.Player
	err := s.store.Atomic(ctx, []string{userID}, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(userID)
		if err == nil {
			now := s.Now()
			before := p.LastAccrualAt
			if err := s.settle(tx, p, now); err != nil {
				return err
			}
			if !p.LastAccrualAt.Equal(before) {
				if err := tx.SavePlayer(p); err != nil {
					return err
				}
			}
			out = p
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		// 新账户: 铸造唯一 MEMO
		code, err := s.mintMemo(tx)
		if err != nil {
			return err
		}
		p = &model.Player{
			UserID:        userID,
			Memo:          code,
			Goblins:       s.cfg.StartingGoblins,
			Gold:          decimal.Zero,
			TonBalance:    decimal.Zero,
			LastAccrualAt: s.Now(),
		}
		if err := tx.CreatePlayer(p); err != nil {
			return err
		}
		logger.Info("新玩家注册",
			zap.String("user_id", userID),
			zap.String("memo", code),
			zap.Int64("goblins", p.Goblins))
		if monitor.Business != nil {
			monitor.Business.PlayersRegisteredTotal.Inc()
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Service) mintMemo(tx store.Tx) (string, error) {
	for i := 0; i < memoMintAttempts; i++ {
		code, err := memo.New()
		if err != nil {
			return "", err
		}
		_, err = tx.PlayerByMemo(code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		// 撞号, 继续重试
	}
	return "", fmt.Errorf("memo space exhausted after %d attempts", memoMintAttempts)
}

// BuyGoblins 商店购买: 扣 TON, 加 goblins, 原子执行。
func (s *Service) BuyGoblins(ctx context.Context, userID, packageKey string) (*model.Player, error) {
	pkg, ok := s.cfg.Packages[packageKey]
	if !ok {
		return nil, errno.ErrInvalidPackage.WithMessage("Неверный пакет")
	}
	price := pkg.Price()

	var out *model.Player
	err := s.store.Atomic(ctx, []string{userID}, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(userID)
		if errors.Is(err, store.ErrNotFound) {
			return errno.ErrPlayerNotFound.WithMessage("Игрок не найден")
		}
		if err != nil {
			return err
		}
		if err := s.settle(tx, p, s.Now()); err != nil {
			return err
		}

		if p.TonBalance.LessThan(price) {
			return errno.ErrInsufficientFunds.WithMessage("Недостаточно TON")
		}
		p.TonBalance = p.TonBalance.Sub(price)
		p.Goblins += pkg.Goblins

		if err := tx.AppendLedger(&model.LedgerEntry{
			PlayerID:    p.UserID,
			Type:        model.EntryGoblinPurchase,
			Amount:      price,
			Description: fmt.Sprintf("Куплено %d гоблинов", pkg.Goblins),
		}); err != nil {
			return err
		}
		if err := tx.SavePlayer(p); err != nil {
			return err
		}
		if monitor.Business != nil {
			monitor.Business.GoblinsSoldTotal.WithLabelValues(packageKey).Add(float64(pkg.Goblins))
		}
		out = p
		return nil
	})
	return out, err
}

// ExchangeGold 黄金换 goblins: 100 золота -> 95 гоблинов (向下取整)。
// 到账的 goblins 从本次结算点开始参与产金, 不追溯。
func (s *Service) ExchangeGold(ctx context.Context, userID string, goldAmount decimal.Decimal) (*ExchangeResult, error) {
	minGold := s.cfg.ExchangeMin()
	if goldAmount.LessThan(minGold) {
		return nil, errno.ErrBelowMinimum.WithMessage(
			fmt.Sprintf("Минимум %s кг золота", minGold.String()))
	}

	var out *ExchangeResult
	err := s.store.Atomic(ctx, []string{userID}, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(userID)
		if errors.Is(err, store.ErrNotFound) {
			return errno.ErrPlayerNotFound.WithMessage("Игрок не найден")
		}
		if err != nil {
			return err
		}
		if err := s.settle(tx, p, s.Now()); err != nil {
			return err
		}

		if p.Gold.LessThan(goldAmount) {
			return errno.ErrInsufficientGold.WithMessage("Недостаточно золота")
		}

		received := goldAmount.Mul(s.cfg.GoblinRate()).Floor().IntPart()
		p.Gold = p.Gold.Sub(goldAmount)
		p.Goblins += received

		if err := tx.AppendLedger(&model.LedgerEntry{
			PlayerID:    p.UserID,
			Type:        model.EntryGoldExchange,
			Amount:      goldAmount,
			Description: fmt.Sprintf("Обменяно %s кг золота на %d гоблинов", goldAmount.String(), received),
		}); err != nil {
			return err
		}
		if err := tx.SavePlayer(p); err != nil {
			return err
		}
		if monitor.Business != nil {
			monitor.Business.ExchangesTotal.Inc()
		}
		out = &ExchangeResult{Player: p, GoblinsReceived: received}
		return nil
	})
	return out, err
}
