package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goblin-core/internal/model"
	"goblin-core/internal/service/accrual"
	"goblin-core/internal/store"
	"goblin-core/pkg/cache"
	"goblin-core/pkg/config"
	"goblin-core/pkg/errno"
	"goblin-core/pkg/logger"
	"goblin-core/pkg/memo"
	"goblin-core/pkg/monitor"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const feedCacheKey = "market:listings"

// Service P2P 金市: 挂单托管、撮合成交、双边抽佣。
// 费率约定 (见 DESIGN.md): 买家实付 total*1.05, 卖家实收 total*0.95,
// 10% 进 fee_collector 账户, 保证 TON 守恒可审计。
type Service struct {
	store   store.Store
	accrual *accrual.Engine
	cfg     config.MarketConfig
	feed    cache.Cache // listings 列表缓存, 变更时失效

	Now func() time.Time
}

func New(st store.Store, eng *accrual.Engine, cfg config.MarketConfig, feed cache.Cache) *Service {
	return &Service{
		store:   st,
		accrual: eng,
		cfg:     cfg,
		feed:    feed,
		Now:     time.Now,
	}
}

// FeedItem 是对外展示的挂单。Total 是税前 amount*price (展示约定见 DESIGN.md)。
type FeedItem struct {
	ID        uint64          `json:"id"`
	Seller    string          `json:"seller"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// BuyResult 成交结果 (买家视角)。
type BuyResult struct {
	Buyer *model.Player
	Paid  decimal.Decimal // 实付 (含买家佣金)
	Fee   decimal.Decimal // 买家佣金部分
}

// displayName 按原始产品约定展示卖家: Player#<user_id 后四位>。
func displayName(userID string) string {
	if len(userID) <= 4 {
		return "Player#" + userID
	}
	return "Player#" + userID[len(userID)-4:]
}

// Listings 返回当前开放挂单, 新单在前。走多级缓存, 失效由变更方负责。
func (s *Service) Listings(ctx context.Context) ([]FeedItem, error) {
	var items []FeedItem
	if s.feed != nil {
		if err := s.feed.Get(ctx, feedCacheKey, &items); err == nil {
			return items, nil
		}
	}

	listings, err := s.store.OpenListings(ctx, s.cfg.FeedLimit)
	if err != nil {
		return nil, err
	}
	items = make([]FeedItem, 0, len(listings))
	for _, l := range listings {
		items = append(items, FeedItem{
			ID:        l.ID,
			Seller:    displayName(l.SellerID),
			Amount:    l.GoldAmount,
			Price:     l.PricePerUnit,
			Total:     l.TotalPrice,
			CreatedAt: l.CreatedAt,
		})
	}

	if s.feed != nil {
		_ = s.feed.Set(ctx, feedCacheKey, items, s.cfg.FeedCacheTTL)
	}
	return items, nil
}

func (s *Service) invalidateFeed(ctx context.Context) {
	if s.feed != nil {
		_ = s.feed.Delete(ctx, feedCacheKey)
	}
}

// CreateListing 挂单: 卖家 gold 立即转入托管, 不再可花费。
func (s *Service) CreateListing(ctx context.Context, sellerID string, amount, pricePerUnit decimal.Decimal) (*model.Player, *model.Listing, error) {
	minGold := s.cfg.Min()
	if amount.LessThan(minGold) {
		return nil, nil, errno.ErrBelowMinimum.WithMessage(
			fmt.Sprintf("Минимум %s кг золота", minGold.String()))
	}
	if !pricePerUnit.IsPositive() {
		return nil, nil, errno.ErrInvalidPrice.WithMessage("Цена должна быть больше 0")
	}

	var (
		outP *model.Player
		outL *model.Listing
	)
	err := s.store.Atomic(ctx, []string{sellerID}, func(tx store.Tx) error {
		p, err := tx.PlayerForUpdate(sellerID)
		if errors.Is(err, store.ErrNotFound) {
			return errno.ErrPlayerNotFound.WithMessage("Игрок не найден")
		}
		if err != nil {
			return err
		}
		now := s.Now()
		if err := s.settle(tx, p, now); err != nil {
			return err
		}

		if p.Gold.LessThan(amount) {
			return errno.ErrInsufficientGold.WithMessage("Недостаточно золота")
		}

		// gold 离开卖家余额, 进入挂单托管
		p.Gold = p.Gold.Sub(amount)
		l := &model.Listing{
			SellerID:     sellerID,
			GoldAmount:   amount,
			PricePerUnit: pricePerUnit,
			TotalPrice:   amount.Mul(pricePerUnit),
			Status:       model.ListingOpen,
		}
		if err := tx.CreateListing(l); err != nil {
			return err
		}
		if err := tx.AppendLedger(&model.LedgerEntry{
			PlayerID:    sellerID,
			Type:        model.EntryListingCreated,
			Amount:      amount,
			Description: fmt.Sprintf("Создано объявление на %s кг по %s TON/кг", amount.String(), pricePerUnit.String()),
		}); err != nil {
			return err
		}
		if err := tx.SavePlayer(p); err != nil {
			return err
		}
		outP, outL = p, l
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.invalidateFeed(ctx)
	return outP, outL, nil
}

// BuyListing 撮合成交。五步变更在一个事务里提交:
// 买家扣 TON -> 卖家收净得 -> fee_collector 记佣金 -> 买家收 gold -> 挂单置 filled。
// 买家/卖家/佣金账户按排序后的固定顺序加锁, 防死锁。
func (s *Service) BuyListing(ctx context.Context, buyerID string, listingID uint64) (*BuyResult, error) {
	// 无锁快照拿卖家 id, 事务内再校验状态
	snap, err := s.store.Listing(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errno.ErrListingNotFound.WithMessage("Объявление не найдено")
	}
	if err != nil {
		return nil, err
	}
	if snap.SellerID == buyerID {
		return nil, errno.ErrSelfTrade.WithMessage("Нельзя купить своё объявление")
	}

	var out *BuyResult
	err = s.store.Atomic(ctx, []string{buyerID, snap.SellerID, s.cfg.FeeCollectorID}, func(tx store.Tx) error {
		l, err := tx.ListingForUpdate(listingID)
		if errors.Is(err, store.ErrNotFound) {
			return errno.ErrListingNotFound.WithMessage("Объявление не найдено")
		}
		if err != nil {
			return err
		}
		if l.Status != model.ListingOpen {
			// 并发购买的败方走这里: 挂单已成交
			return errno.ErrListingNotFound.WithMessage("Объявление уже неактивно")
		}
		if l.SellerID != snap.SellerID {
			// 快照和事务内数据不一致 (不应发生, 挂单的卖家不可变)
			return errno.ErrConflict
		}

		buyer, err := tx.PlayerForUpdate(buyerID)
		if errors.Is(err, store.ErrNotFound) {
			return errno.ErrPlayerNotFound.WithMessage("Покупатель не найден")
		}
		if err != nil {
			return err
		}
		seller, err := tx.PlayerForUpdate(l.SellerID)
		if err != nil {
			return err
		}
		collector, err := tx.PlayerForUpdate(s.cfg.FeeCollectorID)
		if err != nil {
			return err
		}

		now := s.Now()
		if err := s.settle(tx, buyer, now); err != nil {
			return err
		}
		if err := s.settle(tx, seller, now); err != nil {
			return err
		}

		total := l.TotalPrice
		buyerFee := total.Mul(s.cfg.BuyerRate())
		sellerFee := total.Mul(s.cfg.SellerRate())
		cost := total.Add(buyerFee)
		proceeds := total.Sub(sellerFee)

		if buyer.TonBalance.LessThan(cost) {
			return errno.ErrInsufficientFunds.WithMessage(
				fmt.Sprintf("Недостаточно TON. Нужно %s TON (включая комиссию 5%%)", cost.StringFixed(4)))
		}

		buyer.TonBalance = buyer.TonBalance.Sub(cost)
		buyer.Gold = buyer.Gold.Add(l.GoldAmount)
		seller.TonBalance = seller.TonBalance.Add(proceeds)
		collector.TonBalance = collector.TonBalance.Add(buyerFee.Add(sellerFee))
		l.Status = model.ListingFilled

		entries := []model.LedgerEntry{
			{PlayerID: buyerID, Type: model.EntryMarketPurchase, Amount: cost,
				Description: fmt.Sprintf("Куплено %s кг золота", l.GoldAmount.String())},
			{PlayerID: l.SellerID, Type: model.EntryMarketSale, Amount: proceeds,
				Description: fmt.Sprintf("Продано %s кг золота", l.GoldAmount.String())},
			{PlayerID: s.cfg.FeeCollectorID, Type: model.EntryMarketFee, Amount: buyerFee.Add(sellerFee),
				Description: fmt.Sprintf("Комиссия по объявлению #%d", l.ID)},
		}
		for i := range entries {
			if err := tx.AppendLedger(&entries[i]); err != nil {
				return err
			}
		}

		for _, p := range []*model.Player{buyer, seller, collector} {
			if err := tx.SavePlayer(p); err != nil {
				return err
			}
		}
		if err := tx.SaveListing(l); err != nil {
			return err
		}

		if monitor.Business != nil {
			monitor.Business.MarketTradesTotal.Inc()
			v, _ := total.Float64()
			monitor.Business.MarketVolumeTON.Add(v)
			f, _ := buyerFee.Add(sellerFee).Float64()
			monitor.Business.FeeRevenueTON.Add(f)
		}
		logger.Info("挂单成交",
			zap.Uint64("listing_id", l.ID),
			zap.String("buyer", buyerID),
			zap.String("seller", l.SellerID),
			zap.String("cost", cost.String()))

		out = &BuyResult{Buyer: buyer, Paid: cost, Fee: buyerFee}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateFeed(ctx)
	return out, nil
}

// CancelListing 撤单: 托管 gold 退回卖家, 挂单进入终态 cancelled。
func (s *Service) CancelListing(ctx context.Context, sellerID string, listingID uint64) (*model.Player, error) {
	var out *model.Player
	err := s.store.Atomic(ctx, []string{sellerID}, func(tx store.Tx) error {
		l, err := tx.ListingForUpdate(listingID)
		if errors.Is(err, store.ErrNotFound) {
			return errno.ErrListingNotFound.WithMessage("Объявление не найдено")
		}
		if err != nil {
			return err
		}
		if l.SellerID != sellerID {
			return errno.ErrNotOwner.WithMessage("Это не ваше объявление")
		}
		if l.Status != model.ListingOpen {
			return errno.ErrListingNotFound.WithMessage("Объявление уже неактивно")
		}

		p, err := tx.PlayerForUpdate(sellerID)
		if err != nil {
			return err
		}
		if err := s.settle(tx, p, s.Now()); err != nil {
			return err
		}

		p.Gold = p.Gold.Add(l.GoldAmount)
		l.Status = model.ListingCancelled

		if err := tx.AppendLedger(&model.LedgerEntry{
			PlayerID:    sellerID,
			Type:        model.EntryListingCancel,
			Amount:      l.GoldAmount,
			Description: fmt.Sprintf("Отменено объявление #%d", l.ID),
		}); err != nil {
			return err
		}
		if err := tx.SavePlayer(p); err != nil {
			return err
		}
		if err := tx.SaveListing(l); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateFeed(ctx)
	return out, nil
}

// EnsureFeeCollector 创建佣金账户 (幂等)。服务启动时调用。
func (s *Service) EnsureFeeCollector(ctx context.Context) error {
	return s.store.Atomic(ctx, []string{s.cfg.FeeCollectorID}, func(tx store.Tx) error {
		_, err := tx.PlayerForUpdate(s.cfg.FeeCollectorID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		var code string
		for {
			code, err = memo.New()
			if err != nil {
				return err
			}
			if _, err = tx.PlayerByMemo(code); errors.Is(err, store.ErrNotFound) {
				break
			}
			if err != nil {
				return err
			}
		}
		return tx.CreatePlayer(&model.Player{
			UserID:        s.cfg.FeeCollectorID,
			Memo:          code,
			LastAccrualAt: s.Now(),
		})
	})
}

func (s *Service) settle(tx store.Tx, p *model.Player, now time.Time) error {
	delta := s.accrual.Apply(p, now)
	if delta.IsZero() {
		return nil
	}
	return tx.AppendLedger(&model.LedgerEntry{
		PlayerID:    p.UserID,
		Type:        model.EntryAccrual,
		Amount:      delta,
		Description: fmt.Sprintf("Накоплено %s кг золота (%d гоблинов)", delta.StringFixed(4), p.Goblins),
	})
}
