package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"goblin-core/internal/model"
	"goblin-core/pkg/errno"
	"goblin-core/pkg/lock"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于 PostgreSQL 的账本实现。
// 并发控制分两层:
//  1. 进程间: keyed 锁 (单实例 LocalLock, 多实例 RedisLock), 带超时 -> Busy
//  2. 数据库: 事务 + SELECT FOR UPDATE 行锁 + Version 乐观锁兜底
type GormStore struct {
	db          *gorm.DB
	locker      lock.DistributedLock
	lockTTL     time.Duration
	lockTimeout time.Duration
}

func NewGormStore(db *gorm.DB, locker lock.DistributedLock, lockTTL, lockTimeout time.Duration) *GormStore {
	return &GormStore{
		db:          db,
		locker:      locker,
		lockTTL:     lockTTL,
		lockTimeout: lockTimeout,
	}
}

// Atomic 按排序后的顺序获取所有账户锁, 然后在一个数据库事务中执行 fn。
func (s *GormStore) Atomic(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	sorted := SortKeys(keys)

	acquired := make([]string, 0, len(sorted))
	release := func() {
		// 逆序释放
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = s.locker.Release(ctx, "account:"+acquired[i])
		}
	}

	for _, k := range sorted {
		ok, err := lock.AcquireWithTimeout(ctx, s.locker, "account:"+k, s.lockTTL, s.lockTimeout)
		if err != nil {
			release()
			return err
		}
		if !ok {
			release()
			return errno.ErrBusy
		}
		acquired = append(acquired, k)
	}
	defer release()

	return s.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		return fn(&gormTx{tx: dbTx})
	})
}

func (s *GormStore) Player(ctx context.Context, userID string) (*model.Player, error) {
	var p model.Player
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (s *GormStore) PlayerIDByMemo(ctx context.Context, memo string) (string, error) {
	var p model.Player
	err := s.db.WithContext(ctx).
		Select("user_id").
		Where("memo = ?", memo).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	return p.UserID, err
}

func (s *GormStore) Listing(ctx context.Context, id uint64) (*model.Listing, error) {
	var l model.Listing
	err := s.db.WithContext(ctx).First(&l, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &l, err
}

func (s *GormStore) OpenListings(ctx context.Context, limit int) ([]model.Listing, error) {
	var out []model.Listing
	err := s.db.WithContext(ctx).
		Where("status = ?", model.ListingOpen).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) Withdrawal(ctx context.Context, id uint64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := s.db.WithContext(ctx).First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &w, err
}

func (s *GormStore) UnmatchedDeposits(ctx context.Context, limit int) ([]model.DepositRecord, error) {
	var out []model.DepositRecord
	err := s.db.WithContext(ctx).
		Where("credited = ?", false).
		Order("observed_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) CountUnmatchedDeposits(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.DepositRecord{}).
		Where("credited = ?", false).
		Count(&n).Error
	return n, err
}

func (s *GormStore) PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	var out []model.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", "PENDING").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormStore) MarkOutboxSent(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", "SENT").Error
}

// gormTx 实现 Tx。行级锁由 FOR UPDATE 提供, 版本号写回兜底。
type gormTx struct {
	tx *gorm.DB
}

func (t *gormTx) PlayerForUpdate(userID string) (*model.Player, error) {
	var p model.Player
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (t *gormTx) PlayerByMemo(memo string) (*model.Player, error) {
	var p model.Player
	err := t.tx.Where("memo = ?", memo).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (t *gormTx) CreatePlayer(p *model.Player) error {
	err := t.tx.Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (t *gormTx) SavePlayer(p *model.Player) error {
	// 乐观锁: WHERE version = 旧值。Memo 不在更新列里 (不可变)。
	res := t.tx.Model(&model.Player{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"goblins":         p.Goblins,
			"gold":            p.Gold,
			"ton_balance":     p.TonBalance,
			"last_accrual_at": p.LastAccrualAt,
			"version":         p.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errno.ErrConflict
	}
	p.Version++
	return nil
}

func (t *gormTx) ListingForUpdate(id uint64) (*model.Listing, error) {
	var l model.Listing
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&l, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &l, err
}

func (t *gormTx) CreateListing(l *model.Listing) error {
	return t.tx.Create(l).Error
}

func (t *gormTx) SaveListing(l *model.Listing) error {
	return t.tx.Save(l).Error
}

func (t *gormTx) DepositByTxID(externalTxID string) (*model.DepositRecord, error) {
	var d model.DepositRecord
	err := t.tx.Where("external_tx_id = ?", externalTxID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (t *gormTx) CreateDeposit(d *model.DepositRecord) error {
	err := t.tx.Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (t *gormTx) SaveDeposit(d *model.DepositRecord) error {
	return t.tx.Save(d).Error
}

func (t *gormTx) WithdrawalForUpdate(id uint64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &w, err
}

func (t *gormTx) CreateWithdrawal(w *model.Withdrawal) error {
	return t.tx.Create(w).Error
}

func (t *gormTx) SaveWithdrawal(w *model.Withdrawal) error {
	return t.tx.Save(w).Error
}

func (t *gormTx) AppendLedger(e *model.LedgerEntry) error {
	return t.tx.Create(e).Error
}

func (t *gormTx) Outbox(topic, key string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := model.OutboxMessage{
		Topic:   topic,
		Key:     key,
		Payload: payloadBytes,
		Status:  "PENDING",
	}
	return t.tx.Create(&msg).Error
}
