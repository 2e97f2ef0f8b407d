package store

import (
	"context"
	"errors"

	"goblin-core/internal/model"
)

// 数据层哨兵错误。业务错误码的映射在 service 层完成。
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Tx 是一次原子变更内的账本视图。
// 实现必须保证: fn 返回 error 时所有写入全部回滚, 不存在半提交状态。
type Tx interface {
	// PlayerForUpdate 加载并独占锁定一个玩家账户。
	PlayerForUpdate(userID string) (*model.Player, error)
	PlayerByMemo(memo string) (*model.Player, error)
	CreatePlayer(p *model.Player) error
	// SavePlayer 带乐观锁写回: 版本号不匹配返回 errno.ErrConflict。
	SavePlayer(p *model.Player) error

	ListingForUpdate(id uint64) (*model.Listing, error)
	CreateListing(l *model.Listing) error
	SaveListing(l *model.Listing) error

	DepositByTxID(externalTxID string) (*model.DepositRecord, error)
	// CreateDeposit 在 external_tx_id 已存在时返回 ErrDuplicate,
	// 这是重复投递下 exactly-once 入账的最后一道防线。
	CreateDeposit(d *model.DepositRecord) error
	SaveDeposit(d *model.DepositRecord) error

	WithdrawalForUpdate(id uint64) (*model.Withdrawal, error)
	CreateWithdrawal(w *model.Withdrawal) error
	SaveWithdrawal(w *model.Withdrawal) error

	// AppendLedger 追加一行流水 (与余额变更同事务)。
	AppendLedger(e *model.LedgerEntry) error
	// Outbox 在同一事务中写入待发 MQ 消息 (Transactional Outbox)。
	Outbox(topic, key string, payload interface{}) error
}

// Store 是账本的持久化入口。
type Store interface {
	// Atomic 以独占方式执行 fn。keys 是本次变更涉及的全部账户 id,
	// 实现按排序后的顺序加锁 (全局固定顺序, 防死锁), 超时返回 errno.ErrBusy。
	Atomic(ctx context.Context, keys []string, fn func(tx Tx) error) error

	// 只读查询 (无锁快照)。
	Player(ctx context.Context, userID string) (*model.Player, error)
	// PlayerIDByMemo 充值对账用: memo -> user_id。匹配结果仅作路由,
	// 入账事务内还会重新校验。
	PlayerIDByMemo(ctx context.Context, memo string) (string, error)
	Listing(ctx context.Context, id uint64) (*model.Listing, error)
	OpenListings(ctx context.Context, limit int) ([]model.Listing, error)
	Withdrawal(ctx context.Context, id uint64) (*model.Withdrawal, error)
	UnmatchedDeposits(ctx context.Context, limit int) ([]model.DepositRecord, error)
	CountUnmatchedDeposits(ctx context.Context) (int64, error)

	// Outbox relay 支撑。
	PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id uint64) error
}

// SortKeys 去重并排序锁键, 所有实现共用这一个加锁顺序。
func SortKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	// 键很少 (1-3 个), 插入排序足够
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
