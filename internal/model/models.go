package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Player 玩家账户表
// 核心设计: Version 字段实现乐观锁, 所有余额变更都要带版本号更新。
// Memo 一经分配永不变更、永不复用 (充值对账的唯一关联键)。
type Player struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID        string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"user_id"`
	Memo          string          `gorm:"type:char(6);not null;uniqueIndex" json:"memo"`
	Goblins       int64           `gorm:"not null;default:0" json:"goblins"`
	Gold          decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"gold"`
	TonBalance    decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"ton_balance"`
	LastAccrualAt time.Time       `gorm:"not null" json:"last_accrual_at"`
	Version       uint64          `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Listing 状态机: open -> filled / cancelled, 终态不可再变更。
const (
	ListingOpen      = "open"
	ListingFilled    = "filled"
	ListingCancelled = "cancelled"
)

// Listing 金市挂单表
// 挂单创建时 GoldAmount 从卖家余额转入托管, 成交释放给买家, 取消退回卖家。
type Listing struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID     string          `gorm:"type:varchar(64);not null;index" json:"seller_id"`
	GoldAmount   decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"gold_amount"`
	PricePerUnit decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"price_per_unit"`
	TotalPrice   decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"total_price"` // 税前 amount*price
	Status       string          `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DepositRecord 链上充值观察记录
// ExternalTxID 全局唯一 -> 同一笔充值重复投递也只入账一次。
// PlayerID 为空表示 memo 没匹配到账户, 等待人工处理或定时重试。
type DepositRecord struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalTxID string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"external_tx_id"`
	MemoObserved string          `gorm:"type:varchar(32);not null;index" json:"memo_observed"`
	Amount       decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"amount"`
	PlayerID     *string         `gorm:"type:varchar(64);index" json:"player_id,omitempty"`
	Credited     bool            `gorm:"not null;default:false;index" json:"credited"`
	ObservedAt   time.Time       `gorm:"not null" json:"observed_at"`
	CreditedAt   *time.Time      `json:"credited_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Withdrawal 状态机: pending -> sent -> confirmed, 或 pending/sent -> failed -> refunded。
// 只允许前进, confirmed/refunded 为终态。
const (
	WithdrawalPending   = "pending"
	WithdrawalSent      = "sent"
	WithdrawalConfirmed = "confirmed"
	WithdrawalFailed    = "failed"
	WithdrawalRefunded  = "refunded"
)

// Withdrawal 提现记录表
// 申请受理时立即扣减 TON (资金预留), 外部转账层失败则退回。
type Withdrawal struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID  string          `gorm:"type:varchar(64);not null;index" json:"player_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"amount"`
	ToAddress string          `gorm:"type:varchar(255);not null" json:"to_address"`
	TxHash    string          `gorm:"type:varchar(255)" json:"tx_hash"`
	Status    string          `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LedgerEntry 流水表 (append-only)
// 每一次余额变更都在同一个事务里追加一行, 用于审计和守恒校验。
type LedgerEntry struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID    string          `gorm:"type:varchar(64);not null;index" json:"player_id"`
	Type        string          `gorm:"type:varchar(32);not null" json:"type"`
	Amount      decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"amount"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// 流水类型
const (
	EntryAccrual        = "gold_accrual"
	EntryGoblinPurchase = "goblin_purchase"
	EntryGoldExchange   = "gold_exchange"
	EntryListingCreated = "listing_created"
	EntryListingCancel  = "listing_cancelled"
	EntryMarketPurchase = "market_purchase"
	EntryMarketSale     = "market_sale"
	EntryMarketFee      = "market_fee"
	EntryDeposit        = "ton_deposit"
	EntryWithdrawal     = "ton_withdrawal"
	EntryRefund         = "ton_refund"
	EntryAdjustment     = "manual_adjustment"
)

// OutboxMessage 本地消息表 (Transactional Outbox)
type OutboxMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string    `gorm:"type:varchar(255);not null" json:"topic"`
	Key       string    `gorm:"type:varchar(255)" json:"key"` // MQ 分区键 (player id)
	Payload   []byte    `gorm:"type:text;not null" json:"payload"`
	Status    string    `gorm:"type:varchar(50);not null;default:'PENDING';index" json:"status"` // PENDING, SENT
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Player) TableName() string        { return "players" }
func (Listing) TableName() string       { return "market_listings" }
func (DepositRecord) TableName() string { return "deposits" }
func (Withdrawal) TableName() string    { return "withdrawals" }
func (LedgerEntry) TableName() string   { return "ledger_entries" }
func (OutboxMessage) TableName() string { return "outbox_messages" }
