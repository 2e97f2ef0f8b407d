package event

import "time"

// MQ topics shared by the server, the reconciler worker and the external
// chain layer.
const (
	TopicDepositObserved   = "gold_events_deposit_observed"
	TopicDepositCredited   = "gold_events_deposit_credited"
	TopicWithdrawRequested = "gold_events_withdrawal_requested"
	TopicWithdrawResult    = "gold_events_withdrawal_result"
)

// DepositObservedEvent 链上监控层观察到的一笔带 MEMO 的入金。
// 投递语义是 at-least-once, 消费端按 ExternalTxID 幂等。
type DepositObservedEvent struct {
	ExternalTxID string    `json:"external_tx_id"`
	Memo         string    `json:"memo"`
	Amount       string    `json:"amount"` // Decimal string
	ObservedAt   time.Time `json:"observed_at"`
}

// DepositCreditedEvent 入账完成事件
// Topic: gold_events_deposit_credited
type DepositCreditedEvent struct {
	ExternalTxID string `json:"external_tx_id"`
	PlayerID     string `json:"player_id"`
	Amount       string `json:"amount"`
}

// WithdrawalRequestedEvent 提现申请事件, 外部转账层消费后执行链上转账。
// Topic: gold_events_withdrawal_requested
type WithdrawalRequestedEvent struct {
	WithdrawalID uint64 `json:"withdrawal_id"`
	PlayerID     string `json:"player_id"`
	ToAddress    string `json:"to_address"`
	Amount       string `json:"amount"`
}

// WithdrawalResultEvent 外部转账层回报的终态。
// Status: sent / confirmed / failed
type WithdrawalResultEvent struct {
	WithdrawalID uint64 `json:"withdrawal_id"`
	Status       string `json:"status"`
	TxHash       string `json:"tx_hash,omitempty"`
	Reason       string `json:"reason,omitempty"`
}
