package accrual

import (
	"time"

	"goblin-core/internal/model"

	"github.com/shopspring/decimal"
)

var secondsPerHour = decimal.NewFromInt(3600)

// Engine 计算离线产金。
// delta = goblins * ratePerHour * elapsedSeconds / 3600
// 线性模型: 对任意切分点, 分段结算与一次性结算结果一致。
type Engine struct {
	ratePerHour decimal.Decimal // 每个 goblin 每小时产金
}

func NewEngine(ratePerHour decimal.Decimal) *Engine {
	return &Engine{ratePerHour: ratePerHour}
}

// Delta 返回 [p.LastAccrualAt, now] 区间内的产出, 不修改账户。
// now 在 LastAccrualAt 之前 (时钟回拨) 时返回零。
func (e *Engine) Delta(p *model.Player, now time.Time) decimal.Decimal {
	elapsed := now.Sub(p.LastAccrualAt)
	if elapsed <= 0 || p.Goblins <= 0 {
		return decimal.Zero
	}
	seconds := decimal.NewFromFloat(elapsed.Seconds())
	return decimal.NewFromInt(p.Goblins).
		Mul(e.ratePerHour).
		Mul(seconds).
		Div(secondsPerHour)
}

// Apply 把截至 now 的产出记入账户并推进 LastAccrualAt。
// 所有读写 gold 的操作前必须先调用一次 (懒结算), 同一区间只会被记一次。
// 时钟回拨时不产出也不回退 LastAccrualAt。
func (e *Engine) Apply(p *model.Player, now time.Time) decimal.Decimal {
	delta := e.Delta(p, now)
	if delta.IsZero() {
		if now.After(p.LastAccrualAt) {
			p.LastAccrualAt = now
		}
		return decimal.Zero
	}
	p.Gold = p.Gold.Add(delta)
	p.LastAccrualAt = now
	return delta
}
