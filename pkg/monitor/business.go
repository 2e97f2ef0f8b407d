package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	PlayersRegisteredTotal prometheus.Counter
	GoldAccruedTotal       prometheus.Counter
	ExchangesTotal         prometheus.Counter
	GoblinsSoldTotal       *prometheus.CounterVec
	MarketTradesTotal      prometheus.Counter
	MarketVolumeTON        prometheus.Counter
	FeeRevenueTON          prometheus.Counter
	DepositsCreditedTotal  prometheus.Counter
	UnmatchedDeposits      prometheus.Gauge
	WithdrawalsTotal       *prometheus.CounterVec
}

// Global Metrics Instance
var Business *BusinessMetrics

var businessOnce sync.Once

// InitBusinessMetrics 初始化业务指标。promauto 注册到默认 registry,
// 重复注册会 panic, 所以这里用 once 保证只执行一次。
func InitBusinessMetrics() {
	businessOnce.Do(initBusinessMetrics)
}

func initBusinessMetrics() {
	Business = &BusinessMetrics{
		PlayersRegisteredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "goblin_players_registered_total",
			Help: "The total number of registered players",
		}),
		GoldAccruedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "goblin_gold_accrued_total",
			Help: "Total gold credited by production accrual",
		}),
		ExchangesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "goblin_exchanges_total",
			Help: "Total number of gold-to-goblin exchanges",
		}),
		GoblinsSoldTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goblin_shop_goblins_sold_total",
			Help: "Total goblins sold by the shop",
		}, []string{"package"}),
		MarketTradesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "goblin_market_trades_total",
			Help: "Total number of filled market listings",
		}),
		MarketVolumeTON: promauto.NewCounter(prometheus.CounterOpts{
			Name: "goblin_market_volume_ton_total",
			Help: "Total pre-fee TON volume traded on the market",
		}),
		FeeRevenueTON: promauto.NewCounter(prometheus.CounterOpts{
			Name: "goblin_market_fee_revenue_ton_total",
			Help: "Total TON collected as market commission",
		}),
		DepositsCreditedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "goblin_deposits_credited_total",
			Help: "Total number of credited TON deposits",
		}),
		UnmatchedDeposits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "goblin_deposits_unmatched",
			Help: "Observed deposits waiting for a memo match",
		}),
		WithdrawalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goblin_withdrawals_total",
			Help: "Withdrawal requests by terminal status",
		}, []string{"status"}),
	}
}
