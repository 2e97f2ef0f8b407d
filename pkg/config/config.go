package config

import (
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Game   GameConfig   `mapstructure:"game"`
	Market MarketConfig `mapstructure:"market"`
	Ledger LedgerConfig `mapstructure:"ledger"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// GoblinPackage is one purchasable bundle in the shop.
type GoblinPackage struct {
	Goblins  int64  `mapstructure:"goblins"`
	PriceTON string `mapstructure:"price_ton"`
}

func (p GoblinPackage) Price() decimal.Decimal {
	return decimal.RequireFromString(p.PriceTON)
}

// GameConfig holds the production and exchange economics. All rates are
// decimal strings so they survive the yaml/env round trip without float loss.
type GameConfig struct {
	RatePerHour      string                   `mapstructure:"rate_per_hour"`      // gold per goblin per hour
	StartingGoblins  int64                    `mapstructure:"starting_goblins"`   // grant on first init
	ExchangeMinGold  string                   `mapstructure:"exchange_min_gold"`  // minimum gold per exchange
	ExchangeRate     string                   `mapstructure:"exchange_rate"`      // goblins per unit of gold (0.95 = 100 gold -> 95 goblins)
	MinWithdrawalTON string                   `mapstructure:"min_withdrawal_ton"` // minimum TON per withdrawal request
	Packages         map[string]GoblinPackage `mapstructure:"packages"`
}

func (g GameConfig) Rate() decimal.Decimal { return decimal.RequireFromString(g.RatePerHour) }
func (g GameConfig) ExchangeMin() decimal.Decimal {
	return decimal.RequireFromString(g.ExchangeMinGold)
}
func (g GameConfig) GoblinRate() decimal.Decimal { return decimal.RequireFromString(g.ExchangeRate) }
func (g GameConfig) MinWithdrawal() decimal.Decimal {
	return decimal.RequireFromString(g.MinWithdrawalTON)
}

type MarketConfig struct {
	MinGold        string        `mapstructure:"min_gold"`   // minimum gold per listing
	BuyerFee       string        `mapstructure:"buyer_fee"`  // fraction of listing total, on top of the price
	SellerFee      string        `mapstructure:"seller_fee"` // fraction of listing total, withheld from proceeds
	FeeCollectorID string        `mapstructure:"fee_collector_id"`
	FeedLimit      int           `mapstructure:"feed_limit"`
	FeedCacheTTL   time.Duration `mapstructure:"feed_cache_ttl"`
}

func (m MarketConfig) Min() decimal.Decimal       { return decimal.RequireFromString(m.MinGold) }
func (m MarketConfig) BuyerRate() decimal.Decimal { return decimal.RequireFromString(m.BuyerFee) }
func (m MarketConfig) SellerRate() decimal.Decimal {
	return decimal.RequireFromString(m.SellerFee)
}

type LedgerConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"` // give up with Busy after this
	LockTTL     time.Duration `mapstructure:"lock_ttl"`     // crash-safety expiry on distributed locks
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量覆盖, 例如 DB_HOST -> db.host
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "goblin_user")
	viper.SetDefault("db.password", "goblin_password")
	viper.SetDefault("db.name", "goblin_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	// 游戏经济参数 (产量/兑换/商店)
	viper.SetDefault("game.rate_per_hour", "0.014")
	viper.SetDefault("game.starting_goblins", 3000)
	viper.SetDefault("game.exchange_min_gold", "100")
	viper.SetDefault("game.exchange_rate", "0.95")
	viper.SetDefault("game.min_withdrawal_ton", "1")
	viper.SetDefault("game.packages", map[string]map[string]interface{}{
		"small": {"goblins": 3000, "price_ton": "1"},
		"large": {"goblins": 15000, "price_ton": "5"},
	})

	viper.SetDefault("market.min_gold", "100")
	viper.SetDefault("market.buyer_fee", "0.05")
	viper.SetDefault("market.seller_fee", "0.05")
	viper.SetDefault("market.fee_collector_id", "fee_collector")
	viper.SetDefault("market.feed_limit", 50)
	viper.SetDefault("market.feed_cache_ttl", "5s")

	viper.SetDefault("ledger.lock_timeout", "3s")
	viper.SetDefault("ledger.lock_ttl", "10s")
}
