package main

import (
	"context"
	"fmt"

	"goblin-core/internal/handler"
	"goblin-core/internal/model"
	"goblin-core/internal/server"
	"goblin-core/internal/service/accrual"
	"goblin-core/internal/service/cronjob"
	"goblin-core/internal/service/deposit"
	"goblin-core/internal/service/game"
	"goblin-core/internal/service/market"
	"goblin-core/internal/service/mq"
	"goblin-core/internal/service/relay"
	"goblin-core/internal/service/withdraw"
	"goblin-core/internal/store"

	"goblin-core/pkg/cache"
	"goblin-core/pkg/config"
	"goblin-core/pkg/database"
	"goblin-core/pkg/lock"
	"goblin-core/pkg/logger"
	"goblin-core/pkg/monitor"

	"go.uber.org/zap"
)

func main() {
	// 0. 初始化 Config
	config.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 2. 连接数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 3. 连接 Redis
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 4. 数据库迁移
	if config.Global.App.Env == "development" {
		logger.Info("开发环境: 尝试自动迁移 Schema (GORM AutoMigrate)...")
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
		logger.Info("数据库自动迁移完成 (Dev Mode)")
	} else {
		logger.Info("生产环境: 跳过 AutoMigrate, 请使用 migrate 工具管理 Schema")
	}

	// 5. 监控指标
	monitor.Init()

	// 6. 账本存储 (多实例部署用 Redis 锁串行化账户访问)
	locker := lock.NewRedisLock(rdb)
	st := store.NewGormStore(db, locker, config.Global.Ledger.LockTTL, config.Global.Ledger.LockTimeout)

	// 7. 业务服务
	accrualEngine := accrual.NewEngine(config.Global.Game.Rate())
	gameService := game.New(st, accrualEngine, config.Global.Game)

	feedCache := cache.NewMultiLevelCache(
		cache.NewMemoryCache(config.Global.Market.FeedCacheTTL, config.Global.Market.FeedCacheTTL*10),
		cache.NewRedisCache(rdb),
	)
	marketService := market.New(st, accrualEngine, config.Global.Market, feedCache)
	withdrawService := withdraw.New(st, config.Global.Game)
	reconciler := deposit.NewReconciler(st, locker, config.Global.Ledger.LockTTL, config.Global.Ledger.LockTimeout)

	// 8. 佣金账户
	if err := marketService.EnsureFeeCollector(context.Background()); err != nil {
		logger.Fatal("佣金账户初始化失败", zap.Error(err))
	}

	// 9. 消息队列
	var producer mq.Producer
	if config.Global.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...")
		producer = mq.NewKafkaProducer(config.Global.Kafka.Brokers)
	} else {
		logger.Info("使用 Redis Streams 作为消息队列...")
		producer = mq.NewRedisProducer(rdb)
	}

	// 10. HTTP Router
	r := server.NewHTTPRouter(server.Handlers{
		Game:     handler.NewGameHandler(gameService),
		Market:   handler.NewMarketHandler(marketService),
		Withdraw: handler.NewWithdrawHandler(withdrawService),
		Admin:    handler.NewAdminHandler(reconciler),
	})

	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r)
	bgCtx := app.BackgroundCtx()

	// 11. outbox relay
	relayService := relay.New(st, producer)
	go relayService.Start(bgCtx)

	// 12. 定时任务 (未匹配入金重扫)
	cronService := cronjob.New(reconciler, locker)
	cronService.Start()

	// 13. 运行 (阻塞)
	app.Run()

	// 14. 退出后资源清理
	cronService.Stop()
	logger.Info("正在关闭数据库连接...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("系统已退出")
}
