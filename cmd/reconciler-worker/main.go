package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"goblin-core/internal/event"
	"goblin-core/internal/service/deposit"
	"goblin-core/internal/service/mq"
	"goblin-core/internal/service/withdraw"
	"goblin-core/internal/store"

	"goblin-core/pkg/config"
	"goblin-core/pkg/database"
	"goblin-core/pkg/lock"
	"goblin-core/pkg/logger"

	"go.uber.org/zap"
)

// reconciler-worker 消费链上层的事件:
//   - 入金观察 -> MEMO 对账入账
//   - 提现执行结果 -> 状态机迁移 (失败退款)
//
// 和 game-server 共用一套存储和锁, 可以水平扩展 (消费组负载均衡)。
func main() {
	config.Init()
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

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
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	locker := lock.NewRedisLock(rdb)
	st := store.NewGormStore(db, locker, config.Global.Ledger.LockTTL, config.Global.Ledger.LockTimeout)

	reconciler := deposit.NewReconciler(st, locker, config.Global.Ledger.LockTTL, config.Global.Ledger.LockTimeout)
	withdrawService := withdraw.New(st, config.Global.Game)

	var consumer mq.Consumer
	if config.Global.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...")
		consumer = mq.NewKafkaConsumer(config.Global.Kafka.Brokers, "gold_reconciler_group")
	} else {
		logger.Info("使用 Redis Streams 作为消息队列...")
		hostname, _ := os.Hostname()
		consumer = mq.NewRedisConsumer(rdb, "gold_reconciler", "reconciler-"+hostname)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.Subscribe(ctx, event.TopicDepositObserved, func(msg *mq.Message) error {
		var ev event.DepositObservedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			logger.Error("入金事件解析失败, 丢弃", zap.String("id", msg.ID), zap.Error(err))
			return nil
		}
		return reconciler.Reconcile(ctx, ev)
	})
	if err != nil {
		logger.Fatal("订阅入金事件失败", zap.Error(err))
	}

	err = consumer.Subscribe(ctx, event.TopicWithdrawResult, func(msg *mq.Message) error {
		var ev event.WithdrawalResultEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			logger.Error("提现回报解析失败, 丢弃", zap.String("id", msg.ID), zap.Error(err))
			return nil
		}
		return withdrawService.HandleResult(ctx, ev)
	})
	if err != nil {
		logger.Fatal("订阅提现回报失败", zap.Error(err))
	}

	logger.Info("reconciler-worker 已启动")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("⚠️  Shutting down worker...")

	cancel()
	_ = consumer.Close()
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("worker 已退出")
}
