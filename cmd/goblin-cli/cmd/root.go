package cmd

import (
	"fmt"
	"os"

	"goblin-core/internal/store"

	"goblin-core/pkg/config"
	"goblin-core/pkg/database"
	"goblin-core/pkg/lock"
	"goblin-core/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "goblin-cli",
	Short: "运维工具: 查玩家、看未匹配入金、手工调账",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.Init()
		logger.Init(config.Global.App.Env)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore 连接生产存储。调账走和线上一样的 Redis 锁, 不会和运行中的服务打架。
func openStore() (store.Store, func(), error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	locker := lock.NewRedisLock(rdb)
	st := store.NewGormStore(db, locker, config.Global.Ledger.LockTTL, config.Global.Ledger.LockTimeout)

	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		rdb.Close()
	}
	return st, cleanup, nil
}
