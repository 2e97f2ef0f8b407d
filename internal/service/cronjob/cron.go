package cronjob

import (
	"context"
	"time"

	"goblin-core/internal/service/deposit"
	"goblin-core/pkg/lock"
	"goblin-core/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const retryBatch = 200

// Service 定时任务。目前只有一个: 重扫未匹配入金
// (玩家先充值后注册的情况, memo 会在注册后出现)。
type Service struct {
	cron       *cron.Cron
	reconciler *deposit.Reconciler
	locker     lock.DistributedLock
}

func New(reconciler *deposit.Reconciler, locker lock.DistributedLock) *Service {
	return &Service{
		cron:       cron.New(),
		reconciler: reconciler,
		locker:     locker,
	}
}

func (s *Service) Start() {
	_, _ = s.cron.AddFunc("@every 1m", s.RetryUnmatchedDeposits)

	s.cron.Start()
	logger.Info("Cron Service started")
}

func (s *Service) Stop() {
	s.cron.Stop()
	logger.Info("Cron Service stopped")
}

// RetryUnmatchedDeposits 重扫未匹配入金。
// 多实例部署时靠分布式锁保证同一时刻只有一个节点在跑。
func (s *Service) RetryUnmatchedDeposits() {
	ctx := context.Background()
	lockKey := "cron:lock:retry_unmatched_deposits"

	locked, err := s.locker.Acquire(ctx, lockKey, 30*time.Second)
	if err != nil || !locked {
		logger.Debug("RetryUnmatchedDeposits: 获取锁失败或已有实例在运行")
		return
	}
	defer func() { _ = s.locker.Release(ctx, lockKey) }()

	if err := s.reconciler.Retry(ctx, retryBatch); err != nil {
		logger.Error("重扫未匹配入金失败", zap.Error(err))
	}
}
