package relay

import (
	"context"
	"time"

	"goblin-core/internal/service/mq"
	"goblin-core/internal/store"
	"goblin-core/pkg/logger"

	"go.uber.org/zap"
)

const batchSize = 50

// Service 把本地消息表 (outbox) 的待发消息搬运到 MQ。
// 投递语义 at-least-once: 发送成功才置 SENT, 置 SENT 失败会重发,
// 消费端必须按业务键幂等。
type Service struct {
	store    store.Store
	producer mq.Producer
	interval time.Duration
}

func New(st store.Store, producer mq.Producer) *Service {
	return &Service{
		store:    st,
		producer: producer,
		interval: 500 * time.Millisecond,
	}
}

func (s *Service) Start(ctx context.Context) {
	logger.Info("outbox relay 启动")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox relay 停止")
			return
		case <-ticker.C:
			s.Drain(ctx)
		}
	}
}

// Drain 搬运一批待发消息。独立方法方便测试和关停前的最后一冲。
func (s *Service) Drain(ctx context.Context) {
	messages, err := s.store.PendingOutbox(ctx, batchSize)
	if err != nil {
		logger.Error("查询 outbox 失败", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	for _, msg := range messages {
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Error("outbox 投递失败",
				zap.Uint64("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Error(err))
			continue
		}
		if err := s.store.MarkOutboxSent(ctx, msg.ID); err != nil {
			// 下个周期会重发, 消费端幂等兜底
			logger.Error("outbox 置 SENT 失败", zap.Uint64("id", msg.ID), zap.Error(err))
		}
	}
}
