package job

import (
	"context"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher delivers one outbox message. Implemented by mq.KafkaProducer.
type Publisher interface {
	Publish(ctx context.Context, topic, key, value string) error
}

// OutboxSender relays outbox rows to the broker. Delivery is at least once:
// a crash between publish and MarkSent republishes the message.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	metrics    *metrics.Metrics
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		metrics:    m,
		log:        log.Named("job.outbox"),
		stopCh:     make(chan struct{}),
		interval:   cfg.Jobs.OutboxInterval,
		batchSize:  cfg.Jobs.OutboxBatchSize,
		maxRetry:   cfg.Jobs.OutboxMaxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender exiting on context done")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("load pending outbox messages", zap.Error(err))
		return
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		s.metrics.RecordOutbox("sent")
		if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
			s.log.Error("mark outbox message sent", zap.Int64("id", msg.ID), zap.Error(err))
		}
		return
	}

	s.log.Warn("publish outbox message",
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err),
	)

	if msg.RetryCount+1 >= s.maxRetry {
		s.metrics.RecordOutbox("failed")
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("mark outbox message failed", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			s.log.Error("outbox message exceeded max retries", zap.Int64("id", msg.ID), zap.String("event_type", msg.EventType))
		}
		return
	}

	s.metrics.RecordOutbox("retry")
	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("increment outbox retry count", zap.Int64("id", msg.ID), zap.Error(err))
	}
}
