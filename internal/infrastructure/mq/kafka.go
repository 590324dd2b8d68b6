package mq

import (
	"context"
	"fmt"

	"creditledger/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaProducer publishes outbox messages synchronously.
type KafkaProducer struct {
	producer sarama.SyncProducer
	log      *zap.Logger
}

// NewKafkaProducer connects a synchronous producer to the brokers.
func NewKafkaProducer(cfg *config.KafkaConfig, log *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // all in-sync replicas
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1 // required by the idempotent producer
	kafkaConfig.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info("kafka producer created", zap.Strings("brokers", cfg.Brokers))
	return &KafkaProducer{producer: producer, log: log.Named("kafka")}, nil
}

func newKafkaProducer(producer sarama.SyncProducer, log *zap.Logger) *KafkaProducer {
	return &KafkaProducer{producer: producer, log: log}
}

// Publish sends one message keyed by key, so all messages of a key land on
// the same partition in order.
func (p *KafkaProducer) Publish(ctx context.Context, topic, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.log.Debug("message published",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *KafkaProducer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
