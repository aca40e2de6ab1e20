package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// publishers хранит получателей событий outbox.
type publishers struct {
	events     domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	producer   *kafka.Producer
}

// initPublishers подключает Kafka, если брокеры заданы. Без брокеров или при
// ошибке подключения события пишутся в лог, а dead letter отключён.
func initPublishers(cfg Config, logger *log.Entry) publishers {
	fallback := publishers{events: outbox.NewLogPublisher(logger.WithField("publisher", "log"))}

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		logger.Info("kafka brokers are not configured, outbox events go to the log")
		return fallback
	}

	producer, err := kafka.NewProducer(brokers, cfg.ServiceName)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return fallback
	}

	logger.WithFields(log.Fields{
		"brokers": brokers,
		"topic":   cfg.KafkaTopic,
	}).Info("kafka producer initialized")

	p := publishers{
		events:   kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		producer: producer,
	}
	if cfg.KafkaDLQTopic != "" {
		p.deadLetter = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
	}
	return p
}

// close закрывает Kafka producer, если он был создан.
func (p publishers) close(logger *log.Entry) {
	if p.producer == nil {
		return
	}
	if err := p.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
