// Package kafka публикует события магазина в Kafka через sarama.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ErrProducerClosed возвращается при публикации через nil-producer.
var ErrProducerClosed = errors.New("kafka producer is not initialized")

type Header struct {
	Key   string
	Value string
}

// Message — запись для отправки. Заголовки уходят в заданном порядке.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers []Header
}

func (m Message) record(ts time.Time) *sarama.ProducerMessage {
	rec := &sarama.ProducerMessage{
		Topic:     m.Topic,
		Key:       sarama.StringEncoder(m.Key),
		Value:     sarama.ByteEncoder(m.Value),
		Timestamp: ts,
		Headers:   make([]sarama.RecordHeader, 0, len(m.Headers)),
	}
	for _, h := range m.Headers {
		rec.Headers = append(rec.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: []byte(h.Value)})
	}
	return rec
}

// NewConfig собирает конфигурацию idempotent producer: подтверждение от всех
// реплик и не больше одного запроса в полёте на брокера.
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Compression = sarama.CompressionSnappy
	return cfg
}

// Producer отправляет записи синхронно.
type Producer struct {
	sync sarama.SyncProducer
	log  *log.Entry
	now  func() time.Time
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	sp, err := sarama.NewSyncProducer(brokers, NewConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("kafka: dial %v: %w", brokers, err)
	}
	return NewProducerFromSync(sp), nil
}

// NewProducerFromSync оборачивает готовый SyncProducer, в тестах mocks.SyncProducer.
func NewProducerFromSync(sp sarama.SyncProducer) *Producer {
	return &Producer{
		sync: sp,
		log:  log.WithField("component", "kafka-producer"),
		now:  time.Now,
	}
}

// Send блокируется до подтверждения брокером. SendMessage не принимает ctx,
// поэтому отмена учитывается только до отправки.
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if p == nil || p.sync == nil {
		return ErrProducerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fields := log.Fields{"topic": msg.Topic, "key": msg.Key}
	partition, offset, err := p.sync.SendMessage(msg.record(p.now()))
	if err != nil {
		p.log.WithFields(fields).WithError(err).Error("kafka send failed")
		return fmt.Errorf("kafka: send to %s: %w", msg.Topic, err)
	}

	fields["partition"], fields["offset"] = partition, offset
	p.log.WithFields(fields).Debug("kafka record acknowledged")
	return nil
}

// Close закрывает producer; nil-producer закрывать нечего.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("kafka: close producer: %w", err)
	}
	return nil
}
