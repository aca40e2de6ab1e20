// Command dlq-replay перечитывает dead-letter topic и возвращает исходные
// события заказа в рабочий topic. Без -execute только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	clientID        = "storefront-dlq-replay"
	envKafkaBrokers = "KAFKA_BROKERS"
)

type options struct {
	brokers []string
	source  string
	target  string
	limit   int
	execute bool
	tail    bool
	idle    time.Duration
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
	)
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers, defaults to $"+envKafkaBrokers)
	fs.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "dead-letter topic to read")
	fs.StringVar(&opts.target, "target-topic", kafka.TopicOrderEvents, "topic to republish into")
	fs.IntVar(&opts.limit, "limit", 100, "maximum number of dead letters to inspect")
	fs.BoolVar(&opts.execute, "execute", false, "republish instead of listing")
	fs.BoolVar(&opts.tail, "from-newest", false, "inspect the last -limit messages of each partition")
	fs.DurationVar(&opts.idle, "idle-timeout", 2*time.Second, "stop reading a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	opts.brokers = splitBrokers(brokers)

	var problems []string
	if len(opts.brokers) == 0 {
		problems = append(problems, "brokers are required (-brokers or "+envKafkaBrokers+")")
	}
	if strings.TrimSpace(opts.source) == "" {
		problems = append(problems, "-source-topic is empty")
	}
	if strings.TrimSpace(opts.target) == "" {
		problems = append(problems, "-target-topic is empty")
	}
	if opts.limit < 1 {
		problems = append(problems, "-limit must be positive")
	}
	if opts.idle <= 0 {
		problems = append(problems, "-idle-timeout must be positive")
	}
	if len(problems) > 0 {
		return options{}, errors.New(strings.Join(problems, "; "))
	}
	return opts, nil
}

func splitBrokers(raw string) []string {
	var out []string
	for broker := range strings.SplitSeq(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// offsetReader — часть sarama.Client, нужная для границ партиций.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type dlqPartition interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionReader interface {
	ConsumePartition(topic string, partition int32, offset int64) (dlqPartition, error)
	Close() error
}

// saramaReader сужает sarama.Consumer до partitionReader.
type saramaReader struct{ sarama.Consumer }

func (r saramaReader) ConsumePartition(topic string, partition int32, offset int64) (dlqPartition, error) {
	return r.Consumer.ConsumePartition(topic, partition, offset)
}

type clients struct {
	offsets   offsetReader
	reader    partitionReader
	producer  *kafka.Producer
	publisher domain.OutboxPublisher
}

func (c clients) Close() {
	if c.producer != nil {
		_ = c.producer.Close()
	}
	if c.reader != nil {
		_ = c.reader.Close()
	}
	if c.offsets != nil {
		_ = c.offsets.Close()
	}
}

// dialKafka подменяется в тестах.
var dialKafka = func(opts options) (clients, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return clients{}, fmt.Errorf("kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return clients{}, fmt.Errorf("kafka consumer: %w", err)
	}
	c := clients{offsets: client, reader: saramaReader{consumer}}
	if !opts.execute {
		return c, nil
	}

	producer, err := kafka.NewProducer(opts.brokers, clientID)
	if err != nil {
		c.Close()
		return clients{}, err
	}
	c.producer = producer
	c.publisher = kafka.NewOutboxPublisher(producer, opts.target)
	return c, nil
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

type replayer struct {
	opts      options
	offsets   offsetReader
	reader    partitionReader
	publisher domain.OutboxPublisher
	log       *log.Entry
}

func newReplayer(opts options, c clients) (*replayer, error) {
	if c.offsets == nil || c.reader == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if opts.execute && c.publisher == nil {
		return nil, errors.New("publisher is required in execute mode")
	}
	return &replayer{
		opts:      opts,
		offsets:   c.offsets,
		reader:    c.reader,
		publisher: c.publisher,
		log:       log.WithFields(log.Fields{"component": "dlq-replay", "source_topic": opts.source}),
	}, nil
}

// Run обходит партиции по возрастанию номера, пока не исчерпан общий лимит.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.offsets.Partitions(r.opts.source)
	if err != nil {
		return total, fmt.Errorf("partitions of %s: %w", r.opts.source, err)
	}
	slices.Sort(partitions)

	for _, p := range partitions {
		budget := r.opts.limit - total.processed
		if budget <= 0 {
			break
		}
		got, err := r.drain(ctx, p, budget)
		total.processed += got.processed
		total.replayed += got.replayed
		total.skipped += got.skipped
		if err != nil {
			return total, err
		}
	}

	r.log.WithFields(log.Fields{
		"execute":   r.opts.execute,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// replayWindow выбирает стартовый offset в [oldest, newest). ok=false для пустой партиции.
func replayWindow(oldest, newest int64, budget int, tail bool) (start int64, ok bool) {
	if newest <= oldest {
		return 0, false
	}
	if tail {
		return max(newest-int64(budget), oldest), true
	}
	return oldest, true
}

// drain читает партицию до high-water mark, зафиксированного на старте,
// до исчерпания budget или до idle-таймаута.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("partition %d oldest offset: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("partition %d newest offset: %w", partition, err)
	}
	start, ok := replayWindow(oldest, newest, budget, r.opts.tail)
	if !ok {
		return stats, nil
	}

	pc, err := r.reader.ConsumePartition(r.opts.source, partition, start)
	if err != nil {
		return stats, fmt.Errorf("partition %d consume: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idle)
	defer idle.Stop()

	for stats.processed < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, open := <-pc.Messages():
			if !open || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.opts.idle)

			stats.processed++
			replayed, err := r.handle(ctx, msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset == newest-1 {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle разбирает dead letter и, в режиме execute, публикует исходное событие.
// Нераспознанные записи пропускаются.
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	original, letter, err := kafka.DecodeDeadLetter(msg.Value)
	if err != nil {
		entry.WithError(err).Warn("not a dead letter, skipped")
		return false, nil
	}

	entry = entry.WithFields(log.Fields{
		"outbox_id":     original.ID,
		"event_type":    original.EventType,
		"publish_error": letter.PublishError,
	})
	if !r.opts.execute {
		entry.Info("would replay")
		return true, nil
	}
	if err := r.publisher.Publish(ctx, original); err != nil {
		return false, fmt.Errorf("republish %s: %w", original.ID, err)
	}
	entry.WithField("target_topic", r.opts.target).Info("replayed")
	return true, nil
}

func run(ctx context.Context, opts options) error {
	c, err := dialKafka(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	rp, err := newReplayer(opts, c)
	if err != nil {
		return err
	}
	_, err = rp.Run(ctx)
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dlq-replay:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.WithError(err).Error("dlq replay failed")
		stop()
		os.Exit(1)
	}
}
