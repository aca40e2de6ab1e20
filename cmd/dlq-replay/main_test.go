package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func testOptions() options {
	return options{
		brokers: []string{"localhost:9092"},
		source:  kafka.TopicDeadLetterQueue,
		target:  kafka.TopicOrderEvents,
		limit:   10,
		idle:    50 * time.Millisecond,
	}
}

func TestParseOptions(t *testing.T) {
	env := func(values map[string]string) func(string) string {
		return func(key string) string { return values[key] }
	}

	opts, err := parseOptions([]string{"-limit=5", "-execute", "-from-newest"}, env(map[string]string{envKafkaBrokers: " k1:9092, ,k2:9092 "}))
	require.NoError(t, err)
	assert.Equal(t, options{
		brokers: []string{"k1:9092", "k2:9092"},
		source:  kafka.TopicDeadLetterQueue,
		target:  kafka.TopicOrderEvents,
		limit:   5,
		execute: true,
		tail:    true,
		idle:    2 * time.Second,
	}, opts)

	opts, err = parseOptions([]string{"-brokers=flag:9092"}, env(map[string]string{envKafkaBrokers: "env:9092"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"flag:9092"}, opts.brokers)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no brokers", nil, "brokers are required"},
		{"blank source", []string{"-brokers=k:9092", "-source-topic= "}, "-source-topic is empty"},
		{"blank target", []string{"-brokers=k:9092", "-target-topic="}, "-target-topic is empty"},
		{"zero limit", []string{"-brokers=k:9092", "-limit=0"}, "-limit must be positive"},
		{"zero idle", []string{"-brokers=k:9092", "-idle-timeout=0s"}, "-idle-timeout must be positive"},
		{"unknown flag", []string{"-nope"}, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOptions(tt.args, env(nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err = parseOptions([]string{"-limit=-1", "-idle-timeout=0s"}, env(nil))
	assert.EqualError(t, err, "brokers are required (-brokers or KAFKA_BROKERS); -limit must be positive; -idle-timeout must be positive")
}

func TestReplayWindow(t *testing.T) {
	tests := []struct {
		name           string
		oldest, newest int64
		budget         int
		tail           bool
		wantStart      int64
		wantOK         bool
	}{
		{name: "empty", oldest: 5, newest: 5, budget: 3},
		{name: "from oldest", oldest: 2, newest: 9, budget: 3, wantStart: 2, wantOK: true},
		{name: "tail", oldest: 10, newest: 100, budget: 5, tail: true, wantStart: 95, wantOK: true},
		{name: "tail clamps to oldest", oldest: 7, newest: 9, budget: 5, tail: true, wantStart: 7, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, ok := replayWindow(tt.oldest, tt.newest, tt.budget, tt.tail)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantStart, start)
		})
	}
}

func deadLetterValue(t *testing.T, id string) []byte {
	t.Helper()

	dead, err := domain.NewDeadLetterMessage(domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-" + id,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       []byte(`{"order_id":"order-` + id + `"}`),
	}, errors.New("broker unavailable"), time.Now())
	require.NoError(t, err)

	rec := &recordingSyncProducer{}
	require.NoError(t, kafka.NewOutboxPublisher(kafka.NewProducerFromSync(rec), kafka.TopicDeadLetterQueue).
		Publish(context.Background(), dead))
	value, err := rec.sent[0].Value.Encode()
	require.NoError(t, err)
	return value
}

func mustReplayer(t *testing.T, opts options, offsets *stubOffsetClient, reader *stubPartitionConsumerSource, publisher domain.OutboxPublisher) *replayer {
	t.Helper()
	rp, err := newReplayer(opts, clients{offsets: offsets, reader: reader, publisher: publisher})
	require.NoError(t, err)
	return rp
}

func TestReplayer_DrainDryRun(t *testing.T) {
	offsets := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	reader := &stubPartitionConsumerSource{consumers: map[int32]*stubPartitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Partition: 0, Offset: 0, Value: deadLetterValue(t, "a")},
			{Partition: 0, Offset: 1, Value: []byte(`{"id":"plain","payload":{"order_id":"x"}}`)},
			{Partition: 0, Offset: 2, Value: deadLetterValue(t, "b")},
		}),
	}}

	stats, err := mustReplayer(t, testOptions(), offsets, reader, nil).drain(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 0}}, reader.calls)
	assert.True(t, reader.consumers[0].closed)
}

func TestReplayer_ExecuteRepublishesOriginal(t *testing.T) {
	opts := testOptions()
	opts.execute = true
	offsets := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	reader := &stubPartitionConsumerSource{consumers: map[int32]*stubPartitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: deadLetterValue(t, "a")}}),
	}}
	publisher := &stubPublisher{}

	stats, err := mustReplayer(t, opts, offsets, reader, publisher).drain(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.replayed)
	require.Len(t, publisher.messages, 1)

	replayed := publisher.messages[0]
	assert.Equal(t, "a", replayed.ID)
	assert.Equal(t, "order-a", replayed.AggregateID)
	assert.Equal(t, domain.EventTypeOrderPlaced, replayed.EventType)
	assert.JSONEq(t, `{"order_id":"order-a"}`, string(replayed.Payload))
}

func TestReplayer_TailStartsWithinBudget(t *testing.T) {
	opts := testOptions()
	opts.tail = true
	offsets := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 10, newest: 100}}}
	reader := &stubPartitionConsumerSource{consumers: map[int32]*stubPartitionConsumer{0: closedPartitionConsumer(nil)}}

	_, err := mustReplayer(t, opts, offsets, reader, nil).drain(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 95}}, reader.calls)
}

func TestReplayer_DrainFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("offset lookup", func(t *testing.T) {
		rp := mustReplayer(t, testOptions(), &stubOffsetClient{offsetErr: boom}, &stubPartitionConsumerSource{}, nil)
		_, err := rp.drain(context.Background(), 0, 1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty partition is not read", func(t *testing.T) {
		reader := &stubPartitionConsumerSource{}
		rp := mustReplayer(t, testOptions(), &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}, reader, nil)
		stats, err := rp.drain(context.Background(), 0, 1)
		require.NoError(t, err)
		assert.Zero(t, stats)
		assert.Empty(t, reader.calls)
	})

	t.Run("consume", func(t *testing.T) {
		rp := mustReplayer(t, testOptions(), &stubOffsetClient{offsets: map[int32]offsetRange{0: {newest: 1}}}, &stubPartitionConsumerSource{consumeErr: boom}, nil)
		_, err := rp.drain(context.Background(), 0, 1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("consumer error channel", func(t *testing.T) {
		pc := &stubPartitionConsumer{
			messages: make(chan *sarama.ConsumerMessage),
			errors:   make(chan *sarama.ConsumerError, 1),
		}
		pc.errors <- &sarama.ConsumerError{Topic: kafka.TopicDeadLetterQueue, Err: boom}
		reader := &stubPartitionConsumerSource{consumers: map[int32]*stubPartitionConsumer{0: pc}}
		rp := mustReplayer(t, testOptions(), &stubOffsetClient{offsets: map[int32]offsetRange{0: {newest: 1}}}, reader, nil)
		_, err := rp.drain(context.Background(), 0, 1)
		assert.ErrorIs(t, err, boom)
		assert.True(t, pc.closed)
	})

	t.Run("republish", func(t *testing.T) {
		opts := testOptions()
		opts.execute = true
		reader := &stubPartitionConsumerSource{consumers: map[int32]*stubPartitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 0, Value: deadLetterValue(t, "a")}}),
		}}
		rp := mustReplayer(t, opts, &stubOffsetClient{offsets: map[int32]offsetRange{0: {newest: 1}}}, reader, &stubPublisher{err: boom})
		_, err := rp.drain(context.Background(), 0, 1)
		assert.ErrorIs(t, err, boom)
	})
}

func TestReplayer_IdleTimeoutAndCancel(t *testing.T) {
	offsets := &stubOffsetClient{offsets: map[int32]offsetRange{0: {newest: 10}}}
	silent := func() *stubPartitionConsumerSource {
		return &stubPartitionConsumerSource{consumers: map[int32]*stubPartitionConsumer{0: {
			messages: make(chan *sarama.ConsumerMessage),
			errors:   make(chan *sarama.ConsumerError),
		}}}
	}

	stats, err := mustReplayer(t, testOptions(), offsets, silent(), nil).drain(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Zero(t, stats.processed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := testOptions()
	opts.idle = time.Minute
	_, err = mustReplayer(t, opts, offsets, silent(), nil).drain(ctx, 0, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_RunSharesLimitAcrossPartitions(t *testing.T) {
	opts := testOptions()
	opts.limit = 3

	offsets := &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets: map[int32]offsetRange{
			0: {newest: 2},
			1: {newest: 2},
		},
	}
	reader := &stubPartitionConsumerSource{consumers: map[int32]*stubPartitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Partition: 0, Offset: 0, Value: deadLetterValue(t, "a")},
			{Partition: 0, Offset: 1, Value: deadLetterValue(t, "b")},
		}),
		1: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Partition: 1, Offset: 0, Value: deadLetterValue(t, "c")},
			{Partition: 1, Offset: 1, Value: deadLetterValue(t, "d")},
		}),
	}}

	stats, err := mustReplayer(t, opts, offsets, reader, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 3, replayed: 3}, stats)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 0}, {partition: 1, offset: 0}}, reader.calls)

	_, err = mustReplayer(t, opts, &stubOffsetClient{partitionsErr: errors.New("no topic")}, reader, nil).Run(context.Background())
	assert.ErrorContains(t, err, "no topic")
}

func TestNewReplayer_Validates(t *testing.T) {
	_, err := newReplayer(testOptions(), clients{reader: &stubPartitionConsumerSource{}})
	assert.ErrorContains(t, err, "client and consumer are required")

	opts := testOptions()
	opts.execute = true
	_, err = newReplayer(opts, clients{offsets: &stubOffsetClient{}, reader: &stubPartitionConsumerSource{}})
	assert.ErrorContains(t, err, "publisher is required")
}

func TestRun_ClosesClients(t *testing.T) {
	prev := dialKafka
	t.Cleanup(func() { dialKafka = prev })

	offsets := &stubOffsetClient{}
	reader := &stubPartitionConsumerSource{}
	dialKafka = func(options) (clients, error) {
		return clients{offsets: offsets, reader: reader}, nil
	}

	require.NoError(t, run(context.Background(), testOptions()))
	assert.True(t, offsets.closed)
	assert.True(t, reader.closed)

	dialKafka = func(options) (clients, error) {
		return clients{}, errors.New("dial failed")
	}
	assert.ErrorContains(t, run(context.Background(), testOptions()), "dial failed")
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if s.offsetErr != nil {
		return 0, s.offsetErr
	}
	r := s.offsets[partition]
	if marker == sarama.OffsetOldest {
		return r.oldest, nil
	}
	return r.newest, nil
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return s.partitions, nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]*stubPartitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (dlqPartition, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, errors.New("unknown partition")
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	pc := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(messages)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range messages {
		pc.messages <- msg
	}
	close(pc.messages)
	return pc
}

type stubPublisher struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
	err      error
}

func (s *stubPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

// recordingSyncProducer запоминает отправленные сообщения.
type recordingSyncProducer struct {
	sarama.SyncProducer
	sent []*sarama.ProducerMessage
}

func (r *recordingSyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	r.sent = append(r.sent, msg)
	return 0, int64(len(r.sent) - 1), nil
}

func (r *recordingSyncProducer) Close() error { return nil }
