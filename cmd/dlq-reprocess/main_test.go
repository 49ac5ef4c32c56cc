package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
	"github.com/vladislavdragonenkov/northwind-orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/northwind-orders/internal/service/outbox"
)

func deadLetterValue(t *testing.T, outboxID, orderID, eventType string) []byte {
	t.Helper()

	dead, err := json.Marshal(outbox.DeadLetter{
		OutboxID:       outboxID,
		AggregateType:  "order",
		AggregateID:    orderID,
		EventType:      eventType,
		Payload:        json.RawMessage(`{"order_id":` + orderID + `}`),
		PublishError:   "kafka: broker not available",
		DLQPublishedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.Envelope{
		ID:            outboxID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       dead,
	})
	require.NoError(t, err)
	return value
}

func baseConfig() config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicOrderEvents,
		limit:       10,
		idleTimeout: 50 * time.Millisecond,
	}
}

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig([]string{"-limit", "5", "-execute", "-event-type", "order.shipped"},
		func(key string) string {
			if key == envKafkaBrokers {
				return "broker1:9092, broker2:9092"
			}
			return ""
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.brokers)
	assert.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	assert.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	assert.Equal(t, "order.shipped", cfg.eventType)
	assert.Equal(t, 5, cfg.limit)
	assert.True(t, cfg.execute)
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	noEnv := func(string) string { return "" }

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no brokers", args: nil, wantErr: envKafkaBrokers},
		{name: "zero limit", args: []string{"-brokers", "b:9092", "-limit", "0"}, wantErr: "limit"},
		{name: "same topics", args: []string{"-brokers", "b:9092", "-target-topic", kafka.TopicDeadLetterQueue}, wantErr: "must differ"},
		{name: "zero idle timeout", args: []string{"-brokers", "b:9092", "-idle-timeout", "0s"}, wantErr: "idle-timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readConfig(tt.args, noEnv)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDecodeDeadLetter(t *testing.T) {
	event, err := decodeDeadLetter(deadLetterValue(t, "evt-1", "42", "order.shipped"))
	require.NoError(t, err)

	assert.Equal(t, domain.OutboxMessage{
		ID:            "evt-1",
		AggregateType: "order",
		AggregateID:   "42",
		EventType:     "order.shipped",
		Payload:       []byte(`{"order_id":42}`),
	}, event)
}

func TestDecodeDeadLetter_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"not json":          []byte("garbage"),
		"no payload":        []byte(`{"id":"evt-1"}`),
		"payload not dlq":   []byte(`{"id":"evt-1","payload":"text"}`),
		"no original event": []byte(`{"id":"evt-1","payload":{"outbox_id":"evt-1"}}`),
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeDeadLetter(value)
			assert.Error(t, err)
		})
	}
}

func TestRunReplay_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{1, 0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}, 1: {oldest: 5, newest: 6}},
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: bufferedPartitionConsumer(
			&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: deadLetterValue(t, "evt-1", "1", "order.created")},
			&sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: []byte("garbage")},
		),
		1: bufferedPartitionConsumer(
			&sarama.ConsumerMessage{Partition: 1, Offset: 5, Value: deadLetterValue(t, "evt-2", "2", "order.ordered")},
		),
	}}

	stats, err := runReplay(context.Background(), baseConfig(), replayDependencies{client: client, consumer: consumer})
	require.NoError(t, err)

	assert.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 0}, {partition: 1, offset: 5}}, consumer.calls)
}

func TestRunReplay_ExecutePublishesOriginalEvent(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: bufferedPartitionConsumer(
			&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: deadLetterValue(t, "evt-1", "1", "order.created")},
			&sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: deadLetterValue(t, "evt-2", "7", "order.shipped")},
		),
	}}

	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderEvents {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "7" {
			return fmt.Errorf("unexpected key %q", key)
		}
		value, _ := msg.Value.Encode()
		var envelope kafka.Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.ID != "evt-2" || string(envelope.Payload) != `{"order_id":7}` {
			return fmt.Errorf("unexpected envelope %+v", envelope)
		}
		return nil
	})
	producer := kafka.NewProducerFromSync(sync)
	defer producer.Close()

	cfg := baseConfig()
	cfg.execute = true
	cfg.eventType = "order.shipped"

	stats, err := runReplay(context.Background(), cfg, replayDependencies{
		client:    client,
		consumer:  consumer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.targetTopic),
	})
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
}

func TestRunReplay_PublishFailureStops(t *testing.T) {
	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: bufferedPartitionConsumer(
			&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: deadLetterValue(t, "evt-1", "1", "order.created")},
		),
	}}

	cfg := baseConfig()
	cfg.execute = true

	_, err := runReplay(context.Background(), cfg, replayDependencies{
		client:    client,
		consumer:  consumer,
		publisher: failingPublisher{err: errors.New("broker down")},
	})
	assert.ErrorContains(t, err, "broker down")
}

func TestRunReplay_Guards(t *testing.T) {
	_, err := runReplay(context.Background(), baseConfig(), replayDependencies{})
	assert.Error(t, err)

	cfg := baseConfig()
	cfg.execute = true
	_, err = runReplay(context.Background(), cfg, replayDependencies{
		client:   &stubOffsetClient{},
		consumer: &stubPartitionConsumerSource{},
	})
	assert.ErrorContains(t, err, "publisher is required")

	_, err = runReplay(context.Background(), baseConfig(), replayDependencies{
		client:   &stubOffsetClient{partitionsErr: errors.New("metadata")},
		consumer: &stubPartitionConsumerSource{},
	})
	assert.ErrorContains(t, err, "metadata")
}

func TestProcessPartition_FromNewestAndIdle(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 100}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: bufferedPartitionConsumer(),
	}}

	cfg := baseConfig()
	cfg.fromNewest = true

	stats, err := processPartition(context.Background(), replayDependencies{client: client, consumer: consumer}, cfg, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.processed)
	assert.Equal(t, []consumeCall{{partition: 0, offset: 90}}, consumer.calls)
}

func TestProcessPartition_ContextCancelled(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: bufferedPartitionConsumer(),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := baseConfig()
	cfg.idleTimeout = time.Minute
	_, err := processPartition(ctx, replayDependencies{client: client, consumer: consumer}, cfg, 0, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error { return nil }

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers map[int32]partitionConsumer
	calls     []consumeCall
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error { return nil }

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                              { return nil }

// bufferedPartitionConsumer keeps the message channel open so the idle timer ends the scan.
func bufferedPartitionConsumer(messages ...*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type failingPublisher struct {
	err error
}

func (p failingPublisher) Publish(domain.OutboxMessage) error { return p.err }
