package mq

import (
	"context"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "dmlog-test-topic"

// 指向不可达的 broker：librdkafka 延迟连接，创建生产者不会失败，消息永远拿不到回执
func createUnreachableProducer(t *testing.T) *kafka.Producer {
	t.Helper()
	producer, err := kafka.NewProducer(producerConfig(KafkaProducerOption{Brokers: "127.0.0.1:1"}))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = producer.Purge(kafka.PurgeQueue | kafka.PurgeInFlight | kafka.PurgeNonBlocking)
		producer.Close()
	})
	return producer
}

func TestSendKafkaJobs_Empty(t *testing.T) {
	producer := createUnreachableProducer(t)

	ok, failed := SendKafkaJobs(context.Background(), producer, []*KafkaJob{}, time.Second)
	assert.Empty(t, ok, "空消息列表应该返回空成功列表")
	assert.Empty(t, failed, "空消息列表应该返回空失败列表")
}

func TestSendKafkaJobs_Timeout(t *testing.T) {
	producer := createUnreachableProducer(t)

	jobs := []*KafkaJob{
		{Topic: testTopic, Partition: kafka.PartitionAny, Key: []byte("1"), Value: []byte("dmlog-1-1")},
		{Topic: testTopic, Partition: kafka.PartitionAny, Key: []byte("2"), Value: []byte("dmlog-2-2")},
	}

	ok, failed := SendKafkaJobs(context.Background(), producer, jobs, 50*time.Millisecond)
	assert.Empty(t, ok, "由于超时，不应该有成功的消息")
	require.Len(t, failed, 2)
	for _, res := range failed {
		assert.Contains(t, res.Err.Error(), "delivery timeout")
	}
}

func TestSendKafkaJobs_ContextCancelled(t *testing.T) {
	producer := createUnreachableProducer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := []*KafkaJob{{Topic: testTopic, Partition: kafka.PartitionAny, Value: []byte("x")}}
	ok, failed := SendKafkaJobs(ctx, producer, jobs, time.Minute)
	assert.Empty(t, ok)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, context.Canceled)
}

func TestProducerConfigDefaults(t *testing.T) {
	cfg := producerConfig(KafkaProducerOption{Brokers: "b1:9092", BatchSize: 0, LingerMs: -1})

	v, err := cfg.Get("batch.size", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, v)

	v, err = cfg.Get("linger.ms", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultLingerMs, v)

	v, err = cfg.Get("bootstrap.servers", nil)
	require.NoError(t, err)
	assert.Equal(t, "b1:9092", v)
}
