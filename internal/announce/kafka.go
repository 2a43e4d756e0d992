package announce

import (
	"context"
	"errors"
	"strconv"

	"dmlog-tracer-sol/internal/deepmind"
	"dmlog-tracer-sol/internal/mq"
	"dmlog-tracer-sol/internal/pkg/utils"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

var _ deepmind.Announcer = (*KafkaAnnouncer)(nil)

// KafkaAnnouncer 批次落盘后向 topic 发送一条通知：key=batch_id，value=文件名
type KafkaAnnouncer struct {
	producer   *kafka.Producer
	topic      string
	partitions uint32
}

// NewKafkaAnnouncer partitions<=0 时交给 librdkafka 按 key 分区
func NewKafkaAnnouncer(producer *kafka.Producer, topic string, partitions int) *KafkaAnnouncer {
	p := uint32(0)
	if partitions > 0 {
		p = uint32(partitions)
	}
	return &KafkaAnnouncer{producer: producer, topic: topic, partitions: p}
}

func (a *KafkaAnnouncer) Name() string {
	return "kafka"
}

func (a *KafkaAnnouncer) Announce(ctx context.Context, batchID uint64, filename string) error {
	job := a.buildJob(batchID, filename)

	timeout := defaultPerMessageTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = timeUntil(deadline)
	}

	_, failed := mq.SendKafkaJobs(ctx, a.producer, []*mq.KafkaJob{job}, timeout)
	if len(failed) > 0 {
		return failed[0].Err
	}
	return nil
}

func (a *KafkaAnnouncer) buildJob(batchID uint64, filename string) *mq.KafkaJob {
	partition := kafka.PartitionAny
	if a.partitions > 0 {
		partition = int32(utils.PartitionForID(batchID, a.partitions))
	}
	return &mq.KafkaJob{
		Topic:     a.topic,
		Partition: partition,
		Key:       []byte(strconv.FormatUint(batchID, 10)),
		Value:     []byte(filename),
	}
}

var errEmptyTopic = errors.New("kafka announce topic is empty")

// Validate 在启动阶段检查配置
func (a *KafkaAnnouncer) Validate() error {
	if a.topic == "" {
		return errEmptyTopic
	}
	return nil
}
