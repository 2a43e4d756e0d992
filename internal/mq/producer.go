package mq

import (
	"context"
	"fmt"
	"time"

	"dmlog-tracer-sol/internal/pkg/logger"
	"dmlog-tracer-sol/internal/pkg/utils"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	defaultBatchSize = 32 * 1024
	defaultLingerMs  = 5
)

type TopicSpec struct {
	Topic      string // topic名称
	Partitions int    // 分区数
}

type KafkaProducerOption struct {
	Brokers   string // Kafka broker 地址，多个用英文逗号分隔（如 "localhost:9092,localhost:9093"）
	BatchSize int    // 批处理大小（单位字节），如 32768 = 32KB
	LingerMs  int    // 批处理最大延迟（毫秒），建议 5~20ms 之间

	Topics []TopicSpec
}

// NewKafkaProducer 确保 topic 存在后创建 Kafka 生产者
func NewKafkaProducer(cfg KafkaProducerOption) (*kafka.Producer, error) {
	if err := ensureTopics(cfg); err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return producer, nil
}

func ensureTopics(cfg KafkaProducerOption) error {
	// 创建管理员客户端来管理 topic
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, err := adminClient.GetMetadata(nil, true, 10000)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	// replicationFactor 是 Kafka 主题（Topic）中每个分区（Partition）副本的数量
	replicationFactor := 1
	if len(meta.Brokers) > 1 {
		replicationFactor = 2
	}
	logger.Infof("[mq] Kafka broker count = %d, using replication factor = %d", len(meta.Brokers), replicationFactor)

	existingTopics := make(map[string]bool, len(meta.Topics))
	for _, topic := range meta.Topics {
		existingTopics[topic.Topic] = true
	}

	var topicsToCreate []kafka.TopicSpecification
	for _, topic := range cfg.Topics {
		if topic.Topic == "" || existingTopics[topic.Topic] {
			continue
		}
		partitions := topic.Partitions
		if partitions <= 0 {
			partitions = 1
		}
		topicsToCreate = append(topicsToCreate, kafka.TopicSpecification{
			Topic:             topic.Topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}
	if len(topicsToCreate) == 0 {
		return nil
	}

	results, err := adminClient.CreateTopics(ctx, topicsToCreate)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
		}
	}
	return nil
}

func producerConfig(cfg KafkaProducerOption) *kafka.ConfigMap {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := cfg.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}

	localIP, _ := utils.GetLocalIP()
	if localIP == "" {
		localIP = "unknown"
	}

	return &kafka.ConfigMap{
		// 基础连接
		"bootstrap.servers": cfg.Brokers,
		"client.id":         fmt.Sprintf("dmlog-tracer-%s", localIP),

		// 可靠性保障
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5, // 幂等场景下最大值为 5

		// 超时与重试
		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		// 通知消息很小，批量参数沿用默认
		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "none",
	}
}
