package svc

import (
	"context"
	"fmt"
	"time"

	"dmlog-tracer-sol/internal/announce"
	"dmlog-tracer-sol/internal/config"
	"dmlog-tracer-sol/internal/deepmind"
	"dmlog-tracer-sol/internal/mq"
	"dmlog-tracer-sol/internal/pkg/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
)

// ServiceContext 包含 tracer 进程共享的资源
type ServiceContext struct {
	Config   config.TracerConfig
	Tracer   *deepmind.Tracer
	Producer *kafka.Producer // 未配置 Kafka 时为 nil
	Redis    *redis.Client   // 未配置 Redis 时为 nil
}

// NewServiceContext 按配置初始化二级通知通道与 Tracer
func NewServiceContext(c config.TracerConfig, fns ...deepmind.TracerOption) (*ServiceContext, error) {
	opts, err := c.DeepmindConf.ToTracerOptions()
	if err != nil {
		return nil, err
	}

	sc := &ServiceContext{Config: c}
	var announcers []deepmind.Announcer

	// 1. Kafka 批次通知
	if c.KafkaProducerConf.Enabled() {
		producer, err := mq.NewKafkaProducer(c.KafkaProducerConf.ToKafkaOption())
		if err != nil {
			logger.Errorf("[svc] Kafka producer 初始化失败: %v", err)
			return nil, err
		}
		sc.Producer = producer

		ka := announce.NewKafkaAnnouncer(producer, c.KafkaProducerConf.Topic, c.KafkaProducerConf.Partitions)
		if err := ka.Validate(); err != nil {
			sc.Close()
			return nil, err
		}
		announcers = append(announcers, ka)
	}

	// 2. Redis 批次通知
	if c.RedisConf.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.RedisConf.Addr,
			Password: c.RedisConf.Password,
			DB:       c.RedisConf.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			sc.Close()
			return nil, fmt.Errorf("redis ping %s: %w", c.RedisConf.Addr, err)
		}
		sc.Redis = rdb
		announcers = append(announcers, announce.NewRedisAnnouncer(rdb, time.Duration(c.RedisConf.KeyTTLSec)*time.Second))
	}

	// 3. Tracer
	if len(announcers) > 0 {
		fns = append(fns, deepmind.WithAnnouncers(announcers...))
	}
	tracer, err := deepmind.NewTracer(opts, fns...)
	if err != nil {
		sc.Close()
		return nil, err
	}
	sc.Tracer = tracer

	logger.Infof("[svc] 服务上下文初始化完成, deepmind enabled=%v, announcers=%d", tracer.Enabled(), len(announcers))
	return sc, nil
}

// Close 关闭服务上下文中的资源
func (sc *ServiceContext) Close() {
	if sc.Producer != nil {
		sc.Producer.Flush(3000)
		sc.Producer.Close()
		sc.Producer = nil
	}
	if sc.Redis != nil {
		_ = sc.Redis.Close()
		sc.Redis = nil
	}
}
