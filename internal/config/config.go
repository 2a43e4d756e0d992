package config

import (
	"fmt"
	"os"
	"time"

	"dmlog-tracer-sol/internal/deepmind"
	"dmlog-tracer-sol/internal/mq"
	"dmlog-tracer-sol/internal/pkg/logger"

	"gopkg.in/yaml.v3"
)

// 同一份结构同时服务 go-zero conf（json tag）与 yaml.v3（yaml tag）

type LogConfig struct {
	Format   string `json:"format,optional" yaml:"format"`     // 日志格式，支持 "console" 或 "json"
	LogDir   string `json:"log_dir,optional" yaml:"log_dir"`   // 日志目录（可为相对路径或绝对路径），为空只输出到 stderr
	Level    string `json:"level,optional" yaml:"level"`       // 日志级别：debug / info / warn / error
	Compress bool   `json:"compress,optional" yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// DeepmindConfig trace 开关与批次文件配置
type DeepmindConfig struct {
	Enabled           bool   `json:"enabled,optional" yaml:"enabled"`
	Mode              string `json:"mode,optional" yaml:"mode"`                               // standard / augmented
	BatchFilesPath    string `json:"batch_files_path,optional" yaml:"batch_files_path"`       // 为空时读取 DEEPMIND_BATCH_FILES_PATH
	AnnounceTimeoutMs int    `json:"announce_timeout_ms,optional" yaml:"announce_timeout_ms"` // 单次二级通知超时（毫秒）
}

func (c *DeepmindConfig) ToTracerOptions() (deepmind.Options, error) {
	mode, err := deepmind.ParseMode(c.Mode)
	if err != nil {
		return deepmind.Options{}, err
	}
	return deepmind.Options{
		Enabled:         c.Enabled,
		Mode:            mode,
		BasePath:        c.BatchFilesPath,
		AnnounceTimeout: time.Duration(c.AnnounceTimeoutMs) * time.Millisecond,
	}, nil
}

// KafkaProducerConfig 批次通知的 Kafka 生产者配置，brokers 为空时不启用
type KafkaProducerConfig struct {
	Brokers   string `json:"brokers,optional" yaml:"brokers"`       // Kafka broker 地址，多个用英文逗号分隔
	BatchSize int    `json:"batch_size,optional" yaml:"batch_size"` // 批处理大小（单位字节）
	LingerMs  int    `json:"linger_ms,optional" yaml:"linger_ms"`   // 批处理最大延迟（毫秒）

	Topic      string `json:"topic,optional" yaml:"topic"`           // 批次通知 topic
	Partitions int    `json:"partitions,optional" yaml:"partitions"` // topic 分区数
}

func (c *KafkaProducerConfig) Enabled() bool {
	return c.Brokers != ""
}

func (c *KafkaProducerConfig) ToKafkaOption() mq.KafkaProducerOption {
	return mq.KafkaProducerOption{
		Brokers:   c.Brokers,
		BatchSize: c.BatchSize,
		LingerMs:  c.LingerMs,
		Topics: []mq.TopicSpec{
			{Topic: c.Topic, Partitions: c.Partitions},
		},
	}
}

// RedisConfig 批次通知写入 Redis，addr 为空时不启用
type RedisConfig struct {
	Addr      string `json:"addr,optional" yaml:"addr"`
	Password  string `json:"password,optional" yaml:"password"`
	DB        int    `json:"db,optional" yaml:"db"`
	KeyTTLSec int    `json:"key_ttl_sec,optional" yaml:"key_ttl_sec"` // 批次 key 的过期时间（秒）
}

func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// GrpcConfig geyser gRPC 客户端连接配置，endpoint 为空时不启动区块订阅
type GrpcConfig struct {
	Endpoint       string   `json:"endpoint,optional" yaml:"endpoint"`               // gRPC 服务端地址
	XToken         string   `json:"x_token,optional" yaml:"x_token"`                 // x-token 认证
	AccountInclude []string `json:"account_include,optional" yaml:"account_include"` // 区块过滤，为空订阅全部
	IncludeVotes   bool     `json:"include_votes,optional" yaml:"include_votes"`     // 是否回放 vote 交易

	// 应用级逻辑心跳（ping）配置
	StreamPingIntervalSec int `json:"stream_ping_interval_sec,default=10" yaml:"stream_ping_interval_sec"` // 应用层 ping 心跳间隔（秒）

	// gRPC Keepalive 底层连接检测配置
	KeepalivePingIntervalSec int `json:"keepalive_ping_interval_sec,default=10" yaml:"keepalive_ping_interval_sec"` // 底层 keepalive 间隔（秒）
	KeepalivePingTimeoutSec  int `json:"keepalive_ping_timeout_sec,default=5" yaml:"keepalive_ping_timeout_sec"`    // 底层 keepalive 超时（秒）

	// gRPC 窗口大小调优（用于大数据流推送）
	InitialWindowSize     int `json:"initial_window_size,default=1073741824" yaml:"initial_window_size"`           // 单流窗口大小（字节）
	InitialConnWindowSize int `json:"initial_conn_window_size,default=1073741824" yaml:"initial_conn_window_size"` // 整体连接窗口大小（字节）

	// 消息体大小限制
	MaxCallSendMsgSize int `json:"max_call_send_msg_size,default=67108864" yaml:"max_call_send_msg_size"` // 单条消息最大发送字节数
	MaxCallRecvMsgSize int `json:"max_call_recv_msg_size,default=67108864" yaml:"max_call_recv_msg_size"` // 单条消息最大接收字节数

	// 超时与重连策略
	ReconnectIntervalSec int `json:"reconnect_interval_sec,default=3" yaml:"reconnect_interval_sec"`    // 重连最小间隔（秒）
	ConnectTimeoutSec    int `json:"connect_timeout_sec,default=10" yaml:"connect_timeout_sec"`         // 连接建立超时（秒）
	SendTimeoutSec       int `json:"send_timeout_sec,default=5" yaml:"send_timeout_sec"`                // 发送超时（秒）
	BlockRecvTimeoutSec  int `json:"block_recv_timeout_sec,default=30" yaml:"block_recv_timeout_sec"`   // 多久未收到 block 触发重连（秒）
}

func (c *GrpcConfig) Enabled() bool {
	return c.Endpoint != ""
}

// SlotCheckerConfig 漏块检测，rpc_endpoint 为空时不启用
type SlotCheckerConfig struct {
	RpcEndpoint      string `json:"rpc_endpoint,optional" yaml:"rpc_endpoint"`
	DelayBeforeSec   int    `json:"delay_before_sec,default=30" yaml:"delay_before_sec"`     // 提交后延迟多久再检查（秒）
	CheckIntervalSec int    `json:"check_interval_sec,default=10" yaml:"check_interval_sec"` // 检查周期（秒）
}

type MetricsConfig struct {
	ListenAddr string `json:"listen_addr,optional" yaml:"listen_addr"` // 例如 ":9100"，为空不启动
}

// TracerConfig 主配置
type TracerConfig struct {
	LogConf           LogConfig           `json:"logger,optional" yaml:"logger"`                 // 日志配置
	DeepmindConf      DeepmindConfig      `json:"deepmind" yaml:"deepmind"`                      // trace 配置
	KafkaProducerConf KafkaProducerConfig `json:"kafka_producer,optional" yaml:"kafka_producer"` // Kafka 批次通知
	RedisConf         RedisConfig         `json:"redis,optional" yaml:"redis"`                   // Redis 批次通知
	Grpc              GrpcConfig          `json:"grpc,optional" yaml:"grpc"`                     // geyser 订阅
	SlotCheckerConf   SlotCheckerConfig   `json:"slot_checker,optional" yaml:"slot_checker"`     // 漏块检测
	MetricsConf       MetricsConfig       `json:"metrics,optional" yaml:"metrics"`               // prometheus
}

// Load 使用 yaml.v3 解析配置文件，供工具与测试使用；服务入口走 go-zero conf.MustLoad
func Load(path string) (TracerConfig, error) {
	var c TracerConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}
