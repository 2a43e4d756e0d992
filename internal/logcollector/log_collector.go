package logcollector

import (
	"sync"

	"dmlog-tracer-sol/internal/deepmind"
)

const (
	// DefaultBytesLimit 程序日志的默认字节上限
	DefaultBytesLimit = 10 * 1000

	TruncatedMessage = "Log truncated"
)

type Option func(*LogCollector)

func WithBytesLimit(limit int) Option {
	return func(c *LogCollector) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithFullFidelity 额外保留一份不截断的日志视图
func WithFullFidelity() Option {
	return func(c *LogCollector) { c.fullFidelity = true }
}

// LogCollector 收集一笔交易执行期间的程序日志。
//
// 每条日志先原样镜像到 trace（不受上限影响），再写入有上限的输出视图：
// 当 bytesWritten+len(message) >= limit 时只追加一次 "Log truncated"，之后全部丢弃。
type LogCollector struct {
	mu   sync.Mutex
	sink deepmind.TraceSink

	limit        int
	fullFidelity bool

	messages     []string
	full         []string
	bytesWritten int
	truncated    bool
}

// New sink 可为 nil（tracing 关闭）
func New(sink deepmind.TraceSink, opts ...Option) *LogCollector {
	c := &LogCollector{
		sink:  sink,
		limit: DefaultBytesLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LogCollector) Log(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink != nil {
		c.sink.AddInstructionLog(message)
	}
	if c.fullFidelity {
		c.full = append(c.full, message)
	}

	if c.bytesWritten+len(message) >= c.limit {
		if !c.truncated {
			c.truncated = true
			c.messages = append(c.messages, TruncatedMessage)
		}
		return
	}
	c.bytesWritten += len(message)
	c.messages = append(c.messages, message)
}

// Messages 返回有上限的日志视图副本，即交易最终的 log messages
func (c *LogCollector) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

// FullMessages 未开启 full fidelity 时返回 nil
func (c *LogCollector) FullMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fullFidelity {
		return nil
	}
	return append([]string(nil), c.full...)
}

func (c *LogCollector) ClearFull() {
	c.mu.Lock()
	c.full = nil
	c.mu.Unlock()
}

func (c *LogCollector) BytesWritten() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesWritten
}

func (c *LogCollector) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}
