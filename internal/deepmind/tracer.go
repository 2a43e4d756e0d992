package deepmind

import (
	"fmt"
	"io"
	"os"

	"dmlog-tracer-sol/internal/pkg/logger"

	"go.uber.org/atomic"
)

// Tracer 进程级的 trace 工厂，持有配置、落盘器和文件序号。
// 并发安全：每个 worker 通过 NewBatch 获得独立的 BatchContext。
type Tracer struct {
	opts       Options
	writer     BatchWriter
	handoff    io.Writer
	announcers []Announcer
	fileSeq    atomic.Uint64
}

type TracerOption func(*Tracer)

// WithBatchWriter 替换默认的文件落盘器
func WithBatchWriter(w BatchWriter) TracerOption {
	return func(t *Tracer) { t.writer = w }
}

// WithHandoffWriter 替换 DMLOG 行的输出目标（默认 os.Stdout）
func WithHandoffWriter(w io.Writer) TracerOption {
	return func(t *Tracer) { t.handoff = w }
}

func WithAnnouncers(as ...Announcer) TracerOption {
	return func(t *Tracer) { t.announcers = append(t.announcers, as...) }
}

func NewTracer(opts Options, fns ...TracerOption) (*Tracer, error) {
	t := &Tracer{
		opts:    opts,
		handoff: os.Stdout,
	}
	for _, fn := range fns {
		fn(t)
	}

	if t.writer == nil && opts.Enabled {
		dir := opts.batchFilesPath()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare batch files dir %s: %w", dir, err)
		}
		t.writer = NewFileBatchWriter(dir)
		logger.Infof("[Deepmind] tracing enabled, mode=%s, batch_files_path=%s", opts.Mode, dir)
	}
	return t, nil
}

func (t *Tracer) Enabled() bool {
	return t.opts.Enabled
}

func (t *Tracer) Mode() Mode {
	return t.opts.Mode
}

// NewBatch 为 batchID 创建新的批次记录器，文件序号从 1 开始递增。
// tracing 关闭时返回 NoopRecorder。
func (t *Tracer) NewBatch(batchID uint64) Recorder {
	if !t.opts.Enabled {
		return NoopRecorder{}
	}
	return t.newBatchContext(batchID)
}

func (t *Tracer) newBatchContext(batchID uint64) *BatchContext {
	seq := t.fileSeq.Inc()
	return &BatchContext{
		batchID:         batchID,
		filename:        BatchFilename(seq, batchID),
		mode:            t.opts.Mode,
		writer:          t.writer,
		handoff:         t.handoff,
		announcers:      t.announcers,
		announceTimeout: t.opts.announceTimeout(),
	}
}
