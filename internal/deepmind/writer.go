package deepmind

import (
	"fmt"
	"os"
	"path/filepath"

	"dmlog-tracer-sol/internal/metrics"
	"dmlog-tracer-sol/pb"
)

// BatchWriter 把完整批次持久化，返回文件路径
type BatchWriter interface {
	Persist(batch *pb.Batch, filename string) (string, error)
}

// FileBatchWriter 将批次编码后写入 basePath 下的新文件，fsync 后才返回成功。
// 写入失败时不清理半写文件；不负责轮转与清理历史文件。
type FileBatchWriter struct {
	basePath string
}

func NewFileBatchWriter(basePath string) *FileBatchWriter {
	return &FileBatchWriter{basePath: basePath}
}

func (w *FileBatchWriter) BasePath() string {
	return w.basePath
}

func (w *FileBatchWriter) Persist(batch *pb.Batch, filename string) (string, error) {
	buf, err := batch.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode batch %s: %w", filename, err)
	}

	path := filepath.Join(w.basePath, filename)
	// 一个文件只写一次，已存在视为错误
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create batch file: %w", err)
	}

	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write batch file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("sync batch file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close batch file %s: %w", path, err)
	}

	metrics.BatchBytes.Add(float64(len(buf)))
	return path, nil
}
