package deepmind

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// BatchFilesPathEnv 配置未指定目录时读取的环境变量
const BatchFilesPathEnv = "DEEPMIND_BATCH_FILES_PATH"

const defaultAnnounceTimeout = 2 * time.Second

// Mode 只在构造时读取
type Mode int

const (
	// ModeStandard 只记录执行方上报的事件：控制流、日志、错误、账户与 lamports 变更
	ModeStandard Mode = iota
	// ModeAugmented 在此之上允许驱动方补充推导（如 geyser 回放时由转账指令推导 lamports 变更）
	ModeAugmented
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "standard"
	case ModeAugmented:
		return "augmented"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return ModeStandard, nil
	case "augmented":
		return ModeAugmented, nil
	default:
		return ModeStandard, fmt.Errorf("unknown deepmind mode %q", s)
	}
}

// Options Tracer 构造参数
type Options struct {
	Enabled         bool
	Mode            Mode
	BasePath        string        // 批次文件目录，为空时依次取环境变量、系统临时目录
	AnnounceTimeout time.Duration // 单次二级通知超时
}

func (o Options) batchFilesPath() string {
	if o.BasePath != "" {
		return o.BasePath
	}
	if p := os.Getenv(BatchFilesPathEnv); p != "" {
		return p
	}
	return os.TempDir()
}

func (o Options) announceTimeout() time.Duration {
	if o.AnnounceTimeout <= 0 {
		return defaultAnnounceTimeout
	}
	return o.AnnounceTimeout
}

// BatchFilename 批次文件名：dmlog-<file_sequence>-<batch_id>
func BatchFilename(fileSequence, batchID uint64) string {
	return fmt.Sprintf("dmlog-%d-%d", fileSequence, batchID)
}
