package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOption 日志初始化参数
type LogOption struct {
	Format   string // console / json
	LogDir   string // 为空时只输出到 stderr
	Level    string // debug / info / warn / error
	Compress bool   // 是否压缩轮转后的旧日志
}

const logFileName = "tracer.log"

var (
	mu     sync.RWMutex
	sugar  = zap.NewNop().Sugar()
	logger = zap.NewNop()
)

// Init 按配置初始化全局日志。
// stdout 专用于 DMLOG 协议行，控制台日志一律写 stderr。
func Init(opt LogOption) error {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(defaultString(opt.Level, "info")))); err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if opt.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}

	if opt.LogDir != "" {
		if err := os.MkdirAll(opt.LogDir, 0o755); err != nil {
			return err
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(opt.LogDir, logFileName),
			MaxSize:    256, // MB
			MaxBackups: 10,
			MaxAge:     7, // 天
			Compress:   opt.Compress,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	Set(l)
	return nil
}

// Set 替换全局 logger（测试中可传入 zaptest/observer 构造的 logger）
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
}

// L 返回底层结构化 logger
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Sync() {
	_ = L().Sync()
}

func s() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debugf(template string, args ...interface{}) { s().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { s().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { s().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { s().Errorf(template, args...) }

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
