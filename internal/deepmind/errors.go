package deepmind

import (
	"errors"
	"strings"
)

var (
	ErrNoSignature = errors.New("deepmind: transaction requires at least one signature")
	ErrBatchClosed = errors.New("deepmind: batch already flushed")
)

// ErrorKindUnknown 无法识别的引擎错误统一落到该类别，不中断宿主进程
const ErrorKindUnknown = "unknown"

// ErrorKinder 引擎错误可选实现的接口，返回稳定的错误类别标签（如 "custom", "insufficient_funds"）
type ErrorKinder interface {
	ErrorKind() string
}

// TxError 写入 trace 的错误摘要：类别标签 + 错误文本
type TxError struct {
	Kind    string
	Message string
}

// SummarizeError 生成错误摘要。
// 类别取自错误链上第一个实现 ErrorKinder 的错误，否则为 unknown；文本即 err.Error()。
func SummarizeError(err error) TxError {
	if err == nil {
		return TxError{Kind: ErrorKindUnknown, Message: "unknown error"}
	}

	kind := ErrorKindUnknown
	var kinder ErrorKinder
	if errors.As(err, &kinder) {
		if k := strings.TrimSpace(kinder.ErrorKind()); k != "" {
			kind = k
		}
	}
	return TxError{Kind: kind, Message: err.Error()}
}

// KindError 适配层使用的带类别错误
type KindError struct {
	Kind    string
	Message string
}

func NewKindError(kind, message string) *KindError {
	return &KindError{Kind: kind, Message: message}
}

func (e *KindError) Error() string {
	return e.Message
}

func (e *KindError) ErrorKind() string {
	return e.Kind
}
