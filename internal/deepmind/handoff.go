package deepmind

import (
	"io"
	"strings"

	"dmlog-tracer-sol/internal/pkg/logger"
)

const (
	dmlogPrefix   = "DMLOG"
	maxWriteLoops = 10
)

// printDMLog 输出一行 DMLOG 协议：`DMLOG <field> <field> ...\n`。
// 下游 shipper 逐行读取 stdout，字段中的换行被替换为空格以保证单行。
func printDMLog(w io.Writer, fields ...string) {
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(strings.ReplaceAll(f, "\r", " "), "\n", " ")
	}
	writeDMLog(w, []byte(dmlogPrefix+" "+strings.Join(fields, " ")+"\n"))
}

// writeDMLog 处理短写，最多重试 maxWriteLoops 次；一个字节都没写出的错误不再重试
func writeDMLog(w io.Writer, in []byte) {
	var (
		written int
		err     error
	)
	for i := 0; i < maxWriteLoops; i++ {
		written, err = w.Write(in)
		if written == len(in) {
			return
		}
		if err != nil && written == 0 {
			logger.Errorf("[Deepmind] failed writing DMLOG line: %v", err)
			return
		}
		in = in[written:]
	}
	logger.Errorf("[Deepmind] failed writing DMLOG line after %d attempts: %v", maxWriteLoops, err)
}
