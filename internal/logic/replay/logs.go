package replay

import (
	"strconv"
	"strings"
)

type logKind int

const (
	logPlain logKind = iota
	logInvoke
	logSuccess
	logFailed
)

type parsedLog struct {
	kind      logKind
	programID string
	height    uint32
	reason    string // failed 行冒号后的内容
}

// parseLogLine 识别运行时写入的三类控制行：
//
//	Program <id> invoke [<n>]
//	Program <id> success
//	Program <id> failed: <reason>
//
// 其余一律视为普通日志
func parseLogLine(line string) parsedLog {
	rest, ok := strings.CutPrefix(line, "Program ")
	if !ok {
		return parsedLog{kind: logPlain}
	}
	programID, tail, ok := strings.Cut(rest, " ")
	if !ok || !looksLikeBase58(programID) {
		return parsedLog{kind: logPlain}
	}

	switch {
	case tail == "success":
		return parsedLog{kind: logSuccess, programID: programID}
	case strings.HasPrefix(tail, "failed: "):
		return parsedLog{kind: logFailed, programID: programID, reason: strings.TrimPrefix(tail, "failed: ")}
	case strings.HasPrefix(tail, "invoke [") && strings.HasSuffix(tail, "]"):
		n, err := strconv.ParseUint(tail[len("invoke ["):len(tail)-1], 10, 32)
		if err != nil {
			return parsedLog{kind: logPlain}
		}
		return parsedLog{kind: logInvoke, programID: programID, height: uint32(n)}
	default:
		return parsedLog{kind: logPlain}
	}
}

// "Program log: ..." / "Program data: ..." 的第二段带冒号，不是程序 id
func looksLikeBase58(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '1' && c <= '9', c >= 'A' && c <= 'H', c >= 'J' && c <= 'N', c >= 'P' && c <= 'Z',
			c >= 'a' && c <= 'k', c >= 'm' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
