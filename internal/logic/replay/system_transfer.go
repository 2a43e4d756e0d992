package replay

import (
	"encoding/binary"

	"dmlog-tracer-sol/internal/consts"
	"dmlog-tracer-sol/internal/pkg/logger"

	"github.com/near/borsh-go"
)

const systemIxCreateAccount uint32 = 0

// System Program 的 bincode 编码与 borsh 在定长字段上一致，只截取定长前缀解码

type createAccountParams struct {
	Instruction uint32
	Lamports    uint64
	Space       uint64
	Owner       [32]byte
}

type transferParams struct {
	Instruction uint32
	Lamports    uint64
}

// lamportMove 一次 lamports 转移，from/to 为 accountIdx 中的位置
type lamportMove struct {
	from, to int
	lamports uint64
}

// decodeSystemTransfer 解析会移动 lamports 的 System Program 指令
// （CreateAccount / Transfer / TransferWithSeed），其它指令返回 false
func decodeSystemTransfer(s *step) (move lamportMove, ok bool) {
	if s.programID != consts.SystemProgram || len(s.data) < 4 {
		return lamportMove{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[replay][panic] borsh.Deserialize panic: %v, program=%s", r, s.programID)
			ok = false
		}
	}()

	switch binary.LittleEndian.Uint32(s.data[:4]) {
	case systemIxCreateAccount:
		var params createAccountParams
		if len(s.data) < 52 || len(s.accountIdx) < 2 {
			return lamportMove{}, false
		}
		if err := borsh.Deserialize(&params, s.data[:52]); err != nil {
			return lamportMove{}, false
		}
		return lamportMove{from: 0, to: 1, lamports: params.Lamports}, true

	case consts.SystemIxTransfer:
		var params transferParams
		if len(s.data) < 12 || len(s.accountIdx) < 2 {
			return lamportMove{}, false
		}
		if err := borsh.Deserialize(&params, s.data[:12]); err != nil {
			return lamportMove{}, false
		}
		return lamportMove{from: 0, to: 1, lamports: params.Lamports}, true

	case consts.SystemIxTransferWithSeed:
		// accounts: [from, base, to]
		var params transferParams
		if len(s.data) < 12 || len(s.accountIdx) < 3 {
			return lamportMove{}, false
		}
		if err := borsh.Deserialize(&params, s.data[:12]); err != nil {
			return lamportMove{}, false
		}
		return lamportMove{from: 0, to: 2, lamports: params.Lamports}, true
	}
	return lamportMove{}, false
}
