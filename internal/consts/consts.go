package consts

import "dmlog-tracer-sol/internal/pkg/types"

const (
	SystemProgramStr = "11111111111111111111111111111111"
)

var SystemProgram = types.PubkeyFromBase58(SystemProgramStr)

// System Program 指令编号（u32 小端）
const (
	SystemIxTransfer         uint32 = 2
	SystemIxTransferWithSeed uint32 = 11
)

// DefaultBlockChanSize geyser 区块通道的默认缓冲
const DefaultBlockChanSize = 200
