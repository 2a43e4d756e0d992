package deepmind

import "dmlog-tracer-sol/internal/pkg/types"

// TraceSink 日志收集器依赖的最小能力：把一行日志追加到当前活动指令
type TraceSink interface {
	AddInstructionLog(message string)
}

// Recorder 执行引擎调用的完整回调面。
// 由 *BatchContext 实现；tracing 关闭时由 NoopRecorder 实现。
type Recorder interface {
	TraceSink

	StartTransaction(
		sigs []types.Signature,
		numRequiredSignatures uint8,
		numReadonlySignedAccounts uint8,
		numReadonlyUnsignedAccounts uint8,
		accountKeys []types.Pubkey,
		recentBlockhash types.Hash,
	) error
	StartInstruction(programID types.Pubkey, accountKeys []types.Pubkey, data []byte)
	EndInstruction()
	AddLog(message string)
	AddAccountChange(pubkey types.Pubkey, pre, post []byte)
	AddLamportChange(pubkey types.Pubkey, pre, post uint64)
	ErrorInstruction(err error)
	ErrorTrx(err error)
	Flush() (string, error)
	Mode() Mode
}

var (
	_ Recorder = (*BatchContext)(nil)
	_ Recorder = NoopRecorder{}
)

// NoopRecorder tracing 关闭时使用，所有回调为空操作
type NoopRecorder struct{}

func (NoopRecorder) StartTransaction([]types.Signature, uint8, uint8, uint8, []types.Pubkey, types.Hash) error {
	return nil
}
func (NoopRecorder) StartInstruction(types.Pubkey, []types.Pubkey, []byte) {}
func (NoopRecorder) EndInstruction()                                      {}
func (NoopRecorder) AddLog(string)                                        {}
func (NoopRecorder) AddInstructionLog(string)                             {}
func (NoopRecorder) AddAccountChange(types.Pubkey, []byte, []byte)        {}
func (NoopRecorder) AddLamportChange(types.Pubkey, uint64, uint64)        {}
func (NoopRecorder) ErrorInstruction(error)                               {}
func (NoopRecorder) ErrorTrx(error)                                       {}
func (NoopRecorder) Flush() (string, error)                               { return "", nil }
func (NoopRecorder) Mode() Mode                                           { return ModeStandard }
