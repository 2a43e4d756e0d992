package deepmind

import (
	"dmlog-tracer-sol/internal/pkg/types"
	"dmlog-tracer-sol/pb"
)

// Transaction 单笔交易的 trace 以及它的调用栈与序号时钟。
// 生命周期归 BatchContext 所有，flush 时 pb 部分被移出。
type Transaction struct {
	pb        *pb.Transaction
	callStack CallStack
	ordinal   Ordinal
}

func newTransaction(
	sigs []types.Signature,
	numRequiredSignatures uint8,
	numReadonlySignedAccounts uint8,
	numReadonlyUnsignedAccounts uint8,
	accountKeys []types.Pubkey,
	recentBlockhash types.Hash,
) *Transaction {
	additional := make([][]byte, 0, len(sigs)-1)
	for _, sig := range sigs[1:] {
		additional = append(additional, append([]byte(nil), sig[:]...))
	}

	return &Transaction{
		pb: &pb.Transaction{
			Id:                   append([]byte(nil), sigs[0][:]...),
			AdditionalSignatures: additional,
			Header: &pb.MessageHeader{
				NumRequiredSignatures:       uint32(numRequiredSignatures),
				NumReadonlySignedAccounts:   uint32(numReadonlySignedAccounts),
				NumReadonlyUnsignedAccounts: uint32(numReadonlyUnsignedAccounts),
			},
			AccountKeys:     types.PubkeysToBytes(accountKeys),
			RecentBlockhash: append([]byte(nil), recentBlockhash[:]...),
			BeginOrdinal:    1,
		},
		callStack: NewCallStack(),
		ordinal:   NewOrdinal(),
	}
}

func (t *Transaction) startInstruction(programID types.Pubkey, accountKeys []types.Pubkey, data []byte) {
	ordinal := t.ordinal.Next()
	parent := t.callStack.Top()
	index := uint32(len(t.pb.Instructions) + 1)
	t.callStack.Push(index)

	t.pb.Instructions = append(t.pb.Instructions, &pb.Instruction{
		ProgramId:    append([]byte(nil), programID[:]...),
		AccountKeys:  types.PubkeysToBytes(accountKeys),
		Data:         append([]byte(nil), data...),
		Index:        index,
		ParentIndex:  parent,
		Depth:        uint32(t.callStack.Len() - 2),
		BeginOrdinal: ordinal,
	})
}

// endInstruction 没有打开的指令时返回 false，且不消费序号
func (t *Transaction) endInstruction() bool {
	inst := t.activeInstruction()
	if inst == nil {
		return false
	}
	inst.EndOrdinal = t.ordinal.Next()
	t.callStack.Pop()
	return true
}

// activeInstruction 调用栈顶对应的指令，栈顶为哨兵时返回 nil
func (t *Transaction) activeInstruction() *pb.Instruction {
	top := t.callStack.Top()
	if top == rootIndex || int(top) > len(t.pb.Instructions) {
		return nil
	}
	return t.pb.Instructions[top-1]
}

func (t *Transaction) addLog(message string) {
	t.pb.Logs = append(t.pb.Logs, &pb.Log{
		Message: message,
		Ordinal: t.ordinal.Next(),
	})
}

func (t *Transaction) addInstructionLog(message string) bool {
	inst := t.activeInstruction()
	if inst == nil {
		return false
	}
	inst.Logs = append(inst.Logs, &pb.Log{
		Message: message,
		Ordinal: t.ordinal.Next(),
	})
	return true
}

// 账户数据与余额变更只是附注，不消费序号

func (t *Transaction) addAccountChange(pubkey types.Pubkey, pre, post []byte) bool {
	inst := t.activeInstruction()
	if inst == nil {
		return false
	}
	inst.AccountChanges = append(inst.AccountChanges, &pb.AccountChange{
		Pubkey:        append([]byte(nil), pubkey[:]...),
		PrevData:      append([]byte(nil), pre...),
		NewData:       append([]byte(nil), post...),
		NewDataLength: uint64(len(post)),
	})
	return true
}

func (t *Transaction) addLamportChange(pubkey types.Pubkey, pre, post uint64) bool {
	inst := t.activeInstruction()
	if inst == nil {
		return false
	}
	inst.BalanceChanges = append(inst.BalanceChanges, &pb.BalanceChange{
		Pubkey:       append([]byte(nil), pubkey[:]...),
		PrevLamports: pre,
		NewLamports:  post,
	})
	return true
}

func (t *Transaction) errorInstruction(err error) bool {
	inst := t.activeInstruction()
	if inst == nil {
		return false
	}
	summary := SummarizeError(err)
	inst.Failed = true
	inst.Error = &pb.InstructionError{Error: summary.Message, Kind: summary.Kind}
	return true
}

func (t *Transaction) fail(err error) {
	summary := SummarizeError(err)
	t.pb.Failed = true
	t.pb.Error = &pb.TransactionError{Error: summary.Message, Kind: summary.Kind}
}
