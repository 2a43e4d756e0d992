package deepmind

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"dmlog-tracer-sol/internal/pkg/types"
	"dmlog-tracer-sol/pb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSig(s string) types.Signature {
	var sig types.Signature
	copy(sig[:], s)
	return sig
}

func testKey(s string) types.Pubkey {
	var p types.Pubkey
	copy(p[:], s)
	return p
}

type testEnv struct {
	dir     string
	handoff *bytes.Buffer
	tracer  *Tracer
}

func newTestEnv(t *testing.T, mode Mode, fns ...TracerOption) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir(), handoff: &bytes.Buffer{}}
	fns = append([]TracerOption{WithHandoffWriter(env.handoff)}, fns...)
	tracer, err := NewTracer(Options{Enabled: true, Mode: mode, BasePath: env.dir}, fns...)
	require.NoError(t, err)
	env.tracer = tracer
	return env
}

func (e *testEnv) newBatch(t *testing.T, batchID uint64) *BatchContext {
	t.Helper()
	ctx, ok := e.tracer.NewBatch(batchID).(*BatchContext)
	require.True(t, ok, "启用时应返回 *BatchContext")
	return ctx
}

func startTrx(t *testing.T, c *BatchContext, sigs ...string) {
	t.Helper()
	list := make([]types.Signature, 0, len(sigs))
	for _, s := range sigs {
		list = append(list, testSig(s))
	}
	require.NoError(t, c.StartTransaction(list, 1, 0, 1, []types.Pubkey{testKey("A"), testKey("P")}, types.Hash{9}))
}

func readBatch(t *testing.T, path string) *pb.Batch {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	batch := &pb.Batch{}
	require.NoError(t, batch.Unmarshal(raw))
	return batch
}

func TestSingleInstructionScenario(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 42)

	startTrx(t, c, "S1")
	c.StartInstruction(testKey("P"), []types.Pubkey{testKey("A")}, []byte{})

	trx := c.activeTrx()
	inst := trx.activeInstruction()
	require.NotNil(t, inst)
	assert.Equal(t, uint64(1), inst.BeginOrdinal)
	assert.Equal(t, uint32(1), inst.Index)
	assert.Equal(t, uint32(0), inst.ParentIndex)
	assert.Equal(t, uint32(0), inst.Depth)

	c.AddInstructionLog("hi")
	assert.Equal(t, &pb.Log{Message: "hi", Ordinal: 2}, inst.Logs[0])

	c.EndInstruction()
	assert.Equal(t, uint64(3), inst.EndOrdinal)

	path, err := c.Flush()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.dir, "dmlog-1-42"), path)
	assert.Equal(t, "DMLOG BATCH_FILE dmlog-1-42\n", env.handoff.String())

	batch := readBatch(t, path)
	require.Len(t, batch.Transactions, 1)
	got := batch.Transactions[0]
	assert.Equal(t, testSig("S1").String(), mustSig(t, got.Id).String())
	assert.Equal(t, uint64(1), got.BeginOrdinal)
	require.Len(t, got.Instructions, 1)
	require.Len(t, got.Instructions[0].Logs, 1)
	assert.Equal(t, "hi", got.Instructions[0].Logs[0].Message)
	assert.Equal(t, uint64(3), got.Instructions[0].EndOrdinal)
}

func mustSig(t *testing.T, b []byte) types.Signature {
	t.Helper()
	sig, err := types.SignatureFromBytes(b)
	require.NoError(t, err)
	return sig
}

func TestNestedInstructions(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 1)
	startTrx(t, c, "S1")

	c.StartInstruction(testKey("outer"), nil, nil)
	c.StartInstruction(testKey("inner"), nil, nil)
	c.EndInstruction()
	c.EndInstruction()

	insts := c.activeTrx().pb.Instructions
	require.Len(t, insts, 2)
	outer, inner := insts[0], insts[1]
	assert.Equal(t, outer.Index, inner.ParentIndex)
	assert.Equal(t, outer.Depth+1, inner.Depth)
	assert.Equal(t, uint64(1), outer.BeginOrdinal)
	assert.Equal(t, uint64(2), inner.BeginOrdinal)
	assert.Equal(t, uint64(3), inner.EndOrdinal)
	assert.Equal(t, uint64(4), outer.EndOrdinal)
}

// 任意合法嵌套的开/关序列都应还原出相同的树结构
func TestNestingReconstruction(t *testing.T) {
	sequences := map[string]string{
		"flat":      "()()()",
		"deep":      "(((())))",
		"mixed":     "(()(()))()",
		"siblings":  "(()()())",
		"two-trees": "((()))(())",
	}

	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, ModeStandard)
			c := env.newBatch(t, 1)
			startTrx(t, c, "S1")

			type want struct{ parent, depth uint32 }
			var (
				expected []want
				stack    = []uint32{0}
			)
			for _, ch := range seq {
				if ch == '(' {
					index := uint32(len(expected) + 1)
					expected = append(expected, want{parent: stack[len(stack)-1], depth: uint32(len(stack) - 1)})
					stack = append(stack, index)
					c.StartInstruction(testKey("P"), nil, nil)
				} else {
					stack = stack[:len(stack)-1]
					c.EndInstruction()
				}
			}

			insts := c.activeTrx().pb.Instructions
			require.Len(t, insts, len(expected))
			for i, inst := range insts {
				assert.Equal(t, uint32(i+1), inst.Index)
				assert.Equal(t, expected[i].parent, inst.ParentIndex, "instruction %d parent", i+1)
				assert.Equal(t, expected[i].depth, inst.Depth, "instruction %d depth", i+1)
				assert.NotZero(t, inst.EndOrdinal)
			}
		})
	}
}

func TestOrdinalsGapFree(t *testing.T) {
	env := newTestEnv(t, ModeAugmented)
	c := env.newBatch(t, 1)
	startTrx(t, c, "S1")

	c.AddLog("before")
	c.StartInstruction(testKey("P"), nil, nil)
	c.AddInstructionLog("a")
	c.AddAccountChange(testKey("A"), []byte{1}, []byte{2})
	c.StartInstruction(testKey("Q"), nil, nil)
	c.AddLamportChange(testKey("A"), 10, 5)
	c.AddInstructionLog("b")
	c.EndInstruction()
	c.AddLog("between")
	c.EndInstruction()
	c.AddLog("after")

	trx := c.activeTrx().pb
	var ordinals []uint64
	for _, l := range trx.Logs {
		ordinals = append(ordinals, l.Ordinal)
	}
	for _, inst := range trx.Instructions {
		ordinals = append(ordinals, inst.BeginOrdinal, inst.EndOrdinal)
		for _, l := range inst.Logs {
			ordinals = append(ordinals, l.Ordinal)
		}
	}
	sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })

	require.Len(t, ordinals, 9)
	for i, o := range ordinals {
		assert.Equal(t, uint64(i+1), o, "序号必须从 1 开始连续")
	}
	assert.Equal(t, uint64(9), trx.Logs[2].Ordinal, "按调用顺序分配")
}

func TestDataAnnotationsDoNotTick(t *testing.T) {
	env := newTestEnv(t, ModeAugmented)
	c := env.newBatch(t, 1)
	startTrx(t, c, "S1")
	c.StartInstruction(testKey("P"), nil, nil)

	trx := c.activeTrx()
	before := trx.ordinal.Peek()
	c.AddAccountChange(testKey("A"), []byte{1, 2}, []byte{3})
	c.AddLamportChange(testKey("A"), 100, 90)
	assert.Equal(t, before, trx.ordinal.Peek())

	inst := trx.activeInstruction()
	require.Len(t, inst.AccountChanges, 1)
	assert.Equal(t, uint64(1), inst.AccountChanges[0].NewDataLength)
	require.Len(t, inst.BalanceChanges, 1)
	assert.Equal(t, uint64(90), inst.BalanceChanges[0].NewLamports)
}

func TestAccountChangeSnapshotsAreCopied(t *testing.T) {
	env := newTestEnv(t, ModeAugmented)
	c := env.newBatch(t, 1)
	startTrx(t, c, "S1")
	c.StartInstruction(testKey("P"), nil, nil)

	pre, post := []byte{1}, []byte{2}
	c.AddAccountChange(testKey("A"), pre, post)
	pre[0], post[0] = 7, 7

	ac := c.activeTrx().activeInstruction().AccountChanges[0]
	assert.Equal(t, []byte{1}, ac.PrevData)
	assert.Equal(t, []byte{2}, ac.NewData)
}

func TestDataAnnotationsRecordedInEveryMode(t *testing.T) {
	for _, mode := range []Mode{Options{}.Mode, ModeStandard, ModeAugmented} {
		t.Run(mode.String(), func(t *testing.T) {
			env := newTestEnv(t, mode)
			c := env.newBatch(t, 1)
			assert.Equal(t, mode, c.Mode())

			startTrx(t, c, "S1")
			c.StartInstruction(testKey("P"), nil, nil)
			c.AddAccountChange(testKey("A"), []byte{1}, []byte{2})
			c.AddLamportChange(testKey("A"), 1, 2)
			c.EndInstruction()

			path, err := c.Flush()
			require.NoError(t, err)
			inst := readBatch(t, path).Transactions[0].Instructions[0]
			require.Len(t, inst.AccountChanges, 1)
			require.Len(t, inst.BalanceChanges, 1)
			assert.Equal(t, uint64(2), inst.BalanceChanges[0].NewLamports)
		})
	}
}

func TestCallsOutsideTransactionAreNoops(t *testing.T) {
	env := newTestEnv(t, ModeAugmented)
	c := env.newBatch(t, 1)

	assert.NotPanics(t, func() {
		c.StartInstruction(testKey("P"), nil, nil)
		c.EndInstruction()
		c.AddLog("x")
		c.AddInstructionLog("x")
		c.AddAccountChange(testKey("A"), nil, nil)
		c.AddLamportChange(testKey("A"), 1, 2)
		c.ErrorInstruction(errors.New("x"))
		c.ErrorTrx(errors.New("x"))
	})
	assert.Equal(t, 0, c.Len())

	startTrx(t, c, "S1")
	trx := c.activeTrx()

	// 没有打开的指令：结束指令、指令日志、错误均不消费序号
	c.EndInstruction()
	c.AddInstructionLog("orphan")
	c.ErrorInstruction(errors.New("orphan"))
	assert.Equal(t, uint64(1), trx.ordinal.Peek())
	assert.Empty(t, trx.pb.Instructions)
}

func TestStartTransactionRequiresSignature(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 1)

	err := c.StartTransaction(nil, 1, 0, 0, nil, types.Hash{})
	assert.ErrorIs(t, err, ErrNoSignature)
	assert.Equal(t, 0, c.Len())
}

func TestAdditionalSignaturesAndHeader(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 1)
	startTrx(t, c, "S1", "S2", "S3")

	trx := c.activeTrx().pb
	assert.Equal(t, testSig("S1").String(), mustSig(t, trx.Id).String())
	require.Len(t, trx.AdditionalSignatures, 2)
	assert.Equal(t, testSig("S3").String(), mustSig(t, trx.AdditionalSignatures[1]).String())
	assert.Equal(t, uint32(1), trx.Header.NumRequiredSignatures)
	assert.Equal(t, uint32(1), trx.Header.NumReadonlyUnsignedAccounts)
	assert.Len(t, trx.AccountKeys, 2)
	assert.Equal(t, byte(9), trx.RecentBlockhash[0])
}

func TestMissingEndInstructionStillFlushes(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 3)
	startTrx(t, c, "S1")
	c.StartInstruction(testKey("P"), nil, nil)

	path, err := c.Flush()
	require.NoError(t, err)

	batch := readBatch(t, path)
	assert.Equal(t, uint64(0), batch.Transactions[0].Instructions[0].EndOrdinal)
}

type kindErr struct{ kind string }

func (e kindErr) Error() string     { return "custom program error: 0x1" }
func (e kindErr) ErrorKind() string { return e.kind }

func TestErrorsRecordedAsData(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 1)
	startTrx(t, c, "S1")
	c.StartInstruction(testKey("P"), nil, nil)
	c.ErrorInstruction(kindErr{kind: "custom"})
	c.EndInstruction()
	c.ErrorTrx(errors.New("Error processing Instruction 0"))

	trx := c.activeTrx().pb
	assert.True(t, trx.Failed)
	assert.Equal(t, &pb.TransactionError{Error: "Error processing Instruction 0", Kind: ErrorKindUnknown}, trx.Error)

	inst := trx.Instructions[0]
	assert.True(t, inst.Failed)
	assert.Equal(t, &pb.InstructionError{Error: "custom program error: 0x1", Kind: "custom"}, inst.Error)
}

func TestFlushEmptyBatch(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 5)

	path, err := c.Flush()
	require.NoError(t, err)
	assert.Equal(t, "DMLOG BATCH_FILE dmlog-1-5\n", env.handoff.String())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "空批次编码为空消息")
	assert.Empty(t, readBatch(t, path).Transactions)
}

func TestFlushFailureConsumesBatch(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	announcer := &recordingAnnouncer{}
	env := newTestEnv(t, ModeStandard, WithBatchWriter(NewFileBatchWriter(missing)), WithAnnouncers(announcer))
	c := env.newBatch(t, 9)
	startTrx(t, c, "S1")

	_, err := c.Flush()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Regexp(t, `^DMLOG ERROR FILE create batch file: .*\n$`, env.handoff.String())
	assert.Equal(t, 0, c.Len(), "失败的批次不会留在队列中")
	assert.Empty(t, announcer.calls, "失败时不发送二级通知")

	_, err = c.Flush()
	assert.ErrorIs(t, err, ErrBatchClosed)

	startTrx(t, c, "S2")
	assert.Equal(t, 0, c.Len(), "flush 后的回调为空操作")
}

func TestFlushInvalidUTF8LogFails(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 3)
	startTrx(t, c, "S1")
	c.StartInstruction(testKey("P"), nil, nil)
	c.AddInstructionLog(string([]byte{0xfe, 0xff}))
	c.EndInstruction()

	_, err := c.Flush()
	require.ErrorIs(t, err, pb.ErrInvalidUTF8)
	assert.Regexp(t, `^DMLOG ERROR FILE encode batch dmlog-1-3: .*\n$`, env.handoff.String())
	_, statErr := os.Stat(filepath.Join(env.dir, "dmlog-1-3"))
	assert.ErrorIs(t, statErr, os.ErrNotExist, "编码失败不创建文件")
}

func TestFlushRefusesToOverwrite(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "dmlog-1-1"), []byte("old"), 0o644))

	_, err := env.newBatch(t, 1).Flush()
	assert.ErrorIs(t, err, os.ErrExist)
}

type recordingAnnouncer struct {
	calls []string
	err   error
}

func (a *recordingAnnouncer) Name() string { return "recording" }

func (a *recordingAnnouncer) Announce(_ context.Context, _ uint64, filename string) error {
	a.calls = append(a.calls, filename)
	return a.err
}

func TestAnnouncersRunAfterHandoff(t *testing.T) {
	ok := &recordingAnnouncer{}
	broken := &recordingAnnouncer{err: errors.New("broker down")}
	env := newTestEnv(t, ModeStandard, WithAnnouncers(broken, ok))

	_, err := env.newBatch(t, 77).Flush()
	require.NoError(t, err, "二级通知失败不影响 flush")
	assert.Equal(t, []string{"dmlog-1-77"}, ok.calls)
	assert.Equal(t, []string{"dmlog-1-77"}, broken.calls)
}

func TestFileSequenceIncrements(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	assert.Equal(t, "dmlog-1-10", env.newBatch(t, 10).Filename())
	assert.Equal(t, "dmlog-2-11", env.newBatch(t, 11).Filename())
	assert.Equal(t, "dmlog-3-11", env.newBatch(t, 11).Filename())
}

func TestDisabledTracerIsNoop(t *testing.T) {
	var out bytes.Buffer
	tracer, err := NewTracer(Options{Enabled: false}, WithHandoffWriter(&out))
	require.NoError(t, err)

	rec := tracer.NewBatch(1)
	assert.IsType(t, NoopRecorder{}, rec)
	assert.NoError(t, rec.StartTransaction(nil, 0, 0, 0, nil, types.Hash{}))
	path, err := rec.Flush()
	assert.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, out.String())
}

func TestBatchFilesPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(BatchFilesPathEnv, dir)

	var out bytes.Buffer
	tracer, err := NewTracer(Options{Enabled: true}, WithHandoffWriter(&out))
	require.NoError(t, err)

	path, err := tracer.NewBatch(2).Flush()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dmlog-1-2"), path)
}

func TestMultipleTransactionsKeepOrder(t *testing.T) {
	env := newTestEnv(t, ModeStandard)
	c := env.newBatch(t, 1)
	for _, s := range []string{"S1", "S2", "S3"} {
		startTrx(t, c, s)
		c.StartInstruction(testKey("P"), nil, nil)
		c.EndInstruction()
	}

	path, err := c.Flush()
	require.NoError(t, err)
	batch := readBatch(t, path)
	require.Len(t, batch.Transactions, 3)
	for i, s := range []string{"S1", "S2", "S3"} {
		trx := batch.Transactions[i]
		assert.Equal(t, testSig(s).String(), mustSig(t, trx.Id).String())
		assert.Equal(t, uint64(1), trx.Instructions[0].BeginOrdinal, "每笔交易的序号独立计数")
	}
}
