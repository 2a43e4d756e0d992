package replay

import (
	"errors"
	"fmt"

	"dmlog-tracer-sol/internal/deepmind"
	"dmlog-tracer-sol/internal/logcollector"
	"dmlog-tracer-sol/internal/metrics"
	"dmlog-tracer-sol/internal/pkg/logger"
	"dmlog-tracer-sol/internal/pkg/types"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

var ErrInvalidTx = errors.New("invalid geyser transaction")

// ValidateGrpcTx 检查回放所需字段是否齐全
func ValidateGrpcTx(tx *pb.SubscribeUpdateTransactionInfo) error {
	switch {
	case tx == nil:
		return fmt.Errorf("%w: nil transaction info", ErrInvalidTx)
	case tx.Transaction == nil || tx.Transaction.Message == nil:
		return fmt.Errorf("%w: missing message", ErrInvalidTx)
	case len(tx.Transaction.Signatures) == 0:
		return fmt.Errorf("%w: missing signature", ErrInvalidTx)
	case tx.Meta == nil:
		return fmt.Errorf("%w: missing meta", ErrInvalidTx)
	}
	return nil
}

// TraceGrpcTx 把一笔已确认的 geyser 交易回放为 Recorder 回调。
//
// 指令按 stack_height 还原嵌套；日志按 invoke/success/failed 控制行与指令交错，
// invoke 行的程序与调用深度必须与下一条指令一致才打开它，否则视为无对应指令的 CPI，
// 归入当前指令的日志；主指令结束时补齐其缺少日志的 inner 指令。指令内日志经 LogCollector 镜像到当前指令，指令外日志记为交易级日志。
// 日志被截断时剩余指令按 stack_height 补齐。
// ModeAugmented 下额外由 System Program 转账推导 lamports 变更。
// 校验失败时不产生任何回调；panic 会被 recover 成错误返回。
func TraceGrpcTx(rec deepmind.Recorder, tx *pb.SubscribeUpdateTransactionInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("TraceGrpcTx panic: %v", r)
		}
	}()

	if err := ValidateGrpcTx(tx); err != nil {
		return err
	}
	msg := tx.Transaction.Message

	accountKeys, err := buildFullAccountKeys(
		msg.AccountKeys,
		tx.Meta.LoadedWritableAddresses,
		tx.Meta.LoadedReadonlyAddresses,
	)
	if err != nil {
		return fmt.Errorf("buildFullAccountKeys error: %w", err)
	}
	sigs, err := buildSignatures(tx.Transaction.Signatures)
	if err != nil {
		return err
	}
	var blockhash types.Hash
	if len(msg.RecentBlockhash) > 0 {
		if blockhash, err = types.HashFromBytes(msg.RecentBlockhash); err != nil {
			return fmt.Errorf("invalid recent blockhash: %w", err)
		}
	}
	steps, err := buildSteps(tx, accountKeys)
	if err != nil {
		return err
	}

	var numRequired, numReadonlySigned, numReadonlyUnsigned uint32
	if h := msg.Header; h != nil {
		numRequired, numReadonlySigned, numReadonlyUnsigned = h.NumRequiredSignatures, h.NumReadonlySignedAccounts, h.NumReadonlyUnsignedAccounts
	}
	if err := rec.StartTransaction(
		sigs,
		uint8(numRequired),
		uint8(numReadonlySigned),
		uint8(numReadonlyUnsigned),
		accountKeys,
		blockhash,
	); err != nil {
		return err
	}

	r := newReplayer(rec, tx, accountKeys, steps)
	r.run(tx.Meta.LogMessages)
	if r.failure != nil {
		rec.ErrorTrx(r.failure.err)
	}
	r.reportTruncation(sigs[0])
	return nil
}

type replayer struct {
	rec         deepmind.Recorder
	collector   *logcollector.LogCollector
	accountKeys []types.Pubkey
	steps       []step

	next      int // 下一条待打开的 step
	open      int // 当前打开的指令层数
	activeTop int // 当前所属主指令下标
	phantom   int // 日志中多出来、没有对应 step 的 invoke

	balances      []uint64 // 按账户下标的 lamports 快照，交易失败时不追踪
	trackBalances bool
	failure       *txFailure
}

func newReplayer(rec deepmind.Recorder, tx *pb.SubscribeUpdateTransactionInfo, accountKeys []types.Pubkey, steps []step) *replayer {
	augmented := rec.Mode() == deepmind.ModeAugmented
	var opts []logcollector.Option
	if augmented {
		opts = append(opts, logcollector.WithFullFidelity())
	}
	r := &replayer{
		rec:         rec,
		collector:   logcollector.New(rec, opts...),
		accountKeys: accountKeys,
		steps:       steps,
	}

	if tx.Meta.Err != nil {
		f := decodeTransactionError(tx.Meta.Err.Err)
		r.failure = &f
		return r
	}
	if !augmented {
		return r
	}

	r.trackBalances = true
	r.balances = append([]uint64(nil), tx.Meta.PreBalances...)
	// pre_balances 在扣费之前，手续费由 fee payer（下标 0）承担
	if len(r.balances) > 0 && r.balances[0] >= tx.Meta.Fee {
		r.balances[0] -= tx.Meta.Fee
	}
	return r
}

func (r *replayer) run(logs []string) {
	for _, line := range logs {
		parsed := parseLogLine(line)
		switch parsed.kind {
		case logInvoke:
			if !r.openMatching(parsed) {
				r.phantom++
				r.logLine(line)
				continue
			}
			r.collector.Log(line)

		case logSuccess, logFailed:
			if r.phantom > 0 {
				r.phantom--
				r.logLine(line)
				continue
			}
			if r.open == 0 {
				r.rec.AddLog(line)
				continue
			}
			if r.open == 1 {
				r.fillInner()
			}
			r.collector.Log(line)
			if parsed.kind == logFailed {
				r.rec.ErrorInstruction(r.instructionError(parsed.reason))
			}
			r.closeOne()

		default:
			r.logLine(line)
		}
	}

	// 日志被截断或缺失，补齐剩余指令；失败交易只补到出错的主指令为止
	for r.next < len(r.steps) && r.executed(r.steps[r.next].topIndex) {
		r.startNext(r.steps[r.next].stackHeight)
	}
	for r.open > 0 {
		r.closeOne()
	}
}

// logLine 指令内的日志进当前指令，否则记为交易级日志
func (r *replayer) logLine(line string) {
	if r.open > 0 {
		r.collector.Log(line)
	} else {
		r.rec.AddLog(line)
	}
}

// openMatching 下一条 step 与 invoke 行的程序、深度一致时打开它
func (r *replayer) openMatching(parsed parsedLog) bool {
	if r.next >= len(r.steps) || !r.steps[r.next].matches(parsed) {
		return false
	}
	return r.startNext(parsed.height)
}

// fillInner 主指令结束前补齐其缺少 invoke 日志的 inner 指令
func (r *replayer) fillInner() {
	for r.next < len(r.steps) && r.steps[r.next].topIndex == r.activeTop && r.steps[r.next].stackHeight > 1 {
		r.startNext(r.steps[r.next].stackHeight)
	}
	for r.open > 1 {
		r.closeOne()
	}
}

// startNext 以 height 打开下一条 step，必要时先关闭不在其调用链上的指令
func (r *replayer) startNext(height uint32) bool {
	if r.next >= len(r.steps) {
		return false
	}
	s := &r.steps[r.next]
	for r.open > 0 && r.open >= int(height) {
		r.closeOne()
	}

	r.rec.StartInstruction(s.programID, s.accounts, s.data)
	r.open++
	r.next++
	r.activeTop = s.topIndex
	r.applyLamports(s)
	return true
}

func (r *replayer) executed(topIndex int) bool {
	if r.failure == nil {
		return true
	}
	return r.failure.hasInstruction && topIndex <= r.failure.instructionIdx
}

func (r *replayer) closeOne() {
	r.rec.EndInstruction()
	r.open--
}

func (r *replayer) instructionError(reason string) error {
	kind := ""
	if r.failure != nil && r.failure.hasInstruction && r.failure.instructionIdx == r.activeTop {
		kind = r.failure.instructionKind
	}
	return instructionFailure(reason, kind)
}

// reportTruncation 日志超过上限时计数，便于发现被截断的交易
func (r *replayer) reportTruncation(sig types.Signature) {
	if !r.collector.Truncated() {
		return
	}
	metrics.LogsTruncated.Inc()
	logger.Debugf("[Replay] logs truncated: sig=%s, kept=%d, bytes=%d, full=%d",
		sig, len(r.collector.Messages()), r.collector.BytesWritten(), len(r.collector.FullMessages()))
}

// applyLamports 把 System Program 转账记录为当前指令的余额变更
func (r *replayer) applyLamports(s *step) {
	if !r.trackBalances {
		return
	}
	move, ok := decodeSystemTransfer(s)
	if !ok {
		return
	}

	from, to := int(s.accountIdx[move.from]), int(s.accountIdx[move.to])
	if from == to || from >= len(r.balances) || to >= len(r.balances) {
		return
	}
	// 余额不足说明快照与实际执行不一致，放弃记录
	if r.balances[from] < move.lamports {
		return
	}

	preFrom, preTo := r.balances[from], r.balances[to]
	r.balances[from] -= move.lamports
	r.balances[to] += move.lamports
	r.rec.AddLamportChange(r.accountKeys[from], preFrom, r.balances[from])
	r.rec.AddLamportChange(r.accountKeys[to], preTo, r.balances[to])
}
