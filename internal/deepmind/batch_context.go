package deepmind

import (
	"context"
	"io"
	"time"

	"dmlog-tracer-sol/internal/metrics"
	"dmlog-tracer-sol/internal/pkg/logger"
	"dmlog-tracer-sol/internal/pkg/types"
	"dmlog-tracer-sol/pb"
)

// Announcer 批次落盘并输出 DMLOG 行之后的二级通知（Kafka、Redis 等）。
// 失败只记日志和指标，不影响 flush 结果。
type Announcer interface {
	Name() string
	Announce(ctx context.Context, batchID uint64, filename string) error
}

// BatchContext 一个批次的 trace 记录器，执行引擎唯一的写入点。
//
// 非并发安全：由执行交易的 goroutine 同步调用，多个 worker 各持一个实例。
// 批次只 flush 一次，之后所有回调为空操作。
type BatchContext struct {
	batchID  uint64
	filename string
	mode     Mode

	trxs []*Transaction

	writer          BatchWriter
	handoff         io.Writer
	announcers      []Announcer
	announceTimeout time.Duration

	closed bool
}

func (c *BatchContext) BatchID() uint64 {
	return c.batchID
}

// Mode 构造时确定的 trace 模式，供驱动方决定是否做额外推导
func (c *BatchContext) Mode() Mode {
	return c.mode
}

func (c *BatchContext) Filename() string {
	return c.filename
}

// Len 当前批次内的交易数量
func (c *BatchContext) Len() int {
	return len(c.trxs)
}

// activeTrx 最近开始的交易；批次已关闭或尚无交易时返回 nil
func (c *BatchContext) activeTrx() *Transaction {
	if c.closed || len(c.trxs) == 0 {
		return nil
	}
	return c.trxs[len(c.trxs)-1]
}

func (c *BatchContext) StartTransaction(
	sigs []types.Signature,
	numRequiredSignatures uint8,
	numReadonlySignedAccounts uint8,
	numReadonlyUnsignedAccounts uint8,
	accountKeys []types.Pubkey,
	recentBlockhash types.Hash,
) error {
	if len(sigs) == 0 {
		return ErrNoSignature
	}
	if c.closed {
		logger.Debugf("[Deepmind] start_transaction on flushed batch %d ignored", c.batchID)
		return nil
	}

	c.trxs = append(c.trxs, newTransaction(
		sigs,
		numRequiredSignatures,
		numReadonlySignedAccounts,
		numReadonlyUnsignedAccounts,
		accountKeys,
		recentBlockhash,
	))
	return nil
}

func (c *BatchContext) StartInstruction(programID types.Pubkey, accountKeys []types.Pubkey, data []byte) {
	trx := c.activeTrx()
	if trx == nil {
		logger.Debugf("[Deepmind] start_instruction without active transaction, batch=%d", c.batchID)
		return
	}
	trx.startInstruction(programID, accountKeys, data)
}

func (c *BatchContext) EndInstruction() {
	trx := c.activeTrx()
	if trx == nil || !trx.endInstruction() {
		logger.Debugf("[Deepmind] end_instruction without active instruction, batch=%d", c.batchID)
	}
}

func (c *BatchContext) AddLog(message string) {
	trx := c.activeTrx()
	if trx == nil {
		logger.Debugf("[Deepmind] add_log without active transaction, batch=%d", c.batchID)
		return
	}
	trx.addLog(message)
}

func (c *BatchContext) AddInstructionLog(message string) {
	trx := c.activeTrx()
	if trx == nil || !trx.addInstructionLog(message) {
		logger.Debugf("[Deepmind] add_instruction_log without active instruction, batch=%d", c.batchID)
	}
}

func (c *BatchContext) AddAccountChange(pubkey types.Pubkey, pre, post []byte) {
	trx := c.activeTrx()
	if trx == nil || !trx.addAccountChange(pubkey, pre, post) {
		logger.Debugf("[Deepmind] account_change without active instruction, batch=%d, pubkey=%s", c.batchID, pubkey)
	}
}

func (c *BatchContext) AddLamportChange(pubkey types.Pubkey, pre, post uint64) {
	trx := c.activeTrx()
	if trx == nil || !trx.addLamportChange(pubkey, pre, post) {
		logger.Debugf("[Deepmind] lamport_change without active instruction, batch=%d, pubkey=%s", c.batchID, pubkey)
	}
}

func (c *BatchContext) ErrorInstruction(err error) {
	trx := c.activeTrx()
	if trx == nil || !trx.errorInstruction(err) {
		logger.Debugf("[Deepmind] error_instruction without active instruction, batch=%d", c.batchID)
	}
}

func (c *BatchContext) ErrorTrx(err error) {
	trx := c.activeTrx()
	if trx == nil {
		logger.Debugf("[Deepmind] error_trx without active transaction, batch=%d", c.batchID)
		return
	}
	trx.fail(err)
}

// Flush 取出全部交易组成批次，落盘后输出 `DMLOG BATCH_FILE <filename>`。
// 任何编码或 IO 错误输出 `DMLOG ERROR FILE <message>` 并返回该错误。
// 无论成功与否批次都被消费，BatchContext 随即关闭，失败的批次不会重试。
func (c *BatchContext) Flush() (string, error) {
	if c.closed {
		return "", ErrBatchClosed
	}
	c.closed = true

	batch := &pb.Batch{Transactions: make([]*pb.Transaction, 0, len(c.trxs))}
	for _, trx := range c.trxs {
		batch.Transactions = append(batch.Transactions, trx.pb)
	}
	c.trxs = nil

	start := time.Now()
	path, err := c.writer.Persist(batch, c.filename)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BatchErrors.Inc()
		logger.Errorf("[Deepmind] flush batch %d failed: %v", c.batchID, err)
		printDMLog(c.handoff, "ERROR", "FILE", err.Error())
		return "", err
	}

	printDMLog(c.handoff, "BATCH_FILE", c.filename)
	metrics.BatchesFlushed.Inc()
	metrics.TransactionsTraced.Add(float64(len(batch.Transactions)))

	c.announce()
	return path, nil
}

func (c *BatchContext) announce() {
	for _, a := range c.announcers {
		ctx, cancel := context.WithTimeout(context.Background(), c.announceTimeout)
		err := a.Announce(ctx, c.batchID, c.filename)
		cancel()
		if err != nil {
			metrics.AnnounceErrors.WithLabelValues(a.Name()).Inc()
			logger.Warnf("[Deepmind] announce batch %d via %s failed: %v", c.batchID, a.Name(), err)
		}
	}
}
