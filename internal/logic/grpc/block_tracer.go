package grpc

import (
	"context"
	"errors"
	"sort"
	"time"

	"dmlog-tracer-sol/internal/deepmind"
	"dmlog-tracer-sol/internal/logic/replay"
	"dmlog-tracer-sol/internal/metrics"
	"dmlog-tracer-sol/internal/svc"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/zeromicro/go-zero/core/logx"
)

// slotSubmitter 接收需要复查的 slot 区间
type slotSubmitter interface {
	Submit(from, to uint64)
}

// BlockTracer 把 geyser 推送的每个区块回放为一个批次：batch_id = slot
type BlockTracer struct {
	tracer       *deepmind.Tracer
	blockChan    <-chan *pb.SubscribeUpdateBlock // 接收 block 的 channel
	checker      slotSubmitter                   // 可为 nil
	includeVotes bool
	lastSlot     uint64
	ctx          context.Context
	cancel       func(err error)
	logx.Logger
}

func NewBlockTracer(sc *svc.ServiceContext, blockChan <-chan *pb.SubscribeUpdateBlock, checker *SlotChecker) *BlockTracer {
	var submitter slotSubmitter
	if checker != nil {
		submitter = checker
	}
	return newBlockTracer(sc.Tracer, blockChan, submitter, sc.Config.Grpc.IncludeVotes)
}

func newBlockTracer(tracer *deepmind.Tracer, blockChan <-chan *pb.SubscribeUpdateBlock, checker slotSubmitter, includeVotes bool) *BlockTracer {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &BlockTracer{
		tracer:       tracer,
		blockChan:    blockChan,
		checker:      checker,
		includeVotes: includeVotes,
		Logger:       logx.WithContext(ctx).WithFields(logx.Field("service", "block_tracer")),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (p *BlockTracer) Start() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case block := <-p.blockChan:
			if block == nil {
				continue
			}
			_, _ = p.traceBlock(block)
			if len(p.blockChan) > 10 {
				p.Debugf("block chan len:%v", len(p.blockChan))
			}
		}
	}
}

func (p *BlockTracer) Stop() {
	p.cancel(errors.New("service stop"))
}

// traceBlock 回放区块内的交易并 flush，返回批次文件路径
func (p *BlockTracer) traceBlock(block *pb.SubscribeUpdateBlock) (string, error) {
	startTime := time.Now()
	p.checkGap(block.Slot)

	txs := make([]*pb.SubscribeUpdateTransactionInfo, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		if tx == nil || (tx.IsVote && !p.includeVotes) {
			continue
		}
		txs = append(txs, tx)
	}
	// 按区块内执行顺序回放
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Index < txs[j].Index })

	rec := p.tracer.NewBatch(block.Slot)
	skipped := 0
	for _, tx := range txs {
		if err := replay.TraceGrpcTx(rec, tx); err != nil {
			skipped++
			metrics.TransactionsSkipped.Inc()
			p.Errorf("[BlockTracer] skip tx: slot=%d, index=%d, err=%v", block.Slot, tx.Index, err)
		}
	}

	path, err := rec.Flush()
	if err != nil {
		p.Errorf("[BlockTracer] flush failed: slot=%d, err=%v", block.Slot, err)
		return "", err
	}
	metrics.BlocksTraced.Inc()
	p.Infof("[BlockTracer] slot=%d, 总tx数量=%d, 回放=%d, 跳过=%d, 耗时=%v",
		block.Slot, len(block.Transactions), len(txs)-skipped, skipped, time.Since(startTime))
	return path, nil
}

// checkGap 与上一个区块之间跳过的 slot 交给 SlotChecker 复查
func (p *BlockTracer) checkGap(slot uint64) {
	if p.lastSlot != 0 && slot > p.lastSlot+1 && p.checker != nil {
		p.checker.Submit(p.lastSlot+1, slot-1)
	}
	if slot > p.lastSlot {
		p.lastSlot = slot
	}
}
