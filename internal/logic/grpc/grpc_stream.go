package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"dmlog-tracer-sol/internal/config"
	"dmlog-tracer-sol/internal/pkg/logger"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// GrpcStreamManager 维护 geyser 区块订阅，断线自动重连，收到的区块写入 blockChan
type GrpcStreamManager struct {
	mu                sync.Mutex                      // 互斥锁，保护并发安全
	conn              *grpc.ClientConn                // gRPC 连接对象
	client            pb.GeyserClient                 // gRPC 客户端
	stream            pb.Geyser_SubscribeClient       // gRPC 订阅流
	stopped           bool                            // 标记是否已经停止
	reconnectAttempts int                             // 已重连次数
	reconnectInterval time.Duration                   // 重连基础间隔
	xToken            string                          // 认证用的 x-token
	accountInclude    []string                        // 区块过滤
	pingInterval      time.Duration                   // Stream 心跳包发送间隔
	blockChan         chan<- *pb.SubscribeUpdateBlock // 区块数据通道
	connCtx           context.Context                 // 当前连接的 context
	connCancel        context.CancelFunc              // 当前连接的 cancel 函数
	blockRecvTimeout  time.Duration                   // 多久未收到 block 触发重连
	sendTimeout       time.Duration                   // gRPC 发送超时
}

func NewGrpcStreamManager(grpcConf config.GrpcConfig, blockChan chan<- *pb.SubscribeUpdateBlock) (*GrpcStreamManager, error) {
	configTls := &tls.Config{
		InsecureSkipVerify: true,
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), secondsOr(grpcConf.ConnectTimeoutSec, 10))
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, grpcConf.Endpoint, dialOptions(grpcConf, configTls)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", grpcConf.Endpoint, err)
	}

	return &GrpcStreamManager{
		conn:              conn,
		client:            pb.NewGeyserClient(conn),
		reconnectInterval: secondsOr(grpcConf.ReconnectIntervalSec, 3),
		xToken:            grpcConf.XToken,
		accountInclude:    grpcConf.AccountInclude,
		pingInterval:      secondsOr(grpcConf.StreamPingIntervalSec, 10),
		blockChan:         blockChan,
		blockRecvTimeout:  secondsOr(grpcConf.BlockRecvTimeoutSec, 30),
		sendTimeout:       secondsOr(grpcConf.SendTimeoutSec, 5),
	}, nil
}

func (m *GrpcStreamManager) Start() {
	m.mustConnect()
}

func (m *GrpcStreamManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
}

// 内部循环直到连接成功
func (m *GrpcStreamManager) mustConnect() {
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		if m.reconnectAttempts > 0 {
			if m.reconnectAttempts > 3 {
				time.Sleep(m.reconnectInterval * 2)
			} else {
				time.Sleep(m.reconnectInterval)
			}
		}
		logger.Infof("[GrpcStream] connecting, attempt %d", m.reconnectAttempts+1)
		m.reconnectAttempts++
		err := m.connect()
		if err == nil {
			return
		}
		logger.Warnf("[GrpcStream] connect failed: %v, will retry", err)
	}
}

func buildSubscribeRequest(accountInclude []string) *pb.SubscribeRequest {
	blocks := make(map[string]*pb.SubscribeRequestFilterBlocks)
	blocks["blocks"] = &pb.SubscribeRequestFilterBlocks{
		AccountInclude:      accountInclude,
		IncludeTransactions: boolPtr(true),
		IncludeAccounts:     boolPtr(false),
		IncludeEntries:      boolPtr(false),
	}
	commitment := pb.CommitmentLevel_CONFIRMED
	return &pb.SubscribeRequest{
		Blocks:     blocks,
		Commitment: &commitment,
	}
}

// connect 只尝试一次连接
func (m *GrpcStreamManager) connect() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errors.New("manager is stopped")
	}
	defer m.mu.Unlock()

	// 先关闭旧的 context，优雅退出旧 goroutine
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.connCtx, m.connCancel = context.WithCancel(context.Background())

	metaCtx := metadata.NewOutgoingContext(
		m.connCtx,
		metadata.New(map[string]string{"x-token": m.xToken}),
	)
	stream, err := m.client.Subscribe(metaCtx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	req := buildSubscribeRequest(m.accountInclude)
	if err := sendWithTimeout(m.connCtx, stream.Send, req, m.sendTimeout); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}

	m.stream = stream
	m.reconnectAttempts = 0
	logger.Infof("[GrpcStream] connection established")

	go m.pingLoop(m.connCtx, stream)
	go m.blockRecvLoop(m.connCtx, stream)
	return nil
}

func (m *GrpcStreamManager) blockRecvLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		update, err := stream.Recv()
		now := time.Now()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Warnf("[GrpcStream] stream closed by server (EOF), will reconnect")
				m.reconnect()
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("[GrpcStream] stream error: %v", err)
			if m.reconnectIfBlockTimeout(last) {
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if u, ok := update.GetUpdateOneof().(*pb.SubscribeUpdate_Block); ok {
			if u.Block.BlockTime != nil {
				logger.Debugf("[GrpcStream] received block at slot %d, latency to blockTime: %d ms",
					u.Block.Slot, now.UnixMilli()-u.Block.BlockTime.Timestamp*1000)
			}
			// 每个区块都要落成批次，通道满时阻塞而不是丢弃
			select {
			case m.blockChan <- u.Block:
			case <-ctx.Done():
				return
			}
			last = now
		}

		if m.reconnectIfBlockTimeout(last) {
			return
		}
	}
}

// 带超时的 Send
func sendWithTimeout[T any](ctx context.Context, sendFunc func(T) error, req T, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sendFunc(req)
	}()

	select {
	case <-timeoutCtx.Done():
		return timeoutCtx.Err()
	case err := <-done:
		return err
	}
}

// 心跳检测
func (m *GrpcStreamManager) pingLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingReq := &pb.SubscribeRequest{
				Ping: &pb.SubscribeRequestPing{Id: 1},
			}
			if err := sendWithTimeout(ctx, stream.Send, pingReq, m.sendTimeout); err != nil {
				// 这里只记录日志，不触发重连
				logger.Warnf("[GrpcStream] ping failed: %v", err)
			}
		}
	}
}

func (m *GrpcStreamManager) reconnectIfBlockTimeout(last time.Time) bool {
	if time.Since(last) > m.blockRecvTimeout {
		logger.Warnf("[GrpcStream] no block for %v, reconnecting", m.blockRecvTimeout)
		m.reconnect()
		return true
	}
	return false
}

func (m *GrpcStreamManager) reconnect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.mu.Unlock()

	go m.mustConnect()
}

func dialOptions(grpcConf config.GrpcConfig, configTls *tls.Config) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewTLS(configTls)),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                secondsOr(grpcConf.KeepalivePingIntervalSec, 10),
			Timeout:             secondsOr(grpcConf.KeepalivePingTimeoutSec, 5),
			PermitWithoutStream: true,
		}),
	}

	// 窗口与消息大小未配置时沿用 grpc 默认值
	if grpcConf.InitialWindowSize > 0 {
		opts = append(opts, grpc.WithInitialWindowSize(int32(grpcConf.InitialWindowSize)))
	}
	if grpcConf.InitialConnWindowSize > 0 {
		opts = append(opts, grpc.WithInitialConnWindowSize(int32(grpcConf.InitialConnWindowSize)))
	}
	var callOpts []grpc.CallOption
	if grpcConf.MaxCallSendMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallSendMsgSize(grpcConf.MaxCallSendMsgSize))
	}
	if grpcConf.MaxCallRecvMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(grpcConf.MaxCallRecvMsgSize))
	}
	if len(callOpts) > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(callOpts...))
	}
	return opts
}

// secondsOr 配置为 0 或负数时使用默认秒数
func secondsOr(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

func boolPtr(b bool) *bool {
	return &b
}
