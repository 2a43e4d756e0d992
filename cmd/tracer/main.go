package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"dmlog-tracer-sol/internal/config"
	"dmlog-tracer-sol/internal/consts"
	"dmlog-tracer-sol/internal/logic/grpc"
	"dmlog-tracer-sol/internal/metrics"
	"dmlog-tracer-sol/internal/pkg/logger"
	"dmlog-tracer-sol/internal/svc"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
)

var configFile = flag.String("f", "etc/tracer.yaml", "the config file")

func main() {
	// stdout 只留给 DMLOG 行
	logx.SetWriter(logx.NewWriter(os.Stderr))

	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	var c config.TracerConfig
	conf.MustLoad(*configFile, &c)

	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		logx.Errorf("init logger failed: %v", err)
		os.Exit(1)
	}
	defer logger.Sync()

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		logx.Errorf("init service context failed: %v", err)
		os.Exit(1)
	}
	defer serviceContext.Close()

	sg := zerosvc.NewServiceGroup()

	if c.MetricsConf.ListenAddr != "" {
		sg.Add(metrics.NewServer(c.MetricsConf.ListenAddr))
	}

	var slotChecker *grpc.SlotChecker
	if c.SlotCheckerConf.RpcEndpoint != "" {
		slotChecker = grpc.NewSlotChecker(c.SlotCheckerConf)
		sg.Add(slotChecker)
	}

	if c.Grpc.Enabled() {
		blockChan := make(chan *pb.SubscribeUpdateBlock, consts.DefaultBlockChanSize)
		grpcService, err := grpc.NewGrpcStreamManager(c.Grpc, blockChan)
		if err != nil {
			logx.Errorf("init grpc stream failed: %v", err)
			os.Exit(1)
		}
		sg.Add(grpcService)
		sg.Add(grpc.NewBlockTracer(serviceContext, blockChan, slotChecker))
		logx.Infof("Starting geyser block tracer, endpoint=%s", c.Grpc.Endpoint)
	}

	// 启动服务，Start 会阻塞到全部服务退出
	go sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logx.Info("Shutting down services...")
	sg.Stop()
}
