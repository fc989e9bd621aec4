package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	logpkg "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/logger"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/evaluator"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "pulse-evaluator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting pulse-evaluator service")

	// 创建服务
	svc, err := evaluator.NewService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create evaluator service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 启动服务（在 goroutine 中）
	doneChan := make(chan error, 1)
	go func() {
		doneChan <- svc.Start(ctx)
	}()

	// 等待信号或错误
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		if err := <-doneChan; err != nil {
			log.Error("Service error during shutdown", zap.Error(err))
		}
	case err := <-doneChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
		cancel()
	}

	// 停止服务
	if err := svc.Stop(); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
