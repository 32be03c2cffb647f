package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"cpap-hub/internal/config"
	"cpap-hub/internal/service"
	"cpap-hub/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "cpap-hub")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting cpap-hub service",
		zap.String("udp_addr", cfg.Listener.Addr),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("stream", cfg.Ingest.Stream),
	)

	// 创建服务
	hubService, err := service.NewHubService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create hub service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := hubService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start hub service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := hubService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
