// Package service 组装 CPAP 接入服务的全部组件
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"cpap-hub/internal/cache"
	"cpap-hub/internal/config"
	"cpap-hub/internal/consumer"
	"cpap-hub/internal/httpapi"
	"cpap-hub/internal/listener"
	"cpap-hub/internal/repository"
	"cpap-hub/pkg/database"
	"cpap-hub/pkg/mqttclient"
	"cpap-hub/pkg/redisx"
)

// HubService CPAP 接入服务
//
// 组件：UDP 监听器（接收+组帧+发布）、流消费者（入库+缓存+通知）、HTTP API。
type HubService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttclient.Client

	udpListener    *listener.UDPListener
	streamConsumer *consumer.StreamConsumer
	httpServer     *http.Server
}

// NewHubService 创建并装配服务
func NewHubService(cfg *config.Config, logger *zap.Logger) (*HubService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := redisx.NewRedisClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT（未配置 broker 时跳过，通知降级为关闭）
	var mqttClient *mqttclient.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqttclient.NewClient(&cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
	} else {
		logger.Warn("MQTT broker not configured, notifications disabled")
	}

	// 创建Repository与缓存
	sessionRepo := repository.NewSessionRepository(db, logger)
	latestCache := cache.NewLatestSessionCache(redisClient, cfg.Ingest.CacheTTL, logger)

	// 创建UDP监听器与流消费者
	var listenerNotifier listener.Notifier
	var consumerNotifier consumer.Notifier
	if mqttClient != nil {
		listenerNotifier = mqttClient
		consumerNotifier = mqttClient
	}
	udpListener := listener.NewUDPListener(cfg, redisClient, listenerNotifier, logger)
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, sessionRepo, latestCache, consumerNotifier, logger)

	// 创建HTTP API
	router := httpapi.NewRouter(logger)
	router.RegisterRoutes(
		httpapi.NewDashboardHandler(sessionRepo, latestCache, logger),
		httpapi.NewHistoryHandler(sessionRepo, logger),
	)
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return &HubService{
		config:         cfg,
		logger:         logger,
		db:             db,
		redis:          redisClient,
		mqttClient:     mqttClient,
		udpListener:    udpListener,
		streamConsumer: streamConsumer,
		httpServer:     httpServer,
	}, nil
}

// Start 启动全部组件，各组件独立 goroutine 运行
func (s *HubService) Start(ctx context.Context) error {
	s.logger.Info("Starting cpap-hub service components")

	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil {
			s.logger.Error("Stream consumer exited", zap.Error(err))
		}
	}()

	go func() {
		if err := s.udpListener.Start(ctx); err != nil {
			s.logger.Error("UDP listener exited", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.config.HTTP.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	s.logger.Info("cpap-hub service started successfully")
	return nil
}

// Stop 停止服务
func (s *HubService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping cpap-hub service")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	if s.udpListener != nil {
		if err := s.udpListener.Stop(ctx); err != nil {
			s.logger.Error("Error stopping UDP listener", zap.Error(err))
		}
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redis != nil {
		redisx.Close(s.redis)
	}

	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("cpap-hub service stopped")
	return nil
}
