package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/common/database"
	mqttcommon "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/mqtt"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// Service 入库服务（整合各层）
type Service struct {
	config     *config.Config
	db         *sql.DB
	mqttClient *mqttcommon.Client
	logger     *zap.Logger

	gateway     *Gateway
	batchWriter *BatchWriter
	rateLimiter *RateLimiter
	consumer    *MQTTConsumer
	httpServer  *http.Server
}

// NewService 创建入库服务
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// 3. 创建 Repository 层
	deviceRepo := repository.NewDeviceRepository(db, logger)
	telemetryRepo := repository.NewTelemetryRepository(db, logger)
	quarantineRepo := repository.NewQuarantineRepository(db, logger)

	// 4. 创建管道组件
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	authCache := NewAuthCache(deviceRepo, cfg.Ingest.AuthCacheTTL, logger)
	rateLimiter := NewRateLimiter(cfg.Ingest.RateLimitRPS, cfg.Ingest.RateLimitBurst, cfg.Ingest.BucketIdleTTL, logger)
	batchWriter := NewBatchWriter(telemetryRepo, BatchWriterConfig{
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: cfg.Ingest.FlushInterval,
		CopyThreshold: cfg.Ingest.CopyThreshold,
		RetryOnce:     cfg.Ingest.BatchRetryOnce,
	}, metrics, logger)

	gateway := NewGateway(cfg, authCache, rateLimiter, batchWriter, quarantineRepo, metrics, logger)
	consumer := NewMQTTConsumer(cfg, mqttClient, gateway, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      NewRouter(gateway, quarantineRepo, registry, logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Service{
		config:      cfg,
		db:          db,
		mqttClient:  mqttClient,
		logger:      logger,
		gateway:     gateway,
		batchWriter: batchWriter,
		rateLimiter: rateLimiter,
		consumer:    consumer,
		httpServer:  httpServer,
	}, nil
}

// Start 启动服务；阻塞到上下文取消后完成排空
func (s *Service) Start(ctx context.Context) error {
	s.gateway.Start(ctx)
	s.rateLimiter.StartJanitor(ctx)

	writerDone := make(chan struct{})
	go func() {
		s.batchWriter.Run(ctx)
		close(writerDone)
	}()

	httpErrChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP listener started", zap.String("addr", s.config.HTTP.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrChan <- err
		}
	}()

	mqttErrChan := make(chan error, 1)
	go func() {
		if err := s.consumer.Start(ctx); err != nil {
			mqttErrChan <- err
		}
	}()

	select {
	case err := <-httpErrChan:
		return fmt.Errorf("http server error: %w", err)
	case err := <-mqttErrChan:
		return fmt.Errorf("mqtt consumer error: %w", err)
	case <-ctx.Done():
	}

	// 优雅关闭：先停收新消息，再等工作协程与批量写排空
	s.consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP shutdown error", zap.Error(err))
	}

	s.gateway.Wait()
	<-writerDone

	return nil
}

// Stop 释放连接资源
func (s *Service) Stop() error {
	s.logger.Info("Stopping ingest service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	return nil
}
