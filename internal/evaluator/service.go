package evaluator

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/common/database"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// Service 状态评估服务
type Service struct {
	config *config.Config
	db     *sql.DB
	logger *zap.Logger

	evaluator  *Evaluator
	httpServer *http.Server
}

// NewService 创建评估服务
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deviceRepo := repository.NewDeviceRepository(db, logger)
	telemetryRepo := repository.NewTelemetryRepository(db, logger)
	stateRepo := repository.NewDeviceStateRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	ruleRepo := repository.NewAlertRuleRepository(db, logger)

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	evaluator := NewEvaluator(cfg, deviceRepo, telemetryRepo, stateRepo, alertRepo, ruleRepo, metrics, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      NewRouter(stateRepo, alertRepo, registry, logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Service{
		config:     cfg,
		db:         db,
		logger:     logger,
		evaluator:  evaluator,
		httpServer: httpServer,
	}, nil
}

// Start 启动评估循环与只读 HTTP 端点；阻塞到上下文取消
func (s *Service) Start(ctx context.Context) error {
	httpErrChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP listener started", zap.String("addr", s.config.HTTP.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrChan <- err
		}
	}()

	s.logger.Info("Evaluator started",
		zap.Duration("tick_interval", s.config.Evaluator.TickInterval),
		zap.Duration("heartbeat_window", s.config.Evaluator.HeartbeatWindow),
		zap.Duration("offline_window", s.config.Evaluator.OfflineWindow),
	)

	// 启动时立即跑一轮，不等第一个 tick
	if err := s.evaluator.Tick(ctx, time.Now()); err != nil {
		s.logger.Error("Evaluation tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.config.Evaluator.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
			defer cancel()
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("HTTP shutdown error", zap.Error(err))
			}
			return nil
		case err := <-httpErrChan:
			return fmt.Errorf("http server error: %w", err)
		case <-ticker.C:
			if err := s.evaluator.Tick(ctx, time.Now()); err != nil {
				s.logger.Error("Evaluation tick failed", zap.Error(err))
			}
		}
	}
}

// Stop 释放连接资源
func (s *Service) Stop() error {
	s.logger.Info("Stopping evaluator service")
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	return nil
}
