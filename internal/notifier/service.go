package notifier

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/common/database"
	mqttcommon "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/mqtt"
	rediscommon "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/redis"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/escalation"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/notifier/channels"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// Service 通知服务
// 同一进程承载升级引擎、通知路由器和投递工作器：
// 引擎发事件到流，路由器消费流做扇出，工作器驱动任务队列重试
type Service struct {
	config      *config.Config
	db          *sql.DB
	redisClient *rediscommon.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	engine     *escalation.Engine
	router     *Router
	worker     *DeliveryWorker
	httpServer *http.Server
}

// NewService 创建通知服务
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	alertRepo := repository.NewAlertRepository(db, logger)
	escalationRepo := repository.NewEscalationRepository(db, logger)
	oncallRepo := repository.NewOnCallRepository(db, logger)
	routingRepo := repository.NewRoutingRepository(db, logger)
	jobRepo := repository.NewDeliveryJobRepository(db, logger)

	registry := prometheus.NewRegistry()
	engineMetrics := escalation.NewMetrics(registry)
	notifierMetrics := NewMetrics(registry)

	restyClient := resty.New().SetTimeout(cfg.Notifier.DeliveryTimeout)

	channelRegistry := channels.NewRegistry(
		channels.NewWebhookSender(restyClient),
		channels.NewSlackSender(restyClient),
		channels.NewTeamsSender(restyClient),
		channels.NewPagerDutySender(restyClient),
		channels.NewEmailSender(),
		channels.NewSNMPSender(cfg.Notifier.DeliveryTimeout),
		channels.NewMQTTSender(mqttClient),
	)

	engine := escalation.NewEngine(cfg, alertRepo, escalationRepo, oncallRepo, redisClient, engineMetrics, logger)
	router := NewRouter(cfg, redisClient, routingRepo, jobRepo, channelRegistry, notifierMetrics, logger)
	worker := NewDeliveryWorker(cfg, jobRepo, channelRegistry, notifierMetrics, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      NewHTTPRouter(cfg, jobRepo, router, redisClient, registry, logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Service{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
		engine:      engine,
		router:      router,
		worker:      worker,
		httpServer:  httpServer,
	}, nil
}

// Start 启动全部循环；阻塞到上下文取消
func (s *Service) Start(ctx context.Context) error {
	httpErrChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP listener started", zap.String("addr", s.config.HTTP.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrChan <- err
		}
	}()

	routerErrChan := make(chan error, 1)
	go func() {
		if err := s.router.Start(ctx); err != nil {
			routerErrChan <- err
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		s.worker.Start(ctx)
		close(workerDone)
	}()

	s.logger.Info("Escalation engine started",
		zap.Duration("tick_interval", s.config.Escalation.TickInterval),
		zap.String("event_stream", s.config.Escalation.EventStream),
	)

	// 启动时立即跑一轮升级扫描
	if err := s.engine.Tick(ctx, time.Now()); err != nil {
		s.logger.Error("Escalation tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.config.Escalation.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
			defer cancel()
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("HTTP shutdown error", zap.Error(err))
			}
			// 等在途投递完成
			<-workerDone
			return nil
		case err := <-httpErrChan:
			return fmt.Errorf("http server error: %w", err)
		case err := <-routerErrChan:
			return fmt.Errorf("notification router error: %w", err)
		case <-ticker.C:
			if err := s.engine.Tick(ctx, time.Now()); err != nil {
				s.logger.Error("Escalation tick failed", zap.Error(err))
			}
		}
	}
}

// Stop 释放连接资源
func (s *Service) Stop() error {
	s.logger.Info("Stopping notifier service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close Redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	return nil
}
