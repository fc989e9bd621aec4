package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	rediscommon "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/redis"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/config"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/notifier/channels"
	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/repository"
)

// Router 通知路由器
// 消费升级引擎发出的事件流，按租户路由规则扇出到通知通道。
// 直连规则带节流窗口（Redis SET NX TTL），旧式集成路由入队 DeliveryJob
// 由 DeliveryWorker 带重试投递
type Router struct {
	cfg         *config.Config
	redisClient *goredis.Client
	routingRepo *repository.RoutingRepository
	jobRepo     *repository.DeliveryJobRepository
	registry    *channels.Registry
	metrics     *Metrics
	logger      *zap.Logger
}

// NewRouter 创建通知路由器
func NewRouter(
	cfg *config.Config,
	redisClient *goredis.Client,
	routingRepo *repository.RoutingRepository,
	jobRepo *repository.DeliveryJobRepository,
	registry *channels.Registry,
	metrics *Metrics,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:         cfg,
		redisClient: redisClient,
		routingRepo: routingRepo,
		jobRepo:     jobRepo,
		registry:    registry,
		metrics:     metrics,
		logger:      logger,
	}
}

// Start 启动流消费循环；阻塞到上下文取消
func (r *Router) Start(ctx context.Context) error {
	stream := r.cfg.Escalation.EventStream
	group := r.cfg.Notifier.ConsumerGroup

	if err := rediscommon.CreateConsumerGroup(ctx, r.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	r.logger.Info("Notification router started",
		zap.String("stream", stream),
		zap.String("group", group),
		zap.String("consumer", r.cfg.Notifier.ConsumerName),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Notification router stopped")
			return nil
		default:
		}

		messages, err := rediscommon.ReadFromStream(ctx, r.redisClient, stream, group,
			r.cfg.Notifier.ConsumerName, r.cfg.Notifier.StreamBatchSize, r.cfg.Notifier.StreamBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("Failed to read from event stream", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for i := range messages {
			if err := r.handleMessage(ctx, &messages[i]); err != nil {
				r.logger.Error("Failed to handle notification event",
					zap.String("message_id", messages[i].ID),
					zap.Error(err),
				)
				// 不 ACK，留在 pending 列表等重新消费
				continue
			}
			if err := rediscommon.AckMessage(ctx, r.redisClient, stream, group, messages[i].ID); err != nil {
				r.logger.Error("Failed to ack message", zap.String("message_id", messages[i].ID), zap.Error(err))
			}
		}
	}
}

// handleMessage 解码并路由一条事件
func (r *Router) handleMessage(ctx context.Context, msg *rediscommon.StreamMessage) error {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		// 无法解码的消息直接确认跳过，避免无限重投
		r.metrics.EventsInvalid.Inc()
		return rediscommon.AckMessage(ctx, r.redisClient, r.cfg.Escalation.EventStream, r.cfg.Notifier.ConsumerGroup, msg.ID)
	}

	var event models.NotificationEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		r.metrics.EventsInvalid.Inc()
		r.logger.Warn("Dropping undecodable event", zap.String("message_id", msg.ID), zap.Error(err))
		return rediscommon.AckMessage(ctx, r.redisClient, r.cfg.Escalation.EventStream, r.cfg.Notifier.ConsumerGroup, msg.ID)
	}

	r.metrics.EventsConsumed.Inc()
	return r.Route(ctx, &event)
}

// Route 路由单条事件到全部命中的规则与集成路由
// 规则之间互不影响：一条发送失败不阻塞其他通道
func (r *Router) Route(ctx context.Context, event *models.NotificationEvent) error {
	rules, err := r.routingRepo.ListRoutingRules(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("failed to list routing rules: %w", err)
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Matches(event) {
			continue
		}

		throttled, err := r.throttled(ctx, rule, event)
		if err != nil {
			r.logger.Error("Throttle check failed, sending anyway",
				zap.String("rule_id", rule.RuleID),
				zap.Error(err),
			)
		}
		if throttled {
			r.metrics.Throttled.Inc()
			continue
		}

		r.metrics.Routed.WithLabelValues(rule.Channel).Inc()
		r.send(ctx, rule, event)
	}

	routes, err := r.routingRepo.ListIntegrationRoutes(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("failed to list integration routes: %w", err)
	}

	for i := range routes {
		route := &routes[i]
		if !route.Matches(event) {
			continue
		}
		if err := r.enqueueJob(ctx, route, event); err != nil {
			r.logger.Error("Failed to enqueue delivery job",
				zap.String("route_id", route.RouteID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// throttled 判断 (rule, device) 的节流窗口是否生效
// SET NX + TTL：第一个拿到键的事件放行并开窗，窗口内后续事件抑制
func (r *Router) throttled(ctx context.Context, rule *models.NotificationRoutingRule, event *models.NotificationEvent) (bool, error) {
	if rule.ThrottleSeconds <= 0 {
		return false, nil
	}

	key := fmt.Sprintf("pulse:throttle:%s:%s:%s", event.TenantID, rule.RuleID, event.DeviceID)
	ok, err := r.redisClient.SetNX(ctx, key, 1, time.Duration(rule.ThrottleSeconds)*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set throttle key: %w", err)
	}

	return !ok, nil
}

// send 直连通道发送；失败只记录（直连路径无重试，重试语义走任务队列路径）
func (r *Router) send(ctx context.Context, rule *models.NotificationRoutingRule, event *models.NotificationEvent) {
	sender, err := r.registry.Get(rule.Channel)
	if err != nil {
		r.metrics.SendOutcomes.WithLabelValues(rule.Channel, "error").Inc()
		r.logger.Error("No adapter for channel", zap.String("channel", rule.Channel), zap.Error(err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.Notifier.DeliveryTimeout)
	defer cancel()

	if err := sender.Send(sendCtx, rule.ChannelConfig, event); err != nil {
		r.metrics.SendOutcomes.WithLabelValues(rule.Channel, "error").Inc()
		r.logger.Error("Channel send failed",
			zap.String("channel", rule.Channel),
			zap.String("rule_id", rule.RuleID),
			zap.String("alert_id", event.AlertID),
			zap.Error(err),
		)
		return
	}

	r.metrics.SendOutcomes.WithLabelValues(rule.Channel, "ok").Inc()
}

// enqueueJob 为集成路由入队投递任务
func (r *Router) enqueueJob(ctx context.Context, route *models.IntegrationRoute, event *models.NotificationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	maxAttempts := route.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.Notifier.DefaultMaxAttempts
	}

	job := &models.DeliveryJob{
		JobID:         uuid.NewString(),
		TenantID:      event.TenantID,
		AlertID:       event.AlertID,
		RouteID:       route.RouteID,
		Transport:     route.Transport,
		TransportConf: route.TransportConf,
		PayloadJSON:   payload,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: time.Now(),
	}

	if err := r.jobRepo.Enqueue(ctx, event.TenantID, job); err != nil {
		return err
	}
	r.metrics.JobsEnqueued.Inc()

	return nil
}
