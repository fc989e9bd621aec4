package config

import (
	"time"

	common "github.com/andrewcho-dev/opsconductor-pulse-sub007/common/config"
)

// 部署模式
const (
	ModeStandard = "standard" // 隔离记录落库
	ModeStrict   = "strict"   // 生产严格模式：隔离记录只记日志不落库
)

// Config 管道服务配置（三个服务共用一个配置结构，各取所需的段）
type Config struct {
	Database common.DatabaseConfig
	Redis    common.RedisConfig
	MQTT     common.MQTTConfig
	HTTP     common.HTTPConfig

	// 部署模式（standard / strict）
	Mode string

	// 入库网关配置
	Ingest struct {
		Workers        int           // 并发处理协程数
		QueueSize      int           // 有界接收队列长度
		MaxPayloadSize int           // 消息体上限（字节）
		BatchMax       int           // 批量端点单次最多子消息数
		AuthCacheTTL   time.Duration // 凭证缓存 TTL
		RateLimitRPS   float64       // 每设备令牌桶速率
		RateLimitBurst int           // 每设备令牌桶容量
		BucketIdleTTL  time.Duration // 空闲令牌桶回收时间
		BatchSize      int           // 批量写阈值（条数）
		FlushInterval  time.Duration // 批量写时间阈值
		CopyThreshold  int           // 超过该条数走 COPY 批量写入
		BatchRetryOnce bool          // 刷写失败时是否立即重试一次
		TopicFilter    string        // MQTT 订阅主题
	}

	// 状态评估配置
	Evaluator struct {
		TickInterval    time.Duration // 评估周期
		HeartbeatWindow time.Duration // ONLINE -> STALE 阈值
		OfflineWindow   time.Duration // STALE -> OFFLINE 阈值
		LookbackWindow  time.Duration // 遥测回看窗口
	}

	// 升级引擎配置
	Escalation struct {
		TickInterval time.Duration // 升级扫描周期
		EventStream  string        // 通知事件流
	}

	// 通知路由与投递配置
	Notifier struct {
		ConsumerGroup      string
		ConsumerName       string
		StreamBatchSize    int64
		StreamBlock        time.Duration
		WorkerInterval     time.Duration // DeliveryWorker 扫描周期
		ClaimBatch         int           // 单次认领任务数
		DeliveryTimeout    time.Duration // 单次投递超时
		BaseBackoff        time.Duration // 重试退避基数
		MaxBackoff         time.Duration // 退避上限
		DefaultMaxAttempts int
		TestRatePerMin     int // 每租户 test-delivery 限额（次/分钟）
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = common.GetEnv("DB_HOST", "localhost")
	cfg.Database.Port = common.GetEnvInt("DB_PORT", 5432)
	cfg.Database.User = common.GetEnv("DB_USER", "postgres")
	cfg.Database.Password = common.GetEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = common.GetEnv("DB_NAME", "pulse")
	cfg.Database.SSLMode = common.GetEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = common.GetEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = common.GetEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = common.GetEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = common.GetEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = common.GetEnvInt("REDIS_DB", 0)

	cfg.MQTT.LoadFromEnv("MQTT")
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	cfg.MQTT.QoS = 1

	cfg.HTTP.Addr = common.GetEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.ReadTimeout = common.GetEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second)
	cfg.HTTP.WriteTimeout = common.GetEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	cfg.HTTP.ShutdownTimeout = common.GetEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Mode = common.GetEnv("PULSE_MODE", ModeStandard)

	cfg.Ingest.Workers = common.GetEnvInt("INGEST_WORKERS", 4)
	cfg.Ingest.QueueSize = common.GetEnvInt("INGEST_QUEUE_SIZE", 1024)
	cfg.Ingest.MaxPayloadSize = common.GetEnvInt("INGEST_MAX_PAYLOAD", 16*1024)
	cfg.Ingest.BatchMax = common.GetEnvInt("INGEST_BATCH_MAX", 100)
	cfg.Ingest.AuthCacheTTL = common.GetEnvDuration("AUTH_CACHE_TTL", 60*time.Second)
	cfg.Ingest.RateLimitRPS = float64(common.GetEnvInt("RATE_LIMIT_RPS", 10))
	cfg.Ingest.RateLimitBurst = common.GetEnvInt("RATE_LIMIT_BURST", 20)
	cfg.Ingest.BucketIdleTTL = common.GetEnvDuration("RATE_BUCKET_IDLE_TTL", 10*time.Minute)
	cfg.Ingest.BatchSize = common.GetEnvInt("BATCH_SIZE", 500)
	cfg.Ingest.FlushInterval = common.GetEnvDuration("FLUSH_INTERVAL", 2*time.Second)
	cfg.Ingest.CopyThreshold = common.GetEnvInt("COPY_THRESHOLD", 50)
	cfg.Ingest.BatchRetryOnce = common.GetEnvBool("BATCH_RETRY_ONCE", false)
	cfg.Ingest.TopicFilter = common.GetEnv("INGEST_TOPIC_FILTER", "tenant/+/device/+/+")

	cfg.Evaluator.TickInterval = common.GetEnvDuration("EVAL_TICK_INTERVAL", 30*time.Second)
	cfg.Evaluator.HeartbeatWindow = common.GetEnvDuration("HEARTBEAT_WINDOW", 5*time.Minute)
	cfg.Evaluator.OfflineWindow = common.GetEnvDuration("OFFLINE_WINDOW", 30*time.Minute)
	cfg.Evaluator.LookbackWindow = common.GetEnvDuration("LOOKBACK_WINDOW", time.Hour)

	cfg.Escalation.TickInterval = common.GetEnvDuration("ESC_TICK_INTERVAL", 60*time.Second)
	cfg.Escalation.EventStream = common.GetEnv("EVENT_STREAM", "pulse:alerts:events")

	cfg.Notifier.ConsumerGroup = common.GetEnv("NOTIFIER_GROUP", "pulse-notifier")
	cfg.Notifier.ConsumerName = common.GetEnv("NOTIFIER_CONSUMER", "notifier-1")
	cfg.Notifier.StreamBatchSize = int64(common.GetEnvInt("NOTIFIER_STREAM_BATCH", 32))
	cfg.Notifier.StreamBlock = common.GetEnvDuration("NOTIFIER_STREAM_BLOCK", 5*time.Second)
	cfg.Notifier.WorkerInterval = common.GetEnvDuration("WORKER_INTERVAL", 10*time.Second)
	cfg.Notifier.ClaimBatch = common.GetEnvInt("WORKER_CLAIM_BATCH", 16)
	cfg.Notifier.DeliveryTimeout = common.GetEnvDuration("DELIVERY_TIMEOUT", 15*time.Second)
	cfg.Notifier.BaseBackoff = common.GetEnvDuration("BASE_BACKOFF", 30*time.Second)
	cfg.Notifier.MaxBackoff = common.GetEnvDuration("MAX_BACKOFF", time.Hour)
	cfg.Notifier.DefaultMaxAttempts = common.GetEnvInt("MAX_ATTEMPTS", 5)
	cfg.Notifier.TestRatePerMin = common.GetEnvInt("TEST_DELIVERY_PER_MIN", 5)

	cfg.Log.Level = common.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = common.GetEnv("LOG_FORMAT", "json")

	return cfg, nil
}
