package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// TelemetrySink 遥测写入接口（repository.TelemetryRepository 实现）
type TelemetrySink interface {
	InsertRows(ctx context.Context, records []models.TelemetryRecord) error
	CopyRows(ctx context.Context, records []models.TelemetryRecord) error
}

// BatchWriterConfig 批量写配置
type BatchWriterConfig struct {
	BatchSize     int           // 条数阈值
	FlushInterval time.Duration // 时间阈值
	CopyThreshold int           // 超过该条数走 COPY 路径
	RetryOnce     bool          // 刷写失败时立即重试一次后再丢弃
}

// BatchWriter 遥测批量写入器
// 缓冲区由单一互斥锁保护；刷写在锁外执行，新记录可与进行中的刷写并发累积。
// 刷写失败只记日志和计数，不重排队（至多一次写语义，已知缺口）
type BatchWriter struct {
	sink    TelemetrySink
	cfg     BatchWriterConfig
	metrics *Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	buf       []models.TelemetryRecord
	lastFlush time.Time

	flushWG sync.WaitGroup
}

// NewBatchWriter 创建批量写入器
func NewBatchWriter(sink TelemetrySink, cfg BatchWriterConfig, metrics *Metrics, logger *zap.Logger) *BatchWriter {
	return &BatchWriter{
		sink:      sink,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		buf:       make([]models.TelemetryRecord, 0, cfg.BatchSize),
		lastFlush: time.Now(),
	}
}

// Add 追加已校验记录；达到条数阈值时触发一次异步刷写
func (w *BatchWriter) Add(rec models.TelemetryRecord) {
	var batch []models.TelemetryRecord

	w.mu.Lock()
	w.buf = append(w.buf, rec)
	if len(w.buf) >= w.cfg.BatchSize {
		batch = w.swapLocked()
	}
	w.mu.Unlock()

	if batch != nil {
		w.flushWG.Add(1)
		go func() {
			defer w.flushWG.Done()
			w.flush(context.Background(), batch)
		}()
	}
}

// Run 后台定时刷写循环；ctx 取消时执行最终排空后返回
func (w *BatchWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.mu.Lock()
			var batch []models.TelemetryRecord
			if len(w.buf) > 0 && time.Since(w.lastFlush) >= w.cfg.FlushInterval {
				batch = w.swapLocked()
			}
			w.mu.Unlock()

			if batch != nil {
				w.flush(context.Background(), batch)
			}
		}
	}
}

// drain 关闭前排空缓冲并等待进行中的刷写完成
func (w *BatchWriter) drain() {
	w.mu.Lock()
	batch := w.swapLocked()
	w.mu.Unlock()

	if batch != nil {
		w.flush(context.Background(), batch)
	}
	w.flushWG.Wait()

	w.logger.Info("Batch writer drained")
}

// swapLocked 换出当前缓冲（调用方需持锁）
func (w *BatchWriter) swapLocked() []models.TelemetryRecord {
	if len(w.buf) == 0 {
		return nil
	}
	batch := w.buf
	w.buf = make([]models.TelemetryRecord, 0, w.cfg.BatchSize)
	w.lastFlush = time.Now()
	return batch
}

// flush 执行一次刷写；大批量走 COPY，小批量逐行插入
func (w *BatchWriter) flush(ctx context.Context, batch []models.TelemetryRecord) {
	start := time.Now()

	err := w.write(ctx, batch)
	if err != nil && w.cfg.RetryOnce {
		w.logger.Warn("Batch flush failed, retrying once",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		err = w.write(ctx, batch)
	}

	latency := time.Since(start)
	w.metrics.FlushLatency.Set(latency.Seconds())

	if err != nil {
		// 失败批次丢弃，不重排队
		w.metrics.WriteErrors.Inc()
		w.logger.Error("Batch flush failed, dropping records",
			zap.Int("batch_size", len(batch)),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return
	}

	w.metrics.BatchesFlushed.Inc()
	w.metrics.RecordsWritten.Add(float64(len(batch)))
	w.logger.Debug("Batch flushed",
		zap.Int("batch_size", len(batch)),
		zap.Duration("latency", latency),
	)
}

func (w *BatchWriter) write(ctx context.Context, batch []models.TelemetryRecord) error {
	if len(batch) >= w.cfg.CopyThreshold {
		return w.sink.CopyRows(ctx, batch)
	}
	return w.sink.InsertRows(ctx, batch)
}

// BufferedCount 当前缓冲条数（测试用）
func (w *BatchWriter) BufferedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
