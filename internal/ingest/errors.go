package ingest

import "errors"

// 入库失败分类（§错误分类）
// AuthError / RateLimitError 拒收不落库；ValidationError 进隔离区；
// 队列满按限流类错误上抛，调用方退避后可重试
var (
	ErrAuth        = errors.New("invalid or revoked device credential")
	ErrRateLimited = errors.New("device rate limit exceeded")
	ErrValidation  = errors.New("invalid telemetry payload")
	ErrQueueFull   = errors.New("intake queue full")
)
