// Package channels 通知通道适配器
// 每种通道实现 Sender；路由器直接派发，DeliveryWorker 通过任务队列重试派发，
// 两条路径共用同一组适配器
package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// Sender 单通道投递适配器
// conf 是路由规则/集成路由里配置的 JSONB 通道参数
type Sender interface {
	Name() string
	Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error
}

// Registry 按通道名索引的适配器注册表
type Registry struct {
	senders map[string]Sender
}

// NewRegistry 创建注册表
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[string]Sender, len(senders))}
	for _, s := range senders {
		r.senders[s.Name()] = s
	}
	return r
}

// Get 按通道名取适配器
func (r *Registry) Get(channel string) (Sender, error) {
	s, ok := r.senders[channel]
	if !ok {
		return nil, fmt.Errorf("unknown delivery channel %q", channel)
	}
	return s, nil
}
