package auth

import (
	"context"
	"errors"
	"net/http"
)

// Capability 一个被允许的操作
type Capability string

const (
	CapReadState      Capability = "state:read"
	CapReadAlerts     Capability = "alerts:read"
	CapReadDelivery   Capability = "delivery:read"
	CapReadQuarantine Capability = "quarantine:read"
	CapTestDelivery   Capability = "delivery:test"
)

// ErrForbidden 能力不足
var ErrForbidden = errors.New("capability not granted")

// Claims 上游身份层预校验过的声明（本核心不重新推导）
type Claims struct {
	TenantID string
	Role     string
}

// CapabilitySet 每请求解析一次的能力集合
// 所有守卫点共用同一判定，避免散落的角色分支
type CapabilitySet struct {
	Claims Claims
	caps   map[Capability]bool
}

// roleCapabilities 角色到能力的映射
var roleCapabilities = map[string][]Capability{
	"admin":    {CapReadState, CapReadAlerts, CapReadDelivery, CapReadQuarantine, CapTestDelivery},
	"operator": {CapReadState, CapReadAlerts, CapReadDelivery, CapReadQuarantine, CapTestDelivery},
	"viewer":   {CapReadState, CapReadAlerts, CapReadDelivery},
}

// Resolve 从声明解析能力集合
func Resolve(claims Claims) *CapabilitySet {
	set := &CapabilitySet{
		Claims: claims,
		caps:   make(map[Capability]bool),
	}
	for _, c := range roleCapabilities[claims.Role] {
		set.caps[c] = true
	}
	return set
}

// Allow 判断能力是否被授予
func (s *CapabilitySet) Allow(c Capability) bool {
	return s.caps[c]
}

// Require 守卫助手；能力缺失返回 ErrForbidden
func (s *CapabilitySet) Require(c Capability) error {
	if !s.Allow(c) {
		return ErrForbidden
	}
	return nil
}

type contextKey struct{}

// FromRequest 从请求头读取预校验声明并解析能力集合
// 身份层缺失时返回空声明（无任何能力）
func FromRequest(r *http.Request) *CapabilitySet {
	return Resolve(Claims{
		TenantID: r.Header.Get("X-Tenant-ID"),
		Role:     r.Header.Get("X-User-Role"),
	})
}

// WithCapabilities 将能力集合放入上下文（显式传递，避免隐式全局状态）
func WithCapabilities(ctx context.Context, set *CapabilitySet) context.Context {
	return context.WithValue(ctx, contextKey{}, set)
}

// CapabilitiesFrom 从上下文取能力集合；缺失时返回空集合
func CapabilitiesFrom(ctx context.Context) *CapabilitySet {
	if set, ok := ctx.Value(contextKey{}).(*CapabilitySet); ok {
		return set
	}
	return Resolve(Claims{})
}
