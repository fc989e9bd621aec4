package ingest

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// DeviceLookup 设备注册表查询接口（repository.DeviceRepository 实现）
type DeviceLookup interface {
	GetDevice(ctx context.Context, tenantID, deviceID string) (*models.Device, error)
}

// authEntry 缓存条目
// revoked 设备在 TTL 窗口内仍可能被短暂放行，这是换吞吐量的已接受权衡
type authEntry struct {
	valid     bool
	revoked   bool
	tokenHash string
	siteID    string
	expiresAt time.Time
}

// AuthCache 设备凭证缓存
// 命中未过期时省去每条消息一次注册表查询；查询失败一律按无效处理（fail closed）
type AuthCache struct {
	devices DeviceLookup
	ttl     time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[string]authEntry
}

// NewAuthCache 创建凭证缓存
func NewAuthCache(devices DeviceLookup, ttl time.Duration, logger *zap.Logger) *AuthCache {
	return &AuthCache{
		devices: devices,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]authEntry),
	}
}

// Validate 校验设备凭证，通过时返回设备 site_id
// 未知设备、token 不匹配、已吊销、注册表查询失败都返回 ErrAuth
func (c *AuthCache) Validate(ctx context.Context, tenantID, deviceID, token string) (string, error) {
	if tenantID == "" || deviceID == "" || token == "" {
		return "", ErrAuth
	}

	key := tenantID + "/" + deviceID

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		refreshed, err := c.refresh(ctx, tenantID, deviceID)
		if err != nil {
			// 注册表不可用时拒收，绝不放行
			c.logger.Warn("Device registry lookup failed, rejecting",
				zap.String("tenant_id", tenantID),
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			return "", ErrAuth
		}
		entry = refreshed
	}

	if !entry.valid || entry.revoked {
		return "", ErrAuth
	}
	if !tokenMatches(token, entry.tokenHash) {
		return "", ErrAuth
	}

	return entry.siteID, nil
}

// Invalidate 主动失效缓存条目（凭证吊销时由上游调用）
func (c *AuthCache) Invalidate(tenantID, deviceID string) {
	c.mu.Lock()
	delete(c.entries, tenantID+"/"+deviceID)
	c.mu.Unlock()
}

// refresh 回源注册表并更新缓存
func (c *AuthCache) refresh(ctx context.Context, tenantID, deviceID string) (authEntry, error) {
	device, err := c.devices.GetDevice(ctx, tenantID, deviceID)

	var entry authEntry
	if err != nil {
		return authEntry{}, fmt.Errorf("failed to refresh auth entry: %w", err)
	}

	entry = authEntry{
		valid:     device.Active,
		revoked:   device.Revoked,
		tokenHash: device.TokenHash,
		siteID:    device.SiteID,
		expiresAt: time.Now().Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[tenantID+"/"+deviceID] = entry
	c.mu.Unlock()

	return entry, nil
}

// tokenMatches 常数时间比较 token 哈希
func tokenMatches(token, storedHash string) bool {
	sum := sha256.Sum256([]byte(token))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// HashToken 计算凭证哈希（注册侧写入 devices.token_hash 用）
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
