package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

// fakeDeviceLookup 可编程的设备注册表
type fakeDeviceLookup struct {
	devices map[string]*models.Device
	err     error
	calls   int
}

func (f *fakeDeviceLookup) GetDevice(_ context.Context, tenantID, deviceID string) (*models.Device, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.devices[tenantID+"/"+deviceID]
	if !ok {
		return nil, errors.New("device not found")
	}
	return d, nil
}

func newTestDevice(token string) *models.Device {
	return &models.Device{
		TenantID:  "t1",
		DeviceID:  "d1",
		SiteID:    "site-a",
		TokenHash: HashToken(token),
		Active:    true,
	}
}

func TestAuthCache_ValidToken(t *testing.T) {
	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{
		"t1/d1": newTestDevice("secret"),
	}}
	cache := NewAuthCache(lookup, time.Minute, zap.NewNop())

	siteID, err := cache.Validate(context.Background(), "t1", "d1", "secret")
	require.NoError(t, err)
	assert.Equal(t, "site-a", siteID)
}

func TestAuthCache_WrongToken(t *testing.T) {
	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{
		"t1/d1": newTestDevice("secret"),
	}}
	cache := NewAuthCache(lookup, time.Minute, zap.NewNop())

	_, err := cache.Validate(context.Background(), "t1", "d1", "wrong")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthCache_MissingFields(t *testing.T) {
	cache := NewAuthCache(&fakeDeviceLookup{}, time.Minute, zap.NewNop())

	_, err := cache.Validate(context.Background(), "", "d1", "secret")
	assert.ErrorIs(t, err, ErrAuth)
	_, err = cache.Validate(context.Background(), "t1", "d1", "")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthCache_RevokedDevice(t *testing.T) {
	device := newTestDevice("secret")
	device.Revoked = true
	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{"t1/d1": device}}
	cache := NewAuthCache(lookup, time.Minute, zap.NewNop())

	_, err := cache.Validate(context.Background(), "t1", "d1", "secret")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthCache_InactiveDevice(t *testing.T) {
	device := newTestDevice("secret")
	device.Active = false
	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{"t1/d1": device}}
	cache := NewAuthCache(lookup, time.Minute, zap.NewNop())

	_, err := cache.Validate(context.Background(), "t1", "d1", "secret")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthCache_FailClosedOnRegistryError(t *testing.T) {
	// 注册表不可用时必须拒收，绝不放行
	lookup := &fakeDeviceLookup{err: errors.New("registry down")}
	cache := NewAuthCache(lookup, time.Minute, zap.NewNop())

	_, err := cache.Validate(context.Background(), "t1", "d1", "secret")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthCache_HitSkipsLookup(t *testing.T) {
	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{
		"t1/d1": newTestDevice("secret"),
	}}
	cache := NewAuthCache(lookup, time.Minute, zap.NewNop())

	_, err := cache.Validate(context.Background(), "t1", "d1", "secret")
	require.NoError(t, err)
	_, err = cache.Validate(context.Background(), "t1", "d1", "secret")
	require.NoError(t, err)

	assert.Equal(t, 1, lookup.calls, "second validate should hit the cache")
}

func TestAuthCache_ExpiredEntryRefreshes(t *testing.T) {
	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{
		"t1/d1": newTestDevice("secret"),
	}}
	cache := NewAuthCache(lookup, -time.Second, zap.NewNop())

	_, err := cache.Validate(context.Background(), "t1", "d1", "secret")
	require.NoError(t, err)
	_, err = cache.Validate(context.Background(), "t1", "d1", "secret")
	require.NoError(t, err)

	assert.Equal(t, 2, lookup.calls, "expired entry should refresh from registry")
}

func TestAuthCache_InvalidateForcesRefresh(t *testing.T) {
	device := newTestDevice("secret")
	lookup := &fakeDeviceLookup{devices: map[string]*models.Device{"t1/d1": device}}
	cache := NewAuthCache(lookup, time.Minute, zap.NewNop())

	_, err := cache.Validate(context.Background(), "t1", "d1", "secret")
	require.NoError(t, err)

	// 吊销后主动失效，下一次校验立即看到新状态
	device.Revoked = true
	cache.Invalidate("t1", "d1")

	_, err = cache.Validate(context.Background(), "t1", "d1", "secret")
	assert.ErrorIs(t, err, ErrAuth)
}
