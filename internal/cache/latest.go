// Package cache 维护仪表盘的最新会话快照（Redis）
//
// key 格式: cpap:session:{date_key}:latest
// 由流消费者在入库成功后写入，仪表盘接口读取时优先命中缓存，
// 未命中再回源 PostgreSQL。缓存仅是读取优化，不作为权威数据。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"cpap-hub/internal/models"
)

const (
	latestKeyPrefix = "cpap:session:"
	latestKeySuffix = ":latest"
)

// LatestSessionCache 最新会话缓存管理器
type LatestSessionCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewLatestSessionCache 创建缓存管理器
// ttl <= 0 时使用默认 48 小时
func NewLatestSessionCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *LatestSessionCache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &LatestSessionCache{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

// key 构造某日的缓存 key
func (c *LatestSessionCache) key(dateKey string) string {
	return latestKeyPrefix + dateKey + latestKeySuffix
}

// SetLatest 写入某日的最新会话
//
// 只有比当前缓存更晚开始的会话才会覆盖（UDP 乱序投递时保持"最新"语义）。
func (c *LatestSessionCache) SetLatest(ctx context.Context, s *models.Session) error {
	current, err := c.GetLatest(ctx, s.DateKey)
	if err != nil {
		return err
	}
	if current != nil && current.StartSortKey() > s.StartSortKey() {
		// 缓存中的会话更晚，保留
		return nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.key(s.DateKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest session cache: %w", err)
	}

	c.logger.Debug("Latest session cache updated",
		zap.String("date_key", s.DateKey),
	)
	return nil
}

// GetLatest 读取某日的最新会话；缓存未命中返回 (nil, nil)
func (c *LatestSessionCache) GetLatest(ctx context.Context, dateKey string) (*models.Session, error) {
	data, err := c.redisClient.Get(ctx, c.key(dateKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session cache: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		// 缓存内容损坏视为未命中，由调用方回源数据库
		c.logger.Warn("Corrupt latest session cache entry, ignoring",
			zap.String("date_key", dateKey),
			zap.Error(err),
		)
		return nil, nil
	}

	return &s, nil
}

// Invalidate 删除某日的缓存
func (c *LatestSessionCache) Invalidate(ctx context.Context, dateKey string) error {
	return c.redisClient.Del(ctx, c.key(dateKey)).Err()
}
