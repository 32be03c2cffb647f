// Package consumer 消费 Redis Streams 中的会话数据并串行入库
//
// 单消费者名即单写者：所有持久化写入都经过这一个消费循环，
// 去重检查与插入之间不存在并发竞争。
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"cpap-hub/internal/cache"
	"cpap-hub/internal/config"
	"cpap-hub/internal/models"
	"cpap-hub/internal/repository"
	"cpap-hub/pkg/redisx"
)

// Notifier MQTT 通知发布接口
type Notifier interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// StreamConsumer Redis Streams 会话消费者
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	sessionRepo *repository.SessionRepository
	latestCache *cache.LatestSessionCache
	notifier    Notifier // 可为 nil（MQTT 未配置时）
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	sessionRepo *repository.SessionRepository,
	latestCache *cache.LatestSessionCache,
	notifier Notifier,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		sessionRepo: sessionRepo,
		latestCache: latestCache,
		notifier:    notifier,
		logger:      logger,
	}
}

// Start 启动消费循环，阻塞直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	if err := redisx.CreateConsumerGroup(ctx, c.redisClient, c.config.Ingest.Stream, c.config.Ingest.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.config.Ingest.Stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.Ingest.Stream),
		zap.String("consumer_group", c.config.Ingest.ConsumerGroup),
		zap.String("consumer_name", c.config.Ingest.ConsumerName),
	)

	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second // 最大退避时间

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeOnce(ctx); err != nil {
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避：等待后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeOnce 读取并处理一批消息
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := redisx.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Ingest.Stream,
		c.config.Ingest.ConsumerGroup,
		c.config.Ingest.ConsumerName,
		c.config.Ingest.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.config.Ingest.Stream, err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg.ID, msg.Values); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
			continue
		}

		if err := redisx.AckMessage(ctx, c.redisClient, c.config.Ingest.Stream, c.config.Ingest.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	return nil
}

// processMessage 处理单条会话消息
func (c *StreamConsumer) processMessage(ctx context.Context, msgID string, values map[string]interface{}) error {
	envelope, err := models.ParseSessionEnvelope(values)
	if err != nil {
		return fmt.Errorf("failed to parse session envelope: %w", err)
	}
	session := envelope.Session

	// 入库（全字段去重）
	id, err := c.sessionRepo.Save(session)
	if errors.Is(err, repository.ErrDuplicateSession) {
		// 设备重发同一会话是正常现象，丢弃即可
		c.logger.Info("Duplicate session skipped",
			zap.String("ingest_id", envelope.IngestID),
			zap.String("date_key", session.DateKey),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	// 更新当日最新会话缓存
	if err := c.latestCache.SetLatest(ctx, session); err != nil {
		c.logger.Warn("Failed to update latest session cache",
			zap.String("date_key", session.DateKey),
			zap.Error(err),
		)
	}

	// 发布入库通知（触发仪表盘刷新）
	c.notifyStored(id, session)

	c.logger.Info("Session stored",
		zap.Int64("session_id", id),
		zap.String("ingest_id", envelope.IngestID),
		zap.String("date_key", session.DateKey),
	)

	return nil
}

// notifyStored 通过 MQTT 发布会话入库事件
func (c *StreamConsumer) notifyStored(id int64, session *models.Session) {
	if c.notifier == nil {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"session_id": id,
		"date_key":   session.DateKey,
		"start_time": session.StartTimeLabel(),
		"timestamp":  time.Now().Unix(),
	})
	if err != nil {
		return
	}

	if err := c.notifier.Publish(c.config.Topics.SessionStored, c.config.MQTT.QoS, false, payload); err != nil {
		c.logger.Warn("Failed to publish session stored notification", zap.Error(err))
	}
}
