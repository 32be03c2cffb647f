// Package listener 接收 CPAP 设备的 UDP 数据
//
// 单 goroutine 读取套接字，保证到达顺序；握手控制消息在组帧之前识别分发，
// 永远不会进入二进制帧解析。解码出的会话发布到 Redis Streams，
// 由流消费者串行入库。
package listener

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cpap-hub/internal/config"
	"cpap-hub/internal/models"
	"cpap-hub/internal/protocol"
	"cpap-hub/pkg/redisx"
)

// Notifier MQTT 通知发布接口
type Notifier interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// UDPListener CPAP 设备 UDP 监听器
type UDPListener struct {
	config      *config.Config
	redisClient *redis.Client
	notifier    Notifier // 可为 nil（MQTT 未配置时）
	extractor   *protocol.Extractor
	logger      *zap.Logger

	conn     *net.UDPConn
	lastPeer string // 上一个发送方地址，变化时重置组帧缓冲
}

// NewUDPListener 创建 UDP 监听器
func NewUDPListener(cfg *config.Config, redisClient *redis.Client, notifier Notifier, logger *zap.Logger) *UDPListener {
	return &UDPListener{
		config:      cfg,
		redisClient: redisClient,
		notifier:    notifier,
		extractor:   protocol.NewExtractor(cfg.Listener.MaxBuffer, cfg.Listener.RequireTerminator, logger),
		logger:      logger,
	}
}

// Start 绑定套接字并开始接收，阻塞直到 ctx 取消或套接字出错
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", l.config.Listener.Addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}
	l.conn = conn

	l.logger.Info("UDP listener started",
		zap.String("addr", l.config.Listener.Addr),
		zap.String("stream", l.config.Ingest.Stream),
	)

	// ctx 取消时关闭套接字，解除 ReadFromUDP 阻塞
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		l.handleDatagram(ctx, payload, remote, func(data []byte) error {
			_, werr := conn.WriteToUDP(data, remote)
			return werr
		})
	}
}

// Stop 停止监听
func (l *UDPListener) Stop(ctx context.Context) error {
	if l.conn != nil {
		l.conn.Close()
	}
	l.logger.Info("UDP listener stopped")
	return nil
}

// handleDatagram 处理单个 datagram
//
// 握手消息优先于帧提取识别；其余负载全部进入组帧缓冲。
func (l *UDPListener) handleDatagram(ctx context.Context, payload []byte, remote *net.UDPAddr, reply func([]byte) error) {
	if string(payload) == l.config.Listener.Handshake {
		l.handleHandshake(remote, reply)
		return
	}

	// 对端变化：旧缓冲中的半帧不可能被新对端补全
	peer := remote.String()
	if l.lastPeer != "" && l.lastPeer != peer {
		l.logger.Info("Peer changed, resetting frame buffer",
			zap.String("old_peer", l.lastPeer),
			zap.String("new_peer", peer),
		)
		l.extractor.Reset()
	}
	l.lastPeer = peer

	sessions := l.extractor.Feed(payload)
	for _, session := range sessions {
		l.publishSession(ctx, session, peer)
	}
}

// handleHandshake 应答设备握手并上报链路状态
func (l *UDPListener) handleHandshake(remote *net.UDPAddr, reply func([]byte) error) {
	l.logger.Info("Handshake received", zap.String("remote", remote.String()))

	if err := reply([]byte(l.config.Listener.HandshakeAck)); err != nil {
		l.logger.Error("Failed to send handshake ack", zap.Error(err))
		return
	}

	if l.notifier != nil {
		status, _ := json.Marshal(map[string]interface{}{
			"status":    "up",
			"remote":    remote.String(),
			"timestamp": time.Now().Unix(),
		})
		if err := l.notifier.Publish(l.config.Topics.LinkStatus, l.config.MQTT.QoS, true, status); err != nil {
			l.logger.Warn("Failed to publish link status", zap.Error(err))
		}
	}
}

// publishSession 将解码会话发布到 Redis Streams
func (l *UDPListener) publishSession(ctx context.Context, session *models.Session, peer string) {
	envelope := &models.SessionEnvelope{
		IngestID:   uuid.NewString(),
		ReceivedAt: time.Now().Unix(),
		RemoteAddr: peer,
		Session:    session,
	}

	id, err := redisx.PublishJSONToStream(ctx, l.redisClient, l.config.Ingest.Stream, envelope)
	if err != nil {
		// 发布失败只影响这一帧，继续处理后续数据
		l.logger.Error("Failed to publish session to stream",
			zap.String("date_key", session.DateKey),
			zap.Error(err),
		)
		return
	}

	l.logger.Info("Session published",
		zap.String("stream_id", id),
		zap.String("ingest_id", envelope.IngestID),
		zap.String("date_key", session.DateKey),
	)
}
