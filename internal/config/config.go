package config

import (
	"os"
	"strconv"
	"time"

	"cpap-hub/pkg/config"
)

// Config CPAP 接入服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// UDP 监听配置
	Listener struct {
		Addr              string // 监听地址，如 ":5000"
		Handshake         string // 设备握手控制消息
		HandshakeAck      string // 握手应答
		MaxBuffer         int    // 组帧缓冲区上限（字节）
		RequireTerminator bool   // 变体协议：要求窗口内出现 0x0A 才尝试候选帧
	}

	// 入库管道配置
	Ingest struct {
		Stream        string // 会话数据流，如 "cpap:session:stream"
		ConsumerGroup string // 消费者组名称
		ConsumerName  string // 消费者名称（单写者）
		BatchSize     int64  // 批量处理大小
		CacheTTL      time.Duration
	}

	// MQTT 通知主题
	Topics struct {
		SessionStored string // 会话入库通知
		LinkStatus    string // 设备链路状态
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 连接配置：默认值 + 按前缀从环境变量覆盖
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "cpap",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "cpap-hub",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")
	if !getEnvBool("MQTT_ENABLED", true) {
		cfg.MQTT.Broker = "" // 显式停用 MQTT 通知
	}

	cfg.Listener.Addr = getEnv("UDP_LISTEN_ADDR", ":5000")
	cfg.Listener.Handshake = getEnv("UDP_HANDSHAKE", "wifi_handshake\r\n")
	cfg.Listener.HandshakeAck = getEnv("UDP_HANDSHAKE_ACK", "app_ok")
	cfg.Listener.MaxBuffer = getEnvInt("UDP_MAX_BUFFER", 4096)
	cfg.Listener.RequireTerminator = getEnvBool("UDP_REQUIRE_TERMINATOR", false)

	cfg.Ingest.Stream = getEnv("STREAM_SESSIONS", "cpap:session:stream")
	cfg.Ingest.ConsumerGroup = getEnv("CONSUMER_GROUP", "cpap-hub-group")
	cfg.Ingest.ConsumerName = getEnv("CONSUMER_NAME", "cpap-hub-1")
	cfg.Ingest.BatchSize = 10
	cfg.Ingest.CacheTTL = 48 * time.Hour

	cfg.Topics.SessionStored = getEnv("MQTT_TOPIC_SESSION", "cpap/session/stored")
	cfg.Topics.LinkStatus = getEnv("MQTT_TOPIC_LINK", "cpap/link/status")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
