package listener

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cpap-hub/internal/config"
	"cpap-hub/internal/models"
)

// fakeNotifier 测试用 MQTT 通知替身
type fakeNotifier struct {
	topics   []string
	payloads [][]byte
}

func (f *fakeNotifier) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

func setupListener(t *testing.T) (*UDPListener, *miniredis.Miniredis, *fakeNotifier) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{}
	cfg.Listener.Handshake = "wifi_handshake\r\n"
	cfg.Listener.HandshakeAck = "app_ok"
	cfg.Listener.MaxBuffer = 4096
	cfg.Ingest.Stream = "cpap:session:stream"
	cfg.Topics.LinkStatus = "cpap/link/status"
	cfg.MQTT.QoS = 1

	notifier := &fakeNotifier{}
	l := NewUDPListener(cfg, client, notifier, zap.NewNop())
	return l, mr, notifier
}

func testFrame() []byte {
	frame := make([]byte, 35)
	frame[0] = 0x24
	frame[1] = 0x21
	frame[2] = 0x01
	frame[3] = 25 // 日
	frame[4] = 7  // 月
	frame[5] = 25 // 年 2025
	frame[6] = 23
	frame[7] = 30
	frame[8] = 5
	frame[9] = 1 // CPAP 模式
	frame[10] = 95
	frame[15] = 40
	frame[16] = 2
	frame[17] = 1
	frame[18] = 15
	frame[19] = 3
	frame[20] = 40
	frame[21] = 150
	frame[22] = 26
	frame[23] = 7
	frame[24] = 25
	frame[25] = 7
	frame[26] = 15
	frame[27] = 30
	frame[28] = 32
	frame[29] = 35
	frame[30] = 92
	frame[31] = 125
	frame[32] = 7
	frame[33] = 45
	frame[34] = 0x0A
	return frame
}

// streamDataField 在扁平的 key/value 列表中定位 data 字段（XADD 字段顺序不保证）
func streamDataField(t *testing.T, values []string) string {
	t.Helper()
	for i := 0; i+1 < len(values); i += 2 {
		if values[i] == "data" {
			return values[i+1]
		}
	}
	t.Fatal("data field not found in stream entry")
	return ""
}

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", s)
	require.NoError(t, err)
	return addr
}

func TestHandleDatagram_Handshake(t *testing.T) {
	l, _, notifier := setupListener(t)

	var reply []byte
	l.handleDatagram(context.Background(), []byte("wifi_handshake\r\n"), udpAddr(t, "192.168.1.50:5000"), func(data []byte) error {
		reply = data
		return nil
	})

	// 应答握手
	assert.Equal(t, "app_ok", string(reply))

	// 上报链路状态
	require.Len(t, notifier.topics, 1)
	assert.Equal(t, "cpap/link/status", notifier.topics[0])

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(notifier.payloads[0], &status))
	assert.Equal(t, "up", status["status"])
	assert.Equal(t, "192.168.1.50:5000", status["remote"])

	// 握手不进入组帧缓冲
	assert.Equal(t, 0, l.extractor.Buffered())
}

func TestHandleDatagram_FramePublishedToStream(t *testing.T) {
	l, mr, _ := setupListener(t)

	replied := false
	l.handleDatagram(context.Background(), testFrame(), udpAddr(t, "192.168.1.50:5000"), func([]byte) error {
		replied = true
		return nil
	})

	// 数据帧不应答
	assert.False(t, replied)

	// 流中应有一条会话消息
	msgs, err := mr.Stream("cpap:session:stream")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var envelope models.SessionEnvelope
	require.NoError(t, json.Unmarshal([]byte(streamDataField(t, msgs[0].Values)), &envelope))
	assert.NotEmpty(t, envelope.IngestID)
	assert.Equal(t, "192.168.1.50:5000", envelope.RemoteAddr)
	require.NotNil(t, envelope.Session)
	assert.Equal(t, "2025-07-25", envelope.Session.DateKey)
	assert.InDelta(t, 9.5, envelope.Session.PressureSet, 0.001)
}

func TestHandleDatagram_SplitFrameAcrossDatagrams(t *testing.T) {
	l, mr, _ := setupListener(t)

	frame := testFrame()
	addr := udpAddr(t, "192.168.1.50:5000")
	noReply := func([]byte) error { return nil }

	l.handleDatagram(context.Background(), frame[:20], addr, noReply)

	msgs, _ := mr.Stream("cpap:session:stream")
	assert.Empty(t, msgs)

	l.handleDatagram(context.Background(), frame[20:], addr, noReply)

	msgs, err := mr.Stream("cpap:session:stream")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleDatagram_PeerChangeResetsBuffer(t *testing.T) {
	l, mr, _ := setupListener(t)

	frame := testFrame()
	noReply := func([]byte) error { return nil }

	// 第一个对端只发了半帧
	l.handleDatagram(context.Background(), frame[:20], udpAddr(t, "192.168.1.50:5000"), noReply)
	assert.Equal(t, 20, l.extractor.Buffered())

	// 新对端发完整帧：旧半帧被丢弃，新帧正常解出
	l.handleDatagram(context.Background(), frame, udpAddr(t, "192.168.1.60:5000"), noReply)
	assert.Equal(t, 0, l.extractor.Buffered())

	msgs, err := mr.Stream("cpap:session:stream")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleDatagram_NilNotifier(t *testing.T) {
	l, _, _ := setupListener(t)
	l.notifier = nil

	// MQTT 未配置时握手仍能应答
	var reply []byte
	l.handleDatagram(context.Background(), []byte("wifi_handshake\r\n"), udpAddr(t, "192.168.1.50:5000"), func(data []byte) error {
		reply = data
		return nil
	})
	assert.Equal(t, "app_ok", string(reply))
}
