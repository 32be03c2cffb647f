package protocol

import (
	"bytes"

	"go.uber.org/zap"

	"cpap-hub/internal/models"
)

// DefaultMaxBuffer 组帧缓冲区上限（字节）
// 超限后丢弃最旧字节，防止畸形输入导致缓冲无限增长
const DefaultMaxBuffer = 4096

// Extractor 从字节流中提取定长帧
//
// 缓冲区由实例持有，每个套接字会话创建一个，重连时 Reset。
// UDP 不保证报文边界与帧边界对齐：一个 datagram 可能拆分或合并任意多帧，
// 只能依赖带内标记组帧。
type Extractor struct {
	buf               []byte
	maxBuffer         int
	requireTerminator bool
	logger            *zap.Logger
}

// NewExtractor 创建帧提取器
// requireTerminator: 次协议变体要求缓冲窗口内出现 0x0A 后才尝试候选帧
// （切片仍按定长进行，负载字节可能恰好等于 0x0A）
func NewExtractor(maxBuffer int, requireTerminator bool, logger *zap.Logger) *Extractor {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Extractor{
		maxBuffer:         maxBuffer,
		requireTerminator: requireTerminator,
		logger:            logger,
	}
}

// Feed 追加收到的字节并提取所有可解码的帧
//
// 解码成功：越过整帧继续扫描；解码失败：只越过起始标记这 1 个字节再扫描，
// 以便从负载中偶然出现的 0x24 恢复（逐字节重同步）。
func (e *Extractor) Feed(p []byte) []*models.Session {
	e.buf = append(e.buf, p...)

	var sessions []*models.Session
	for {
		start := bytes.IndexByte(e.buf, StartMarker)
		if start < 0 {
			// 无起始标记：这些字节不可能开始一个帧，全部丢弃
			e.buf = e.buf[:0]
			break
		}
		if start > 0 {
			// 丢弃标记前的噪声字节
			e.buf = e.buf[start:]
		}

		if len(e.buf) < FrameLength {
			// 数据不足，继续累积
			break
		}

		if e.requireTerminator && bytes.IndexByte(e.buf[1:], Terminator) < 0 {
			// 变体协议：结束标记还没到，等待更多数据
			break
		}

		candidate := e.buf[:FrameLength]
		session, err := Decode(candidate)
		if err != nil {
			// 伪标记或损坏帧：跳过 1 字节重新扫描
			e.logger.Debug("Frame decode failed, resyncing",
				zap.Error(err),
				zap.Int("buffered", len(e.buf)),
			)
			e.buf = e.buf[1:]
			continue
		}

		sessions = append(sessions, session)
		e.buf = e.buf[FrameLength:]
	}

	// 缓冲区超限：丢弃最旧字节
	if len(e.buf) > e.maxBuffer {
		drop := len(e.buf) - e.maxBuffer
		e.logger.Warn("Frame buffer overflow, dropping oldest bytes",
			zap.Int("dropped", drop),
		)
		e.buf = e.buf[drop:]
	}

	// 复制残余字节，释放对旧底层数组的引用
	if len(e.buf) > 0 {
		remainder := make([]byte, len(e.buf))
		copy(remainder, e.buf)
		e.buf = remainder
	}

	return sessions
}

// Buffered 当前缓冲的字节数
func (e *Extractor) Buffered() int {
	return len(e.buf)
}

// Reset 清空缓冲区（套接字重连时调用）
func (e *Extractor) Reset() {
	e.buf = e.buf[:0]
}
