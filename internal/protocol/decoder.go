// Package protocol 实现 CPAP 设备二进制报文的组帧与解码
//
// 报文格式（35 字节定长帧）：
//   offset 0      起始标记 0x24
//   offset 1      长度/序号字节（0x01–0xFF，主协议不做交叉校验）
//   offset 2      报文类型（0x01 = 会话数据）
//   offset 3–8    会话开始 日/月/年/时/分/秒（各 1 字节）
//   offset 9–21   设备配置快照（模式、压力×10、面罩、管路、ramp、flex、加湿等）
//   offset 22–27  会话结束 日/月/年/时/分/秒
//   offset 28–33  会话结果指标（AI、AHI、平均压力×10、漏气×10、使用时长）
//   offset 34     结束标记 0x0A
package protocol

import (
	"errors"
	"fmt"

	"cpap-hub/internal/models"
)

const (
	// FrameLength 定长帧字节数
	FrameLength = 35
	// StartMarker 帧起始标记
	StartMarker = 0x24
	// Terminator 帧结束标记
	Terminator = 0x0A
	// TypeSessionData 会话数据报文类型
	TypeSessionData = 0x01
	// DummyByte 未初始化字段哨兵值
	DummyByte = 0xFF
)

var (
	// ErrShortFrame 帧长度不足
	ErrShortFrame = errors.New("frame shorter than fixed length")
	// ErrBadHeader 起始/类型/结束标记不匹配
	ErrBadHeader = errors.New("bad frame header")
	// ErrDummyField 关键偏移出现 0xFF 哨兵值，整帧作废
	ErrDummyField = errors.New("dummy value in critical field")
)

// criticalOffsets 不允许出现 0xFF 的偏移
// 注意：11–14（面罩/管路/智能启动/滤芯）不在其中，与参考固件行为一致
var criticalOffsets = []int{
	3, 4, 5, 6, 7, 8, 9, 10,
	15, 16, 17, 18, 19, 20, 21,
	22, 23, 24, 25, 26, 27,
	28, 29, 30, 31, 32, 33,
}

// scaleTenth 压力类原始字节 ÷10，保留一位小数
// 字节值为整数，除以 10 本身即一位小数，任意 0–255 取值无累积误差
func scaleTenth(b byte) float64 {
	return float64(b) / 10
}

// Decode 解码一个候选帧为会话记录
//
// 纯函数：不做持久化，失败时返回类型化错误且不产生部分解码结果。
// 校验失败用 errors.Is 区分 ErrBadHeader / ErrDummyField。
func Decode(frame []byte) (*models.Session, error) {
	if len(frame) < FrameLength {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(frame))
	}

	if frame[0] != StartMarker {
		return nil, fmt.Errorf("%w: start byte 0x%02x", ErrBadHeader, frame[0])
	}
	// 长度/序号字节只要求非零，主协议不与 35 字节定长交叉校验
	if frame[1] < 0x01 {
		return nil, fmt.Errorf("%w: zero length byte", ErrBadHeader)
	}
	if frame[2] != TypeSessionData {
		return nil, fmt.Errorf("%w: packet type 0x%02x", ErrBadHeader, frame[2])
	}
	if frame[34] != Terminator {
		return nil, fmt.Errorf("%w: terminator 0x%02x", ErrBadHeader, frame[34])
	}

	for _, i := range criticalOffsets {
		if frame[i] == DummyByte {
			return nil, fmt.Errorf("%w: offset %d", ErrDummyField, i)
		}
	}

	s := &models.Session{
		Day:   int(frame[3]),
		Month: int(frame[4]),
		Year:  int(frame[5]),
		Hour:  int(frame[6]),
		Min:   int(frame[7]),
		Sec:   int(frame[8]),

		Mode:            models.Mode(frame[9]),
		PressureSet:     scaleTenth(frame[10]),
		MaskType:        models.MaskType(frame[11]),
		TubeType:        models.TubeType(frame[12]),
		SmartStart:      frame[13] == 1,
		FilterOn:        frame[14] == 1,
		RampMinPressure: scaleTenth(frame[15]),
		FlexLevel:       int(frame[16]),
		FlexTrigger:     models.FlexTrigger(frame[17]),
		RampTime:        int(frame[18]),
		HumidifierLevel: int(frame[19]),
		AutoMinPressure: scaleTenth(frame[20]),
		AutoMaxPressure: scaleTenth(frame[21]),

		EndDay:   int(frame[22]),
		EndMonth: int(frame[23]),
		EndYear:  int(frame[24]),
		EndHour:  int(frame[25]),
		EndMin:   int(frame[26]),
		EndSec:   int(frame[27]),

		ApneaIndex:    int(frame[28]),
		EventsPerHour: int(frame[29]),
		AvgPressure:   scaleTenth(frame[30]),
		Leak:          scaleTenth(frame[31]),
		UsageHours:    int(frame[32]),
		UsageMinutes:  int(frame[33]),

		// 当前固件未提供该字段的报文偏移，固定为 0
		MaskOnOffCount: 0,
	}

	// 2 位年补全为 20YY，月/日补零
	s.DateKey = fmt.Sprintf("20%02d-%02d-%02d", s.Year, s.Month, s.Day)

	return s, nil
}
