package models

import "fmt"

// Mode 治疗模式（报文 offset 9）
// 未识别的固件取值保留原始字节，显示为 Unknown(n)
type Mode byte

const (
	ModeCPAP     Mode = 1
	ModeAutoCPAP Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeCPAP:
		return "CPAP"
	case ModeAutoCPAP:
		return "AUTO CPAP"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(m))
	}
}

// Known 是否为已识别的模式取值
func (m Mode) Known() bool {
	return m == ModeCPAP || m == ModeAutoCPAP
}

// MaskType 面罩类型（报文 offset 11）
type MaskType byte

const (
	MaskFull   MaskType = 0
	MaskNasal  MaskType = 1
	MaskPillow MaskType = 2
)

func (m MaskType) String() string {
	switch m {
	case MaskFull:
		return "Full"
	case MaskNasal:
		return "Nasal"
	case MaskPillow:
		return "Pillow Mask"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(m))
	}
}

// TubeType 管路类型（报文 offset 12）
type TubeType byte

const (
	TubeStandard TubeType = 0
	TubeCustom   TubeType = 1
)

func (t TubeType) String() string {
	switch t {
	case TubeStandard:
		return "standard"
	case TubeCustom:
		return "custom"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}

// FlexTrigger 呼气释压触发灵敏度（报文 offset 17）
type FlexTrigger byte

const (
	TriggerLow      FlexTrigger = 0
	TriggerMedium   FlexTrigger = 1
	TriggerHigh     FlexTrigger = 2
	TriggerVeryHigh FlexTrigger = 3
)

func (t FlexTrigger) String() string {
	switch t {
	case TriggerLow:
		return "Low"
	case TriggerMedium:
		return "Medium"
	case TriggerHigh:
		return "High"
	case TriggerVeryHigh:
		return "Very High"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}
