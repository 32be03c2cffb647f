// Package score 计算治疗评分
//
// 所有函数均为纯函数且全定义域：任何数值输入（包括越界或负值）
// 都通过阈值分段映射到一个评分，不存在失败路径。
// 分段阈值为用户可见数据（仪表盘与历史报表共用），不可改动。
package score

import "cpap-hub/internal/models"

// UsageScore 使用时长评分（0–70）
// 阈值按降序求值，首个命中生效
func UsageScore(hours, minutes int) int {
	usage := float64(hours) + float64(minutes)/60
	switch {
	case usage >= 7:
		return 70
	case usage >= 6:
		return 60
	case usage >= 5:
		return 50
	case usage >= 4:
		return 35
	case usage >= 2:
		return 10
	case usage > 0:
		return 1
	default:
		return 0
	}
}

// MaskSealScore 面罩密合评分（9–20），漏气越大评分越低
// 边界值归入较好的一档（≤ 为闭区间）
func MaskSealScore(leak float64) int {
	switch {
	case leak <= 10:
		return 20
	case leak <= 15:
		return 19
	case leak <= 20:
		return 17
	case leak <= 30:
		return 14
	default:
		return 9
	}
}

// AHIScore 每小时事件数评分（0–5）
func AHIScore(ahi float64) int {
	switch {
	case ahi <= 5:
		return 5
	case ahi <= 7:
		return 4
	case ahi <= 10:
		return 3
	case ahi <= 13:
		return 2
	case ahi <= 15:
		return 1
	default:
		return 0
	}
}

// MaskOnOffScore 面罩摘戴次数评分（0–5），按次数精确分档
func MaskOnOffScore(count int) int {
	switch {
	case count <= 1:
		return 5
	case count == 2:
		return 4
	case count == 3:
		return 3
	case count == 4:
		return 2
	case count == 5:
		return 1
	default:
		return 0
	}
}

// TotalScore 综合治疗评分，满分 100（70+20+5+5）
func TotalScore(s *models.Session) int {
	return UsageScore(s.UsageHours, s.UsageMinutes) +
		MaskSealScore(s.Leak) +
		AHIScore(float64(s.EventsPerHour)) +
		MaskOnOffScore(s.MaskOnOffCount)
}

// SealLabel 密合评分的展示分级，必须与 MaskSealScore 阈值保持一致
func SealLabel(sealScore int) string {
	switch {
	case sealScore >= 18:
		return "Excellent"
	case sealScore >= 15:
		return "Good"
	default:
		return "Needs Attention"
	}
}

// Set 单条会话的完整评分集合（派生值，不落库，每次读取重新计算）
type Set struct {
	Usage     int    `json:"usage_score"`
	MaskSeal  int    `json:"mask_seal_score"`
	AHI       int    `json:"ahi_score"`
	MaskOnOff int    `json:"mask_on_off_score"`
	Total     int    `json:"total_score"`
	SealLabel string `json:"seal_label"`
}

// Compute 计算一条会话的评分集合
func Compute(s *models.Session) Set {
	seal := MaskSealScore(s.Leak)
	set := Set{
		Usage:     UsageScore(s.UsageHours, s.UsageMinutes),
		MaskSeal:  seal,
		AHI:       AHIScore(float64(s.EventsPerHour)),
		MaskOnOff: MaskOnOffScore(s.MaskOnOffCount),
		SealLabel: SealLabel(seal),
	}
	set.Total = set.Usage + set.MaskSeal + set.AHI + set.MaskOnOff
	return set
}
