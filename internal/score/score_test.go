package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cpap-hub/internal/models"
)

func TestUsageScore_Bands(t *testing.T) {
	tests := []struct {
		hours, minutes int
		want           int
	}{
		{7, 0, 70},
		{8, 30, 70},
		{6, 0, 60},
		{6, 59, 60}, // 6h59m ≈ 6.98h，仍在 ≥6 档
		{5, 0, 50},
		{4, 0, 35},
		{2, 0, 10},
		{0, 30, 1},
		{0, 1, 1},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, UsageScore(tt.hours, tt.minutes), "usage %dh%dm", tt.hours, tt.minutes)
	}
}

func TestUsageScore_Monotonic(t *testing.T) {
	// 使用时长跨档下降时评分不增
	inputs := [][2]int{{7, 0}, {6, 0}, {5, 0}, {4, 0}, {2, 0}, {0, 30}, {0, 0}}
	wants := []int{70, 60, 50, 35, 10, 1, 0}
	prev := 71
	for i, in := range inputs {
		got := UsageScore(in[0], in[1])
		assert.Equal(t, wants[i], got)
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestMaskSealScore_Bands(t *testing.T) {
	tests := []struct {
		leak float64
		want int
	}{
		{0, 20},
		{10, 20}, // 边界归入较好档
		{10.1, 19},
		{15, 19},
		{20, 17},
		{30, 14},
		{30.1, 9},
		{100, 9},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, MaskSealScore(tt.leak), "leak %.1f", tt.leak)
	}
}

func TestMaskSealScore_Monotonic(t *testing.T) {
	prev := 21
	for _, leak := range []float64{0, 5, 10, 12, 15, 18, 20, 25, 30, 40, 250} {
		got := MaskSealScore(leak)
		assert.LessOrEqualf(t, got, prev, "leak %.1f", leak)
		prev = got
	}
}

func TestAHIScore_Bands(t *testing.T) {
	tests := []struct {
		ahi  float64
		want int
	}{
		{0, 5}, {5, 5}, {6, 4}, {7, 4}, {8, 3}, {10, 3},
		{11, 2}, {13, 2}, {14, 1}, {15, 1}, {16, 0}, {200, 0},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, AHIScore(tt.ahi), "ahi %.0f", tt.ahi)
	}
}

func TestAHIScore_Monotonic(t *testing.T) {
	prev := 6
	for ahi := 0; ahi <= 30; ahi++ {
		got := AHIScore(float64(ahi))
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestMaskOnOffScore_ExactBands(t *testing.T) {
	wants := map[int]int{0: 5, 1: 5, 2: 4, 3: 3, 4: 2, 5: 1, 6: 0, 10: 0}
	for count, want := range wants {
		assert.Equalf(t, want, MaskOnOffScore(count), "count %d", count)
	}
	// 负值按 ≤1 档处理（全定义域，无失败路径）
	assert.Equal(t, 5, MaskOnOffScore(-1))
}

func TestTotalScore_Max100(t *testing.T) {
	s := &models.Session{
		UsageHours:    8,
		Leak:          5,
		EventsPerHour: 2,
	}
	assert.Equal(t, 100, TotalScore(s))
}

func TestSealLabel_ConsistentWithScore(t *testing.T) {
	assert.Equal(t, "Excellent", SealLabel(20))
	assert.Equal(t, "Excellent", SealLabel(18))
	assert.Equal(t, "Good", SealLabel(17))
	assert.Equal(t, "Good", SealLabel(15))
	assert.Equal(t, "Needs Attention", SealLabel(14))
	assert.Equal(t, "Needs Attention", SealLabel(9))

	// 与数值阈值保持一致：漏气 ≤15 → ≥19 分 → Excellent
	assert.Equal(t, "Excellent", SealLabel(MaskSealScore(15)))
	assert.Equal(t, "Good", SealLabel(MaskSealScore(20)))
	assert.Equal(t, "Needs Attention", SealLabel(MaskSealScore(30)))
}

func TestCompute(t *testing.T) {
	s := &models.Session{
		UsageHours:    6,
		UsageMinutes:  30,
		Leak:          12,
		EventsPerHour: 8,
	}
	set := Compute(s)
	assert.Equal(t, 60, set.Usage)
	assert.Equal(t, 19, set.MaskSeal)
	assert.Equal(t, 3, set.AHI)
	assert.Equal(t, 5, set.MaskOnOff)
	assert.Equal(t, 87, set.Total)
	assert.Equal(t, "Excellent", set.SealLabel)
}
