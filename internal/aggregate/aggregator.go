// Package aggregate 将会话记录按日/周/月分桶，供图表与报表使用
//
// 无状态批量计算：每次查询现算现弃，不修改任何已存储记录，
// 可与数据入库并发执行。
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"cpap-hub/internal/models"
	"cpap-hub/internal/score"
)

// Metric 图表指标选择
type Metric string

const (
	MetricUsageHours Metric = "usage_hours"
	MetricMaskSeal   Metric = "mask_seal"
	MetricEvents     Metric = "events"
	MetricMaskOnOff  Metric = "mask_on_off"
	MetricTotalScore Metric = "total_score"
)

// ParseMetric 解析指标名
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricUsageHours, MetricMaskSeal, MetricEvents, MetricMaskOnOff, MetricTotalScore:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown metric: %q", s)
	}
}

// Bucket 一个聚合槽位（日视图的一次会话，或周/月视图的一天）
//
// HasData=false 表示该周期没有任何记录参与，区别于真实值为 0。
type Bucket struct {
	Label           string  `json:"label"`
	Value           float64 `json:"value"`
	HasData         bool    `json:"has_data"`
	PositionMinutes int     `json:"position_minutes"`           // 日视图中的图表横轴位置（当日分钟数）
	FromPreviousDay bool    `json:"from_previous_day,omitempty"` // 前一日跨午夜会话的溢出部分

	totalValue float64
	count      int
	sortKey    int
}

// metricValue 单条会话的指标取值
// Usage Hours 直接取原始时长；其余指标取评分引擎输出
func metricValue(s *models.Session, metric Metric) float64 {
	switch metric {
	case MetricUsageHours:
		return s.UsageHoursValue()
	case MetricMaskSeal:
		return float64(score.MaskSealScore(s.Leak))
	case MetricEvents:
		return float64(score.AHIScore(float64(s.EventsPerHour)))
	case MetricMaskOnOff:
		return float64(score.MaskOnOffScore(s.MaskOnOffCount))
	case MetricTotalScore:
		return float64(score.TotalScore(s))
	default:
		return 0
	}
}

const minutesPerDay = 24 * 60

// DayBuckets 日视图：每条会话一个桶，按开始时刻升序（稳定排序）
//
// Usage Hours 指标下跨午夜的会话被拆分：
//   - 当日部分只计到午夜为止；
//   - prevDaySessions 中跨午夜会话的溢出部分并入当日 00:00 桶。
func DayBuckets(sessions, prevDaySessions []*models.Session, metric Metric) []Bucket {
	var buckets []Bucket

	for _, s := range sessions {
		if s == nil {
			continue
		}

		startMinutes := s.StartMinutes()
		endMinutes := startMinutes + s.UsageTotalMinutes()

		if metric == MetricUsageHours && endMinutes > minutesPerDay {
			// 跨午夜：当日只保留到午夜的部分
			minutesToMidnight := minutesPerDay - startMinutes
			buckets = append(buckets, Bucket{
				Label:           s.StartTimeLabel(),
				Value:           float64(minutesToMidnight) / 60,
				HasData:         true,
				PositionMinutes: startMinutes,
				sortKey:         s.StartSortKey(),
			})
			continue
		}

		buckets = append(buckets, Bucket{
			Label:           s.StartTimeLabel(),
			Value:           metricValue(s, metric),
			HasData:         true,
			PositionMinutes: startMinutes,
			sortKey:         s.StartSortKey(),
		})
	}

	if metric == MetricUsageHours {
		// 前一日跨午夜会话的溢出计入当日 00:00
		for _, s := range prevDaySessions {
			if s == nil {
				continue
			}
			endMinutes := s.StartMinutes() + s.UsageTotalMinutes()
			if endMinutes > minutesPerDay {
				buckets = append(buckets, Bucket{
					Label:           "00:00",
					Value:           float64(endMinutes-minutesPerDay) / 60,
					HasData:         true,
					PositionMinutes: 0,
					FromPreviousDay: true,
					sortKey:         0,
				})
			}
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].sortKey < buckets[j].sortKey
	})
	return buckets
}

// WeekBuckets 周视图：锚定日期所在 ISO 周的周一至周日，固定 7 个桶
//
// 先全部预置为无数据，再按日期键累加，最后取参与会话的均值。
// 无论有无数据都恰好返回 7 个桶，顺序周一到周日。
func WeekBuckets(sessions []*models.Session, anchor time.Time, metric Metric) []Bucket {
	monday := startOfISOWeek(anchor)

	index := make(map[string]int, 7)
	buckets := make([]Bucket, 0, 7)
	for i := 0; i < 7; i++ {
		d := monday.AddDate(0, 0, i)
		index[d.Format("2006-01-02")] = i
		buckets = append(buckets, Bucket{Label: d.Format("Mon")})
	}

	accumulate(buckets, index, sessions, metric)
	return finalize(buckets)
}

// MonthBuckets 月视图：锚定月份的每个日历日一个桶
func MonthBuckets(sessions []*models.Session, anchor time.Time, metric Metric) []Bucket {
	first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
	daysInMonth := first.AddDate(0, 1, -1).Day()

	index := make(map[string]int, daysInMonth)
	buckets := make([]Bucket, 0, daysInMonth)
	for i := 0; i < daysInMonth; i++ {
		d := first.AddDate(0, 0, i)
		index[d.Format("2006-01-02")] = i
		buckets = append(buckets, Bucket{Label: fmt.Sprintf("%d", i+1)})
	}

	accumulate(buckets, index, sessions, metric)
	return finalize(buckets)
}

// accumulate 按 date_key 将会话指标累加进对应桶
// 日期键不在周期内或记录缺失的会话直接跳过（视为不存在，不按 0 计）
func accumulate(buckets []Bucket, index map[string]int, sessions []*models.Session, metric Metric) {
	for _, s := range sessions {
		if s == nil {
			continue
		}
		i, ok := index[s.DateKey]
		if !ok {
			continue
		}
		buckets[i].totalValue += metricValue(s, metric)
		buckets[i].count++
		buckets[i].HasData = true
	}
}

// finalize 累加值 ÷ 参与会话数（简单均值）；无数据的桶保持 0
func finalize(buckets []Bucket) []Bucket {
	for i := range buckets {
		if buckets[i].count > 0 {
			buckets[i].Value = buckets[i].totalValue / float64(buckets[i].count)
		}
	}
	return buckets
}

// WeekRange 锚定日期所在 ISO 周的首末日期键（周一到周日）
func WeekRange(anchor time.Time) (string, string) {
	monday := startOfISOWeek(anchor)
	return monday.Format("2006-01-02"), monday.AddDate(0, 0, 6).Format("2006-01-02")
}

// MonthRange 锚定月份的首末日期键
func MonthRange(anchor time.Time) (string, string) {
	first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
	return first.Format("2006-01-02"), first.AddDate(0, 1, -1).Format("2006-01-02")
}

// startOfISOWeek 锚定日期所在 ISO 周的周一
func startOfISOWeek(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // 周日归入上一个 ISO 周
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, 1-wd)
}
