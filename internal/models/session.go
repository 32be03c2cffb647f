package models

import (
	"encoding/json"
	"fmt"
)

// Session 一次治疗会话的解码结果（来自单个 35 字节报文）
//
// 由 protocol.Decode 一次性构造，之后不再修改。
// 所有压力类字段已做 ÷10 缩放，单位 cmH₂O；Leak 单位 LPM。
type Session struct {
	ID      int64  `json:"id,omitempty"`
	DateKey string `json:"date_key"` // "YYYY-MM-DD"，聚合分区键

	// 会话开始日期时间（设备本地时间，2位年）
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
	Hour  int `json:"hour"`
	Min   int `json:"min"`
	Sec   int `json:"sec"`

	// 设备配置快照
	Mode            Mode        `json:"mode"`
	PressureSet     float64     `json:"cpap_pressure_set"`
	MaskType        MaskType    `json:"mask_type"`
	TubeType        TubeType    `json:"tube_type"`
	SmartStart      bool        `json:"smart_start"`
	FilterOn        bool        `json:"filter_on"`
	RampMinPressure float64     `json:"ramp_min_pressure"`
	FlexLevel       int         `json:"c_flex_level"`
	FlexTrigger     FlexTrigger `json:"c_flex_trigger"`
	RampTime        int         `json:"ramp_time"`
	HumidifierLevel int         `json:"humidifier_level"`
	AutoMinPressure float64     `json:"auto_cpap_min_pressure"`
	AutoMaxPressure float64     `json:"auto_cpap_max_pressure"`

	// 会话结束日期时间
	EndDay   int `json:"end_day"`
	EndMonth int `json:"end_month"`
	EndYear  int `json:"end_year"`
	EndHour  int `json:"end_hour"`
	EndMin   int `json:"end_min"`
	EndSec   int `json:"end_sec"`

	// 会话结果指标
	ApneaIndex    int     `json:"session_ai"`
	EventsPerHour int     `json:"events_per_hour"` // AHI
	AvgPressure   float64 `json:"session_pressure"`
	Leak          float64 `json:"session_leak"`
	UsageHours    int     `json:"usage_hours"`
	UsageMinutes  int     `json:"usage_minutes"`

	// 当前固件始终为 0，字段保留用于前向兼容（无已知报文偏移）
	MaskOnOffCount int `json:"mask_on_off_count"`
}

// StartSortKey 会话开始时刻的当日秒数（用于稳定排序）
func (s *Session) StartSortKey() int {
	return s.Hour*3600 + s.Min*60 + s.Sec
}

// StartMinutes 会话开始时刻的当日分钟数
func (s *Session) StartMinutes() int {
	return s.Hour*60 + s.Min
}

// UsageTotalMinutes 本次会话总使用时长（分钟）
func (s *Session) UsageTotalMinutes() int {
	return s.UsageHours*60 + s.UsageMinutes
}

// UsageHoursValue 本次会话使用时长（小时，小数）
func (s *Session) UsageHoursValue() float64 {
	return float64(s.UsageHours) + float64(s.UsageMinutes)/60
}

// StartTimeLabel 开始时刻标签，如 "23:30"
func (s *Session) StartTimeLabel() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Min)
}

// StartDate 开始日期，如 "2025-07-25"
func (s *Session) StartDate() string {
	return fmt.Sprintf("%d-%02d-%02d", 2000+s.Year, s.Month, s.Day)
}

// EndDate 结束日期
func (s *Session) EndDate() string {
	return fmt.Sprintf("%d-%02d-%02d", 2000+s.EndYear, s.EndMonth, s.EndDay)
}

// StartTime 开始时刻，如 "23:30:05"
func (s *Session) StartTime() string {
	return fmt.Sprintf("%02d:%02d:%02d", s.Hour, s.Min, s.Sec)
}

// EndTime 结束时刻
func (s *Session) EndTime() string {
	return fmt.Sprintf("%02d:%02d:%02d", s.EndHour, s.EndMin, s.EndSec)
}

// SessionEnvelope 发布到 Redis Streams 的会话消息
type SessionEnvelope struct {
	IngestID   string   `json:"ingest_id"`  // 入库消息ID（UUID）
	ReceivedAt int64    `json:"received_at"` // 接收时间戳（Unix秒）
	RemoteAddr string   `json:"remote_addr,omitempty"`
	Session    *Session `json:"session"`
}

// ParseSessionEnvelope 从 Redis Streams 消息解析会话数据
func ParseSessionEnvelope(values map[string]interface{}) (*SessionEnvelope, error) {
	// 从 Values 中提取 data 字段（JSON 字符串）
	dataStr, ok := values["data"].(string)
	if !ok {
		return nil, ErrInvalidDataFormat
	}

	var envelope SessionEnvelope
	if err := json.Unmarshal([]byte(dataStr), &envelope); err != nil {
		return nil, err
	}
	if envelope.Session == nil {
		return nil, ErrInvalidDataFormat
	}

	return &envelope, nil
}

// ErrInvalidDataFormat 数据格式错误
var ErrInvalidDataFormat = &DataFormatError{Message: "invalid data format"}

// DataFormatError 数据格式错误类型
type DataFormatError struct {
	Message string
}

func (e *DataFormatError) Error() string {
	return e.Message
}
