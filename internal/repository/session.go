package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cpap-hub/internal/models"
)

// ErrDuplicateSession 完全相同的会话记录已存在（幂等空操作，不是失败）
// UDP 可能重复投递同一报文，调用方据此区分 "saved" 与 "already had this"
var ErrDuplicateSession = errors.New("duplicate session record")

// SessionRepository 会话记录仓库（cpap_sessions 表）
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository 创建会话仓库
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// sessionColumns 除 id 外的全部列，插入与查重共用
const sessionColumns = `
	date_key, day, month, year, hour, min, sec,
	mode, pressure_set, mask_type, tube_type,
	smart_start, filter_on, ramp_min_pressure,
	flex_level, flex_trigger, ramp_time, humidifier_level,
	auto_min_pressure, auto_max_pressure,
	end_day, end_month, end_year, end_hour, end_min, end_sec,
	apnea_index, events_per_hour, avg_pressure, leak,
	usage_hours, usage_minutes, mask_on_off_count`

// Save 查重后插入会话记录
//
// 查重覆盖完整字段元组，用于容忍 UDP 重复投递。
// 查重-插入必须由单写者串行执行（流消费者是唯一写入方），
// 避免并发投递产生重复行。
// 重复时返回 ErrDuplicateSession，已有行保持不变。
func (r *SessionRepository) Save(s *models.Session) (int64, error) {
	duplicate, err := r.isDuplicate(s)
	if err != nil {
		return 0, fmt.Errorf("failed to check duplicate: %w", err)
	}
	if duplicate {
		return 0, ErrDuplicateSession
	}

	query := `
		INSERT INTO cpap_sessions (` + sessionColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33
		)
		RETURNING id
	`

	var id int64
	err = r.db.QueryRow(query, sessionArgs(s)...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	return id, nil
}

// isDuplicate 检查完全相同的记录是否已存在
func (r *SessionRepository) isDuplicate(s *models.Session) (bool, error) {
	query := `
		SELECT COUNT(*) FROM cpap_sessions
		WHERE date_key = $1 AND day = $2 AND month = $3 AND year = $4
		  AND hour = $5 AND min = $6 AND sec = $7
		  AND mode = $8 AND pressure_set = $9
		  AND mask_type = $10 AND tube_type = $11
		  AND smart_start = $12 AND filter_on = $13
		  AND ramp_min_pressure = $14 AND flex_level = $15
		  AND flex_trigger = $16 AND ramp_time = $17
		  AND humidifier_level = $18 AND auto_min_pressure = $19
		  AND auto_max_pressure = $20 AND end_day = $21
		  AND end_month = $22 AND end_year = $23 AND end_hour = $24
		  AND end_min = $25 AND end_sec = $26 AND apnea_index = $27
		  AND events_per_hour = $28 AND avg_pressure = $29
		  AND leak = $30 AND usage_hours = $31
		  AND usage_minutes = $32 AND mask_on_off_count = $33
	`

	var count int
	if err := r.db.QueryRow(query, sessionArgs(s)...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetSessionsForDate 查询某日的全部会话，按开始时刻升序
func (r *SessionRepository) GetSessionsForDate(dateKey string) ([]*models.Session, error) {
	query := `
		SELECT id, ` + sessionColumns + `
		FROM cpap_sessions
		WHERE date_key = $1
		ORDER BY hour ASC, min ASC, sec ASC, id ASC
	`

	rows, err := r.db.Query(query, dateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions for date: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// GetSessionsForDateRange 查询日期区间内的全部会话（含端点）
// 按日期键、开始时刻升序，供周/月聚合使用
func (r *SessionRepository) GetSessionsForDateRange(startDate, endDate string) ([]*models.Session, error) {
	query := `
		SELECT id, ` + sessionColumns + `
		FROM cpap_sessions
		WHERE date_key BETWEEN $1 AND $2
		ORDER BY date_key ASC, hour ASC, min ASC, sec ASC, id ASC
	`

	rows, err := r.db.Query(query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions for range: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// GetLatestSessionForDate 查询某日最新的一条会话（仪表盘展示）
// 无记录时返回 (nil, nil)
func (r *SessionRepository) GetLatestSessionForDate(dateKey string) (*models.Session, error) {
	query := `
		SELECT id, ` + sessionColumns + `
		FROM cpap_sessions
		WHERE date_key = $1
		ORDER BY hour DESC, min DESC, sec DESC, id DESC
		LIMIT 1
	`

	row := r.db.QueryRow(query, dateKey)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest session: %w", err)
	}
	return s, nil
}

// sessionArgs 与 sessionColumns 顺序一致的参数列表
func sessionArgs(s *models.Session) []interface{} {
	return []interface{}{
		s.DateKey, s.Day, s.Month, s.Year, s.Hour, s.Min, s.Sec,
		int(s.Mode), s.PressureSet, int(s.MaskType), int(s.TubeType),
		s.SmartStart, s.FilterOn, s.RampMinPressure,
		s.FlexLevel, int(s.FlexTrigger), s.RampTime, s.HumidifierLevel,
		s.AutoMinPressure, s.AutoMaxPressure,
		s.EndDay, s.EndMonth, s.EndYear, s.EndHour, s.EndMin, s.EndSec,
		s.ApneaIndex, s.EventsPerHour, s.AvgPressure, s.Leak,
		s.UsageHours, s.UsageMinutes, s.MaskOnOffCount,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession 扫描一行记录
func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var mode, maskType, tubeType, flexTrigger int

	err := row.Scan(
		&s.ID,
		&s.DateKey, &s.Day, &s.Month, &s.Year, &s.Hour, &s.Min, &s.Sec,
		&mode, &s.PressureSet, &maskType, &tubeType,
		&s.SmartStart, &s.FilterOn, &s.RampMinPressure,
		&s.FlexLevel, &flexTrigger, &s.RampTime, &s.HumidifierLevel,
		&s.AutoMinPressure, &s.AutoMaxPressure,
		&s.EndDay, &s.EndMonth, &s.EndYear, &s.EndHour, &s.EndMin, &s.EndSec,
		&s.ApneaIndex, &s.EventsPerHour, &s.AvgPressure, &s.Leak,
		&s.UsageHours, &s.UsageMinutes, &s.MaskOnOffCount,
	)
	if err != nil {
		return nil, err
	}

	s.Mode = models.Mode(mode)
	s.MaskType = models.MaskType(maskType)
	s.TubeType = models.TubeType(tubeType)
	s.FlexTrigger = models.FlexTrigger(flexTrigger)
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
