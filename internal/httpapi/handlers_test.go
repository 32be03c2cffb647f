package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cpap-hub/internal/cache"
	"cpap-hub/internal/models"
	"cpap-hub/internal/repository"
)

func setupAPI(t *testing.T) (*Router, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	sessionRepo := repository.NewSessionRepository(db, logger)
	latestCache := cache.NewLatestSessionCache(client, time.Hour, logger)

	router := NewRouter(logger)
	router.RegisterRoutes(
		NewDashboardHandler(sessionRepo, latestCache, logger),
		NewHistoryHandler(sessionRepo, logger),
	)
	return router, mock, mr
}

func testSession() *models.Session {
	return &models.Session{
		DateKey: "2025-07-25",
		Day:     25, Month: 7, Year: 25,
		Hour: 23, Min: 30, Sec: 5,
		Mode:            models.ModeCPAP,
		PressureSet:     9.5,
		MaskType:        models.MaskNasal,
		TubeType:        models.TubeStandard,
		RampMinPressure: 4.0,
		FlexLevel:       2,
		FlexTrigger:     models.TriggerMedium,
		RampTime:        15,
		HumidifierLevel: 3,
		AutoMinPressure: 4.0,
		AutoMaxPressure: 15.0,
		EndDay:          26, EndMonth: 7, EndYear: 25,
		EndHour: 7, EndMin: 15, EndSec: 30,
		ApneaIndex:    3,
		EventsPerHour: 5,
		AvgPressure:   9.2,
		Leak:          12.5,
		UsageHours:    7,
		UsageMinutes:  45,
	}
}

func sessionRowColumns() []string {
	return []string{
		"id",
		"date_key", "day", "month", "year", "hour", "min", "sec",
		"mode", "pressure_set", "mask_type", "tube_type",
		"smart_start", "filter_on", "ramp_min_pressure",
		"flex_level", "flex_trigger", "ramp_time", "humidifier_level",
		"auto_min_pressure", "auto_max_pressure",
		"end_day", "end_month", "end_year", "end_hour", "end_min", "end_sec",
		"apnea_index", "events_per_hour", "avg_pressure", "leak",
		"usage_hours", "usage_minutes", "mask_on_off_count",
	}
}

func addSessionRow(rows *sqlmock.Rows, id int64, s *models.Session) *sqlmock.Rows {
	return rows.AddRow(
		id,
		s.DateKey, s.Day, s.Month, s.Year, s.Hour, s.Min, s.Sec,
		int(s.Mode), s.PressureSet, int(s.MaskType), int(s.TubeType),
		s.SmartStart, s.FilterOn, s.RampMinPressure,
		s.FlexLevel, int(s.FlexTrigger), s.RampTime, s.HumidifierLevel,
		s.AutoMinPressure, s.AutoMaxPressure,
		s.EndDay, s.EndMonth, s.EndYear, s.EndHour, s.EndMin, s.EndSec,
		s.ApneaIndex, s.EventsPerHour, s.AvgPressure, s.Leak,
		s.UsageHours, s.UsageMinutes, s.MaskOnOffCount,
	)
}

func doGet(t *testing.T, router *Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := doGet(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestGetDashboard_FromCache(t *testing.T) {
	router, mock, mr := setupAPI(t)

	data, err := json.Marshal(testSession())
	require.NoError(t, err)
	require.NoError(t, mr.Set("cpap:session:2025-07-25:latest", string(data)))

	rec := doGet(t, router, "/api/v1/dashboard?date=2025-07-25")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResult(t, rec)
	assert.Equal(t, float64(ResultSuccess), body["code"])

	result := body["result"].(map[string]interface{})
	assert.Equal(t, "2025-07-25", result["date"])

	session := result["session"].(map[string]interface{})
	assert.Equal(t, "CPAP", session["mode_label"])
	assert.Equal(t, "Nasal", session["mask_type_label"])
	assert.Equal(t, "23:30:05", session["start_time"])

	// 评分为派生值：7h45m→70，漏气12.5→19，AHI 5→5，摘戴 0→5
	scores := result["scores"].(map[string]interface{})
	assert.Equal(t, float64(70), scores["usage_score"])
	assert.Equal(t, float64(19), scores["mask_seal_score"])
	assert.Equal(t, float64(5), scores["ahi_score"])
	assert.Equal(t, float64(5), scores["mask_on_off_score"])
	assert.Equal(t, float64(99), scores["total_score"])
	assert.Equal(t, "Excellent", scores["seal_label"])

	// 缓存命中，数据库不应被查询
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDashboard_DBFallbackBackfillsCache(t *testing.T) {
	router, mock, mr := setupAPI(t)
	s := testSession()

	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-07-25").
		WillReturnRows(addSessionRow(sqlmock.NewRows(sessionRowColumns()), 42, s))

	rec := doGet(t, router, "/api/v1/dashboard?date=2025-07-25")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResult(t, rec)
	result := body["result"].(map[string]interface{})
	require.NotNil(t, result["session"])

	// 数据库回退命中后回填缓存
	assert.True(t, mr.Exists("cpap:session:2025-07-25:latest"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDashboard_NoData(t *testing.T) {
	router, mock, _ := setupAPI(t)

	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-07-25").
		WillReturnError(sql.ErrNoRows)

	rec := doGet(t, router, "/api/v1/dashboard?date=2025-07-25")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResult(t, rec)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "2025-07-25", result["date"])
	assert.Nil(t, result["session"])
	assert.Nil(t, result["scores"])
}

func TestGetDashboard_InvalidDate(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := doGet(t, router, "/api/v1/dashboard?date=07/25/2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeResult(t, rec)
	assert.Equal(t, float64(ResultError), body["code"])
}

func TestGetDashboard_MethodNotAllowed(t *testing.T) {
	router, _, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dashboard", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetSessions(t *testing.T) {
	router, mock, _ := setupAPI(t)

	first := testSession()
	first.Hour, first.Min, first.Sec = 1, 10, 0
	second := testSession()

	rows := sqlmock.NewRows(sessionRowColumns())
	addSessionRow(rows, 1, first)
	addSessionRow(rows, 2, second)
	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-07-25").
		WillReturnRows(rows)

	rec := doGet(t, router, "/api/v1/sessions?date=2025-07-25")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResult(t, rec)
	result := body["result"].(map[string]interface{})
	sessions := result["sessions"].([]interface{})
	require.Len(t, sessions, 2)

	// 数据库排序保持：每条都带评分
	item := sessions[0].(map[string]interface{})
	assert.Equal(t, "01:10:00", item["start_time"])
	assert.NotNil(t, item["scores"])
}

func TestGetHistory_DayUsageFetchesPreviousDay(t *testing.T) {
	router, mock, _ := setupAPI(t)

	// 当日一条会话
	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-07-26").
		WillReturnRows(addSessionRow(sqlmock.NewRows(sessionRowColumns()), 2, &models.Session{
			DateKey: "2025-07-26",
			Day:     26, Month: 7, Year: 25,
			Hour: 22, Min: 0, Sec: 0,
			EndDay: 27, EndMonth: 7, EndYear: 25,
			UsageHours: 6, UsageMinutes: 0,
		}))

	// 前一日跨午夜会话：23:30 开始用 2 小时，溢出 1.5 小时计入当日 00:00
	prev := testSession()
	prev.UsageHours, prev.UsageMinutes = 2, 0
	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-07-25").
		WillReturnRows(addSessionRow(sqlmock.NewRows(sessionRowColumns()), 1, prev))

	rec := doGet(t, router, "/api/v1/history?period=day&date=2025-07-26&metric=usage_hours")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResult(t, rec)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "day", result["period"])
	assert.Equal(t, "usage_hours", result["metric"])

	buckets := result["buckets"].([]interface{})
	require.Len(t, buckets, 2)

	overflow := buckets[0].(map[string]interface{})
	assert.Equal(t, "00:00", overflow["label"])
	assert.Equal(t, true, overflow["from_previous_day"])
	assert.InDelta(t, 1.5, overflow["value"].(float64), 0.001)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHistory_ScoreMetricSkipsPreviousDay(t *testing.T) {
	router, mock, _ := setupAPI(t)

	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-07-26").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns()))

	rec := doGet(t, router, "/api/v1/history?period=day&date=2025-07-26&metric=total_score")
	require.Equal(t, http.StatusOK, rec.Code)

	// 评分指标不做跨午夜拆分，前一日不查询
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHistory_WeekAlwaysSevenBuckets(t *testing.T) {
	router, mock, _ := setupAPI(t)

	// 2025-07-23 是周三，ISO 周为 07-21（周一）到 07-27（周日)
	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-07-21", "2025-07-27").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns()))

	rec := doGet(t, router, "/api/v1/history?period=week&date=2025-07-23&metric=total_score")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResult(t, rec)
	result := body["result"].(map[string]interface{})
	buckets := result["buckets"].([]interface{})
	require.Len(t, buckets, 7)

	first := buckets[0].(map[string]interface{})
	assert.Equal(t, "Mon", first["label"])
	assert.Equal(t, false, first["has_data"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHistory_MonthBuckets(t *testing.T) {
	router, mock, _ := setupAPI(t)

	mock.ExpectQuery(`SELECT id,`).
		WithArgs("2025-02-01", "2025-02-28").
		WillReturnRows(addSessionRow(sqlmock.NewRows(sessionRowColumns()), 1, &models.Session{
			DateKey: "2025-02-10",
			Day:     10, Month: 2, Year: 25,
			UsageHours: 8,
		}))

	rec := doGet(t, router, "/api/v1/history?period=month&date=2025-02-15&metric=usage_hours")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResult(t, rec)
	result := body["result"].(map[string]interface{})
	buckets := result["buckets"].([]interface{})
	require.Len(t, buckets, 28)

	day10 := buckets[9].(map[string]interface{})
	assert.Equal(t, "10", day10["label"])
	assert.Equal(t, true, day10["has_data"])
	assert.InDelta(t, 8.0, day10["value"].(float64), 0.001)
}

func TestGetHistory_InvalidPeriodAndMetric(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := doGet(t, router, "/api/v1/history?period=year&date=2025-07-25&metric=usage_hours")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, router, "/api/v1/history?period=day&date=2025-07-25&metric=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
