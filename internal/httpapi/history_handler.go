package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"cpap-hub/internal/aggregate"
	"cpap-hub/internal/models"
	"cpap-hub/internal/repository"
	"cpap-hub/internal/score"
)

// HistoryHandler 历史会话列表与日/周/月聚合
type HistoryHandler struct {
	sessionRepo *repository.SessionRepository
	logger      *zap.Logger
}

// NewHistoryHandler 创建历史查询 Handler
func NewHistoryHandler(sessionRepo *repository.SessionRepository, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		sessionRepo: sessionRepo,
		logger:      logger,
	}
}

// SessionListItem 会话列表项：视图 + 评分
type SessionListItem struct {
	*SessionView
	Scores score.Set `json:"scores"`
}

// SessionsResponse 会话列表响应
type SessionsResponse struct {
	Date     string             `json:"date"`
	Sessions []*SessionListItem `json:"sessions"`
}

// GetSessions 获取指定日期的全部会话（按开始时刻升序）
func (h *HistoryHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid date, expected YYYY-MM-DD"))
		return
	}
	dateKey := date.Format(dateKeyLayout)

	sessions, err := h.sessionRepo.GetSessionsForDate(dateKey)
	if err != nil {
		h.logger.Error("Failed to query sessions", zap.String("date_key", dateKey), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to query sessions"))
		return
	}

	items := make([]*SessionListItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, &SessionListItem{
			SessionView: NewSessionView(s),
			Scores:      score.Compute(s),
		})
	}

	writeJSON(w, http.StatusOK, Ok(SessionsResponse{Date: dateKey, Sessions: items}))
}

// HistoryResponse 聚合视图响应
type HistoryResponse struct {
	Period  string             `json:"period"`
	Date    string             `json:"date"`
	Metric  string             `json:"metric"`
	Buckets []aggregate.Bucket `json:"buckets"`
}

// GetHistory 日/周/月聚合视图
//
// 日视图额外拉取前一日会话：跨午夜的使用时长溢出部分要计入当日 00:00 桶。
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid date, expected YYYY-MM-DD"))
		return
	}

	metricParam := r.URL.Query().Get("metric")
	if metricParam == "" {
		metricParam = string(aggregate.MetricUsageHours)
	}
	metric, err := aggregate.ParseMetric(metricParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "day"
	}

	var buckets []aggregate.Bucket
	switch period {
	case "day":
		buckets, err = h.dayBuckets(date, metric)
	case "week":
		start, end := aggregate.WeekRange(date)
		var sessions []*models.Session
		sessions, err = h.sessionRepo.GetSessionsForDateRange(start, end)
		if err == nil {
			buckets = aggregate.WeekBuckets(sessions, date, metric)
		}
	case "month":
		start, end := aggregate.MonthRange(date)
		var sessions []*models.Session
		sessions, err = h.sessionRepo.GetSessionsForDateRange(start, end)
		if err == nil {
			buckets = aggregate.MonthBuckets(sessions, date, metric)
		}
	default:
		writeJSON(w, http.StatusBadRequest, Fail("invalid period, expected day|week|month"))
		return
	}

	if err != nil {
		h.logger.Error("Failed to build history view",
			zap.String("period", period),
			zap.String("metric", string(metric)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to build history view"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(HistoryResponse{
		Period:  period,
		Date:    date.Format(dateKeyLayout),
		Metric:  string(metric),
		Buckets: buckets,
	}))
}

// dayBuckets 日视图：当日会话 + 前一日会话（跨午夜溢出）
func (h *HistoryHandler) dayBuckets(date time.Time, metric aggregate.Metric) ([]aggregate.Bucket, error) {
	dateKey := date.Format(dateKeyLayout)

	sessions, err := h.sessionRepo.GetSessionsForDate(dateKey)
	if err != nil {
		return nil, err
	}

	var prevDay []*models.Session
	if metric == aggregate.MetricUsageHours {
		prevKey := date.AddDate(0, 0, -1).Format(dateKeyLayout)
		prevDay, err = h.sessionRepo.GetSessionsForDate(prevKey)
		if err != nil {
			return nil, err
		}
	}

	return aggregate.DayBuckets(sessions, prevDay, metric), nil
}
