package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"cpap-hub/internal/cache"
	"cpap-hub/internal/models"
	"cpap-hub/internal/repository"
	"cpap-hub/internal/score"
)

// DashboardHandler 当日最新会话与评分
type DashboardHandler struct {
	sessionRepo *repository.SessionRepository
	latestCache *cache.LatestSessionCache
	logger      *zap.Logger
}

// NewDashboardHandler 创建仪表盘 Handler
func NewDashboardHandler(
	sessionRepo *repository.SessionRepository,
	latestCache *cache.LatestSessionCache,
	logger *zap.Logger,
) *DashboardHandler {
	return &DashboardHandler{
		sessionRepo: sessionRepo,
		latestCache: latestCache,
		logger:      logger,
	}
}

// SessionView 会话视图：原始字段 + 枚举显示名 + 格式化时间
//
// 枚举原始码落库，显示名只在读取时渲染，未知码渲染为 "Unknown(n)"。
type SessionView struct {
	*models.Session

	ModeLabel        string `json:"mode_label"`
	MaskTypeLabel    string `json:"mask_type_label"`
	TubeTypeLabel    string `json:"tube_type_label"`
	FlexTriggerLabel string `json:"flex_trigger_label"`
	StartDateLabel   string `json:"start_date"`
	EndDateLabel     string `json:"end_date"`
	StartTimeText    string `json:"start_time"`
	EndTimeText      string `json:"end_time"`
}

// NewSessionView 渲染会话视图
func NewSessionView(s *models.Session) *SessionView {
	return &SessionView{
		Session:          s,
		ModeLabel:        s.Mode.String(),
		MaskTypeLabel:    s.MaskType.String(),
		TubeTypeLabel:    s.TubeType.String(),
		FlexTriggerLabel: s.FlexTrigger.String(),
		StartDateLabel:   s.StartDate(),
		EndDateLabel:     s.EndDate(),
		StartTimeText:    s.StartTime(),
		EndTimeText:      s.EndTime(),
	}
}

// DashboardResponse 仪表盘响应
type DashboardResponse struct {
	Date    string       `json:"date"`
	Session *SessionView `json:"session"`
	Scores  *score.Set   `json:"scores,omitempty"`
}

// GetDashboard 获取指定日期的最新会话及评分
//
// 读取顺序：缓存 → 数据库回退 → 回填缓存。
// 评分是派生值，每次请求重新计算，不落库。
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid date, expected YYYY-MM-DD"))
		return
	}
	dateKey := date.Format(dateKeyLayout)

	session, err := h.latestCache.GetLatest(r.Context(), dateKey)
	if err != nil {
		h.logger.Warn("Failed to read latest session cache", zap.String("date_key", dateKey), zap.Error(err))
	}

	if session == nil {
		session, err = h.sessionRepo.GetLatestSessionForDate(dateKey)
		if err != nil {
			h.logger.Error("Failed to query latest session", zap.String("date_key", dateKey), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Fail("failed to query latest session"))
			return
		}
		if session != nil {
			if cerr := h.latestCache.SetLatest(r.Context(), session); cerr != nil {
				h.logger.Warn("Failed to backfill latest session cache", zap.Error(cerr))
			}
		}
	}

	resp := DashboardResponse{Date: dateKey}
	if session != nil {
		resp.Session = NewSessionView(session)
		scores := score.Compute(session)
		resp.Scores = &scores
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}
