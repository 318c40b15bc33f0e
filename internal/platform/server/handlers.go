package server

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"snap-gateway/internal/httputil"
	"snap-gateway/internal/platform/middleware"
	"snap-gateway/internal/security/audit"
	"snap-gateway/internal/snap"
	"snap-gateway/internal/snapview"
)

type snapHandler struct {
	svc   *snapview.Service
	audit *audit.AuditService
}

// bindOptionalJSON 空 body 視為所有欄位皆為零值.
func bindOptionalJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(c, "無效的請求格式")
		return false
	}
	return true
}

// caller 請求中帶的使用者 ID 必須與已認證的呼叫者一致.
func (h *snapHandler) caller(c *gin.Context, requested string) (string, bool) {
	userID := middleware.GetUserID(c)
	if requested != "" && requested != userID {
		h.audit.LogAccessDenied(c.Request.Context(), userID, c.Param("message_id"), string(snap.ReasonForbidden))
		httputil.Forbidden(c, "")
		return "", false
	}
	return userID, true
}

// GET /api/v1/snaps/:message_id/can-view
func (h *snapHandler) canView(c *gin.Context) {
	viewerID, ok := h.caller(c, c.Query("viewer_id"))
	if !ok {
		return
	}

	res, err := h.svc.CanView(c.Request.Context(), c.Param("message_id"), viewerID)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, res)
}

type recordViewRequest struct {
	ViewerID         string    `json:"viewer_id"`
	ViewingStartedAt time.Time `json:"viewing_started_at"`
	IsReplay         bool      `json:"is_replay"`
}

// POST /api/v1/snaps/:message_id/views
func (h *snapHandler) recordView(c *gin.Context) {
	var req recordViewRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	viewerID, ok := h.caller(c, req.ViewerID)
	if !ok {
		return
	}

	res, err := h.svc.RecordView(c.Request.Context(), c.Param("message_id"), viewerID, req.ViewingStartedAt, req.IsReplay)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	respondView(c, res)
}

type replayRequest struct {
	ViewerID string `json:"viewer_id"`
}

// POST /api/v1/snaps/:message_id/replays
func (h *snapHandler) incrementReplay(c *gin.Context) {
	var req replayRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	viewerID, ok := h.caller(c, req.ViewerID)
	if !ok {
		return
	}

	res, err := h.svc.IncrementReplay(c.Request.Context(), c.Param("message_id"), viewerID)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	respondView(c, res)
}

func respondView(c *gin.Context, res snapview.ViewResult) {
	if !res.Success {
		httputil.RejectWithData(c, res.Reason, res)
		return
	}
	httputil.OK(c, res)
}

type screenshotRequest struct {
	ScreenshotterID     string    `json:"screenshotter_id"`
	ScreenshotTimestamp time.Time `json:"screenshot_timestamp"`
}

// POST /api/v1/snaps/:message_id/screenshots
func (h *snapHandler) recordScreenshot(c *gin.Context) {
	var req screenshotRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	screenshotterID, ok := h.caller(c, req.ScreenshotterID)
	if !ok {
		return
	}

	event, err := h.svc.RecordScreenshot(c.Request.Context(), c.Param("message_id"), screenshotterID, req.ScreenshotTimestamp)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.Created(c, gin.H{
		"notification_sent": true,
		"event":             event,
	})
}

// GET /api/v1/screenshots/notifications?unread_only&limit&cursor
func (h *snapHandler) listNotifications(c *gin.Context) {
	ownerID, ok := h.caller(c, c.Query("owner_id"))
	if !ok {
		return
	}

	q := snapview.NotificationQuery{Cursor: c.Query("cursor")}
	if raw := c.Query("unread_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.BadRequest(c, "unread_only 必須是布林值")
			return
		}
		q.UnreadOnly = v
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.BadRequest(c, "limit 必須是非負整數")
			return
		}
		q.Limit = v
	}

	page, err := h.svc.GetScreenshotNotifications(c.Request.Context(), ownerID, q)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, page)
}

type acknowledgeRequest struct {
	OwnerID string   `json:"owner_id"`
	IDs     []string `json:"ids" binding:"required"`
}

// POST /api/v1/screenshots/notifications/ack
func (h *snapHandler) acknowledgeNotifications(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	ownerID, ok := h.caller(c, req.OwnerID)
	if !ok {
		return
	}

	n, err := h.svc.AcknowledgeScreenshotNotifications(c.Request.Context(), ownerID, req.IDs)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, gin.H{"acknowledged": n})
}
