package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/middleware"
	dialogsvc "github.com/zacharykka/dialog-trainer/internal/service/dialog"
	"github.com/zacharykka/dialog-trainer/pkg/httpx"
)

// SessionHandler 处理模拟会话相关 HTTP 请求。
type SessionHandler struct {
	service *dialogsvc.Service
}

// NewSessionHandler 创建 SessionHandler。
func NewSessionHandler(service *dialogsvc.Service) *SessionHandler {
	return &SessionHandler{service: service}
}

// RegisterRoutes 注册会话相关路由。
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.StartSession)
	rg.POST("/", h.StartSession)
	rg.GET("", h.ListSessions)
	rg.GET("/", h.ListSessions)
	rg.GET("/:id", h.GetHistory)
	rg.POST("/:id/messages", h.PostMessage)
	rg.POST("/:id/finish", h.FinishSession)
	rg.POST("/:id/archive", h.ArchiveSession)
	rg.POST("/:id/restore", h.RestoreSession)
}

type startSessionRequest struct {
	ScenarioID string `json:"scenario_id" binding:"required"`
}

type postMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type finishSessionRequest struct {
	Duration *int64 `json:"duration"`
}

// StartSession 开启新会话并返回开场白。
func (h *SessionHandler) StartSession(ctx *gin.Context) {
	var req startSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		httpx.RespondError(ctx, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
		return
	}

	result, err := h.service.StartSession(ctx, ctx.GetString(middleware.UserContextKey), req.ScenarioID)
	if err != nil {
		h.handleError(ctx, err)
		return
	}

	httpx.RespondOK(ctx, gin.H{
		"dialog":  result.Dialog,
		"opening": result.Opening,
	})
}

// PostMessage 处理一轮对话。
func (h *SessionHandler) PostMessage(ctx *gin.Context) {
	var req postMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		httpx.RespondError(ctx, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
		return
	}

	result, err := h.service.PostMessage(ctx, ctx.GetString(middleware.UserContextKey), ctx.Param("id"), req.Text)
	if err != nil {
		h.handleError(ctx, err)
		return
	}

	if result.Completed {
		httpx.RespondOK(ctx, gin.H{
			"completed":  true,
			"completion": result.Completion,
		})
		return
	}
	httpx.RespondOK(ctx, gin.H{
		"completed": false,
		"message":   result.UserMessage,
		"reply":     result.Reply,
	})
}

// FinishSession 显式完成会话并返回分析结果。
func (h *SessionHandler) FinishSession(ctx *gin.Context) {
	var req finishSessionRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			httpx.RespondError(ctx, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
			return
		}
	}

	result, err := h.service.FinishSession(ctx, ctx.GetString(middleware.UserContextKey), ctx.Param("id"), req.Duration)
	if err != nil {
		h.handleError(ctx, err)
		return
	}

	httpx.RespondOK(ctx, gin.H{"completion": result})
}

// GetHistory 返回会话与完整消息历史。
func (h *SessionHandler) GetHistory(ctx *gin.Context) {
	dialog, messages, err := h.service.GetHistory(ctx, ctx.GetString(middleware.UserContextKey), ctx.Param("id"))
	if err != nil {
		h.handleError(ctx, err)
		return
	}

	httpx.RespondOK(ctx, gin.H{
		"dialog":   dialog,
		"messages": messages,
	})
}

// ListSessions 返回当前用户的会话列表。
func (h *SessionHandler) ListSessions(ctx *gin.Context) {
	limit, offset := parsePagination(ctx.Query("limit"), ctx.Query("offset"))

	includeArchived := false
	if value := strings.TrimSpace(ctx.Query("includeArchived")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			includeArchived = parsed
		}
	}

	opts := domain.DialogListOptions{
		ScenarioID:      strings.TrimSpace(ctx.Query("scenarioId")),
		Status:          strings.TrimSpace(ctx.Query("status")),
		IncludeArchived: includeArchived,
		Limit:           limit,
		Offset:          offset,
	}
	dialogs, err := h.service.ListDialogs(ctx, ctx.GetString(middleware.UserContextKey), opts)
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "LIST_FAILED", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{
		"items": dialogs,
		"meta": gin.H{
			"limit":  limit,
			"offset": offset,
		},
	})
}

// ArchiveSession 归档已完成的会话。
func (h *SessionHandler) ArchiveSession(ctx *gin.Context) {
	h.setArchived(ctx, true)
}

// RestoreSession 恢复已归档的会话。
func (h *SessionHandler) RestoreSession(ctx *gin.Context) {
	h.setArchived(ctx, false)
}

func (h *SessionHandler) setArchived(ctx *gin.Context, archived bool) {
	dialogID := ctx.Param("id")
	if err := h.service.SetArchived(ctx, ctx.GetString(middleware.UserContextKey), dialogID, archived); err != nil {
		h.handleError(ctx, err)
		return
	}
	httpx.RespondOK(ctx, gin.H{"dialog_id": dialogID, "is_archived": archived})
}

func (h *SessionHandler) handleError(ctx *gin.Context, err error) {
	switch err {
	case dialogsvc.ErrEmptyMessage:
		httpx.RespondError(ctx, http.StatusBadRequest, "EMPTY_MESSAGE", err.Error(), nil)
	case dialogsvc.ErrScenarioNotFound:
		httpx.RespondError(ctx, http.StatusNotFound, "SCENARIO_NOT_FOUND", err.Error(), nil)
	case dialogsvc.ErrScenarioInactive:
		httpx.RespondError(ctx, http.StatusUnprocessableEntity, "SCENARIO_INACTIVE", err.Error(), nil)
	case dialogsvc.ErrDialogNotFound:
		httpx.RespondError(ctx, http.StatusNotFound, "DIALOG_NOT_FOUND", err.Error(), nil)
	case dialogsvc.ErrDialogCompleted:
		httpx.RespondError(ctx, http.StatusConflict, "DIALOG_COMPLETED", err.Error(), nil)
	case dialogsvc.ErrDialogNotCompleted:
		httpx.RespondError(ctx, http.StatusConflict, "DIALOG_NOT_COMPLETED", err.Error(), nil)
	default:
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
	}
}
