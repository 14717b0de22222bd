package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zacharykka/dialog-trainer/internal/middleware"
	"github.com/zacharykka/dialog-trainer/internal/service/achievement"
	dialogsvc "github.com/zacharykka/dialog-trainer/internal/service/dialog"
	"github.com/zacharykka/dialog-trainer/pkg/httpx"
)

// ProfileHandler 返回当前用户的统计、进度与成就视图。
type ProfileHandler struct {
	dialogs   *dialogsvc.Service
	evaluator *achievement.Evaluator
}

// NewProfileHandler 创建 ProfileHandler。
func NewProfileHandler(dialogs *dialogsvc.Service, evaluator *achievement.Evaluator) *ProfileHandler {
	return &ProfileHandler{dialogs: dialogs, evaluator: evaluator}
}

// RegisterRoutes 注册个人数据相关路由。
func (h *ProfileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/statistics", h.GetStatistics)
	rg.GET("/progress", h.GetProgress)
	rg.GET("/achievements", h.GetAchievements)
}

// GetStatistics 返回用户训练统计。
func (h *ProfileHandler) GetStatistics(ctx *gin.Context) {
	stats, err := h.dialogs.Statistics(ctx, ctx.GetString(middleware.UserContextKey))
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"statistics": stats})
}

// GetProgress 返回用户的剧本进度列表。
func (h *ProfileHandler) GetProgress(ctx *gin.Context) {
	progress, err := h.dialogs.Progress(ctx, ctx.GetString(middleware.UserContextKey))
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"items": progress})
}

// GetAchievements 返回全部成就及解锁进度。
func (h *ProfileHandler) GetAchievements(ctx *gin.Context) {
	items, err := h.evaluator.Progress(ctx, ctx.GetString(middleware.UserContextKey))
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"items": items})
}
