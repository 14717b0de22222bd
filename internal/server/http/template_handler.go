package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zacharykka/dialog-trainer/internal/middleware"
	"github.com/zacharykka/dialog-trainer/internal/service/prompting"
	"github.com/zacharykka/dialog-trainer/pkg/httpx"
)

// TemplateHandler 处理提示词模板与绑定关系的管理请求。
type TemplateHandler struct {
	manager *prompting.Manager
}

// NewTemplateHandler 创建 TemplateHandler。
func NewTemplateHandler(manager *prompting.Manager) *TemplateHandler {
	return &TemplateHandler{manager: manager}
}

// RegisterRoutes 注册模板管理路由。
func (h *TemplateHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.CreateTemplate)
	rg.POST("/", h.CreateTemplate)
	rg.GET("", h.ListTemplates)
	rg.GET("/", h.ListTemplates)
	rg.GET("/active", h.GetActiveTemplate)
	rg.PUT("/active", h.SetActiveTemplate)
	rg.DELETE("/active", h.ClearActiveTemplate)
	rg.GET("/bindings", h.ListBindings)
	rg.PUT("/bindings/:scenarioId", h.BindScenario)
	rg.DELETE("/bindings/:scenarioId", h.UnbindScenario)
	rg.GET("/:id", h.GetTemplate)
}

type createTemplateRequest struct {
	Name           string  `json:"name" binding:"required,min=1,max=128"`
	Description    *string `json:"description"`
	ContentStart   string  `json:"content_start" binding:"required,min=1"`
	ContentGoOn    string  `json:"content_continue"`
	AnalysisPrompt string  `json:"analysis_prompt"`
}

type activateTemplateRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

type bindScenarioRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
}

// CreateTemplate 创建提示词模板。
func (h *TemplateHandler) CreateTemplate(ctx *gin.Context) {
	var req createTemplateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		httpx.RespondError(ctx, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
		return
	}

	createdBy := ctx.GetString(middleware.UserContextKey)
	template, err := h.manager.CreateTemplate(ctx, prompting.CreateTemplateInput{
		Name:           req.Name,
		Description:    req.Description,
		ContentStart:   req.ContentStart,
		ContentGoOn:    req.ContentGoOn,
		AnalysisPrompt: req.AnalysisPrompt,
		CreatedBy:      &createdBy,
	})
	if err != nil {
		h.handleError(ctx, err)
		return
	}

	httpx.RespondOK(ctx, gin.H{"template": template})
}

// ListTemplates 返回模板列表。
func (h *TemplateHandler) ListTemplates(ctx *gin.Context) {
	limit, offset := parsePagination(ctx.Query("limit"), ctx.Query("offset"))

	templates, err := h.manager.ListTemplates(ctx, limit, offset)
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "LIST_FAILED", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{
		"items": templates,
		"meta": gin.H{
			"limit":  limit,
			"offset": offset,
		},
	})
}

// GetTemplate 返回单个模板。
func (h *TemplateHandler) GetTemplate(ctx *gin.Context) {
	template, err := h.manager.GetTemplate(ctx, ctx.Param("id"))
	if err != nil {
		h.handleError(ctx, err)
		return
	}

	httpx.RespondOK(ctx, gin.H{"template": template})
}

// GetActiveTemplate 返回全局激活模板 ID。
func (h *TemplateHandler) GetActiveTemplate(ctx *gin.Context) {
	templateID, err := h.manager.ActiveTemplateID(ctx)
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"template_id": templateID})
}

// SetActiveTemplate 设定全局激活模板。
func (h *TemplateHandler) SetActiveTemplate(ctx *gin.Context) {
	var req activateTemplateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		httpx.RespondError(ctx, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
		return
	}

	if err := h.manager.Activate(ctx, req.TemplateID); err != nil {
		h.handleError(ctx, err)
		return
	}

	httpx.RespondOK(ctx, gin.H{"template_id": req.TemplateID})
}

// ClearActiveTemplate 清除全局激活模板。
func (h *TemplateHandler) ClearActiveTemplate(ctx *gin.Context) {
	if err := h.manager.Deactivate(ctx); err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"template_id": ""})
}

// ListBindings 返回剧本与模板的绑定关系。
func (h *TemplateHandler) ListBindings(ctx *gin.Context) {
	bindings, err := h.manager.Bindings(ctx)
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"bindings": bindings})
}

// BindScenario 将剧本绑定到模板。
func (h *TemplateHandler) BindScenario(ctx *gin.Context) {
	var req bindScenarioRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		httpx.RespondError(ctx, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
		return
	}

	scenarioID := ctx.Param("scenarioId")
	if err := h.manager.BindScenario(ctx, scenarioID, req.TemplateID); err != nil {
		h.handleError(ctx, err)
		return
	}

	httpx.RespondOK(ctx, gin.H{"scenario_id": scenarioID, "template_id": req.TemplateID})
}

// UnbindScenario 解除剧本绑定。
func (h *TemplateHandler) UnbindScenario(ctx *gin.Context) {
	scenarioID := ctx.Param("scenarioId")
	if err := h.manager.UnbindScenario(ctx, scenarioID); err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"scenario_id": scenarioID})
}

func (h *TemplateHandler) handleError(ctx *gin.Context, err error) {
	switch err {
	case prompting.ErrNameRequired, prompting.ErrContentRequired:
		httpx.RespondError(ctx, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case prompting.ErrTemplateNotFound:
		httpx.RespondError(ctx, http.StatusNotFound, "TEMPLATE_NOT_FOUND", err.Error(), nil)
	default:
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
	}
}
