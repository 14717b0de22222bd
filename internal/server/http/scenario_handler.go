package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zacharykka/dialog-trainer/internal/domain"
	dialogsvc "github.com/zacharykka/dialog-trainer/internal/service/dialog"
	"github.com/zacharykka/dialog-trainer/pkg/httpx"
)

// ScenarioHandler 处理剧本目录的只读请求。
type ScenarioHandler struct {
	service *dialogsvc.Service
}

// NewScenarioHandler 创建 ScenarioHandler。
func NewScenarioHandler(service *dialogsvc.Service) *ScenarioHandler {
	return &ScenarioHandler{service: service}
}

// RegisterRoutes 注册剧本相关路由。
func (h *ScenarioHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.ListScenarios)
	rg.GET("/", h.ListScenarios)
	rg.GET("/categories", h.ListCategories)
	rg.GET("/:id", h.GetScenario)
}

// ListScenarios 返回剧本列表，默认只含启用的剧本。
func (h *ScenarioHandler) ListScenarios(ctx *gin.Context) {
	limit, offset := parsePagination(ctx.Query("limit"), ctx.Query("offset"))

	activeOnly := true
	if value := strings.TrimSpace(ctx.Query("includeInactive")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil && parsed {
			activeOnly = false
		}
	}

	scenarios, err := h.service.ListScenarios(ctx, domain.ScenarioListOptions{
		Category:    strings.TrimSpace(ctx.Query("category")),
		Subcategory: strings.TrimSpace(ctx.Query("subcategory")),
		ActiveOnly:  activeOnly,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "LIST_FAILED", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{
		"items": scenarios,
		"meta": gin.H{
			"limit":  limit,
			"offset": offset,
		},
	})
}

// GetScenario 返回单个剧本。
func (h *ScenarioHandler) GetScenario(ctx *gin.Context) {
	scenario, err := h.service.GetScenario(ctx, ctx.Param("id"))
	if err != nil {
		if err == dialogsvc.ErrScenarioNotFound {
			httpx.RespondError(ctx, http.StatusNotFound, "SCENARIO_NOT_FOUND", err.Error(), nil)
			return
		}
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"scenario": scenario})
}

// ListCategories 返回剧本分类。
func (h *ScenarioHandler) ListCategories(ctx *gin.Context) {
	categories, err := h.service.ListCategories(ctx)
	if err != nil {
		httpx.RespondError(ctx, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}

	httpx.RespondOK(ctx, gin.H{"categories": categories})
}
