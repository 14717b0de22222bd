package http

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/zacharykka/dialog-trainer/internal/config"
	"github.com/zacharykka/dialog-trainer/internal/infra/cache"
	"github.com/zacharykka/dialog-trainer/internal/infra/database"
	"github.com/zacharykka/dialog-trainer/internal/middleware"
	"go.uber.org/zap"
)

// TokenStatus 暴露 LLM 接入令牌的状态，用于健康检查。
type TokenStatus interface {
	TokenValid() bool
}

// HealthDependencies 汇总健康检查所需的依赖。
type HealthDependencies struct {
	DB    *sql.DB
	Redis *redis.Client
	LLM   TokenStatus
}

// RouterOptions 用于自定义路由行为，例如注入中间件。
type RouterOptions struct {
	Middlewares     []gin.HandlerFunc
	HealthHandler   gin.HandlerFunc
	HealthDeps      *HealthDependencies
	MessageLimiter  gin.HandlerFunc
	AuthHandler     *AuthHandler
	SessionHandler  *SessionHandler
	ScenarioHandler *ScenarioHandler
	TemplateHandler *TemplateHandler
	ProfileHandler  *ProfileHandler
}

// NewEngine 根据环境配置初始化 Gin 引擎，并注册基础路由。
func NewEngine(cfg *config.Config, logger *zap.Logger, opts RouterOptions) *gin.Engine {
	ginMode := gin.DebugMode
	if cfg.App.Env == "production" {
		ginMode = gin.ReleaseMode
	}
	gin.SetMode(ginMode)

	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.SecurityHeaders(cfg.Server.SecurityHeaders))
	engine.Use(cors.New(buildCORSConfig(cfg.Server)))
	engine.Use(middleware.LimitRequestBody(cfg.Server.MaxRequestBody))

	for _, mw := range opts.Middlewares {
		if mw != nil {
			engine.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler(cfg, opts.HealthDeps)
	}

	engine.GET("/healthz", healthHandler)

	api := engine.Group("/api/v1")
	if opts.AuthHandler != nil {
		authGroup := api.Group("/auth")
		opts.AuthHandler.RegisterRoutes(authGroup)
	}

	authGuard := middleware.AuthGuard(cfg.Auth.AccessTokenSecret)

	if opts.SessionHandler != nil {
		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(authGuard)
		if opts.MessageLimiter != nil {
			// 逐轮消息是唯一触发模型调用的高频写入口，单独限流
			sessionGroup.POST("/:id/messages", opts.MessageLimiter, opts.SessionHandler.PostMessage)
			sessionGroup.POST("", opts.SessionHandler.StartSession)
			sessionGroup.POST("/", opts.SessionHandler.StartSession)
			sessionGroup.GET("", opts.SessionHandler.ListSessions)
			sessionGroup.GET("/", opts.SessionHandler.ListSessions)
			sessionGroup.GET("/:id", opts.SessionHandler.GetHistory)
			sessionGroup.POST("/:id/finish", opts.SessionHandler.FinishSession)
			sessionGroup.POST("/:id/archive", opts.SessionHandler.ArchiveSession)
			sessionGroup.POST("/:id/restore", opts.SessionHandler.RestoreSession)
		} else {
			opts.SessionHandler.RegisterRoutes(sessionGroup)
		}
	}

	if opts.ScenarioHandler != nil {
		scenarioGroup := api.Group("/scenarios")
		scenarioGroup.Use(authGuard)
		opts.ScenarioHandler.RegisterRoutes(scenarioGroup)
	}

	if opts.TemplateHandler != nil {
		templateGroup := api.Group("/prompt-templates")
		templateGroup.Use(authGuard, middleware.RequireRoles(middleware.RoleAdmin))
		opts.TemplateHandler.RegisterRoutes(templateGroup)
	}

	if opts.ProfileHandler != nil {
		profileGroup := api.Group("/me")
		profileGroup.Use(authGuard)
		opts.ProfileHandler.RegisterRoutes(profileGroup)
	}

	logger.Info("http router ready", zap.String("env", cfg.App.Env))

	return engine
}

func defaultHealthHandler(cfg *config.Config, deps *HealthDependencies) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		httpStatus := http.StatusOK
		result := gin.H{
			"status":  "ok",
			"service": cfg.App.Name,
			"env":     cfg.App.Env,
		}

		if deps != nil {
			dependencies := gin.H{}
			if deps.DB != nil {
				if err := database.Health(ctx.Request.Context(), deps.DB); err != nil {
					httpStatus = http.StatusServiceUnavailable
					result["status"] = "degraded"
					dependencies["database"] = gin.H{
						"status": "error",
						"error":  err.Error(),
					}
				} else {
					dependencies["database"] = gin.H{"status": "ok"}
				}
			} else {
				dependencies["database"] = gin.H{"status": "missing"}
			}

			if deps.Redis != nil {
				if err := cache.Health(ctx.Request.Context(), deps.Redis); err != nil {
					httpStatus = http.StatusServiceUnavailable
					result["status"] = "degraded"
					dependencies["redis"] = gin.H{
						"status": "error",
						"error":  err.Error(),
					}
				} else {
					dependencies["redis"] = gin.H{"status": "ok"}
				}
			} else {
				dependencies["redis"] = gin.H{"status": "missing"}
			}

			// 令牌失效不降级服务：客户端会在下一次请求时重新换取
			if deps.LLM != nil {
				if deps.LLM.TokenValid() {
					dependencies["llm"] = gin.H{"status": "ok"}
				} else {
					dependencies["llm"] = gin.H{"status": "token_expired"}
				}
			} else {
				dependencies["llm"] = gin.H{"status": "missing"}
			}

			result["dependencies"] = dependencies
		}

		ctx.JSON(httpStatus, result)
	}
}

// buildCORSConfig 根据配置构建 CORS 策略：支持精确来源、`*` 与子域通配模式。
func buildCORSConfig(cfg config.ServerConfig) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = cfg.CORS.AllowCredentials
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.MaxAge = 12 * time.Hour

	var exact []string
	var patterns []string
	for _, origin := range cfg.CORS.AllowOrigins {
		origin = strings.TrimSpace(origin)
		switch {
		case origin == "":
		case origin == "*":
			corsCfg.AllowAllOrigins = true
		case strings.Contains(origin, "*"):
			patterns = append(patterns, origin)
		default:
			exact = append(exact, origin)
		}
	}

	if corsCfg.AllowAllOrigins {
		return corsCfg
	}

	corsCfg.AllowOrigins = exact
	if len(exact) == 0 && len(patterns) == 0 {
		// 未配置来源时拒绝所有跨域请求，同源调用不受影响
		corsCfg.AllowOriginFunc = func(string) bool { return false }
		return corsCfg
	}
	if len(patterns) > 0 {
		corsCfg.AllowOriginFunc = func(origin string) bool {
			for _, allowed := range exact {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, origin) {
					return true
				}
			}
			return false
		}
	}
	return corsCfg
}

// matchOriginPattern 支持单个 `*` 通配符的来源匹配，如 https://*.example.com。
func matchOriginPattern(pattern, origin string) bool {
	idx := strings.Index(pattern, "*")
	if idx < 0 {
		return strings.EqualFold(pattern, origin)
	}
	prefix := strings.ToLower(pattern[:idx])
	suffix := strings.ToLower(pattern[idx+1:])
	lower := strings.ToLower(origin)
	if len(lower) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(lower, prefix) && strings.HasSuffix(lower, suffix)
}

func parsePagination(limitStr, offsetStr string) (int, int) {
	limit := 50
	offset := 0

	if limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			limit = v
		}
	}
	if offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
