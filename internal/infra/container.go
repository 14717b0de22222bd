package infra

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/config"
	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/infra/bootstrap"
	"github.com/zacharykka/dialog-trainer/internal/infra/cache"
	"github.com/zacharykka/dialog-trainer/internal/infra/database"
	"github.com/zacharykka/dialog-trainer/internal/infra/repository"
	"github.com/zacharykka/dialog-trainer/internal/llm"
	"github.com/zacharykka/dialog-trainer/internal/middleware"
	"github.com/zacharykka/dialog-trainer/internal/service/achievement"
	authsvc "github.com/zacharykka/dialog-trainer/internal/service/auth"
	dialogsvc "github.com/zacharykka/dialog-trainer/internal/service/dialog"
	"github.com/zacharykka/dialog-trainer/internal/service/persona"
	"github.com/zacharykka/dialog-trainer/internal/service/prompting"
)

// Container 持有应用的全部依赖：基础资源与装配完成的服务，负责集中关闭。
// Redis 可选：未配置地址时模板绑定落到内存实现，限流使用内存存储。
type Container struct {
	DB       *sql.DB
	Redis    *redis.Client
	Repos    *domain.Repositories
	Bindings cache.TemplateBindings

	LLM       *llm.GigaChat
	Auth      *authsvc.Service
	Dialogs   *dialogsvc.Service
	Templates *prompting.Manager
	Evaluator *achievement.Evaluator

	// MessageLimiter 为逐轮消息接口的限流中间件；限流关闭时为 nil。
	MessageLimiter gin.HandlerFunc
}

// Initialize 构建依赖图并返回关闭函数。
func Initialize(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, func(context.Context) error, error) {
	container := &Container{}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	container.DB = db

	dialect := database.NewDialect(cfg.Database.Driver)
	container.Repos = repository.NewSQLRepositories(db, dialect)

	if cfg.Redis.Addr != "" {
		redisClient, err := cache.New(ctx, cfg.Redis, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		container.Redis = redisClient
		container.Bindings = cache.NewRedisBindings(redisClient)
	} else {
		logger.Info("redis 未配置，模板绑定使用内存存储")
		container.Bindings = cache.NewMemoryBindings()
	}

	if err := bootstrap.EnsureDefaultAdmin(ctx, container.Repos, cfg.Bootstrap, logger); err != nil {
		_ = container.close()
		return nil, nil, err
	}

	container.LLM = llm.NewGigaChat(cfg.LLM, logger)
	container.Auth = authsvc.NewService(container.Repos, cfg.Auth)
	container.Templates = prompting.NewManager(container.Repos.PromptTemplates, container.Bindings)
	container.Evaluator = achievement.NewEvaluator(container.Repos, logger)

	assembler := prompting.NewAssembler(
		container.Repos.PromptTemplates,
		container.Bindings,
		cfg.Simulation.AnalysisLanguage,
		logger,
	)
	moderator := persona.NewModerator(
		persona.NewFilter(persona.NewRules(cfg.Simulation)),
		container.LLM,
		cfg.Simulation,
		cfg.LLM.Temperature,
		logger,
	)
	container.Dialogs = dialogsvc.NewService(
		container.Repos,
		assembler,
		moderator,
		container.LLM,
		container.Evaluator,
		cfg.Simulation,
		logger,
	)

	rateLimiter, err := buildMessageLimiter(cfg, container.Redis)
	if err != nil {
		_ = container.close()
		return nil, nil, err
	}
	if rateLimiter != nil {
		container.MessageLimiter = middleware.RateLimit(rateLimiter, middleware.KeyByUserOrIP())
	}

	cleanup := func(context.Context) error {
		return container.close()
	}
	return container, cleanup, nil
}

func (c *Container) close() error {
	var errs error
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// buildMessageLimiter 按配置构建逐轮消息限流器；速率为 0 时关闭限流。
func buildMessageLimiter(cfg *config.Config, redisClient *redis.Client) (*limiter.Limiter, error) {
	perMin := cfg.Simulation.PostMessagePerMin
	if perMin <= 0 {
		return nil, nil
	}

	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMin)}
	if redisClient != nil {
		store, err := redisstore.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "ratelimit:messages",
		})
		if err != nil {
			return nil, err
		}
		return limiter.New(store, rate), nil
	}
	return limiter.New(memorystore.NewStore(), rate), nil
}
