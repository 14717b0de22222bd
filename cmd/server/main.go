package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"github.com/zacharykka/dialog-trainer/internal/app"
	"github.com/zacharykka/dialog-trainer/internal/config"
	"github.com/zacharykka/dialog-trainer/internal/infra"
	"github.com/zacharykka/dialog-trainer/internal/middleware"
	httpserver "github.com/zacharykka/dialog-trainer/internal/server/http"
	"github.com/zacharykka/dialog-trainer/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigDir, opts.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, cleanup, err := infra.Initialize(ctx, cfg, log)
	if err != nil {
		log.Fatal("初始化依赖失败", zap.Error(err))
	}
	defer func() {
		if err := cleanup(context.Background()); err != nil {
			log.Error("关闭依赖失败", zap.Error(err))
		}
	}()

	engine := httpserver.NewEngine(cfg, log, httpserver.RouterOptions{
		Middlewares: []gin.HandlerFunc{
			middleware.RequestLogger(log),
		},
		HealthDeps: &httpserver.HealthDependencies{
			DB:    container.DB,
			Redis: container.Redis,
			LLM:   container.LLM,
		},
		MessageLimiter:  container.MessageLimiter,
		AuthHandler:     httpserver.NewAuthHandler(container.Auth),
		SessionHandler:  httpserver.NewSessionHandler(container.Dialogs),
		ScenarioHandler: httpserver.NewScenarioHandler(container.Dialogs),
		TemplateHandler: httpserver.NewTemplateHandler(container.Templates),
		ProfileHandler:  httpserver.NewProfileHandler(container.Dialogs, container.Evaluator),
	})

	application := app.New(cfg, log, engine)

	if err := application.Run(ctx); err != nil {
		log.Fatal("服务运行异常", zap.Error(err))
	}
}

// options 控制命令行参数。
type options struct {
	ConfigDir string
	Env       string
}

func parseFlags() options {
	var opts options
	pflag.StringVar(&opts.ConfigDir, "config-dir", "./config", "配置文件目录")
	pflag.StringVar(&opts.Env, "env", "", "强制指定运行环境，覆盖 DIALOG_TRAINER_ENV")
	pflag.Parse()
	return opts
}
