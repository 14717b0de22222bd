package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultEnv        = "development"
	envKey            = "DIALOG_TRAINER_ENV"
	envPrefix         = "DIALOG_TRAINER"
	defaultConfigName = "default"
	configType        = "yaml"
)

// Config 聚合应用所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Bootstrap  BootstrapConfig  `mapstructure:"bootstrap"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 描述应用级别的元信息。
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// ServerConfig 负责 HTTP 服务相关配置。
type ServerConfig struct {
	Host            string                `mapstructure:"host"`
	Port            int                   `mapstructure:"port"`
	ReadTimeout     time.Duration         `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration         `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdownTimeout"`
	MaxRequestBody  int64                 `mapstructure:"maxRequestBody"`
	CORS            CORSConfig            `mapstructure:"cors"`
	SecurityHeaders SecurityHeadersConfig `mapstructure:"securityHeaders"`
}

// CORSConfig 控制跨域访问白名单及相关选项。
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allowOrigins"`
	AllowCredentials bool     `mapstructure:"allowCredentials"`
}

// SecurityHeadersConfig 控制通用安全响应头的行为。
type SecurityHeadersConfig struct {
	FrameOptions              string `mapstructure:"frameOptions"`
	ContentTypeNosniff        bool   `mapstructure:"contentTypeNosniff"`
	ReferrerPolicy            string `mapstructure:"referrerPolicy"`
	XSSProtection             string `mapstructure:"xssProtection"`
	ContentSecurityPolicy     string `mapstructure:"contentSecurityPolicy"`
	CrossOriginOpenerPolicy   string `mapstructure:"crossOriginOpenerPolicy"`
	CrossOriginEmbedderPolicy string `mapstructure:"crossOriginEmbedderPolicy"`
	CrossOriginResourcePolicy string `mapstructure:"crossOriginResourcePolicy"`
}

// DatabaseConfig 定义数据库连接选项，兼容 SQLite 与 PostgreSQL。
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpen         int           `mapstructure:"maxOpen"`
	MaxIdle         int           `mapstructure:"maxIdle"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

// RedisConfig 描述 Redis 客户端所需的连接参数。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
}

// AuthConfig 管理 JWT 认证参数。
type AuthConfig struct {
	AccessTokenSecret  string        `mapstructure:"accessTokenSecret"`
	RefreshTokenSecret string        `mapstructure:"refreshTokenSecret"`
	AccessTokenTTL     time.Duration `mapstructure:"accessTokenTTL"`
	RefreshTokenTTL    time.Duration `mapstructure:"refreshTokenTTL"`
}

// BootstrapConfig 控制启动时默认管理员的种子逻辑。
type BootstrapConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AdminEmail    string `mapstructure:"adminEmail"`
	AdminPassword string `mapstructure:"adminPassword"`
	AdminRole     string `mapstructure:"adminRole"`
}

// LLMConfig 定义对话补全服务商的接入参数。
// authURL 为 OAuth 换取 Bearer Token 的端点，baseURL 为 chat/completions 所在根路径。
type LLMConfig struct {
	AuthURL           string        `mapstructure:"authURL"`
	BaseURL           string        `mapstructure:"baseURL"`
	AuthKey           string        `mapstructure:"authKey"`
	Scope             string        `mapstructure:"scope"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"maxTokens"`
	TopP              float64       `mapstructure:"topP"`
	RequestTimeout    time.Duration `mapstructure:"requestTimeout"`
	TokenExpiryMargin time.Duration `mapstructure:"tokenExpiryMargin"`
	MaxRetries        int           `mapstructure:"maxRetries"`
	RetryBackoff      time.Duration `mapstructure:"retryBackoff"`
	InsecureSkipTLS   bool          `mapstructure:"insecureSkipTLS"`
}

// SimulationConfig 控制对话引擎的运行策略；词表为空时使用内置默认值。
type SimulationConfig struct {
	TerminationToken  string   `mapstructure:"terminationToken"`
	ContextWindow     int      `mapstructure:"contextWindow"`
	MaxRegenerations  int      `mapstructure:"maxRegenerations"`
	TemperatureStep   float64  `mapstructure:"temperatureStep"`
	MaxTemperature    float64  `mapstructure:"maxTemperature"`
	RoleBreakPhrases  []string `mapstructure:"roleBreakPhrases"`
	ForbiddenKeywords []string `mapstructure:"forbiddenKeywords"`
	SuccessPhrases    []string `mapstructure:"successPhrases"`
	DefaultFallback   string   `mapstructure:"defaultFallback"`
	MinResponseLength int      `mapstructure:"minResponseLength"`
	AnalysisLanguage  string   `mapstructure:"analysisLanguage"`
	PostMessagePerMin int      `mapstructure:"postMessagePerMin"`
}

// LoggingConfig 控制日志输出级别等行为。
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load 从给定路径加载配置；若 env 为空会自动读取环境变量或回退到默认值。
func Load(configDir string, env string) (*Config, error) {
	chosenEnv := determineEnv(env)

	v := viper.New()
	v.SetConfigType(configType)
	v.SetConfigName(defaultConfigName)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read base config: %w", err)
	}

	if chosenEnv != defaultConfigName {
		envConfig := viper.New()
		envConfig.SetConfigType(configType)
		envConfig.SetConfigName(chosenEnv)
		envConfig.AddConfigPath(configDir)

		if err := envConfig.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(envConfig.AllSettings()); err != nil {
				return nil, fmt.Errorf("merge %s config: %w", chosenEnv, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg, chosenEnv)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// determineEnv 统一处理环境变量回退逻辑。
func determineEnv(env string) string {
	if env != "" {
		return env
	}
	if fromEnv := os.Getenv(envKey); fromEnv != "" {
		return fromEnv
	}
	return defaultEnv
}

// applyDefaults 补齐缺失字段，避免配置不完整导致的崩溃。
func applyDefaults(cfg *Config, env string) {
	if cfg.App.Name == "" {
		cfg.App.Name = "dialog-trainer"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = env
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxRequestBody <= 0 {
		cfg.Server.MaxRequestBody = 1 * 1024 * 1024
	}
	if len(cfg.Server.CORS.AllowOrigins) == 0 {
		cfg.Server.CORS.AllowOrigins = []string{"*"}
	}
	if cfg.Server.SecurityHeaders.FrameOptions == "" {
		cfg.Server.SecurityHeaders.FrameOptions = "DENY"
	}
	if cfg.Server.SecurityHeaders.ContentTypeNosniff == false {
		cfg.Server.SecurityHeaders.ContentTypeNosniff = true
	}
	if cfg.Server.SecurityHeaders.ReferrerPolicy == "" {
		cfg.Server.SecurityHeaders.ReferrerPolicy = "no-referrer"
	}
	if cfg.Server.SecurityHeaders.XSSProtection == "" {
		cfg.Server.SecurityHeaders.XSSProtection = "0"
	}
	if cfg.Server.SecurityHeaders.CrossOriginOpenerPolicy == "" {
		cfg.Server.SecurityHeaders.CrossOriginOpenerPolicy = "same-origin"
	}
	if cfg.Server.SecurityHeaders.CrossOriginResourcePolicy == "" {
		cfg.Server.SecurityHeaders.CrossOriginResourcePolicy = "same-site"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.ToSlash("file:./data/dev.db?cache=shared&_fk=1")
	}
	if cfg.Database.MaxOpen == 0 {
		cfg.Database.MaxOpen = 10
	}
	if cfg.Database.MaxIdle == 0 {
		cfg.Database.MaxIdle = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.LLM.Scope == "" {
		cfg.LLM.Scope = "GIGACHAT_API_PERS"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "GigaChat"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.TopP == 0 {
		cfg.LLM.TopP = 0.9
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 30 * time.Second
	}
	if cfg.LLM.TokenExpiryMargin == 0 {
		cfg.LLM.TokenExpiryMargin = 5 * time.Minute
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBackoff == 0 {
		cfg.LLM.RetryBackoff = 2 * time.Second
	}
	if cfg.Simulation.TerminationToken == "" {
		cfg.Simulation.TerminationToken = "ЗАВЕРШИТЬ СИМУЛЯЦИЮ"
	}
	if cfg.Simulation.ContextWindow == 0 {
		cfg.Simulation.ContextWindow = 12
	}
	if cfg.Simulation.MaxRegenerations == 0 {
		cfg.Simulation.MaxRegenerations = 3
	}
	if cfg.Simulation.TemperatureStep == 0 {
		cfg.Simulation.TemperatureStep = 0.1
	}
	if cfg.Simulation.MaxTemperature == 0 {
		cfg.Simulation.MaxTemperature = 1.0
	}
	if cfg.Simulation.MinResponseLength == 0 {
		cfg.Simulation.MinResponseLength = 3
	}
	if cfg.Simulation.AnalysisLanguage == "" {
		cfg.Simulation.AnalysisLanguage = "ru"
	}
	if cfg.Simulation.PostMessagePerMin == 0 {
		cfg.Simulation.PostMessagePerMin = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg *Config) error {
	if err := validateSecret("auth.accessTokenSecret", cfg.Auth.AccessTokenSecret); err != nil {
		return err
	}
	if err := validateSecret("auth.refreshTokenSecret", cfg.Auth.RefreshTokenSecret); err != nil {
		return err
	}
	if err := validateCORSConfig(cfg.Server.CORS, cfg.App.Env); err != nil {
		return err
	}
	if err := validateSecurityHeaders(cfg.Server.SecurityHeaders); err != nil {
		return err
	}
	if err := validateSimulation(cfg.Simulation); err != nil {
		return err
	}
	if cfg.App.Env == "production" && strings.TrimSpace(cfg.LLM.AuthKey) == "" {
		return fmt.Errorf("config llm.authKey is required in production")
	}
	return nil
}

func validateSecret(field, secret string) error {
	clean := strings.TrimSpace(secret)
	if len(clean) < 32 {
		return fmt.Errorf("config %s must be at least 32 characters", field)
	}
	if strings.Contains(strings.ToLower(clean), "change-me") {
		return fmt.Errorf("config %s must not use default placeholder", field)
	}
	return nil
}

func validateCORSConfig(corsCfg CORSConfig, env string) error {
	for _, origin := range corsCfg.AllowOrigins {
		clean := strings.TrimSpace(origin)
		if clean == "" {
			return fmt.Errorf("config server.cors.allowOrigins must not contain empty entries")
		}
		if env == "production" && clean == "*" {
			return fmt.Errorf("config server.cors.allowOrigins must not use wildcard '*' in production")
		}
	}
	return nil
}

func validateSecurityHeaders(secCfg SecurityHeadersConfig) error {
	frame := strings.TrimSpace(strings.ToUpper(secCfg.FrameOptions))
	if frame != "" && frame != "DENY" && frame != "SAMEORIGIN" {
		return fmt.Errorf("config server.securityHeaders.frameOptions must be DENY or SAMEORIGIN when set")
	}
	return nil
}

func validateSimulation(simCfg SimulationConfig) error {
	if simCfg.ContextWindow < 2 {
		return fmt.Errorf("config simulation.contextWindow must be at least 2")
	}
	if simCfg.MaxRegenerations < 1 {
		return fmt.Errorf("config simulation.maxRegenerations must be at least 1")
	}
	if simCfg.MaxTemperature > 2.0 {
		return fmt.Errorf("config simulation.maxTemperature must not exceed 2.0")
	}
	return nil
}

// Addr 返回 HTTP 服务监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
