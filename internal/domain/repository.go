package domain

import (
	"context"
	"time"
)

// UserRepository 定义用户存取接口。
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, userID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
	AddPoints(ctx context.Context, userID string, points int) error
}

// ScenarioRepository 定义剧本读取接口。剧本由管理端维护，引擎只读。
type ScenarioRepository interface {
	GetByID(ctx context.Context, scenarioID string) (*Scenario, error)
	List(ctx context.Context, opts ScenarioListOptions) ([]*Scenario, error)
	ListCategories(ctx context.Context) ([]string, error)
}

// ScenarioListOptions 控制剧本列表查询行为。
type ScenarioListOptions struct {
	Category    string
	Subcategory string
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// PromptTemplateRepository 定义提示词模板存取接口。
type PromptTemplateRepository interface {
	Create(ctx context.Context, template *PromptTemplate) error
	GetByID(ctx context.Context, templateID string) (*PromptTemplate, error)
	List(ctx context.Context, limit, offset int) ([]*PromptTemplate, error)
}

// DialogRepository 定义对话会话存取接口。
type DialogRepository interface {
	Create(ctx context.Context, dialog *Dialog) error
	GetByID(ctx context.Context, dialogID string) (*Dialog, error)
	GetActive(ctx context.Context, userID, scenarioID string) (*Dialog, error)
	List(ctx context.Context, opts DialogListOptions) ([]*Dialog, error)
	// Complete 仅在 status 仍为 active 时生效，返回 ErrNotFound 表示会话已完成或不存在。
	// 该行级守卫是完成管线幂等性的唯一依据。
	Complete(ctx context.Context, dialogID string, completedAt time.Time, duration int64, analysis string) error
	SetAnalysis(ctx context.Context, dialogID string, analysis string, isSuccessful *bool) error
	SetArchived(ctx context.Context, dialogID string, archived bool) error
	CountCompletedScenarios(ctx context.Context, userID string) (int, error)
}

// DialogListOptions 控制会话列表查询行为。
type DialogListOptions struct {
	UserID          string
	ScenarioID      string
	Status          string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// MessageRepository 定义消息存取接口，消息只增不改。
type MessageRepository interface {
	Append(ctx context.Context, message *Message) error
	ListByDialog(ctx context.Context, dialogID string) ([]*Message, error)
	ListRecent(ctx context.Context, dialogID string, limit int) ([]*Message, error)
}

// StatisticsRepository 定义用户统计存取接口。
type StatisticsRepository interface {
	GetByUser(ctx context.Context, userID string) (*UserStatistics, error)
	Upsert(ctx context.Context, stats *UserStatistics) error
}

// ProgressRepository 定义剧本进度存取接口。
type ProgressRepository interface {
	GetByUserScenario(ctx context.Context, userID, scenarioID string) (*UserProgress, error)
	ListByUser(ctx context.Context, userID string) ([]*UserProgress, error)
	Upsert(ctx context.Context, progress *UserProgress) error
}

// AchievementRepository 定义成就目录与发放记录的存取接口。
type AchievementRepository interface {
	ListAll(ctx context.Context) ([]*Achievement, error)
	ListGranted(ctx context.Context, userID string) ([]*UserAchievement, error)
	// Grant 发放成就，返回是否真正新增记录；重复发放返回 false 且不报错。
	Grant(ctx context.Context, grant *UserAchievement) (bool, error)
}

// Repositories 聚合全部仓储接口，便于依赖注入。
type Repositories struct {
	Users           UserRepository
	Scenarios       ScenarioRepository
	PromptTemplates PromptTemplateRepository
	Dialogs         DialogRepository
	Messages        MessageRepository
	Statistics      StatisticsRepository
	Progress        ProgressRepository
	Achievements    AchievementRepository
}
