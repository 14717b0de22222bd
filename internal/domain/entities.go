package domain

import (
	"encoding/json"
	"time"
)

// 对话状态取值。
const (
	DialogStatusActive    = "active"
	DialogStatusCompleted = "completed"
)

// 消息发送方取值。system 消息承载分析结果，不参与模型上下文。
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// 进度状态取值。
const (
	ProgressNotStarted = "not_started"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
)

// User 代表训练平台的操作主体。
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	HashedPassword string     `json:"-"`
	Role           string     `json:"role"`
	Status         string     `json:"status"`
	Points         int        `json:"points"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Scenario 描述一次角色扮演训练的剧本：冲突情境、双方角色与 AI 的性格设定。
// 引擎只读；由管理后台维护。
type Scenario struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Subcategory      string    `json:"subcategory"`
	UserRole         string    `json:"user_role"`
	AIRole           string    `json:"ai_role"`
	AIBehavior       string    `json:"ai_behavior"`
	Mood             string    `json:"mood"`
	Language         string    `json:"language"`
	PromptOverride   *string   `json:"prompt_override,omitempty"`
	PromptTemplateID *string   `json:"prompt_template_id,omitempty"`
	FallbackLine     *string   `json:"fallback_line,omitempty"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// PromptTemplate 保存 start/continue 两段系统提示词模板与分析提示词模板。
// 模板体内使用 {scenario_description} 等占位符，由 Prompt Assembler 替换。
type PromptTemplate struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	ContentStart   string    `json:"content_start"`
	ContentGoOn    string    `json:"content_continue"`
	AnalysisPrompt string    `json:"analysis_prompt"`
	CreatedBy      *string   `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Dialog 是一次模拟会话的工作单元。
// 同一 (user, scenario) 至多存在一条 active 记录；完成后仅 is_archived 可变。
type Dialog struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ScenarioID   string     `json:"scenario_id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Duration     *int64     `json:"duration,omitempty"`
	Analysis     *string    `json:"analysis,omitempty"`
	IsSuccessful *bool      `json:"is_successful,omitempty"`
	IsArchived   bool       `json:"is_archived"`
}

// Message 是对话中一条按时间严格递增排序的追加记录。
type Message struct {
	ID        string    `json:"id"`
	DialogID  string    `json:"dialog_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserStatistics 是按用户聚合的训练统计，仅由完成管线更新，首次完成时惰性创建。
type UserStatistics struct {
	UserID             string  `json:"user_id"`
	TotalDialogs       int     `json:"total_dialogs"`
	SuccessfulDialogs  int     `json:"successful_dialogs"`
	CompletedScenarios int     `json:"completed_scenarios"`
	TotalTimeSpent     int64   `json:"total_time_spent"`
	AverageScore       float64 `json:"average_score"`
}

// Field 按成就条件的字段名取统计值，未知字段返回 false。
func (s *UserStatistics) Field(name string) (float64, bool) {
	switch name {
	case "total_dialogs":
		return float64(s.TotalDialogs), true
	case "successful_dialogs":
		return float64(s.SuccessfulDialogs), true
	case "completed_scenarios":
		return float64(s.CompletedScenarios), true
	case "total_time_spent":
		return float64(s.TotalTimeSpent), true
	case "average_score":
		return s.AverageScore, true
	default:
		return 0, false
	}
}

// UserProgress 记录用户在单个剧本上的进度。
type UserProgress struct {
	UserID             string    `json:"user_id"`
	ScenarioID         string    `json:"scenario_id"`
	Status             string    `json:"status"`
	ProgressPercentage int       `json:"progress_percentage"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AchievementRequirement 是成就的解锁条件：与 UserStatistics 字段比较的阈值；
// type 为 none 时无条件发放。
type AchievementRequirement struct {
	Type  string  `json:"type"`
	Value float64 `json:"value,omitempty"`
}

// Achievement 是成就目录条目，引擎只评估、不创建。
type Achievement struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	Icon         *string         `json:"icon,omitempty"`
	Points       int             `json:"points"`
	Requirements json.RawMessage `json:"requirements,omitempty"`
}

// Requirement 解析条件 JSON；空或非法内容按 none 处理。
func (a *Achievement) Requirement() AchievementRequirement {
	req := AchievementRequirement{Type: "none"}
	if len(a.Requirements) == 0 {
		return req
	}
	if err := json.Unmarshal(a.Requirements, &req); err != nil {
		return AchievementRequirement{Type: "none"}
	}
	if req.Type == "" {
		req.Type = "none"
	}
	return req
}

// UserAchievement 是成就发放记录。
type UserAchievement struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	EarnedAt      time.Time `json:"earned_at"`
}
