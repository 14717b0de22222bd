package dialog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/config"
	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/llm"
	"github.com/zacharykka/dialog-trainer/internal/service/achievement"
	"github.com/zacharykka/dialog-trainer/internal/service/persona"
	"github.com/zacharykka/dialog-trainer/internal/service/prompting"
)

// 降级回复按失败原因区分：配额耗尽与模型不可用各用一条固定文案，
// 角色一致性重试耗尽走剧本台词链，链尾是内置兜底。
const (
	quotaFallbackLine       = "К сожалению, лимит обращений к модели исчерпан. Пожалуйста, вернитесь к тренировке позже."
	unavailableFallbackLine = "Извините, связь прервалась. Дайте мне минуту, и мы продолжим разговор."
	builtinFallbackLine     = "Извините, мне нужно немного времени, чтобы собраться с мыслями. Продолжим разговор."
)

// Service 驱动模拟会话的状态机：开始、逐轮对话、终止口令识别与完成管线。
type Service struct {
	repos     *domain.Repositories
	assembler *prompting.Assembler
	moderator *persona.Moderator
	client    llm.Client
	evaluator *achievement.Evaluator
	sim       config.SimulationConfig
	logger    *zap.Logger
}

// NewService 创建会话服务。client 仅用于完成阶段的分析请求，
// 逐轮回复统一经过 moderator 的角色一致性兜底。
func NewService(
	repos *domain.Repositories,
	assembler *prompting.Assembler,
	moderator *persona.Moderator,
	client llm.Client,
	evaluator *achievement.Evaluator,
	sim config.SimulationConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		repos:     repos,
		assembler: assembler,
		moderator: moderator,
		client:    client,
		evaluator: evaluator,
		sim:       sim,
		logger:    logger,
	}
}

// StartSessionResult 是开始会话的返回值。Opening 在开场白生成失败且不可降级时为空。
type StartSessionResult struct {
	Dialog  *domain.Dialog  `json:"dialog"`
	Opening *domain.Message `json:"opening,omitempty"`
}

// StartSession 为用户在指定剧本上开启新会话。
// 同一 (user, scenario) 已有 active 会话时先将其强制完成（标记为被新会话取代），
// 再创建新会话；开场白尽力生成，失败降级到剧本台词且不阻塞会话创建。
func (s *Service) StartSession(ctx context.Context, userID, scenarioID string) (*StartSessionResult, error) {
	scenario, err := s.repos.Scenarios.GetByID(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrScenarioNotFound
		}
		return nil, err
	}
	if !scenario.IsActive {
		return nil, ErrScenarioInactive
	}

	if err := s.supersedeActive(ctx, userID, scenarioID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dialog := &domain.Dialog{
		ID:         uuid.NewString(),
		UserID:     userID,
		ScenarioID: scenarioID,
		Status:     domain.DialogStatusActive,
		StartedAt:  now,
	}
	if err := s.repos.Dialogs.Create(ctx, dialog); err != nil {
		return nil, err
	}

	result := &StartSessionResult{Dialog: dialog}
	if opening := s.openingLine(ctx, scenario, dialog); opening != nil {
		result.Opening = opening
	}
	return result, nil
}

// supersedeActive 强制完成同剧本的存量 active 会话。被取代的会话不计入统计与成就。
func (s *Service) supersedeActive(ctx context.Context, userID, scenarioID string) error {
	active, err := s.repos.Dialogs.GetActive(ctx, userID, scenarioID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	duration := int64(now.Sub(active.StartedAt).Seconds())
	err = s.repos.Dialogs.Complete(ctx, active.ID, now, duration, supersededAnalysis)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.logger.Info("存量会话已被新会话取代",
		zap.String("dialog_id", active.ID),
		zap.String("user_id", userID),
		zap.String("scenario_id", scenarioID),
	)
	return nil
}

func (s *Service) openingLine(ctx context.Context, scenario *domain.Scenario, dialog *domain.Dialog) *domain.Message {
	prompt := s.assembler.BuildPrompt(ctx, scenario, prompting.TurnStart)
	reply, err := s.moderator.Generate(ctx, scenario, llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleSystem, Content: prompt}},
	})
	if err != nil {
		line, ok := s.degradedReply(err, scenario)
		if !ok {
			s.logger.Warn("开场白生成失败", zap.String("dialog_id", dialog.ID), zap.Error(err))
			return nil
		}
		s.logger.Warn("开场白生成已降级", zap.String("dialog_id", dialog.ID), zap.Error(err))
		reply = line
	}

	message := &domain.Message{
		ID:        uuid.NewString(),
		DialogID:  dialog.ID,
		Sender:    domain.SenderAssistant,
		Text:      reply,
		Timestamp: time.Now().UTC(),
	}
	if err := s.repos.Messages.Append(ctx, message); err != nil {
		s.logger.Warn("开场白写入失败", zap.String("dialog_id", dialog.ID), zap.Error(err))
		return nil
	}
	return message
}

// PostMessageResult 是一轮对话的返回值。命中终止口令时 Completed 为 true，
// Reply 为空，完成结果见 Completion。
type PostMessageResult struct {
	UserMessage *domain.Message   `json:"user_message"`
	Reply       *domain.Message   `json:"reply,omitempty"`
	Completed   bool              `json:"completed"`
	Completion  *CompletionResult `json:"completion,omitempty"`
}

// PostMessage 处理用户的一条消息：先落库，再判定终止口令；
// 普通轮次在上下文窗口内组装提示词并经角色一致性兜底生成回复，
// 模型不可用或重试耗尽时降级到剧本台词。
func (s *Service) PostMessage(ctx context.Context, userID, dialogID, text string) (*PostMessageResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}

	dialog, err := s.ownedDialog(ctx, userID, dialogID)
	if err != nil {
		return nil, err
	}
	if dialog.Status != domain.DialogStatusActive {
		return nil, ErrDialogCompleted
	}

	scenario, err := s.repos.Scenarios.GetByID(ctx, dialog.ScenarioID)
	if err != nil {
		return nil, err
	}

	userMessage := &domain.Message{
		ID:        uuid.NewString(),
		DialogID:  dialog.ID,
		Sender:    domain.SenderUser,
		Text:      trimmed,
		Timestamp: time.Now().UTC(),
	}
	if err := s.repos.Messages.Append(ctx, userMessage); err != nil {
		return nil, err
	}

	if s.isTermination(trimmed) {
		completion, err := s.complete(ctx, dialog, scenario, nil)
		if err != nil {
			return nil, err
		}
		return &PostMessageResult{UserMessage: userMessage, Completed: true, Completion: completion}, nil
	}

	reply, err := s.turnReply(ctx, dialog, scenario)
	if err != nil {
		return nil, err
	}
	return &PostMessageResult{UserMessage: userMessage, Reply: reply}, nil
}

func (s *Service) turnReply(ctx context.Context, dialog *domain.Dialog, scenario *domain.Scenario) (*domain.Message, error) {
	recent, err := s.repos.Messages.ListRecent(ctx, dialog.ID, s.sim.ContextWindow)
	if err != nil {
		return nil, err
	}

	prompt := s.assembler.BuildPrompt(ctx, scenario, prompting.TurnContinue)
	messages := make([]llm.ChatMessage, 0, len(recent)+1)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: prompt})
	for _, message := range recent {
		switch message.Sender {
		case domain.SenderUser:
			messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: message.Text})
		case domain.SenderAssistant:
			messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: message.Text})
		}
	}

	reply, err := s.moderator.Generate(ctx, scenario, llm.ChatRequest{Messages: messages})
	if err != nil {
		line, ok := s.degradedReply(err, scenario)
		if !ok {
			return nil, err
		}
		s.logger.Warn("回复生成已降级",
			zap.String("dialog_id", dialog.ID),
			zap.Error(err),
		)
		reply = line
	}

	replyMessage := &domain.Message{
		ID:        uuid.NewString(),
		DialogID:  dialog.ID,
		Sender:    domain.SenderAssistant,
		Text:      reply,
		Timestamp: time.Now().UTC(),
	}
	if err := s.repos.Messages.Append(ctx, replyMessage); err != nil {
		return nil, err
	}
	return replyMessage, nil
}

// FinishSession 显式完成会话并运行完成管线。已完成的会话重复 finish
// 返回 ErrDialogCompleted。duration 为客户端上报的会话时长（秒），缺省按服务端计时。
func (s *Service) FinishSession(ctx context.Context, userID, dialogID string, duration *int64) (*CompletionResult, error) {
	dialog, err := s.ownedDialog(ctx, userID, dialogID)
	if err != nil {
		return nil, err
	}
	if dialog.Status != domain.DialogStatusActive {
		return nil, ErrDialogCompleted
	}

	scenario, err := s.repos.Scenarios.GetByID(ctx, dialog.ScenarioID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, dialog, scenario, duration)
}

// GetHistory 返回会话及其全部消息（含分析类 system 消息），按时间递增排序。
func (s *Service) GetHistory(ctx context.Context, userID, dialogID string) (*domain.Dialog, []*domain.Message, error) {
	dialog, err := s.ownedDialog(ctx, userID, dialogID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.repos.Messages.ListByDialog(ctx, dialogID)
	if err != nil {
		return nil, nil, err
	}
	return dialog, messages, nil
}

// ListDialogs 返回用户的会话列表，opts 的 UserID 由服务强制覆盖。
func (s *Service) ListDialogs(ctx context.Context, userID string, opts domain.DialogListOptions) ([]*domain.Dialog, error) {
	opts.UserID = userID
	return s.repos.Dialogs.List(ctx, opts)
}

// SetArchived 归档或恢复已完成的会话；active 会话不可归档。
func (s *Service) SetArchived(ctx context.Context, userID, dialogID string, archived bool) error {
	dialog, err := s.ownedDialog(ctx, userID, dialogID)
	if err != nil {
		return err
	}
	if dialog.Status != domain.DialogStatusCompleted {
		return ErrDialogNotCompleted
	}
	if err := s.repos.Dialogs.SetArchived(ctx, dialogID, archived); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrDialogNotCompleted
		}
		return err
	}
	return nil
}

// ListScenarios 返回剧本目录，供开始会话前浏览。
func (s *Service) ListScenarios(ctx context.Context, opts domain.ScenarioListOptions) ([]*domain.Scenario, error) {
	return s.repos.Scenarios.List(ctx, opts)
}

// GetScenario 返回单个剧本。
func (s *Service) GetScenario(ctx context.Context, scenarioID string) (*domain.Scenario, error) {
	scenario, err := s.repos.Scenarios.GetByID(ctx, scenarioID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrScenarioNotFound
		}
		return nil, err
	}
	return scenario, nil
}

// ListCategories 返回剧本分类列表。
func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	return s.repos.Scenarios.ListCategories(ctx)
}

// Statistics 返回用户统计；从未完成过会话的用户返回零值。
func (s *Service) Statistics(ctx context.Context, userID string) (*domain.UserStatistics, error) {
	stats, err := s.repos.Statistics.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.UserStatistics{UserID: userID}, nil
		}
		return nil, err
	}
	return stats, nil
}

// Progress 返回用户的剧本进度列表。
func (s *Service) Progress(ctx context.Context, userID string) ([]*domain.UserProgress, error) {
	return s.repos.Progress.ListByUser(ctx, userID)
}

// ownedDialog 取会话并校验归属；他人会话一律按不存在处理。
func (s *Service) ownedDialog(ctx context.Context, userID, dialogID string) (*domain.Dialog, error) {
	dialog, err := s.repos.Dialogs.GetByID(ctx, dialogID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrDialogNotFound
		}
		return nil, err
	}
	if dialog.UserID != userID {
		return nil, ErrDialogNotFound
	}
	return dialog, nil
}

func (s *Service) isTermination(text string) bool {
	token := s.sim.TerminationToken
	if token == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(text), token)
}

// degradedReply 按失败原因选择降级回复。配额耗尽与其余服务商错误各用一条
// 固定文案；角色一致性重试耗尽使用剧本台词，剧本未配置时依次回退到配置默认
// 与内置兜底。上下文取消等其余错误不降级，返回 ok=false。
func (s *Service) degradedReply(err error, scenario *domain.Scenario) (string, bool) {
	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.Kind == llm.KindQuotaExhausted {
			return quotaFallbackLine, true
		}
		return unavailableFallbackLine, true
	}
	if errors.Is(err, persona.ErrExhausted) {
		if line := s.scenarioFallback(scenario); line != "" {
			return line, true
		}
		return builtinFallbackLine, true
	}
	return "", false
}

func (s *Service) scenarioFallback(scenario *domain.Scenario) string {
	if scenario.FallbackLine != nil && strings.TrimSpace(*scenario.FallbackLine) != "" {
		return strings.TrimSpace(*scenario.FallbackLine)
	}
	return strings.TrimSpace(s.sim.DefaultFallback)
}
