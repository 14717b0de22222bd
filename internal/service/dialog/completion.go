package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/llm"
)

// 被新会话取代的存量会话写入的占位分析。
const supersededAnalysis = "Сессия прервана: начата новая симуляция по этому сценарию."

// 分析请求失败时合成摘要的开头文案，完成流程不因此中断。
const analysisUnavailable = "Не удалось получить анализ диалога."

// 分析文本命中任意短语即判定训练成功；配置可整体覆盖。
var defaultSuccessPhrases = []string{
	"конфликт был разрешён успешно",
	"разговор прошёл хорошо",
	"гость остался доволен",
	"отличные коммуникативные навыки",
	"отлично справились",
	"вы успешно разрешили",
	"вы хорошо справились",
	"разрешили конфликт",
	"положительный исход",
	"отличная работа",
	"вы молодец",
	"вы справились с задачей",
	"разрешили ситуацию",
	"разрешили проблему",
	"похвала",
	"поздравляю",
}

// CompletionResult 汇总完成管线的结果。
type CompletionResult struct {
	Dialog          *domain.Dialog        `json:"dialog"`
	Analysis        string                `json:"analysis"`
	IsSuccessful    bool                  `json:"is_successful"`
	NewAchievements []*domain.Achievement `json:"new_achievements,omitempty"`
}

// complete 运行完成管线：生成分析 → 状态置换（幂等守卫）→ 成功判定 →
// 分析落库为 system 消息 → 统计与进度更新 → 成就评估。
// 状态置换之后的每一步独立兜底，单步失败记录日志但不回滚已完成的步骤。
func (s *Service) complete(ctx context.Context, dialog *domain.Dialog, scenario *domain.Scenario, clientDuration *int64) (*CompletionResult, error) {
	transcript, err := s.repos.Messages.ListByDialog(ctx, dialog.ID)
	if err != nil {
		return nil, err
	}

	analysis := s.analyze(ctx, dialog, scenario, transcript)

	now := time.Now().UTC()
	duration := int64(now.Sub(dialog.StartedAt).Seconds())
	if clientDuration != nil && *clientDuration > 0 {
		duration = *clientDuration
	}

	// 行级守卫：并发完成时只有一方通过，落败方观察到已完成状态。
	if err := s.repos.Dialogs.Complete(ctx, dialog.ID, now, duration, analysis); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrDialogCompleted
		}
		return nil, err
	}

	success := s.analysisIndicatesSuccess(analysis)
	if err := s.repos.Dialogs.SetAnalysis(ctx, dialog.ID, analysis, &success); err != nil {
		s.logger.Warn("写入成功判定失败", zap.String("dialog_id", dialog.ID), zap.Error(err))
	}

	analysisMessage := &domain.Message{
		ID:        uuid.NewString(),
		DialogID:  dialog.ID,
		Sender:    domain.SenderSystem,
		Text:      analysis,
		Timestamp: time.Now().UTC(),
	}
	if err := s.repos.Messages.Append(ctx, analysisMessage); err != nil {
		s.logger.Warn("分析消息写入失败", zap.String("dialog_id", dialog.ID), zap.Error(err))
	}

	s.updateStatistics(ctx, dialog.UserID, duration, success)
	s.updateProgress(ctx, dialog.UserID, dialog.ScenarioID)

	earned, err := s.evaluator.Evaluate(ctx, dialog.UserID)
	if err != nil {
		s.logger.Warn("成就评估失败", zap.String("user_id", dialog.UserID), zap.Error(err))
	}

	completedAt := now
	dialog.Status = domain.DialogStatusCompleted
	dialog.CompletedAt = &completedAt
	dialog.Duration = &duration
	dialog.Analysis = &analysis
	dialog.IsSuccessful = &success

	s.logger.Info("会话完成",
		zap.String("dialog_id", dialog.ID),
		zap.String("user_id", dialog.UserID),
		zap.Bool("is_successful", success),
		zap.Int64("duration", duration),
		zap.Int("new_achievements", len(earned)),
	)
	return &CompletionResult{
		Dialog:          dialog,
		Analysis:        analysis,
		IsSuccessful:    success,
		NewAchievements: earned,
	}, nil
}

// analyze 基于完整对话记录请求分析，失败时退化为按消息计数合成的最小摘要。
func (s *Service) analyze(ctx context.Context, dialog *domain.Dialog, scenario *domain.Scenario, transcript []*domain.Message) string {
	prompt := s.assembler.BuildAnalysisPrompt(ctx, scenario, transcript)
	analysis, err := s.client.Complete(ctx, llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleSystem, Content: prompt}},
	})
	if err != nil {
		s.logger.Warn("分析生成失败，使用合成摘要", zap.String("dialog_id", dialog.ID), zap.Error(err))
		return synthesizeAnalysis(dialog, transcript)
	}
	analysis = strings.TrimSpace(analysis)
	if analysis == "" {
		return synthesizeAnalysis(dialog, transcript)
	}
	return analysis
}

// synthesizeAnalysis 从对话记录合成最小分析：双方消息数与会话时长。
func synthesizeAnalysis(dialog *domain.Dialog, transcript []*domain.Message) string {
	var userCount, assistantCount int
	for _, message := range transcript {
		switch message.Sender {
		case domain.SenderUser:
			userCount++
		case domain.SenderAssistant:
			assistantCount++
		}
	}
	duration := int64(time.Since(dialog.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	return fmt.Sprintf(
		"%s Краткая сводка: ваших реплик %d, реплик собеседника %d, длительность %d сек. Попробуйте запросить анализ позже.",
		analysisUnavailable, userCount, assistantCount, duration,
	)
}

func (s *Service) analysisIndicatesSuccess(analysis string) bool {
	phrases := s.sim.SuccessPhrases
	if len(phrases) == 0 {
		phrases = defaultSuccessPhrases
	}
	lower := strings.ToLower(analysis)
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (s *Service) updateStatistics(ctx context.Context, userID string, duration int64, success bool) {
	stats, err := s.repos.Statistics.GetByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("读取用户统计失败", zap.String("user_id", userID), zap.Error(err))
			return
		}
		stats = &domain.UserStatistics{UserID: userID}
	}

	stats.TotalDialogs++
	if success {
		stats.SuccessfulDialogs++
	}
	stats.TotalTimeSpent += duration

	completed, err := s.repos.Dialogs.CountCompletedScenarios(ctx, userID)
	if err != nil {
		s.logger.Warn("统计已完成剧本数失败", zap.String("user_id", userID), zap.Error(err))
	} else {
		stats.CompletedScenarios = completed
	}

	if err := s.repos.Statistics.Upsert(ctx, stats); err != nil {
		s.logger.Warn("用户统计更新失败", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) updateProgress(ctx context.Context, userID, scenarioID string) {
	progress := &domain.UserProgress{
		UserID:             userID,
		ScenarioID:         scenarioID,
		Status:             domain.ProgressCompleted,
		ProgressPercentage: 100,
		UpdatedAt:          time.Now().UTC(),
	}
	if err := s.repos.Progress.Upsert(ctx, progress); err != nil {
		s.logger.Warn("剧本进度更新失败",
			zap.String("user_id", userID),
			zap.String("scenario_id", scenarioID),
			zap.Error(err),
		)
	}
}
