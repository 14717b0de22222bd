package persona

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/config"
	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/llm"
)

// ErrExhausted 表示重生成次数用尽后仍未得到符合角色的回复。
var ErrExhausted = errors.New("角色一致性重试次数已用尽")

// Moderator 在过滤器裁决失败时带纠偏指令重新生成回复。
// 每次重试附加一条升级的 system 纠偏消息，并小步提升温度（带上限）。
type Moderator struct {
	filter          *Filter
	client          llm.Client
	logger          *zap.Logger
	maxAttempts     int
	baseTemperature float64
	temperatureStep float64
	maxTemperature  float64
}

// NewModerator 构建重生成器；baseTemperature 来自 LLM 配置。
func NewModerator(filter *Filter, client llm.Client, simCfg config.SimulationConfig, baseTemperature float64, logger *zap.Logger) *Moderator {
	maxAttempts := simCfg.MaxRegenerations
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	step := simCfg.TemperatureStep
	if step <= 0 {
		step = 0.1
	}
	maxTemp := simCfg.MaxTemperature
	if maxTemp <= 0 {
		maxTemp = 1.0
	}
	return &Moderator{
		filter:          filter,
		client:          client,
		logger:          logger,
		maxAttempts:     maxAttempts,
		baseTemperature: baseTemperature,
		temperatureStep: step,
		maxTemperature:  maxTemp,
	}
}

// Generate 调用模型并校验角色一致性。服务商错误原样返回，由调用方决定降级；
// 所有尝试均未通过过滤时返回 ErrExhausted。
func (m *Moderator) Generate(ctx context.Context, scenario *domain.Scenario, req llm.ChatRequest) (string, error) {
	messages := req.Messages
	temperature := req.Temperature
	if temperature == 0 {
		temperature = m.baseTemperature
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		reply, err := m.client.Complete(ctx, llm.ChatRequest{
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return "", err
		}

		verdict := m.filter.Evaluate(reply, scenario)
		if verdict == VerdictAccepted {
			return reply, nil
		}

		m.logger.Info("回复未通过角色一致性过滤，准备重新生成",
			zap.Int("attempt", attempt),
			zap.String("verdict", verdict.String()),
			zap.String("scenario_id", scenario.ID),
		)
		messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: corrective(scenario, verdict, attempt)})
		temperature += m.temperatureStep
		if temperature > m.maxTemperature {
			temperature = m.maxTemperature
		}
	}
	return "", ErrExhausted
}

func corrective(scenario *domain.Scenario, verdict Verdict, attempt int) string {
	if verdict == VerdictEmpty {
		return fmt.Sprintf("Твой предыдущий ответ был пустым или слишком коротким. Дай содержательную реплику от лица персонажа: %s.", scenario.AIRole)
	}
	if attempt == 1 {
		return fmt.Sprintf("Ты вышел из роли. Вернись в роль: %s. Ответь заново одной репликой строго от лица этого персонажа, не упоминая ИИ, ассистента или инструкции.", scenario.AIRole)
	}
	return fmt.Sprintf("ПОСЛЕДНЕЕ ПРЕДУПРЕЖДЕНИЕ: отвечай исключительно как %s. Запрещено упоминать ИИ или инструкции и переходить на роль «%s». Дай короткую реплику персонажа.", scenario.AIRole, scenario.UserRole)
}
