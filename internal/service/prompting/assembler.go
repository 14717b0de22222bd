package prompting

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/infra/cache"
)

// Turn 区分会话首轮与后续轮次，决定选用模板的哪一段内容。
type Turn int

const (
	TurnStart Turn = iota
	TurnContinue
)

// Assembler 负责组装发给模型的系统提示词。解析顺序：剧本绑定模板 → 缓存绑定 →
// 剧本内嵌覆盖 → 全局激活模板 → 内置默认文案。任何一步失败只降级到下一步，
// 组装过程永不报错。
type Assembler struct {
	templates domain.PromptTemplateRepository
	bindings  cache.TemplateBindings
	language  string
	logger    *zap.Logger
}

// NewAssembler 构建提示词组装器；bindings 可为 nil（跳过缓存相关步骤），
// analysisLanguage 为 {language} 占位符的默认语言代码，剧本可覆盖。
func NewAssembler(templates domain.PromptTemplateRepository, bindings cache.TemplateBindings, analysisLanguage string, logger *zap.Logger) *Assembler {
	return &Assembler{
		templates: templates,
		bindings:  bindings,
		language:  languageName(analysisLanguage),
		logger:    logger,
	}
}

// BuildPrompt 返回对话轮次的系统提示词，占位符已替换。
func (a *Assembler) BuildPrompt(ctx context.Context, scenario *domain.Scenario, turn Turn) string {
	return a.render(scenario, a.resolveDialogTemplate(ctx, scenario, turn), "")
}

// BuildAnalysisPrompt 返回分析提示词，transcript 中的 system 消息不进入文本。
func (a *Assembler) BuildAnalysisPrompt(ctx context.Context, scenario *domain.Scenario, transcript []*domain.Message) string {
	return a.render(scenario, a.resolveAnalysisTemplate(ctx, scenario), renderTranscript(scenario, transcript))
}

func (a *Assembler) resolveDialogTemplate(ctx context.Context, scenario *domain.Scenario, turn Turn) string {
	if scenario.PromptTemplateID != nil && *scenario.PromptTemplateID != "" {
		if text := a.templateContent(ctx, *scenario.PromptTemplateID, turn); text != "" {
			return text
		}
	}
	if templateID := a.boundTemplate(ctx, scenario.ID); templateID != "" {
		if text := a.templateContent(ctx, templateID, turn); text != "" {
			return text
		}
	}
	if scenario.PromptOverride != nil && strings.TrimSpace(*scenario.PromptOverride) != "" {
		return *scenario.PromptOverride
	}
	if templateID := a.activeTemplate(ctx); templateID != "" {
		if text := a.templateContent(ctx, templateID, turn); text != "" {
			return text
		}
	}
	if turn == TurnStart {
		return defaultStartPrompt
	}
	return defaultContinuePrompt
}

func (a *Assembler) resolveAnalysisTemplate(ctx context.Context, scenario *domain.Scenario) string {
	if scenario.PromptTemplateID != nil && *scenario.PromptTemplateID != "" {
		if text := a.analysisContent(ctx, *scenario.PromptTemplateID); text != "" {
			return text
		}
	}
	if templateID := a.boundTemplate(ctx, scenario.ID); templateID != "" {
		if text := a.analysisContent(ctx, templateID); text != "" {
			return text
		}
	}
	if templateID := a.activeTemplate(ctx); templateID != "" {
		if text := a.analysisContent(ctx, templateID); text != "" {
			return text
		}
	}
	return defaultAnalysisPrompt
}

func (a *Assembler) boundTemplate(ctx context.Context, scenarioID string) string {
	if a.bindings == nil {
		return ""
	}
	templateID, err := a.bindings.Get(ctx, scenarioID)
	if err != nil {
		a.logger.Warn("读取模板绑定失败，降级到下一解析步骤", zap.String("scenario_id", scenarioID), zap.Error(err))
		return ""
	}
	return templateID
}

func (a *Assembler) activeTemplate(ctx context.Context) string {
	if a.bindings == nil {
		return ""
	}
	templateID, err := a.bindings.ActiveTemplate(ctx)
	if err != nil {
		a.logger.Warn("读取激活模板失败，使用内置提示词", zap.Error(err))
		return ""
	}
	return templateID
}

func (a *Assembler) templateContent(ctx context.Context, templateID string, turn Turn) string {
	template, err := a.templates.GetByID(ctx, templateID)
	if err != nil {
		if err != domain.ErrNotFound {
			a.logger.Warn("读取提示词模板失败", zap.String("template_id", templateID), zap.Error(err))
		}
		return ""
	}
	if turn == TurnStart {
		return strings.TrimSpace(template.ContentStart)
	}
	return strings.TrimSpace(template.ContentGoOn)
}

func (a *Assembler) analysisContent(ctx context.Context, templateID string) string {
	template, err := a.templates.GetByID(ctx, templateID)
	if err != nil {
		if err != domain.ErrNotFound {
			a.logger.Warn("读取提示词模板失败", zap.String("template_id", templateID), zap.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(template.AnalysisPrompt)
}

// render 替换模板占位符；未知占位符原样保留。
func (a *Assembler) render(scenario *domain.Scenario, text, dialogText string) string {
	language := a.language
	if scenario.Language != "" {
		language = languageName(scenario.Language)
	}
	replacer := strings.NewReplacer(
		"{scenario_description}", scenario.Description,
		"{user_role}", scenario.UserRole,
		"{ai_role}", scenario.AIRole,
		"{ai_behavior}", scenario.AIBehavior,
		"{mood}", scenario.Mood,
		"{category}", scenario.Category,
		"{language}", language,
		"{dialog_text}", dialogText,
	)
	return replacer.Replace(text)
}

// languageName 把语言代码转成提示词文案中的俄语前置格语言名；
// 未知值视为已是语言名，原样使用。
func languageName(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "ru", "russian":
		return "русском"
	case "en", "english":
		return "английском"
	default:
		return strings.TrimSpace(code)
	}
}

// renderTranscript 把消息历史渲染为「角色: 文本」的纯文本，跳过 system 消息。
func renderTranscript(scenario *domain.Scenario, transcript []*domain.Message) string {
	userLabel := scenario.UserRole
	if userLabel == "" {
		userLabel = "Пользователь"
	}
	aiLabel := scenario.AIRole
	if aiLabel == "" {
		aiLabel = "ИИ"
	}

	var builder strings.Builder
	for _, message := range transcript {
		if message.Sender == domain.SenderSystem {
			continue
		}
		label := aiLabel
		if message.Sender == domain.SenderUser {
			label = userLabel
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(label)
		builder.WriteString(": ")
		builder.WriteString(message.Text)
	}
	return builder.String()
}
