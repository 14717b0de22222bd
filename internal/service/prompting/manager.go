package prompting

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/infra/cache"
)

// 模板管理的业务错误。
var (
	ErrNameRequired     = errors.New("template name required")
	ErrContentRequired  = errors.New("template content required")
	ErrTemplateNotFound = errors.New("prompt template not found")
)

// Manager 维护提示词模板与绑定关系，供管理端接口使用。
// 读路径的解析逻辑在 Assembler 中，Manager 只负责写入与查询。
type Manager struct {
	templates domain.PromptTemplateRepository
	bindings  cache.TemplateBindings
}

// NewManager 创建模板管理器。
func NewManager(templates domain.PromptTemplateRepository, bindings cache.TemplateBindings) *Manager {
	return &Manager{templates: templates, bindings: bindings}
}

// CreateTemplateInput 定义创建模板所需字段。
type CreateTemplateInput struct {
	Name           string
	Description    *string
	ContentStart   string
	ContentGoOn    string
	AnalysisPrompt string
	CreatedBy      *string
}

// CreateTemplate 创建提示词模板。续轮内容缺省复用首轮内容。
func (m *Manager) CreateTemplate(ctx context.Context, input CreateTemplateInput) (*domain.PromptTemplate, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	contentStart := strings.TrimSpace(input.ContentStart)
	if contentStart == "" {
		return nil, ErrContentRequired
	}
	contentGoOn := strings.TrimSpace(input.ContentGoOn)
	if contentGoOn == "" {
		contentGoOn = contentStart
	}

	template := &domain.PromptTemplate{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    optionalTrimmedString(input.Description),
		ContentStart:   contentStart,
		ContentGoOn:    contentGoOn,
		AnalysisPrompt: strings.TrimSpace(input.AnalysisPrompt),
		CreatedBy:      optionalTrimmedString(input.CreatedBy),
	}
	if err := m.templates.Create(ctx, template); err != nil {
		return nil, err
	}

	created, err := m.templates.GetByID(ctx, template.ID)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetTemplate 返回单个模板。
func (m *Manager) GetTemplate(ctx context.Context, templateID string) (*domain.PromptTemplate, error) {
	template, err := m.templates.GetByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return template, nil
}

// ListTemplates 返回模板列表。
func (m *Manager) ListTemplates(ctx context.Context, limit, offset int) ([]*domain.PromptTemplate, error) {
	return m.templates.List(ctx, limit, offset)
}

// BindScenario 将剧本绑定到指定模板，模板必须存在。
func (m *Manager) BindScenario(ctx context.Context, scenarioID, templateID string) error {
	if _, err := m.GetTemplate(ctx, templateID); err != nil {
		return err
	}
	return m.bindings.Bind(ctx, scenarioID, templateID)
}

// UnbindScenario 解除剧本的模板绑定。
func (m *Manager) UnbindScenario(ctx context.Context, scenarioID string) error {
	return m.bindings.Unbind(ctx, scenarioID)
}

// Bindings 返回全部剧本绑定关系。
func (m *Manager) Bindings(ctx context.Context) (map[string]string, error) {
	return m.bindings.Map(ctx)
}

// Activate 将模板设为全局激活模板，模板必须存在。
func (m *Manager) Activate(ctx context.Context, templateID string) error {
	if _, err := m.GetTemplate(ctx, templateID); err != nil {
		return err
	}
	return m.bindings.SetActiveTemplate(ctx, templateID)
}

// Deactivate 清除全局激活模板。
func (m *Manager) Deactivate(ctx context.Context) error {
	return m.bindings.ClearActiveTemplate(ctx)
}

// ActiveTemplateID 返回当前激活模板 ID，未设置时为空字符串。
func (m *Manager) ActiveTemplateID(ctx context.Context) (string, error) {
	return m.bindings.ActiveTemplate(ctx)
}

func optionalTrimmedString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
