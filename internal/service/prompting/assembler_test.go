package prompting

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/infra/cache"
)

type stubTemplateRepo struct {
	templates map[string]*domain.PromptTemplate
}

func (s *stubTemplateRepo) Create(_ context.Context, template *domain.PromptTemplate) error {
	s.templates[template.ID] = template
	return nil
}

func (s *stubTemplateRepo) GetByID(_ context.Context, templateID string) (*domain.PromptTemplate, error) {
	template, ok := s.templates[templateID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return template, nil
}

func (s *stubTemplateRepo) List(_ context.Context, _, _ int) ([]*domain.PromptTemplate, error) {
	var list []*domain.PromptTemplate
	for _, template := range s.templates {
		list = append(list, template)
	}
	return list, nil
}

func testScenario() *domain.Scenario {
	return &domain.Scenario{
		ID:          "scenario-1",
		Name:        "Возврат товара",
		Description: "Клиент требует возврат без чека",
		Category:    "торговле",
		UserRole:    "продавец",
		AIRole:      "недовольный клиент",
		AIBehavior:  "раздражён, перебивает",
		Language:    "русском",
	}
}

func newTestAssembler(templates map[string]*domain.PromptTemplate) (*Assembler, *cache.MemoryBindings) {
	bindings := cache.NewMemoryBindings()
	repo := &stubTemplateRepo{templates: templates}
	return NewAssembler(repo, bindings, "ru", zap.NewNop()), bindings
}

func TestBuildPromptScenarioTemplateWins(t *testing.T) {
	templateID := "template-a"
	assembler, bindings := newTestAssembler(map[string]*domain.PromptTemplate{
		templateID: {ID: templateID, ContentStart: "Сценарий: {scenario_description}. Роль: {ai_role}.", ContentGoOn: "Продолжай как {ai_role}."},
		"template-b": {ID: "template-b", ContentStart: "не должен использоваться"},
	})
	_ = bindings.Bind(context.Background(), "scenario-1", "template-b")

	scenario := testScenario()
	scenario.PromptTemplateID = &templateID

	prompt := assembler.BuildPrompt(context.Background(), scenario, TurnStart)
	if prompt != "Сценарий: Клиент требует возврат без чека. Роль: недовольный клиент." {
		t.Fatalf("unexpected prompt %q", prompt)
	}

	followUp := assembler.BuildPrompt(context.Background(), scenario, TurnContinue)
	if followUp != "Продолжай как недовольный клиент." {
		t.Fatalf("unexpected continue prompt %q", followUp)
	}
}

func TestBuildPromptFallsBackToBinding(t *testing.T) {
	assembler, bindings := newTestAssembler(map[string]*domain.PromptTemplate{
		"template-b": {ID: "template-b", ContentStart: "Из привязки: {user_role}"},
	})
	_ = bindings.Bind(context.Background(), "scenario-1", "template-b")

	prompt := assembler.BuildPrompt(context.Background(), testScenario(), TurnStart)
	if prompt != "Из привязки: продавец" {
		t.Fatalf("unexpected prompt %q", prompt)
	}
}

func TestBuildPromptScenarioOverride(t *testing.T) {
	assembler, _ := newTestAssembler(map[string]*domain.PromptTemplate{})
	override := "Собственный промпт сценария про {ai_behavior}"

	scenario := testScenario()
	scenario.PromptOverride = &override

	prompt := assembler.BuildPrompt(context.Background(), scenario, TurnStart)
	if prompt != "Собственный промпт сценария про раздражён, перебивает" {
		t.Fatalf("unexpected prompt %q", prompt)
	}
}

func TestBuildPromptActiveTemplate(t *testing.T) {
	assembler, bindings := newTestAssembler(map[string]*domain.PromptTemplate{
		"template-c": {ID: "template-c", ContentStart: "Глобальный шаблон {category}"},
	})
	_ = bindings.SetActiveTemplate(context.Background(), "template-c")

	prompt := assembler.BuildPrompt(context.Background(), testScenario(), TurnStart)
	if prompt != "Глобальный шаблон торговле" {
		t.Fatalf("unexpected prompt %q", prompt)
	}
}

func TestBuildPromptBuiltinDefault(t *testing.T) {
	assembler, _ := newTestAssembler(map[string]*domain.PromptTemplate{})

	prompt := assembler.BuildPrompt(context.Background(), testScenario(), TurnStart)
	if !strings.Contains(prompt, "Клиент требует возврат без чека") {
		t.Fatalf("expected scenario description substituted, got %q", prompt)
	}
	if !strings.Contains(prompt, "недовольный клиент") {
		t.Fatalf("expected ai role substituted, got %q", prompt)
	}
	if strings.Contains(prompt, "{scenario_description}") || strings.Contains(prompt, "{ai_role}") {
		t.Fatalf("placeholders left unresolved: %q", prompt)
	}
	if !strings.Contains(prompt, "ЗАВЕРШИТЬ СИМУЛЯЦИЮ") {
		t.Fatalf("expected termination token instruction in default prompt")
	}
}

func TestBuildPromptMissingBoundTemplateFallsThrough(t *testing.T) {
	missing := "template-gone"
	assembler, _ := newTestAssembler(map[string]*domain.PromptTemplate{})

	scenario := testScenario()
	scenario.PromptTemplateID = &missing

	prompt := assembler.BuildPrompt(context.Background(), scenario, TurnStart)
	if !strings.Contains(prompt, "тренажер отработки коммуникационных навыков") {
		t.Fatalf("expected builtin fallback, got %q", prompt)
	}
}

func TestBuildAnalysisPromptTranscript(t *testing.T) {
	assembler, _ := newTestAssembler(map[string]*domain.PromptTemplate{})
	scenario := testScenario()

	transcript := []*domain.Message{
		{Sender: domain.SenderAssistant, Text: "Я требую возврат!"},
		{Sender: domain.SenderUser, Text: "Давайте разберёмся."},
		{Sender: domain.SenderSystem, Text: "служебная запись"},
	}

	prompt := assembler.BuildAnalysisPrompt(context.Background(), scenario, transcript)
	if !strings.Contains(prompt, "недовольный клиент: Я требую возврат!") {
		t.Fatalf("expected ai line in transcript, got %q", prompt)
	}
	if !strings.Contains(prompt, "продавец: Давайте разберёмся.") {
		t.Fatalf("expected user line in transcript, got %q", prompt)
	}
	if strings.Contains(prompt, "служебная запись") {
		t.Fatalf("system message must not leak into transcript")
	}
	if !strings.Contains(prompt, "русском") {
		t.Fatalf("expected language substituted")
	}
}

func TestBuildAnalysisPromptLanguage(t *testing.T) {
	repo := &stubTemplateRepo{templates: map[string]*domain.PromptTemplate{}}
	assembler := NewAssembler(repo, cache.NewMemoryBindings(), "en", zap.NewNop())

	scenario := testScenario()
	scenario.Language = ""

	prompt := assembler.BuildAnalysisPrompt(context.Background(), scenario, nil)
	if !strings.Contains(prompt, "английском") {
		t.Fatalf("expected configured analysis language, got %q", prompt)
	}

	// 剧本语言优先于配置默认
	scenario.Language = "ru"
	prompt = assembler.BuildAnalysisPrompt(context.Background(), scenario, nil)
	if !strings.Contains(prompt, "русском") {
		t.Fatalf("expected scenario language to win, got %q", prompt)
	}
}

func TestBuildAnalysisPromptTemplateOverride(t *testing.T) {
	templateID := "template-a"
	assembler, _ := newTestAssembler(map[string]*domain.PromptTemplate{
		templateID: {ID: templateID, AnalysisPrompt: "Краткий разбор: {dialog_text}"},
	})

	scenario := testScenario()
	scenario.PromptTemplateID = &templateID

	prompt := assembler.BuildAnalysisPrompt(context.Background(), scenario, []*domain.Message{
		{Sender: domain.SenderUser, Text: "реплика"},
	})
	if prompt != "Краткий разбор: продавец: реплика" {
		t.Fatalf("unexpected analysis prompt %q", prompt)
	}
}
