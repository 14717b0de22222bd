package dialog

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/config"
	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/infra/cache"
	"github.com/zacharykka/dialog-trainer/internal/infra/database"
	"github.com/zacharykka/dialog-trainer/internal/infra/repository"
	"github.com/zacharykka/dialog-trainer/internal/llm"
	"github.com/zacharykka/dialog-trainer/internal/service/achievement"
	"github.com/zacharykka/dialog-trainer/internal/service/persona"
	"github.com/zacharykka/dialog-trainer/internal/service/prompting"
)

type queuedCall struct {
	reply string
	err   error
}

// fakeLLM 按队列返回脚本化回复；队列耗尽后返回固定的安全回复。
type fakeLLM struct {
	queue    []queuedCall
	requests []llm.ChatRequest
}

func (f *fakeLLM) Complete(_ context.Context, req llm.ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	if len(f.queue) == 0 {
		return "Хорошо, давайте продолжим разговор.", nil
	}
	call := f.queue[0]
	f.queue = f.queue[1:]
	return call.reply, call.err
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:dialog_test.db?mode=memory&cache=shared&_fk=1")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrationPath := filepath.Join("..", "..", "..", "db", "migrations", "000001_init.up.sql")
	migrationSQL, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("exec migration: %v", err)
	}
	return db
}

func testSimConfig() config.SimulationConfig {
	return config.SimulationConfig{
		TerminationToken:  "ЗАВЕРШИТЬ СИМУЛЯЦИЮ",
		ContextWindow:     4,
		MaxRegenerations:  2,
		TemperatureStep:   0.1,
		MaxTemperature:    1.0,
		MinResponseLength: 3,
	}
}

type testEnv struct {
	svc    *Service
	client *fakeLLM
	repos  *domain.Repositories
	db     *sql.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	repos := repository.NewSQLRepositories(db, database.NewDialect("sqlite"))
	client := &fakeLLM{}
	logger := zap.NewNop()
	sim := testSimConfig()

	assembler := prompting.NewAssembler(repos.PromptTemplates, cache.NewMemoryBindings(), sim.AnalysisLanguage, logger)
	moderator := persona.NewModerator(persona.NewFilter(persona.NewRules(sim)), client, sim, 0.7, logger)
	evaluator := achievement.NewEvaluator(repos, logger)
	svc := NewService(repos, assembler, moderator, client, evaluator, sim, logger)

	return &testEnv{svc: svc, client: client, repos: repos, db: db}
}

func (e *testEnv) seedUser(t *testing.T) string {
	t.Helper()
	userID := uuid.NewString()
	err := e.repos.Users.Create(context.Background(), &domain.User{
		ID:             userID,
		Email:          userID + "@example.com",
		HashedPassword: "hashed",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return userID
}

func (e *testEnv) seedScenario(t *testing.T, active bool, fallback string) string {
	t.Helper()
	scenarioID := uuid.NewString()
	var fallbackValue any
	if fallback != "" {
		fallbackValue = fallback
	}
	_, err := e.db.Exec(`INSERT INTO scenarios (id, name, description, category, subcategory, user_role, ai_role, ai_behavior, fallback_line, is_active)
VALUES (?, 'Возврат товара', 'Клиент требует возврат без чека', 'retail', 'returns', 'продавец', 'недовольный клиент', 'раздражён, перебивает', ?, ?)`,
		scenarioID, fallbackValue, active)
	if err != nil {
		t.Fatalf("seed scenario: %v", err)
	}
	return scenarioID
}

func TestStartSessionCreatesDialogWithOpening(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "")

	env.client.queue = []queuedCall{{reply: "Я требую вернуть мне деньги немедленно!"}}

	result, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if result.Dialog.Status != domain.DialogStatusActive {
		t.Fatalf("expected active dialog got %s", result.Dialog.Status)
	}
	if result.Opening == nil || result.Opening.Sender != domain.SenderAssistant {
		t.Fatalf("expected assistant opening, got %+v", result.Opening)
	}

	messages, err := env.repos.Messages.ListByDialog(ctx, result.Dialog.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "Я требую вернуть мне деньги немедленно!" {
		t.Fatalf("expected persisted opening, got %+v", messages)
	}

	if len(env.client.requests) != 1 {
		t.Fatalf("expected one completion call got %d", len(env.client.requests))
	}
	prompt := env.client.requests[0].Messages[0]
	if prompt.Role != llm.RoleSystem || !strings.Contains(prompt.Content, "Клиент требует возврат без чека") {
		t.Fatalf("expected scenario description in system prompt, got %+v", prompt)
	}
}

func TestStartSessionSupersedesActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "")

	first, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Dialog.ID == first.Dialog.ID {
		t.Fatalf("expected a fresh dialog")
	}

	superseded, err := env.repos.Dialogs.GetByID(ctx, first.Dialog.ID)
	if err != nil {
		t.Fatalf("get superseded: %v", err)
	}
	if superseded.Status != domain.DialogStatusCompleted {
		t.Fatalf("expected superseded dialog completed, got %s", superseded.Status)
	}
	if superseded.Analysis == nil || *superseded.Analysis != supersededAnalysis {
		t.Fatalf("expected superseded marker, got %v", superseded.Analysis)
	}

	active, err := env.repos.Dialogs.GetActive(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != second.Dialog.ID {
		t.Fatalf("expected new dialog active")
	}

	// 被取代的会话不应计入统计
	stats, err := env.svc.Statistics(ctx, userID)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalDialogs != 0 {
		t.Fatalf("superseded dialog must not count, got %d", stats.TotalDialogs)
	}
}

func TestStartSessionScenarioGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	inactiveID := env.seedScenario(t, false, "")

	if _, err := env.svc.StartSession(ctx, userID, inactiveID); !errors.Is(err, ErrScenarioInactive) {
		t.Fatalf("expected ErrScenarioInactive got %v", err)
	}
	if _, err := env.svc.StartSession(ctx, userID, uuid.NewString()); !errors.Is(err, ErrScenarioNotFound) {
		t.Fatalf("expected ErrScenarioNotFound got %v", err)
	}
}

func TestPostMessageEmptyRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.PostMessage(context.Background(), "user", "dialog", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage got %v", err)
	}
}

func TestPostMessageTurn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "")

	env.client.queue = []queuedCall{
		{reply: "Верните мне деньги, это возмутительно!"},
		{reply: "Без чека? Это ваши проблемы, я оставлю жалобу!"},
	}

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	result, err := env.svc.PostMessage(ctx, userID, started.Dialog.ID, "Покажите, пожалуйста, чек.")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if result.Completed {
		t.Fatalf("regular turn must not complete the dialog")
	}
	if result.Reply == nil || result.Reply.Text != "Без чека? Это ваши проблемы, я оставлю жалобу!" {
		t.Fatalf("unexpected reply %+v", result.Reply)
	}

	// 回复请求应包含 system 提示词与窗口内的历史消息
	turnRequest := env.client.requests[len(env.client.requests)-1]
	if turnRequest.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("expected system prompt first, got %+v", turnRequest.Messages[0])
	}
	var sawAssistant, sawUser bool
	for _, message := range turnRequest.Messages[1:] {
		switch message.Role {
		case llm.RoleAssistant:
			sawAssistant = true
		case llm.RoleUser:
			sawUser = true
		}
	}
	if !sawAssistant || !sawUser {
		t.Fatalf("expected history in request, got %+v", turnRequest.Messages)
	}

	history, err := env.repos.Messages.ListByDialog(ctx, started.Dialog.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected opening + user + reply, got %d", len(history))
	}
}

func TestPostMessageQuotaFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	// 配额耗尽时固定文案优先于剧本台词
	scenarioID := env.seedScenario(t, true, "Подождите, мне нужно отойти на минуту.")

	env.client.queue = []queuedCall{
		{reply: "Верните деньги немедленно!"},
		{err: &llm.ProviderError{Kind: llm.KindQuotaExhausted, StatusCode: 402, Message: "payment required"}},
	}

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	result, err := env.svc.PostMessage(ctx, userID, started.Dialog.ID, "Давайте спокойно разберёмся.")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if result.Reply == nil || result.Reply.Text != quotaFallbackLine {
		t.Fatalf("expected quota fallback line, got %+v", result.Reply)
	}
}

func TestPostMessageUnavailableFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "Подождите, мне нужно отойти на минуту.")

	env.client.queue = []queuedCall{
		{reply: "Верните деньги немедленно!"},
		{err: &llm.ProviderError{Kind: llm.KindConnection, Message: "connection refused"}},
	}

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	result, err := env.svc.PostMessage(ctx, userID, started.Dialog.ID, "Давайте спокойно разберёмся.")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if result.Reply == nil || result.Reply.Text != unavailableFallbackLine {
		t.Fatalf("expected unavailable fallback line, got %+v", result.Reply)
	}
}

func TestPostMessageExhaustedUsesScenarioLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "Подождите, мне нужно отойти на минуту.")

	env.client.queue = []queuedCall{
		{reply: "Верните деньги немедленно!"},
		{reply: "Я нейросеть и не могу продолжать."},
		{reply: "Как ИИ, я не должен ругаться."},
	}

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	result, err := env.svc.PostMessage(ctx, userID, started.Dialog.ID, "Успокойтесь, пожалуйста.")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if result.Reply == nil || result.Reply.Text != "Подождите, мне нужно отойти на минуту." {
		t.Fatalf("expected scenario fallback line, got %+v", result.Reply)
	}
}

func TestPostMessageFallbackOnExhaustedRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "")

	env.client.queue = []queuedCall{
		{reply: "Верните деньги немедленно!"},
		{reply: "Я нейросеть и не могу продолжать."},
		{reply: "Как ИИ, я не должен ругаться."},
	}

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	result, err := env.svc.PostMessage(ctx, userID, started.Dialog.ID, "Успокойтесь, пожалуйста.")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if result.Reply == nil || result.Reply.Text != builtinFallbackLine {
		t.Fatalf("expected builtin fallback, got %+v", result.Reply)
	}
}

func TestPostMessageGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	otherID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "")

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	if _, err := env.svc.PostMessage(ctx, otherID, started.Dialog.ID, "чужое сообщение"); !errors.Is(err, ErrDialogNotFound) {
		t.Fatalf("expected foreign dialog hidden, got %v", err)
	}

	if _, err := env.svc.FinishSession(ctx, userID, started.Dialog.ID, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := env.svc.PostMessage(ctx, userID, started.Dialog.ID, "ещё реплика"); !errors.Is(err, ErrDialogCompleted) {
		t.Fatalf("expected ErrDialogCompleted got %v", err)
	}
}

func TestArchiveLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "")

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	if err := env.svc.SetArchived(ctx, userID, started.Dialog.ID, true); !errors.Is(err, ErrDialogNotCompleted) {
		t.Fatalf("active dialog must not archive, got %v", err)
	}

	if _, err := env.svc.FinishSession(ctx, userID, started.Dialog.ID, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := env.svc.SetArchived(ctx, userID, started.Dialog.ID, true); err != nil {
		t.Fatalf("archive: %v", err)
	}

	visible, err := env.svc.ListDialogs(ctx, userID, domain.DialogListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("expected archived dialog hidden, got %d", len(visible))
	}

	if err := env.svc.SetArchived(ctx, userID, started.Dialog.ID, false); err != nil {
		t.Fatalf("restore: %v", err)
	}
	visible, err = env.svc.ListDialogs(ctx, userID, domain.DialogListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("expected dialog restored, got %d", len(visible))
	}
}

func TestGetHistoryOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t)
	scenarioID := env.seedScenario(t, true, "")

	started, err := env.svc.StartSession(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	base := time.Now().UTC().Truncate(time.Second)
	for i, text := range []string{"первое", "второе"} {
		message := &domain.Message{
			ID:        uuid.NewString(),
			DialogID:  started.Dialog.ID,
			Sender:    domain.SenderUser,
			Text:      text,
			Timestamp: base.Add(time.Duration(i+1) * time.Second),
		}
		if err := env.repos.Messages.Append(ctx, message); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	dialog, messages, err := env.svc.GetHistory(ctx, userID, started.Dialog.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if dialog.ID != started.Dialog.ID {
		t.Fatalf("unexpected dialog %s", dialog.ID)
	}
	if len(messages) < 2 || messages[len(messages)-1].Text != "второе" {
		t.Fatalf("expected chronological history, got %+v", messages)
	}
}
