package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/infra/database"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	dsn := "file:repo_test.db?mode=memory&cache=shared&_fk=1"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	migrationPath := filepath.Join("..", "..", "..", "db", "migrations", "000001_init.up.sql")
	migrationSQL, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("exec migration: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
	}
	return db, cleanup
}

func seedUserScenario(t *testing.T, repos *domain.Repositories, db *sql.DB) (string, string) {
	t.Helper()
	ctx := context.Background()

	userID := uuid.NewString()
	if err := repos.Users.Create(ctx, &domain.User{ID: userID, Email: userID + "@example.com", HashedPassword: "hashed"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	scenarioID := uuid.NewString()
	_, err := db.Exec(`INSERT INTO scenarios (id, name, description, category, subcategory, user_role, ai_role, ai_behavior)
VALUES (?, 'Возврат товара', 'Клиент требует возврат', 'retail', 'returns', 'продавец', 'недовольный клиент', 'раздражён, перебивает')`, scenarioID)
	if err != nil {
		t.Fatalf("seed scenario: %v", err)
	}
	return userID, scenarioID
}

func TestUserRepository_CreateAndPoints(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repos := NewSQLRepositories(db, database.NewDialect("sqlite"))
	ctx := context.Background()
	userID := uuid.NewString()

	user := &domain.User{ID: userID, Email: "user@example.com", HashedPassword: "hashed", Role: "admin"}
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	stored, err := repos.Users.GetByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.ID != userID {
		t.Fatalf("expected id %s got %s", userID, stored.ID)
	}
	if stored.Points != 0 {
		t.Fatalf("expected zero points got %d", stored.Points)
	}

	if err := repos.Users.AddPoints(ctx, userID, 25); err != nil {
		t.Fatalf("add points: %v", err)
	}
	if err := repos.Users.AddPoints(ctx, userID, 10); err != nil {
		t.Fatalf("add points: %v", err)
	}

	updated, err := repos.Users.GetByID(ctx, userID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if updated.Points != 35 {
		t.Fatalf("expected 35 points got %d", updated.Points)
	}

	if err := repos.Users.UpdateLastLogin(ctx, userID); err != nil {
		t.Fatalf("update last login: %v", err)
	}
	updated, err = repos.Users.GetByID(ctx, userID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if updated.LastLoginAt == nil {
		t.Fatalf("expected last login timestamp")
	}
}

func TestScenarioRepository_ListAndCategories(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repos := NewSQLRepositories(db, database.NewDialect("sqlite"))
	ctx := context.Background()

	insert := `INSERT INTO scenarios (id, name, description, category, subcategory, user_role, ai_role, ai_behavior, is_active)
VALUES (?, ?, ?, ?, ?, 'продавец', 'клиент', 'спокоен', ?)`
	rows := []struct {
		name, category, subcategory string
		active                      bool
	}{
		{"Возврат без чека", "retail", "returns", true},
		{"Жалоба на доставку", "retail", "delivery", true},
		{"Конфликт в команде", "workplace", "team", true},
		{"Черновик", "workplace", "team", false},
	}
	for _, row := range rows {
		if _, err := db.Exec(insert, uuid.NewString(), row.name, row.name, row.category, row.subcategory, row.active); err != nil {
			t.Fatalf("seed scenario: %v", err)
		}
	}

	all, err := repos.Scenarios.List(ctx, domain.ScenarioListOptions{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list scenarios: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 active scenarios got %d", len(all))
	}

	retail, err := repos.Scenarios.List(ctx, domain.ScenarioListOptions{Category: "retail", Subcategory: "returns", ActiveOnly: true})
	if err != nil {
		t.Fatalf("list retail: %v", err)
	}
	if len(retail) != 1 || retail[0].Name != "Возврат без чека" {
		t.Fatalf("unexpected retail list %+v", retail)
	}

	categories, err := repos.Scenarios.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(categories) != 2 || categories[0] != "retail" || categories[1] != "workplace" {
		t.Fatalf("unexpected categories %v", categories)
	}
}

func TestDialogRepository_CompleteGuard(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repos := NewSQLRepositories(db, database.NewDialect("sqlite"))
	ctx := context.Background()
	userID, scenarioID := seedUserScenario(t, repos, db)

	dialogID := uuid.NewString()
	dialog := &domain.Dialog{ID: dialogID, UserID: userID, ScenarioID: scenarioID, StartedAt: time.Now().UTC()}
	if err := repos.Dialogs.Create(ctx, dialog); err != nil {
		t.Fatalf("create dialog: %v", err)
	}

	active, err := repos.Dialogs.GetActive(ctx, userID, scenarioID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != dialogID {
		t.Fatalf("expected active dialog %s got %s", dialogID, active.ID)
	}

	completedAt := time.Now().UTC()
	if err := repos.Dialogs.Complete(ctx, dialogID, completedAt, 90, "итоговый разбор"); err != nil {
		t.Fatalf("complete dialog: %v", err)
	}
	if err := repos.Dialogs.Complete(ctx, dialogID, completedAt, 90, "повтор"); err != domain.ErrNotFound {
		t.Fatalf("expected second complete to hit the guard, got %v", err)
	}
	if _, err := repos.Dialogs.GetActive(ctx, userID, scenarioID); err != domain.ErrNotFound {
		t.Fatalf("expected no active dialog after completion, got %v", err)
	}

	stored, err := repos.Dialogs.GetByID(ctx, dialogID)
	if err != nil {
		t.Fatalf("get dialog: %v", err)
	}
	if stored.Status != domain.DialogStatusCompleted {
		t.Fatalf("expected completed status got %s", stored.Status)
	}
	if stored.Duration == nil || *stored.Duration != 90 {
		t.Fatalf("expected duration 90 got %v", stored.Duration)
	}
	if stored.Analysis == nil || *stored.Analysis != "итоговый разбор" {
		t.Fatalf("expected analysis preserved got %v", stored.Analysis)
	}

	success := true
	if err := repos.Dialogs.SetAnalysis(ctx, dialogID, "обновлённый разбор", &success); err != nil {
		t.Fatalf("set analysis: %v", err)
	}
	stored, err = repos.Dialogs.GetByID(ctx, dialogID)
	if err != nil {
		t.Fatalf("get dialog: %v", err)
	}
	if stored.IsSuccessful == nil || !*stored.IsSuccessful {
		t.Fatalf("expected is_successful true got %v", stored.IsSuccessful)
	}

	if err := repos.Dialogs.SetArchived(ctx, dialogID, true); err != nil {
		t.Fatalf("archive dialog: %v", err)
	}
	visible, err := repos.Dialogs.List(ctx, domain.DialogListOptions{UserID: userID})
	if err != nil {
		t.Fatalf("list dialogs: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("expected archived dialog hidden got %d", len(visible))
	}
	archived, err := repos.Dialogs.List(ctx, domain.DialogListOptions{UserID: userID, IncludeArchived: true})
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("expected 1 archived dialog got %d", len(archived))
	}

	count, err := repos.Dialogs.CountCompletedScenarios(ctx, userID)
	if err != nil {
		t.Fatalf("count completed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 completed scenario got %d", count)
	}
}

func TestMessageRepository_ContextWindow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repos := NewSQLRepositories(db, database.NewDialect("sqlite"))
	ctx := context.Background()
	userID, scenarioID := seedUserScenario(t, repos, db)

	dialogID := uuid.NewString()
	if err := repos.Dialogs.Create(ctx, &domain.Dialog{ID: dialogID, UserID: userID, ScenarioID: scenarioID, StartedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create dialog: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	texts := []string{"первое", "второе", "третье", "четвёртое", "пятое"}
	for i, text := range texts {
		message := &domain.Message{
			ID:        uuid.NewString(),
			DialogID:  dialogID,
			Sender:    domain.SenderUser,
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := repos.Messages.Append(ctx, message); err != nil {
			t.Fatalf("append message: %v", err)
		}
	}

	all, err := repos.Messages.ListByDialog(ctx, dialogID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(all) != 5 || all[0].Text != "первое" || all[4].Text != "пятое" {
		t.Fatalf("unexpected full history %+v", all)
	}

	window, err := repos.Messages.ListRecent(ctx, dialogID, 3)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("expected window of 3 got %d", len(window))
	}
	if window[0].Text != "третье" || window[2].Text != "пятое" {
		t.Fatalf("expected chronological tail, got %q..%q", window[0].Text, window[2].Text)
	}
}

func TestStatisticsAndProgressUpsert(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repos := NewSQLRepositories(db, database.NewDialect("sqlite"))
	ctx := context.Background()
	userID, scenarioID := seedUserScenario(t, repos, db)

	if _, err := repos.Statistics.GetByUser(ctx, userID); err != domain.ErrNotFound {
		t.Fatalf("expected missing stats, got %v", err)
	}

	stats := &domain.UserStatistics{UserID: userID, TotalDialogs: 1, SuccessfulDialogs: 1, CompletedScenarios: 1, TotalTimeSpent: 120, AverageScore: 80}
	if err := repos.Statistics.Upsert(ctx, stats); err != nil {
		t.Fatalf("insert stats: %v", err)
	}
	stats.TotalDialogs = 2
	stats.TotalTimeSpent = 300
	if err := repos.Statistics.Upsert(ctx, stats); err != nil {
		t.Fatalf("update stats: %v", err)
	}

	stored, err := repos.Statistics.GetByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stored.TotalDialogs != 2 || stored.TotalTimeSpent != 300 {
		t.Fatalf("unexpected stats %+v", stored)
	}

	progress := &domain.UserProgress{UserID: userID, ScenarioID: scenarioID, Status: domain.ProgressInProgress, ProgressPercentage: 40}
	if err := repos.Progress.Upsert(ctx, progress); err != nil {
		t.Fatalf("insert progress: %v", err)
	}
	progress.Status = domain.ProgressCompleted
	progress.ProgressPercentage = 100
	if err := repos.Progress.Upsert(ctx, progress); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	list, err := repos.Progress.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list progress: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.ProgressCompleted || list[0].ProgressPercentage != 100 {
		t.Fatalf("unexpected progress %+v", list)
	}
}

func TestAchievementRepository_GrantIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repos := NewSQLRepositories(db, database.NewDialect("sqlite"))
	ctx := context.Background()
	userID, _ := seedUserScenario(t, repos, db)

	achievementID := uuid.NewString()
	requirements := json.RawMessage(`{"type":"total_dialogs","value":1}`)
	if _, err := db.Exec(`INSERT INTO achievements (id, name, description, points, requirements) VALUES (?, 'Первый диалог', 'Завершите первый диалог', 10, ?)`, achievementID, string(requirements)); err != nil {
		t.Fatalf("seed achievement: %v", err)
	}

	catalog, err := repos.Achievements.ListAll(ctx)
	if err != nil {
		t.Fatalf("list achievements: %v", err)
	}
	if len(catalog) != 1 {
		t.Fatalf("expected 1 achievement got %d", len(catalog))
	}
	req := catalog[0].Requirement()
	if req.Type != "total_dialogs" || req.Value != 1 {
		t.Fatalf("unexpected requirement %+v", req)
	}

	grant := &domain.UserAchievement{ID: uuid.NewString(), UserID: userID, AchievementID: achievementID}
	inserted, err := repos.Achievements.Grant(ctx, grant)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first grant to insert")
	}

	again, err := repos.Achievements.Grant(ctx, &domain.UserAchievement{ID: uuid.NewString(), UserID: userID, AchievementID: achievementID})
	if err != nil {
		t.Fatalf("regrant: %v", err)
	}
	if again {
		t.Fatalf("expected duplicate grant to be ignored")
	}

	granted, err := repos.Achievements.ListGranted(ctx, userID)
	if err != nil {
		t.Fatalf("list granted: %v", err)
	}
	if len(granted) != 1 {
		t.Fatalf("expected 1 granted achievement got %d", len(granted))
	}
}

func TestPromptTemplateRepository_CreateAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repos := NewSQLRepositories(db, database.NewDialect("sqlite"))
	ctx := context.Background()

	template := &domain.PromptTemplate{
		ID:             uuid.NewString(),
		Name:           "базовый",
		ContentStart:   "Ты играешь роль {ai_role}. Ситуация: {scenario_description}",
		ContentGoOn:    "Продолжай в роли {ai_role}",
		AnalysisPrompt: "Оцени диалог: {dialog_text}",
	}
	if err := repos.PromptTemplates.Create(ctx, template); err != nil {
		t.Fatalf("create template: %v", err)
	}

	stored, err := repos.PromptTemplates.GetByID(ctx, template.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if stored.ContentStart != template.ContentStart {
		t.Fatalf("unexpected content %q", stored.ContentStart)
	}

	list, err := repos.PromptTemplates.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 template got %d", len(list))
	}
}
