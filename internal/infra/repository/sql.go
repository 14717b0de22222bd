package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zacharykka/dialog-trainer/internal/domain"
	"github.com/zacharykka/dialog-trainer/internal/infra/database"
)

// NewSQLRepositories 构建基于 *sql.DB 的仓储集合。
func NewSQLRepositories(db *sql.DB, dialect database.Dialect) *domain.Repositories {
	return &domain.Repositories{
		Users:           &userRepository{db: db, dialect: dialect},
		Scenarios:       &scenarioRepository{db: db, dialect: dialect},
		PromptTemplates: &promptTemplateRepository{db: db, dialect: dialect},
		Dialogs:         &dialogRepository{db: db, dialect: dialect},
		Messages:        &messageRepository{db: db, dialect: dialect},
		Statistics:      &statisticsRepository{db: db, dialect: dialect},
		Progress:        &progressRepository{db: db, dialect: dialect},
		Achievements:    &achievementRepository{db: db, dialect: dialect},
	}
}

// ---- 用户仓储 ----

type userRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

type userRow struct {
	id             string
	email          string
	hashedPassword string
	role           string
	status         string
	points         int
	lastLoginAt    sql.NullTime
	createdAt      time.Time
	updatedAt      time.Time
}

func (row *userRow) toDomain() *domain.User {
	user := &domain.User{
		ID:             row.id,
		Email:          row.email,
		HashedPassword: row.hashedPassword,
		Role:           row.role,
		Status:         row.status,
		Points:         row.points,
		CreatedAt:      row.createdAt,
		UpdatedAt:      row.updatedAt,
	}
	if row.lastLoginAt.Valid {
		user.LastLoginAt = &row.lastLoginAt.Time
	}
	return user
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`INSERT INTO users (id, email, hashed_password, role, status)
VALUES (%s, %s, %s, %s, %s)`, ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next())

	role := user.Role
	if role == "" {
		role = "trainee"
	}
	status := user.Status
	if status == "" {
		status = "active"
	}

	_, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.HashedPassword, role, status)
	return err
}

func (r *userRepository) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT id, email, hashed_password, role, status, points, last_login_at, created_at, updated_at
FROM users WHERE id = %s`, ph.Next())

	var row userRow
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&row.id, &row.email, &row.hashedPassword, &row.role, &row.status, &row.points, &row.lastLoginAt, &row.createdAt, &row.updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT id, email, hashed_password, role, status, points, last_login_at, created_at, updated_at
FROM users WHERE email = %s`, ph.Next())

	var row userRow
	err := r.db.QueryRowContext(ctx, query, email).Scan(&row.id, &row.email, &row.hashedPassword, &row.role, &row.status, &row.points, &row.lastLoginAt, &row.createdAt, &row.updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *userRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`UPDATE users SET last_login_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = %s`, ph.Next())

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepository) AddPoints(ctx context.Context, userID string, points int) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`UPDATE users SET points = points + %s, updated_at = CURRENT_TIMESTAMP WHERE id = %s`, ph.Next(), ph.Next())

	result, err := r.db.ExecContext(ctx, query, points, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ---- 剧本仓储 ----

type scenarioRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

type scenarioRow struct {
	id               string
	name             string
	description      string
	category         string
	subcategory      string
	userRole         string
	aiRole           string
	aiBehavior       string
	mood             string
	language         string
	promptOverride   sql.NullString
	promptTemplateID sql.NullString
	fallbackLine     sql.NullString
	isActive         bool
	createdAt        time.Time
}

const scenarioColumns = `id, name, description, category, subcategory, user_role, ai_role, ai_behavior, mood, language, prompt_override, prompt_template_id, fallback_line, is_active, created_at`

func (row *scenarioRow) scan(scanner interface{ Scan(...any) error }) error {
	return scanner.Scan(&row.id, &row.name, &row.description, &row.category, &row.subcategory, &row.userRole, &row.aiRole, &row.aiBehavior, &row.mood, &row.language, &row.promptOverride, &row.promptTemplateID, &row.fallbackLine, &row.isActive, &row.createdAt)
}

func (row *scenarioRow) toDomain() *domain.Scenario {
	scenario := &domain.Scenario{
		ID:          row.id,
		Name:        row.name,
		Description: row.description,
		Category:    row.category,
		Subcategory: row.subcategory,
		UserRole:    row.userRole,
		AIRole:      row.aiRole,
		AIBehavior:  row.aiBehavior,
		Mood:        row.mood,
		Language:    row.language,
		IsActive:    row.isActive,
		CreatedAt:   row.createdAt,
	}
	if row.promptOverride.Valid {
		scenario.PromptOverride = &row.promptOverride.String
	}
	if row.promptTemplateID.Valid {
		scenario.PromptTemplateID = &row.promptTemplateID.String
	}
	if row.fallbackLine.Valid {
		scenario.FallbackLine = &row.fallbackLine.String
	}
	return scenario
}

func (r *scenarioRepository) GetByID(ctx context.Context, scenarioID string) (*domain.Scenario, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT %s FROM scenarios WHERE id = %s`, scenarioColumns, ph.Next())

	var row scenarioRow
	if err := row.scan(r.db.QueryRowContext(ctx, query, scenarioID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *scenarioRepository) List(ctx context.Context, opts domain.ScenarioListOptions) ([]*domain.Scenario, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	ph := database.NewPlaceholderBuilder(r.dialect)
	var builder strings.Builder
	var args []interface{}
	var conditions []string

	builder.WriteString(`SELECT ` + scenarioColumns + ` FROM scenarios`)

	if opts.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	if opts.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = %s", ph.Next()))
		args = append(args, opts.Category)
	}
	if opts.Subcategory != "" {
		conditions = append(conditions, fmt.Sprintf("subcategory = %s", ph.Next()))
		args = append(args, opts.Subcategory)
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	builder.WriteString(" ORDER BY category, subcategory, name LIMIT ")
	builder.WriteString(ph.Next())
	builder.WriteString(" OFFSET ")
	builder.WriteString(ph.Next())
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenarios []*domain.Scenario
	for rows.Next() {
		var row scenarioRow
		if err := row.scan(rows); err != nil {
			return nil, err
		}
		scenarios = append(scenarios, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scenarios, nil
}

func (r *scenarioRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT category FROM scenarios WHERE is_active = TRUE ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

// ---- 提示词模板仓储 ----

type promptTemplateRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

type promptTemplateRow struct {
	id             string
	name           string
	description    sql.NullString
	contentStart   string
	contentGoOn    string
	analysisPrompt string
	createdBy      sql.NullString
	createdAt      time.Time
}

func (row *promptTemplateRow) toDomain() *domain.PromptTemplate {
	template := &domain.PromptTemplate{
		ID:             row.id,
		Name:           row.name,
		ContentStart:   row.contentStart,
		ContentGoOn:    row.contentGoOn,
		AnalysisPrompt: row.analysisPrompt,
		CreatedAt:      row.createdAt,
	}
	if row.description.Valid {
		template.Description = &row.description.String
	}
	if row.createdBy.Valid {
		template.CreatedBy = &row.createdBy.String
	}
	return template
}

func (r *promptTemplateRepository) Create(ctx context.Context, template *domain.PromptTemplate) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`INSERT INTO prompt_templates (id, name, description, content_start, content_continue, analysis_prompt, created_by)
VALUES (%s, %s, %s, %s, %s, %s, %s)`, ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next())

	desc := sql.NullString{}
	if template.Description != nil {
		desc = sql.NullString{String: *template.Description, Valid: true}
	}
	createdBy := sql.NullString{}
	if template.CreatedBy != nil {
		createdBy = sql.NullString{String: *template.CreatedBy, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query, template.ID, template.Name, desc, template.ContentStart, template.ContentGoOn, template.AnalysisPrompt, createdBy)
	return err
}

func (r *promptTemplateRepository) GetByID(ctx context.Context, templateID string) (*domain.PromptTemplate, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT id, name, description, content_start, content_continue, analysis_prompt, created_by, created_at
FROM prompt_templates WHERE id = %s`, ph.Next())

	var row promptTemplateRow
	err := r.db.QueryRowContext(ctx, query, templateID).Scan(&row.id, &row.name, &row.description, &row.contentStart, &row.contentGoOn, &row.analysisPrompt, &row.createdBy, &row.createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *promptTemplateRepository) List(ctx context.Context, limit, offset int) ([]*domain.PromptTemplate, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT id, name, description, content_start, content_continue, analysis_prompt, created_by, created_at
FROM prompt_templates ORDER BY created_at DESC LIMIT %s OFFSET %s`, ph.Next(), ph.Next())

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*domain.PromptTemplate
	for rows.Next() {
		var row promptTemplateRow
		if err := rows.Scan(&row.id, &row.name, &row.description, &row.contentStart, &row.contentGoOn, &row.analysisPrompt, &row.createdBy, &row.createdAt); err != nil {
			return nil, err
		}
		templates = append(templates, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

// ---- 对话会话仓储 ----

type dialogRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

type dialogRow struct {
	id           string
	userID       string
	scenarioID   string
	status       string
	startedAt    time.Time
	completedAt  sql.NullTime
	duration     sql.NullInt64
	analysis     sql.NullString
	isSuccessful sql.NullBool
	isArchived   bool
}

const dialogColumns = `id, user_id, scenario_id, status, started_at, completed_at, duration, analysis, is_successful, is_archived`

func (row *dialogRow) scan(scanner interface{ Scan(...any) error }) error {
	return scanner.Scan(&row.id, &row.userID, &row.scenarioID, &row.status, &row.startedAt, &row.completedAt, &row.duration, &row.analysis, &row.isSuccessful, &row.isArchived)
}

func (row *dialogRow) toDomain() *domain.Dialog {
	dialog := &domain.Dialog{
		ID:         row.id,
		UserID:     row.userID,
		ScenarioID: row.scenarioID,
		Status:     row.status,
		StartedAt:  row.startedAt,
		IsArchived: row.isArchived,
	}
	if row.completedAt.Valid {
		dialog.CompletedAt = &row.completedAt.Time
	}
	if row.duration.Valid {
		dialog.Duration = &row.duration.Int64
	}
	if row.analysis.Valid {
		dialog.Analysis = &row.analysis.String
	}
	if row.isSuccessful.Valid {
		dialog.IsSuccessful = &row.isSuccessful.Bool
	}
	return dialog
}

func (r *dialogRepository) Create(ctx context.Context, dialog *domain.Dialog) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`INSERT INTO dialogs (id, user_id, scenario_id, status, started_at)
VALUES (%s, %s, %s, %s, %s)`, ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next())

	status := dialog.Status
	if status == "" {
		status = domain.DialogStatusActive
	}

	_, err := r.db.ExecContext(ctx, query, dialog.ID, dialog.UserID, dialog.ScenarioID, status, dialog.StartedAt)
	return err
}

func (r *dialogRepository) GetByID(ctx context.Context, dialogID string) (*domain.Dialog, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT %s FROM dialogs WHERE id = %s`, dialogColumns, ph.Next())

	var row dialogRow
	if err := row.scan(r.db.QueryRowContext(ctx, query, dialogID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *dialogRepository) GetActive(ctx context.Context, userID, scenarioID string) (*domain.Dialog, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT %s FROM dialogs WHERE user_id = %s AND scenario_id = %s AND status = 'active'`, dialogColumns, ph.Next(), ph.Next())

	var row dialogRow
	if err := row.scan(r.db.QueryRowContext(ctx, query, userID, scenarioID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *dialogRepository) List(ctx context.Context, opts domain.DialogListOptions) ([]*domain.Dialog, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	ph := database.NewPlaceholderBuilder(r.dialect)
	var builder strings.Builder
	var args []interface{}
	var conditions []string

	builder.WriteString(`SELECT ` + dialogColumns + ` FROM dialogs`)

	if opts.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = %s", ph.Next()))
		args = append(args, opts.UserID)
	}
	if opts.ScenarioID != "" {
		conditions = append(conditions, fmt.Sprintf("scenario_id = %s", ph.Next()))
		args = append(args, opts.ScenarioID)
	}
	if opts.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = %s", ph.Next()))
		args = append(args, opts.Status)
	}
	if !opts.IncludeArchived {
		conditions = append(conditions, "is_archived = FALSE")
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	builder.WriteString(" ORDER BY started_at DESC LIMIT ")
	builder.WriteString(ph.Next())
	builder.WriteString(" OFFSET ")
	builder.WriteString(ph.Next())
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dialogs []*domain.Dialog
	for rows.Next() {
		var row dialogRow
		if err := row.scan(rows); err != nil {
			return nil, err
		}
		dialogs = append(dialogs, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dialogs, nil
}

// Complete 把会话置为 completed。WHERE status = 'active' 行级守卫保证并发与重复
// 调用下只有一次生效；未生效返回 ErrNotFound。
func (r *dialogRepository) Complete(ctx context.Context, dialogID string, completedAt time.Time, duration int64, analysis string) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`UPDATE dialogs SET status = 'completed', completed_at = %s, duration = %s, analysis = %s
WHERE id = %s AND status = 'active'`, ph.Next(), ph.Next(), ph.Next(), ph.Next())

	result, err := r.db.ExecContext(ctx, query, completedAt, duration, analysis, dialogID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *dialogRepository) SetAnalysis(ctx context.Context, dialogID string, analysis string, isSuccessful *bool) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`UPDATE dialogs SET analysis = %s, is_successful = %s WHERE id = %s`, ph.Next(), ph.Next(), ph.Next())

	success := sql.NullBool{}
	if isSuccessful != nil {
		success = sql.NullBool{Bool: *isSuccessful, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, analysis, success, dialogID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *dialogRepository) SetArchived(ctx context.Context, dialogID string, archived bool) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`UPDATE dialogs SET is_archived = %s WHERE id = %s AND status = 'completed'`, ph.Next(), ph.Next())

	result, err := r.db.ExecContext(ctx, query, archived, dialogID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *dialogRepository) CountCompletedScenarios(ctx context.Context, userID string) (int, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT scenario_id) FROM dialogs WHERE user_id = %s AND status = 'completed'`, ph.Next())

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ---- 消息仓储 ----

type messageRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

type messageRow struct {
	id        string
	dialogID  string
	sender    string
	text      string
	timestamp time.Time
}

func (row *messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:        row.id,
		DialogID:  row.dialogID,
		Sender:    row.sender,
		Text:      row.text,
		Timestamp: row.timestamp,
	}
}

func (r *messageRepository) Append(ctx context.Context, message *domain.Message) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`INSERT INTO messages (id, dialog_id, sender, text, timestamp)
VALUES (%s, %s, %s, %s, %s)`, ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next())

	_, err := r.db.ExecContext(ctx, query, message.ID, message.DialogID, message.Sender, message.Text, message.Timestamp)
	return err
}

func (r *messageRepository) ListByDialog(ctx context.Context, dialogID string) ([]*domain.Message, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT id, dialog_id, sender, text, timestamp
FROM messages WHERE dialog_id = %s ORDER BY timestamp ASC`, ph.Next())

	rows, err := r.db.QueryContext(ctx, query, dialogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.id, &row.dialogID, &row.sender, &row.text, &row.timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListRecent 按时间升序返回最近 limit 条消息，供上下文窗口使用。
func (r *messageRepository) ListRecent(ctx context.Context, dialogID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT id, dialog_id, sender, text, timestamp
FROM messages WHERE dialog_id = %s ORDER BY timestamp DESC LIMIT %s`, ph.Next(), ph.Next())

	rows, err := r.db.QueryContext(ctx, query, dialogID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(&row.id, &row.dialogID, &row.sender, &row.text, &row.timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ---- 用户统计仓储 ----

type statisticsRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func (r *statisticsRepository) GetByUser(ctx context.Context, userID string) (*domain.UserStatistics, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT user_id, total_dialogs, successful_dialogs, completed_scenarios, total_time_spent, average_score
FROM user_statistics WHERE user_id = %s`, ph.Next())

	stats := &domain.UserStatistics{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&stats.UserID, &stats.TotalDialogs, &stats.SuccessfulDialogs, &stats.CompletedScenarios, &stats.TotalTimeSpent, &stats.AverageScore)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return stats, nil
}

func (r *statisticsRepository) Upsert(ctx context.Context, stats *domain.UserStatistics) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`INSERT INTO user_statistics (user_id, total_dialogs, successful_dialogs, completed_scenarios, total_time_spent, average_score)
VALUES (%s, %s, %s, %s, %s, %s)
ON CONFLICT (user_id) DO UPDATE SET
  total_dialogs = excluded.total_dialogs,
  successful_dialogs = excluded.successful_dialogs,
  completed_scenarios = excluded.completed_scenarios,
  total_time_spent = excluded.total_time_spent,
  average_score = excluded.average_score`, ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next(), ph.Next())

	_, err := r.db.ExecContext(ctx, query, stats.UserID, stats.TotalDialogs, stats.SuccessfulDialogs, stats.CompletedScenarios, stats.TotalTimeSpent, stats.AverageScore)
	return err
}

// ---- 剧本进度仓储 ----

type progressRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func (r *progressRepository) GetByUserScenario(ctx context.Context, userID, scenarioID string) (*domain.UserProgress, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT user_id, scenario_id, status, progress_percentage, updated_at
FROM user_progress WHERE user_id = %s AND scenario_id = %s`, ph.Next(), ph.Next())

	progress := &domain.UserProgress{}
	err := r.db.QueryRowContext(ctx, query, userID, scenarioID).Scan(&progress.UserID, &progress.ScenarioID, &progress.Status, &progress.ProgressPercentage, &progress.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return progress, nil
}

func (r *progressRepository) ListByUser(ctx context.Context, userID string) ([]*domain.UserProgress, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT user_id, scenario_id, status, progress_percentage, updated_at
FROM user_progress WHERE user_id = %s ORDER BY updated_at DESC`, ph.Next())

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.UserProgress
	for rows.Next() {
		progress := &domain.UserProgress{}
		if err := rows.Scan(&progress.UserID, &progress.ScenarioID, &progress.Status, &progress.ProgressPercentage, &progress.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, progress)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *progressRepository) Upsert(ctx context.Context, progress *domain.UserProgress) error {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`INSERT INTO user_progress (user_id, scenario_id, status, progress_percentage, updated_at)
VALUES (%s, %s, %s, %s, CURRENT_TIMESTAMP)
ON CONFLICT (user_id, scenario_id) DO UPDATE SET
  status = excluded.status,
  progress_percentage = excluded.progress_percentage,
  updated_at = CURRENT_TIMESTAMP`, ph.Next(), ph.Next(), ph.Next(), ph.Next())

	_, err := r.db.ExecContext(ctx, query, progress.UserID, progress.ScenarioID, progress.Status, progress.ProgressPercentage)
	return err
}

// ---- 成就仓储 ----

type achievementRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

type achievementRow struct {
	id           string
	name         string
	description  sql.NullString
	icon         sql.NullString
	points       int
	requirements sql.NullString
}

func (row *achievementRow) toDomain() *domain.Achievement {
	achievement := &domain.Achievement{
		ID:     row.id,
		Name:   row.name,
		Points: row.points,
	}
	if row.description.Valid {
		achievement.Description = &row.description.String
	}
	if row.icon.Valid {
		achievement.Icon = &row.icon.String
	}
	if row.requirements.Valid {
		achievement.Requirements = json.RawMessage(row.requirements.String)
	}
	return achievement
}

func (r *achievementRepository) ListAll(ctx context.Context) ([]*domain.Achievement, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, icon, points, requirements FROM achievements ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var achievements []*domain.Achievement
	for rows.Next() {
		var row achievementRow
		if err := rows.Scan(&row.id, &row.name, &row.description, &row.icon, &row.points, &row.requirements); err != nil {
			return nil, err
		}
		achievements = append(achievements, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return achievements, nil
}

func (r *achievementRepository) ListGranted(ctx context.Context, userID string) ([]*domain.UserAchievement, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`SELECT id, user_id, achievement_id, earned_at
FROM user_achievements WHERE user_id = %s ORDER BY earned_at DESC`, ph.Next())

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var granted []*domain.UserAchievement
	for rows.Next() {
		item := &domain.UserAchievement{}
		if err := rows.Scan(&item.ID, &item.UserID, &item.AchievementID, &item.EarnedAt); err != nil {
			return nil, err
		}
		granted = append(granted, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return granted, nil
}

// Grant 发放成就；唯一约束加 DO NOTHING 保证重复评估不会二次发放。
func (r *achievementRepository) Grant(ctx context.Context, grant *domain.UserAchievement) (bool, error) {
	ph := database.NewPlaceholderBuilder(r.dialect)
	query := fmt.Sprintf(`INSERT INTO user_achievements (id, user_id, achievement_id)
VALUES (%s, %s, %s)
ON CONFLICT (user_id, achievement_id) DO NOTHING`, ph.Next(), ph.Next(), ph.Next())

	result, err := r.db.ExecContext(ctx, query, grant.ID, grant.UserID, grant.AchievementID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
