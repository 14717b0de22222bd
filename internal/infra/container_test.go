package infra

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/zacharykka/dialog-trainer/internal/config"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func prepareDatabase(t *testing.T) string {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "app.db") + "?_fk=1"

	schemaPath := filepath.Join("..", "..", "db", "migrations", "000001_init.up.sql")
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("exec migration: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}
	return dsn
}

func testContainerConfig(dsn string) *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "test", Env: "test"},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    dsn,
		},
		Auth: config.AuthConfig{
			AccessTokenSecret:  "abcdefghijklmnopqrstuvwxyz123456",
			RefreshTokenSecret: "abcdefghijklmnopqrstuvwxyz1234567890",
		},
		Bootstrap: config.BootstrapConfig{
			Enabled:       true,
			AdminEmail:    "admin@example.com",
			AdminPassword: "super-secure-password-1234567890",
			AdminRole:     "admin",
		},
		Simulation: config.SimulationConfig{
			TerminationToken:  "ЗАВЕРШИТЬ СИМУЛЯЦИЮ",
			ContextWindow:     12,
			MaxRegenerations:  3,
			TemperatureStep:   0.1,
			MaxTemperature:    1.0,
			MinResponseLength: 3,
			PostMessagePerMin: 30,
		},
	}
}

func TestInitializeBuildsDependencyGraph(t *testing.T) {
	dsn := prepareDatabase(t)
	ctx := context.Background()

	container, cleanup, err := Initialize(ctx, testContainerConfig(dsn), zap.NewNop())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer func() {
		if err := cleanup(ctx); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	}()

	if container.DB == nil || container.Repos == nil {
		t.Fatalf("expected database and repositories wired")
	}
	if container.Redis != nil {
		t.Fatalf("redis must stay nil without configured addr")
	}
	if container.Bindings == nil {
		t.Fatalf("expected in-memory bindings without redis")
	}
	if container.LLM == nil || container.Auth == nil || container.Dialogs == nil {
		t.Fatalf("expected services wired")
	}
	if container.Templates == nil || container.Evaluator == nil {
		t.Fatalf("expected template manager and evaluator wired")
	}
	if container.MessageLimiter == nil {
		t.Fatalf("expected message limiter with positive rate")
	}

	admin, err := container.Repos.Users.GetByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("expected bootstrap admin: %v", err)
	}
	if admin.Role != "admin" {
		t.Fatalf("unexpected admin role %s", admin.Role)
	}
}

func TestInitializeLimiterDisabled(t *testing.T) {
	dsn := prepareDatabase(t)
	ctx := context.Background()

	cfg := testContainerConfig(dsn)
	cfg.Simulation.PostMessagePerMin = -1

	container, cleanup, err := Initialize(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer func() { _ = cleanup(ctx) }()

	if container.MessageLimiter != nil {
		t.Fatalf("expected limiter disabled with non-positive rate")
	}
}
