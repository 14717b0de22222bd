package bootstrap

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/zacharykka/dialog-trainer/internal/config"
	domain "github.com/zacharykka/dialog-trainer/internal/domain"
	authutil "github.com/zacharykka/dialog-trainer/pkg/auth"
	"go.uber.org/zap"
)

// EnsureDefaultAdmin 创建默认管理员账号（若不存在）。重复调用幂等。
func EnsureDefaultAdmin(ctx context.Context, repos *domain.Repositories, cfg config.BootstrapConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Info("bootstrap skipped (disabled)")
		return nil
	}

	adminEmail := strings.TrimSpace(strings.ToLower(cfg.AdminEmail))
	if adminEmail == "" || cfg.AdminPassword == "" {
		logger.Info("bootstrap skipped; admin email or password not set")
		return nil
	}

	if _, err := repos.Users.GetByEmail(ctx, adminEmail); err == nil {
		logger.Info("bootstrap admin exists", zap.String("email", adminEmail))
		return nil
	} else if err != domain.ErrNotFound {
		return err
	}

	hash, err := authutil.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}

	admin := &domain.User{
		ID:             uuid.NewString(),
		Email:          adminEmail,
		HashedPassword: hash,
		Role:           normalizedRole(cfg.AdminRole),
		Status:         "active",
	}
	if err := repos.Users.Create(ctx, admin); err != nil {
		return err
	}

	logger.Info("bootstrap admin created", zap.String("email", adminEmail))
	return nil
}

func normalizedRole(role string) string {
	value := strings.TrimSpace(strings.ToLower(role))
	switch value {
	case "admin", "user":
		return value
	default:
		return "admin"
	}
}
