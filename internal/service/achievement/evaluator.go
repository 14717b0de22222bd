package achievement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/domain"
)

// Evaluator 对照用户统计评估成就条件并发放达成的成就。
// 发放依赖仓储层的幂等插入，重复评估不会二次发放或重复加分。
type Evaluator struct {
	repos  *domain.Repositories
	logger *zap.Logger
}

// NewEvaluator 创建成就评估器。
func NewEvaluator(repos *domain.Repositories, logger *zap.Logger) *Evaluator {
	return &Evaluator{repos: repos, logger: logger}
}

// Evaluate 评估全部成就并返回本次新发放的条目。统计缺失按零值处理，
// 使 type 为 none 的成就仍可发放。
func (e *Evaluator) Evaluate(ctx context.Context, userID string) ([]*domain.Achievement, error) {
	catalog, err := e.repos.Achievements.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := e.repos.Statistics.GetByUser(ctx, userID)
	if err != nil {
		if err != domain.ErrNotFound {
			return nil, err
		}
		stats = &domain.UserStatistics{UserID: userID}
	}

	var earned []*domain.Achievement
	for _, entry := range catalog {
		if !satisfied(entry.Requirement(), stats) {
			continue
		}
		inserted, err := e.repos.Achievements.Grant(ctx, &domain.UserAchievement{
			ID:            uuid.NewString(),
			UserID:        userID,
			AchievementID: entry.ID,
		})
		if err != nil {
			return earned, err
		}
		if !inserted {
			continue
		}
		if entry.Points > 0 {
			if err := e.repos.Users.AddPoints(ctx, userID, entry.Points); err != nil {
				e.logger.Warn("累加成就积分失败",
					zap.String("user_id", userID),
					zap.String("achievement_id", entry.ID),
					zap.Error(err),
				)
			}
		}
		earned = append(earned, entry)
	}
	return earned, nil
}

func satisfied(req domain.AchievementRequirement, stats *domain.UserStatistics) bool {
	if req.Type == "none" {
		return true
	}
	value, ok := stats.Field(req.Type)
	if !ok {
		return false
	}
	return value >= req.Value
}

// ProgressItem 是成就进度视图的一项。
type ProgressItem struct {
	Achievement *domain.Achievement `json:"achievement"`
	Unlocked    bool                `json:"unlocked"`
	EarnedAt    *time.Time          `json:"earned_at,omitempty"`
	Percent     int                 `json:"percent"`
}

// Progress 返回用户对全部成就的解锁状态与完成百分比。
func (e *Evaluator) Progress(ctx context.Context, userID string) ([]*ProgressItem, error) {
	catalog, err := e.repos.Achievements.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	granted, err := e.repos.Achievements.ListGranted(ctx, userID)
	if err != nil {
		return nil, err
	}
	earnedAt := make(map[string]time.Time, len(granted))
	for _, grant := range granted {
		earnedAt[grant.AchievementID] = grant.EarnedAt
	}

	stats, err := e.repos.Statistics.GetByUser(ctx, userID)
	if err != nil {
		if err != domain.ErrNotFound {
			return nil, err
		}
		stats = &domain.UserStatistics{UserID: userID}
	}

	items := make([]*ProgressItem, 0, len(catalog))
	for _, entry := range catalog {
		item := &ProgressItem{Achievement: entry}
		if at, ok := earnedAt[entry.ID]; ok {
			item.Unlocked = true
			item.Percent = 100
			when := at
			item.EarnedAt = &when
		} else {
			item.Percent = percentToward(entry.Requirement(), stats)
		}
		items = append(items, item)
	}
	return items, nil
}

func percentToward(req domain.AchievementRequirement, stats *domain.UserStatistics) int {
	if req.Type == "none" {
		return 0
	}
	value, ok := stats.Field(req.Type)
	if !ok || req.Value <= 0 {
		return 0
	}
	percent := int(value / req.Value * 100)
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	return percent
}
