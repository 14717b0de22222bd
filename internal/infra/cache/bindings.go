package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// 键名沿用存量部署的数据布局，改名需要数据迁移。
const (
	bindingsKey       = "prompt:bindings"
	activeTemplateKey = "prompt:active_template_id"
)

// TemplateBindings 定义剧本与提示词模板绑定关系的存取接口。
// 绑定缺失以空字符串表示，不视为错误。
type TemplateBindings interface {
	Bind(ctx context.Context, scenarioID, templateID string) error
	Unbind(ctx context.Context, scenarioID string) error
	Get(ctx context.Context, scenarioID string) (string, error)
	Map(ctx context.Context) (map[string]string, error)
	SetActiveTemplate(ctx context.Context, templateID string) error
	ActiveTemplate(ctx context.Context) (string, error)
	ClearActiveTemplate(ctx context.Context) error
}

// RedisBindings 是基于 Redis Hash 的 TemplateBindings 实现。
type RedisBindings struct {
	client *redis.Client
}

// NewRedisBindings 构建 Redis 绑定存储。
func NewRedisBindings(client *redis.Client) *RedisBindings {
	return &RedisBindings{client: client}
}

func (b *RedisBindings) Bind(ctx context.Context, scenarioID, templateID string) error {
	return b.client.HSet(ctx, bindingsKey, scenarioID, templateID).Err()
}

func (b *RedisBindings) Unbind(ctx context.Context, scenarioID string) error {
	return b.client.HDel(ctx, bindingsKey, scenarioID).Err()
}

func (b *RedisBindings) Get(ctx context.Context, scenarioID string) (string, error) {
	templateID, err := b.client.HGet(ctx, bindingsKey, scenarioID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return templateID, nil
}

func (b *RedisBindings) Map(ctx context.Context) (map[string]string, error) {
	return b.client.HGetAll(ctx, bindingsKey).Result()
}

func (b *RedisBindings) SetActiveTemplate(ctx context.Context, templateID string) error {
	return b.client.Set(ctx, activeTemplateKey, templateID, 0).Err()
}

func (b *RedisBindings) ActiveTemplate(ctx context.Context) (string, error) {
	templateID, err := b.client.Get(ctx, activeTemplateKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return templateID, nil
}

func (b *RedisBindings) ClearActiveTemplate(ctx context.Context) error {
	return b.client.Del(ctx, activeTemplateKey).Err()
}

// MemoryBindings 是内存版 TemplateBindings，用于单测与无 Redis 的开发环境。
type MemoryBindings struct {
	mu       sync.RWMutex
	bindings map[string]string
	active   string
}

// NewMemoryBindings 构建内存绑定存储。
func NewMemoryBindings() *MemoryBindings {
	return &MemoryBindings{bindings: make(map[string]string)}
}

func (b *MemoryBindings) Bind(_ context.Context, scenarioID, templateID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[scenarioID] = templateID
	return nil
}

func (b *MemoryBindings) Unbind(_ context.Context, scenarioID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindings, scenarioID)
	return nil
}

func (b *MemoryBindings) Get(_ context.Context, scenarioID string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bindings[scenarioID], nil
}

func (b *MemoryBindings) Map(_ context.Context) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	copied := make(map[string]string, len(b.bindings))
	for scenarioID, templateID := range b.bindings {
		copied[scenarioID] = templateID
	}
	return copied, nil
}

func (b *MemoryBindings) SetActiveTemplate(_ context.Context, templateID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = templateID
	return nil
}

func (b *MemoryBindings) ActiveTemplate(_ context.Context) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active, nil
}

func (b *MemoryBindings) ClearActiveTemplate(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = ""
	return nil
}
