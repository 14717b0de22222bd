package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacharykka/dialog-trainer/internal/config"
)

// chat/completions 协议中的角色取值。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 是发送给补全接口的一条上下文消息。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 描述一次补全调用；Temperature/MaxTokens 为零时回退到配置默认。
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// Client 定义对话补全客户端接口，测试中以假实现替换。
type Client interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// GigaChat 实现基于 OAuth Bearer 的 chat/completions 客户端。
// Token 在锁内换取并带过期余量缓存；401 触发一次换 Token 后的原样重试。
type GigaChat struct {
	cfg    config.LLMConfig
	http   *http.Client
	logger *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewGigaChat 构造客户端；RequestTimeout 同时约束 oauth 与补全请求。
func NewGigaChat(cfg config.LLMConfig, logger *zap.Logger) *GigaChat {
	transport := http.DefaultTransport
	if cfg.InsecureSkipTLS {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &GigaChat{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		logger: logger,
	}
}

// Complete 执行补全调用并按失败分类重试：限流走指数退避，超时/连接失败用固定
// 间隔；配额、鉴权与请求错误不重试。401 先重置 Token 再立即重试一次，不占用
// 退避预算。
func (c *GigaChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var lastErr error
	refreshed := false
	attempt := 0
	for {
		reply, err := c.completeOnce(ctx, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		var pe *ProviderError
		if !errors.As(err, &pe) {
			return "", err
		}
		if pe.Kind == KindAuthFailed && pe.StatusCode == http.StatusUnauthorized && !refreshed {
			refreshed = true
			c.invalidate()
			c.logger.Info("llm token 失效，重新换取后重试")
			continue
		}
		if !pe.Retryable() || attempt >= c.cfg.MaxRetries {
			return "", err
		}

		attempt++
		delay := c.backoff(pe.Kind, attempt)
		c.logger.Warn("llm 调用失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Int("status", pe.StatusCode),
			zap.String("kind", pe.Kind.String()),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return "", lastErr
		}
	}
}

// TokenValid 报告当前缓存的 Token 是否仍在有效期内（含余量），供健康检查使用。
func (c *GigaChat) TokenValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != "" && time.Now().Add(c.cfg.TokenExpiryMargin).Before(c.expiresAt)
}

func (c *GigaChat) completeOnce(ctx context.Context, req ChatRequest) (string, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return "", err
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	payload := map[string]any{
		"model":             c.cfg.Model,
		"messages":          req.Messages,
		"temperature":       temperature,
		"max_tokens":        maxTokens,
		"top_p":             c.cfg.TopP,
		"frequency_penalty": 0,
		"presence_penalty":  0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", transportError("chat", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return "", statusError("chat", resp.StatusCode, raw)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProviderError{Kind: KindMalformed, Message: "chat 响应不是合法 JSON", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Kind: KindMalformed, Message: "chat 响应缺少 choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

// bearer 返回有效 Token，必要时在锁内换取新 Token；锁同时保证并发调用只换一次。
func (c *GigaChat) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Add(c.cfg.TokenExpiryMargin).Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{"scope": {c.cfg.Scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build oauth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+c.cfg.AuthKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", transportError("oauth", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", statusError("oauth", resp.StatusCode, raw)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.AccessToken == "" {
		return "", &ProviderError{Kind: KindMalformed, Message: "oauth 响应缺少 access_token", Err: err}
	}

	c.token = payload.AccessToken
	if payload.ExpiresAt > 0 {
		// expires_at 为毫秒时间戳
		c.expiresAt = time.UnixMilli(payload.ExpiresAt)
	} else {
		c.expiresAt = time.Now().Add(30 * time.Minute)
	}
	return c.token, nil
}

// invalidate 丢弃缓存 Token，强制下次调用重新换取。
func (c *GigaChat) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *GigaChat) backoff(kind Kind, attempt int) time.Duration {
	base := c.cfg.RetryBackoff
	if kind == KindRateLimited {
		return base * time.Duration(1<<(attempt-1))
	}
	return base
}

func transportError(op string, err error) *ProviderError {
	kind := KindConnection
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		kind = KindTimeout
	}
	return &ProviderError{Kind: kind, Message: op + " 请求失败", Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
