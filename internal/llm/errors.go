package llm

import (
	"fmt"
	"strings"
)

// Kind 是服务商调用失败的分类，决定重试与降级策略。
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindQuotaExhausted
	KindAuthFailed
	KindBadRequest
	KindTimeout
	KindConnection
	KindMalformed
)

// String 返回分类的可读名称。
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindAuthFailed:
		return "auth_failed"
	case KindBadRequest:
		return "bad_request"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ProviderError 描述一次服务商调用失败及其分类；StatusCode 为 0 表示传输层失败。
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable 报告该分类是否值得重试。
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

// classifyStatus 将 HTTP 状态码映射到失败分类。
func classifyStatus(code int) Kind {
	switch {
	case code == 429:
		return KindRateLimited
	case code == 402:
		return KindQuotaExhausted
	case code == 401 || code == 403:
		return KindAuthFailed
	case code >= 400 && code < 500:
		return KindBadRequest
	case code >= 500:
		return KindConnection
	default:
		return KindUnknown
	}
}

func statusError(op string, code int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return &ProviderError{
		Kind:       classifyStatus(code),
		StatusCode: code,
		Message:    fmt.Sprintf("%s 返回状态 %d: %s", op, code, msg),
	}
}
