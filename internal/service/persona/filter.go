package persona

import (
	"strings"
	"unicode/utf8"

	"github.com/zacharykka/dialog-trainer/internal/config"
	"github.com/zacharykka/dialog-trainer/internal/domain"
)

// Verdict 是角色一致性检查的结论。
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictRoleBreak
	VerdictEmpty
)

// String 返回结论的可读名称。
func (v Verdict) String() string {
	switch v {
	case VerdictRoleBreak:
		return "role_break"
	case VerdictEmpty:
		return "empty"
	default:
		return "accepted"
	}
}

// 内置词表来自线上产品的俄语策略数据，配置可整体覆盖。
var defaultRoleBreakPhrases = []string{
	"я ассистент", "я бот", "я искусственный интеллект", "я тренажёр",
	"я нейросеть", "я не человек", "я создан", "я являюсь",
	"как ии", "как языковая модель", "я не обладаю", "я не существую",
	"я не личность", "я не реальный",
}

var defaultForbiddenKeywords = []string{
	"инструкция", "чат-бот", "искусственный интеллект", "нейросеть",
	"markdown", "алгоритмы", "языковая модель", "системный промпт",
	"я могу помочь", "ответы на вопросы", "я не способен", "сознание",
}

// 含这些短语的回复即使命中禁用词也放行：礼貌用语在角色内同样成立。
var softAllowedPhrases = []string{
	"спасибо", "прошу прощения", "извините", "могу ли я", "не могли бы вы",
	"поясните", "повторите", "уточнить", "можно вопрос", "разрешите",
	"я правильно понял", "не расслышал", "ещё раз", "благодарю",
	"всё понятно", "всё ясно",
}

// Rules 承载角色一致性过滤的词表与阈值。
type Rules struct {
	RoleBreakPhrases  []string
	ForbiddenKeywords []string
	SoftAllowed       []string
	MinLength         int
}

// NewRules 按配置构建规则，空词表回退到内置俄语默认值。
func NewRules(cfg config.SimulationConfig) Rules {
	rules := Rules{
		RoleBreakPhrases:  cfg.RoleBreakPhrases,
		ForbiddenKeywords: cfg.ForbiddenKeywords,
		SoftAllowed:       softAllowedPhrases,
		MinLength:         cfg.MinResponseLength,
	}
	if len(rules.RoleBreakPhrases) == 0 {
		rules.RoleBreakPhrases = defaultRoleBreakPhrases
	}
	if len(rules.ForbiddenKeywords) == 0 {
		rules.ForbiddenKeywords = defaultForbiddenKeywords
	}
	if rules.MinLength <= 0 {
		rules.MinLength = 3
	}
	return rules
}

// Filter 对模型回复做角色一致性裁决。
type Filter struct {
	rules Rules
}

// NewFilter 构建过滤器。
func NewFilter(rules Rules) *Filter {
	return &Filter{rules: rules}
}

// Evaluate 返回回复的裁决结论。检查顺序：长度 → 出戏短语 → 冒充用户角色 →
// 禁用词（软白名单可豁免）。
func (f *Filter) Evaluate(reply string, scenario *domain.Scenario) Verdict {
	trimmed := strings.TrimSpace(reply)
	if utf8.RuneCountInString(trimmed) < f.rules.MinLength {
		return VerdictEmpty
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range f.rules.RoleBreakPhrases {
		if strings.Contains(lower, phrase) {
			return VerdictRoleBreak
		}
	}

	if impersonatesUser(lower, scenario) {
		return VerdictRoleBreak
	}

	for _, keyword := range f.rules.ForbiddenKeywords {
		if strings.Contains(lower, keyword) {
			if f.softAllowed(lower) {
				return VerdictAccepted
			}
			return VerdictRoleBreak
		}
	}
	return VerdictAccepted
}

func (f *Filter) softAllowed(lower string) bool {
	if strings.Contains(lower, "спасибо за") {
		return true
	}
	for _, phrase := range f.rules.SoftAllowed {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// impersonatesUser 检查回复是否以用户角色的口吻开头（「продавец: ...」式前缀）。
func impersonatesUser(lower string, scenario *domain.Scenario) bool {
	userRole := strings.ToLower(strings.TrimSpace(scenario.UserRole))
	if userRole == "" {
		return false
	}
	if strings.HasPrefix(lower, userRole+":") {
		return true
	}
	return strings.Contains(lower, "\n"+userRole+":")
}
