package dialog

import "errors"

// 会话服务对外的业务错误。
var (
	ErrEmptyMessage       = errors.New("message text required")
	ErrDialogNotFound     = errors.New("dialog not found")
	ErrScenarioNotFound   = errors.New("scenario not found")
	ErrScenarioInactive   = errors.New("scenario is not active")
	ErrDialogCompleted    = errors.New("dialog already completed")
	ErrDialogNotCompleted = errors.New("dialog is not completed")
)
