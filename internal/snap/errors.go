package snap

import (
	"context"
	"errors"
	"fmt"
)

// Reason 拒絕或失敗原因碼.
type Reason string

const (
	ReasonExpired            Reason = "expired"
	ReasonNotAParticipant    Reason = "not_a_participant"
	ReasonNoReplaysRemaining Reason = "no_replays_remaining"
	ReasonNotFound           Reason = "not_found"
	ReasonTransientNetwork   Reason = "transient_network"
	ReasonForbidden          Reason = "forbidden"
	ReasonInvalidArgument    Reason = "invalid_argument"
	ReasonInternal           Reason = "internal"
)

// 儲存層回傳的哨兵錯誤.
var (
	ErrMessageNotFound       = errors.New("snap: message not found")
	ErrRecordNotFound        = errors.New("snap: view record not found")
	ErrReplayBudgetExhausted = errors.New("snap: replay budget exhausted")
)

// Error 帶原因碼的領域錯誤.
type Error struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("snap: %s (%s): %v", e.Reason, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("snap: %s (%s)", e.Reason, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("snap: %s: %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("snap: %s", e.Reason)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError 建立領域錯誤.
func NewError(reason Reason, detail string, err error) *Error {
	return &Error{Reason: reason, Detail: detail, Err: err}
}

// Errorf 以格式化訊息建立領域錯誤.
func Errorf(reason Reason, format string, args ...interface{}) *Error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf 將任意錯誤歸類成原因碼，nil 回傳空字串.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}

	switch {
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrRecordNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrReplayBudgetExhausted):
		return ReasonNoReplaysRemaining
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonTransientNetwork
	default:
		return ReasonInternal
	}
}

// IsRejection 是否為業務拒絕（相對於基礎設施故障）.
func (r Reason) IsRejection() bool {
	switch r {
	case ReasonExpired, ReasonNotAParticipant, ReasonNoReplaysRemaining,
		ReasonNotFound, ReasonForbidden, ReasonInvalidArgument:
		return true
	default:
		return false
	}
}

func (r Reason) String() string {
	return string(r)
}
