package errprocess

import (
	"errors"
	"fmt"

	"video_processing_service/pkg/logger"
)

// 錯誤種類，使用 errors.Is 判斷
var (
	// ErrValidation input rejected before any side effect
	ErrValidation = errors.New("validation error")
	// ErrNotFound entity or object absent
	ErrNotFound = errors.New("not found")
	// ErrConflict state machine refused the transition
	ErrConflict = errors.New("conflict")
	// ErrToolExecution external media tool failed or timed out
	ErrToolExecution = errors.New("tool execution error")
	// ErrPersistence database write or transaction failure
	ErrPersistence = errors.New("persistence error")
	// ErrStorage object storage failure other than not found
	ErrStorage = errors.New("storage error")
	// ErrTransport event channel failure
	ErrTransport = errors.New("transport error")
)

// Error 帶種類的錯誤
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s : %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Is match on the kind so callers can test errors.Is(err, ErrNotFound)
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New create a kinded error without logging
func New(kind error, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Newf create a kinded error with a formatted message
func Newf(kind error, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// SetKind 記錄並回傳帶種類的錯誤
func SetKind(kind error, errMsg string, cause error) error {
	err := New(kind, errMsg, cause)
	logger.Log.Error(err.Error())
	return err
}

// IsRetryable 判斷是否值得再投遞一次
// 驗證、找不到、狀態衝突都不會因為重試而成功
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrConflict)
}
