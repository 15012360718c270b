// Package apperr 定义业务错误类型，携带稳定的机器可读错误码
package apperr

import (
	"errors"
	"fmt"
)

// Kind 稳定的机器可读错误码
type Kind string

const (
	KindAccessDenied           Kind = "ACCESS_DENIED"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidRequest         Kind = "INVALID_REQUEST"
	KindInsufficientFunds      Kind = "INSUFFICIENT_FUNDS"
	KindInsufficientCollateral Kind = "INSUFFICIENT_COLLATERAL"
	KindConflict               Kind = "CONFLICT"
	KindInternal               Kind = "INTERNAL"
)

// Error 业务错误，包含错误码与人类可读信息
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New 创建业务错误
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf 创建带格式化信息的业务错误
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf 提取错误码，非业务错误返回 INTERNAL
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否为指定错误码
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
