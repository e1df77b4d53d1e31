// Package xerrors 提供带类型、业务码与堆栈的统一错误模型，定价流程中的可预期失败都以它表达。
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
)

// ErrorType 错误的大类
type ErrorType uint

const (
	ErrUnknown ErrorType = iota
	ErrInternal
	ErrInvalidArg
	ErrNotFound
	ErrFailedPrecondition
	ErrDeadlineExceeded
	ErrUnavailable
)

var typeNames = [...]string{
	"Unknown", "Internal", "InvalidArg", "NotFound", "FailedPrecondition", "DeadlineExceeded", "Unavailable",
}

func (t ErrorType) String() string {
	if int(t) >= len(typeNames) {
		return typeNames[ErrUnknown]
	}
	return typeNames[t]
}

// Error 定价错误。Code 为六位业务码，前三位沿用状态码语义。
type Error struct {
	Type    ErrorType      `json:"type"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Detail  string         `json:"detail"`
	Cause   error          `json:"-"`
	Stack   []string       `json:"stack"`
	Context map[string]any `json:"context"` // product_key、reason 等
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%d): %s", e.Type, e.Code, e.Message)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is 以类型与业务码判定是否为同一类错误，供 errors.Is 与哨兵错误比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// New 创建错误并记录调用位置。
func New(errType ErrorType, code int, message string, detail string, cause error) *Error {
	e := &Error{
		Type:    errType,
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
		Context: make(map[string]any),
	}
	e.Stack = callers(3)
	return e
}

// callers 最多记录 8 层调用栈，skip 从 runtime.Callers 起算。
func callers(skip int) []string {
	var pcs [8]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		f, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", f.File, f.Line, f.Function))
		if !more {
			return stack
		}
	}
}

// WithContext 附加上下文键值，返回自身便于链式调用。
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Derive 基于哨兵错误派生一个新实例，保留类型、业务码与消息。
// 哨兵本身是共享的，不能直接修改其 Context。
func (e *Error) Derive(format string, args ...any) *Error {
	d := &Error{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Detail:  fmt.Sprintf(format, args...),
		Context: make(map[string]any),
	}
	d.Stack = callers(3)
	return d
}

// Wrap 包装底层错误；链上已有 *Error 时沿用其类型与业务码。
func Wrap(err error, errType ErrorType, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := FromError(err); ok {
		return New(e.Type, e.Code, msg, e.Detail, err)
	}
	return New(errType, int(errType), msg, "", err)
}

// WrapInternal 包装存储、缓存等基础设施错误。
func WrapInternal(err error, msg string) *Error {
	return Wrap(err, ErrInternal, msg)
}

// GRPCCode 映射为 gRPC 状态码，日志与重试策略按它分类。
func (e *Error) GRPCCode() codes.Code {
	switch e.Type {
	case ErrInvalidArg:
		return codes.InvalidArgument
	case ErrNotFound:
		return codes.NotFound
	case ErrFailedPrecondition:
		return codes.FailedPrecondition
	case ErrDeadlineExceeded:
		return codes.DeadlineExceeded
	case ErrUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Temporary 报告重试是否可能成功：输入、配置与前置条件类错误重试无意义。
func (e *Error) Temporary() bool {
	switch e.GRPCCode() {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
		return false
	default:
		return true
	}
}

// FromError 沿错误链查找 *Error
func FromError(err error) (*Error, bool) {
	var e *Error
	if err != nil && errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
