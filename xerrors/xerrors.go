// Package xerrors 提供网关各组件共享的错误工具。
//
// 熔断器、重试策略和网关都依赖这里的错误类别判断一个错误是否应计入失败或被重试：
// 调用方错误（ErrInvalidInput、context.Canceled）既不重试也不计数。
package xerrors

import (
	"context"
	"errors"
	"fmt"
)

// 跨组件共享的错误类别
var (
	// ErrNotFound 资源不存在（存储未命中、未知的熔断器等）
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput 调用方输入错误
	ErrInvalidInput = errors.New("invalid input")
)

var (
	New = errors.New
	Is  = errors.Is
	As  = errors.As
)

// Wrap 在 err 前加上 msg，err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 同 Wrap，msg 由 format 生成
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCallerError 非法输入或调用方主动取消
func IsCallerError(err error) bool {
	return err != nil && (errors.Is(err, ErrInvalidInput) || errors.Is(err, context.Canceled))
}

// Coder 带机器可读错误码的错误，网关的错误类型都实现了它
type Coder interface {
	error
	Code() string
}

type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return "[" + e.code + "] " + e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }
func (e *codedError) Code() string  { return e.code }

// WithCode 给 err 附加错误码
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// GetCode 返回错误链中第一个 Coder 的错误码，没有时为空串
func GetCode(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// Collector 只保留第一个非 nil 错误，用于"尽量做完，报告首个失败"的循环
type Collector struct {
	first error
	count int
}

// Collect 记录一个错误，nil 被忽略
func (c *Collector) Collect(err error) {
	if err == nil {
		return
	}
	c.count++
	if c.first == nil {
		c.first = err
	}
}

// Err 第一个错误；多于一个时附上被省略的数量
func (c *Collector) Err() error {
	if c.count > 1 {
		return fmt.Errorf("%w (and %d more)", c.first, c.count-1)
	}
	return c.first
}

// Combine 合并多个错误，全部为 nil 时返回 nil，只有一个时原样返回
func Combine(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return errors.Join(kept...)
}
