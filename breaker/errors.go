package breaker

import (
	"fmt"
	"time"

	"github.com/ceyewan/modelgate/xerrors"
)

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: key is empty")

	// ErrInvalidMode 未知的跳闸模式
	ErrInvalidMode = xerrors.New("breaker: mode must be consecutive or ratio")

	// ErrInvalidRatio 失败率超出 (0, 1]
	ErrInvalidRatio = xerrors.New("breaker: failure ratio must be in (0, 1]")

	// ErrOpenState 熔断器处于打开状态，或半开状态下试探名额已满
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")
)

// OpenError 熔断拒绝，携带依赖名和剩余的打开时长
type OpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("breaker: circuit %q is open, retry after %s", e.Key, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("breaker: circuit %q is open", e.Key)
}

// Is 使 errors.Is(err, ErrOpenState) 成立
func (e *OpenError) Is(target error) bool {
	return target == ErrOpenState
}
