package policy

import "github.com/ceyewan/modelgate/xerrors"

var (
	// ErrInvalidChain 策略重复、顺序错误或为空
	ErrInvalidChain = xerrors.New("policy: invalid chain")

	// ErrTimeout 超时策略放弃等待
	ErrTimeout = xerrors.New("policy: operation timed out")

	// ErrBulkheadFull 舱壁已满（快速失败或排队超时）
	ErrBulkheadFull = xerrors.New("policy: bulkhead at capacity")

	// ErrRetriesExhausted 重试次数用尽，错误链中同时包含最后一次的错误
	ErrRetriesExhausted = xerrors.New("policy: retries exhausted")
)
