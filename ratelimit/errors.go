package ratelimit

import "github.com/ceyewan/modelgate/xerrors"

var (
	// ErrStoreNil 未提供计数存储
	ErrStoreNil = xerrors.New("ratelimit: store is nil")

	// ErrIdentityEmpty 身份标识为空
	ErrIdentityEmpty = xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: identity is empty")

	// ErrInvalidLocation 无法解析的时区
	ErrInvalidLocation = xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit: invalid timezone")
)
