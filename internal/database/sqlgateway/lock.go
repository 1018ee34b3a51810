package sqlgateway

import (
	"context"
)

// NullLocker is used where the engine has no advisory locks, or locking was
// switched off in configuration
type NullLocker struct{}

func (NullLocker) Lock(context.Context, CtxExecutor) error {
	return nil
}

func (NullLocker) Unlock(context.Context, CtxExecutor) error {
	return nil
}
