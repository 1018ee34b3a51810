package mysql

import (
	"context"
	"database/sql"

	"github.com/denismitr/heron/internal/database"
	"github.com/pkg/errors"
)

const DefaultLockKey = "heron_steps"
const DefaultLockSeconds = 3

var ErrLockNotAcquired = errors.New("MySQL lock was not acquired")

type Options struct {
	database.CommonOptions
	LockKey string
	LockFor int
	NoLock  bool
	Charset string
}

type Locker struct {
	lockKey string
	lockFor int
	noLock  bool
}

func NewLocker(lockKey string, lockFor int, noLock bool) *Locker {
	if lockKey == "" {
		lockKey = DefaultLockKey
	}

	if lockFor <= 0 {
		lockFor = DefaultLockSeconds
	}

	return &Locker{lockKey: lockKey, lockFor: lockFor, noLock: noLock}
}

func (l *Locker) Lock(ctx context.Context, ex database.CtxExecutor) error {
	if l.noLock {
		return nil
	}

	// GET_LOCK returns 1 on success, 0 on timeout and NULL on error
	var acquired sql.NullInt64
	if err := ex.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.lockKey, l.lockFor).Scan(&acquired); err != nil {
		return errors.Wrapf(err, "could not obtain [%s] exclusive MySQL DB lock for [%d] seconds", l.lockKey, l.lockFor)
	}

	if !acquired.Valid || acquired.Int64 != 1 {
		return errors.Wrapf(ErrLockNotAcquired, "[%s] is held by another session after waiting [%d] seconds", l.lockKey, l.lockFor)
	}

	return nil
}

func (l *Locker) Unlock(ctx context.Context, ex database.CtxExecutor) error {
	if l.noLock {
		return nil
	}

	if _, err := ex.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockKey); err != nil {
		return errors.Wrapf(err, "could not release [%s] exclusive MySQL DB lock", l.lockKey)
	}

	return nil
}
