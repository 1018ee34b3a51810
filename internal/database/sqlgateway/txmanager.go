package sqlgateway

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/denismitr/heron/internal/retry"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var (
	ErrTxDeadlock       = errors.New("transaction deadlock occurred")
	ErrUnknownIsolation = errors.New("unknown transaction isolation level")
)

const (
	DefaultDeadlockAttempts = 3
	DefaultDeadlockStep     = 200 * time.Millisecond
)

// TxConfig - configures tx
type TxConfig struct {
	Iso      sql.IsolationLevel
	ReadOnly bool
}

type TxConfigFunc func(*TxConfig)

// ISO - isolation level type
type ISO int

const (
	Default ISO = iota
	Serializable
	RepeatableRead
	ReadCommitted
)

// ParseISO reads an isolation level as written in configuration, the empty
// string is the engine default
func ParseISO(level string) (ISO, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(level, "_", " "))) {
	case "", "default":
		return Default, nil
	case "serializable":
		return Serializable, nil
	case "repeatable read":
		return RepeatableRead, nil
	case "read committed":
		return ReadCommitted, nil
	default:
		return Default, errors.Wrapf(ErrUnknownIsolation, "[%s]", level)
	}
}

// Isolation tx config function
func Isolation(iso ISO) TxConfigFunc {
	return func(txCfg *TxConfig) {
		switch iso {
		case Serializable:
			txCfg.Iso = sql.LevelSerializable
		case RepeatableRead:
			txCfg.Iso = sql.LevelRepeatableRead
		case ReadCommitted:
			txCfg.Iso = sql.LevelReadCommitted
		default:
			txCfg.Iso = sql.LevelDefault
		}
	}
}

type TxCallback func(context.Context, *sqlx.Tx) error

type TxManager interface {
	ReadOnly(context.Context, Beginner, TxCallback, ...TxConfigFunc) error
	ReadWrite(context.Context, Beginner, TxCallback, ...TxConfigFunc) error
}

// SqlxTxManager runs callbacks in a transaction, a transaction that failed
// on a deadlock is rolled back and started over
type SqlxTxManager struct {
	isDeadlock   func(error) bool
	iso          ISO
	attempts     int
	attemptDelay time.Duration
}

func NewTxManager(isDeadlock func(error) bool, iso ISO) *SqlxTxManager {
	return &SqlxTxManager{
		isDeadlock:   isDeadlock,
		iso:          iso,
		attempts:     DefaultDeadlockAttempts,
		attemptDelay: DefaultDeadlockStep,
	}
}

func (txm *SqlxTxManager) ReadOnly(
	ctx context.Context,
	b Beginner,
	cb TxCallback,
	cfn ...TxConfigFunc,
) error {
	txCfg := TxConfig{ReadOnly: true}
	Isolation(txm.iso)(&txCfg)

	for _, fn := range cfn {
		fn(&txCfg)
	}

	return txm.isolate(ctx, b, cb, txCfg)
}

func (txm *SqlxTxManager) ReadWrite(
	ctx context.Context,
	b Beginner,
	cb TxCallback,
	cfn ...TxConfigFunc,
) error {
	txCfg := TxConfig{ReadOnly: false}
	Isolation(txm.iso)(&txCfg)

	for _, fn := range cfn {
		fn(&txCfg)
	}

	var lastErr error
	_, err := retry.Incremental(ctx, txm.attemptDelay, txm.attempts, func(attempt int) (interface{}, error) {
		lastErr = txm.isolate(ctx, b, cb, txCfg)
		if errors.Is(lastErr, ErrTxDeadlock) {
			return nil, retry.Error(lastErr, attempt)
		}

		return nil, lastErr
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, retry.ErrTooManyAttempts):
		return errors.Wrap(ErrTxDeadlock, err.Error())
	case lastErr != nil:
		return lastErr
	default:
		return err
	}
}

func (txm *SqlxTxManager) isolate(
	ctx context.Context,
	b Beginner,
	cb TxCallback,
	txCfg TxConfig,
) error {
	txx, err := b.BeginTxx(ctx, &sql.TxOptions{ReadOnly: txCfg.ReadOnly, Isolation: txCfg.Iso})
	if err != nil {
		return errors.Wrapf(
			err,
			"could not start transaction. read-only: %v, isolation: %d",
			txCfg.ReadOnly, txCfg.Iso,
		)
	}

	if err := cb(ctx, txx); err != nil {
		if txm.isDeadlock != nil && txm.isDeadlock(errors.Cause(err)) {
			err = errors.Wrapf(
				ErrTxDeadlock,
				"read-only: %v, isolation: %d, on callback: %s",
				txCfg.ReadOnly, txCfg.Iso, err.Error(),
			)
		}

		if rbErr := txx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Wrap(err, " : ROLLBACK : "+rbErr.Error())
		}

		return err
	}

	if err := txx.Commit(); err != nil {
		if txm.isDeadlock != nil && txm.isDeadlock(errors.Cause(err)) {
			return errors.Wrapf(
				ErrTxDeadlock,
				"read-only: %v, isolation: %d, on commit: %s",
				txCfg.ReadOnly, txCfg.Iso, err.Error(),
			)
		}

		return errors.Wrapf(
			err,
			"could not commit transaction. read-only: %v, isolation: %d",
			txCfg.ReadOnly, txCfg.Iso,
		)
	}

	return nil
}
