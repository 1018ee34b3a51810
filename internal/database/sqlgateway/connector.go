package sqlgateway

import (
	"context"
	"time"

	"github.com/denismitr/heron/internal/retry"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	DefaultConnectionAttempts    = 100
	DefaultConnectionTimeout     = 60 * time.Second
	DefaultConnectionAttemptStep = 2 * time.Second
)

type ConnectOptions struct {
	MaxAttempts int
	MaxTimeout  time.Duration
	RetryStep   time.Duration
}

func NewDefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		MaxAttempts: DefaultConnectionAttempts,
		MaxTimeout:  DefaultConnectionTimeout,
		RetryStep:   DefaultConnectionAttemptStep,
	}
}

type Connector interface {
	Connect(ctx context.Context) (*sqlx.Conn, error)
	Timeout() time.Duration
	Close() error
}

// RetryingConnector hands out one dedicated connection. Advisory locks are
// held per session, so the runner does all its work on this connection.
type RetryingConnector struct {
	options *ConnectOptions
	db      *sqlx.DB
	conn    *sqlx.Conn
}

func MakeRetryingConnector(db *sqlx.DB, options *ConnectOptions) *RetryingConnector {
	if options == nil {
		options = NewDefaultConnectOptions()
	}

	return &RetryingConnector{db: db, options: options}
}

func (c *RetryingConnector) Timeout() time.Duration {
	return c.options.MaxTimeout
}

func (c *RetryingConnector) Connect(ctx context.Context) (*sqlx.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.MaxTimeout)
	defer cancel()

	result, err := retry.Incremental(ctx, c.options.RetryStep, c.options.MaxAttempts, func(attempt int) (interface{}, error) {
		conn, err := c.db.Connx(ctx)
		if err != nil {
			return nil, retry.Error(errors.Wrap(err, "could not establish DB connection"), attempt)
		}

		if err := Ping(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, retry.Error(err, attempt)
		}

		return conn, nil
	})

	if err != nil {
		return nil, err
	}

	conn, ok := result.(*sqlx.Conn)
	if !ok {
		panic("how could result not be an instance of *sqlx.Conn")
	}

	c.conn = conn

	return conn, nil
}

func (c *RetryingConnector) Close() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return errors.Wrap(err, "retrying connector could not close the connection")
		}
		c.conn = nil
	}

	return nil
}
