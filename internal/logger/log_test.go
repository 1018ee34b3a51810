package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type printerMock struct {
	lines []string
}

func (p *printerMock) Output(_ int, s string) error {
	p.lines = append(p.lines, s)
	return nil
}

func TestBWLogger(t *testing.T) {
	t.Run("debug and sql output is suppressed unless enabled", func(t *testing.T) {
		p := &printerMock{}
		lg := NewBWLogger(p, false, false)

		lg.Debugf("hidden %d", 1)
		lg.SQL("SELECT 1")
		lg.Infof("visible %s", "info")

		require.Len(t, p.lines, 1)
		assert.Equal(t, "Heron: visible info", p.lines[0])
	})

	t.Run("sql parameters are printed after the query", func(t *testing.T) {
		p := &printerMock{}
		lg := NewBWLogger(p, true, true)

		lg.SQL("UPDATE foo SET bar = ? WHERE id = ?", "baz", 2)

		require.Len(t, p.lines, 1)
		assert.Equal(t, "Heron running sql: UPDATE foo SET bar = ? WHERE id = ?\nquery parameters: {\"baz\"}, {2}", p.lines[0])
	})

	t.Run("errors and warnings are prefixed", func(t *testing.T) {
		p := &printerMock{}
		lg := NewBWLogger(p, false, false)

		lg.Warnf("duplicate %s", "state")
		lg.Error(errors.New("boom"))

		require.Len(t, p.lines, 2)
		assert.Equal(t, "Heron warning: duplicate state", p.lines[0])
		assert.Equal(t, "Heron error: boom", p.lines[1])
	})
}

func TestColoredLogger(t *testing.T) {
	p := &printerMock{}
	lg := NewColorLogger(p, true, true)

	lg.Successf("step %s done", "base")
	lg.SQL("SELECT 1")

	require.Len(t, p.lines, 2)
	assert.Contains(t, p.lines[0], "Heron: step base done")
	assert.Contains(t, p.lines[1], "Heron running sql: SELECT 1")
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lg := NewZapLogger(zap.New(core), true)

	lg.Infof("running %d steps", 3)
	lg.SQL("SELECT 1", 5)
	lg.Error(errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, "running 3 steps", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	assert.Equal(t, "running sql", entries[1].Message)
	assert.Equal(t, "SELECT 1", entries[1].ContextMap()["query"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}
