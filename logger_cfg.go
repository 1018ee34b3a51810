package heron

import (
	"github.com/denismitr/heron/internal/logger"
	"go.uber.org/zap"
)

func UseColorLogger(p logger.Printer, printSql, printDebug bool) OptionFunc {
	return func(r *Runner) error {
		r.lg = logger.NewColorLogger(p, printSql, printDebug)
		return nil
	}
}

func UseLogger(p logger.Printer, printSql, printDebug bool) OptionFunc {
	return func(r *Runner) error {
		r.lg = logger.NewBWLogger(p, printSql, printDebug)
		return nil
	}
}

// UseZapLogger sends runner output to a structured zap logger
func UseZapLogger(zl *zap.Logger, printSql bool) OptionFunc {
	return func(r *Runner) error {
		r.lg = logger.NewZapLogger(zl, printSql)
		return nil
	}
}
