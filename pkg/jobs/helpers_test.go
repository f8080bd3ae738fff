package jobs

import (
	"context"

	"github.com/nimburion/monjobs/pkg/observability/logger"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                        {}
func (nopLogger) Info(string, ...any)                         {}
func (nopLogger) Warn(string, ...any)                         {}
func (nopLogger) Error(string, ...any)                        {}
func (l nopLogger) With(...any) logger.Logger                 { return l }
func (l nopLogger) WithContext(context.Context) logger.Logger { return l }
