// Package infrastructure provides reusable infrastructure components for Go applications.
package infrastructure

import (
	"fmt"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxEventLogger writes fx lifecycle events as structured zap entries.
// Successful steps log at debug; failures log at error.
type FxEventLogger struct {
	logger *zap.Logger
}

// NewFxLoggerAdapter returns an fxevent.Logger backed by logger.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return &FxEventLogger{logger: logger.Named("fx")}
}

// LogEvent implements fxevent.Logger.
func (l *FxEventLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		l.logger.Debug("OnStart hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStartExecuted:
		l.hookDone("OnStart", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		l.logger.Debug("OnStop hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStopExecuted:
		l.hookDone("OnStop", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		l.outcome("Supplied", e.Err, zap.String("type", e.TypeName), moduleField(e.ModuleName))
	case *fxevent.Provided:
		l.outcome("Provided", e.Err,
			zap.String("constructor", e.ConstructorName),
			zap.Strings("types", e.OutputTypeNames),
			moduleField(e.ModuleName))
	case *fxevent.Invoking:
		l.logger.Debug("Invoking", zap.String("function", e.FunctionName), moduleField(e.ModuleName))
	case *fxevent.Invoked:
		l.outcome("Invoked", e.Err, zap.String("function", e.FunctionName), moduleField(e.ModuleName))
	case *fxevent.Stopping:
		l.logger.Info("Received signal", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		l.outcome("Stopped", e.Err)
	case *fxevent.RollingBack:
		l.logger.Error("Start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		l.outcome("Rolled back", e.Err)
	case *fxevent.Started:
		if e.Err != nil {
			l.logger.Error("Start failed", zap.Error(e.Err))
		} else {
			l.logger.Info("Started")
		}
	case *fxevent.LoggerInitialized:
		l.outcome("Logger initialized", e.Err, zap.String("constructor", e.ConstructorName))
	default:
		l.logger.Debug("Unhandled fx event", zap.String("event", fmt.Sprintf("%T", event)))
	}
}

func (l *FxEventLogger) hookDone(hook, callee, caller, runtime string, err error) {
	fields := []zap.Field{
		zap.String("callee", callee),
		zap.String("caller", caller),
	}
	if err != nil {
		l.logger.Error(hook+" hook failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug(hook+" hook executed", append(fields, zap.String("runtime", runtime))...)
}

func (l *FxEventLogger) outcome(msg string, err error, fields ...zap.Field) {
	if err != nil {
		l.logger.Error(msg+" with error", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug(msg, fields...)
}

func moduleField(name string) zap.Field {
	if name == "" {
		return zap.Skip()
	}
	return zap.String("module", name)
}
