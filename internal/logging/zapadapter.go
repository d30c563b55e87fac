package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapAdapter forwards zap output into our Logger so libraries speaking zap
// share the process's single JSON stream.
type zapAdapter struct {
	logger *Logger
}

// NewZapLogger returns a *zap.Logger whose entries are written by logger.
func NewZapLogger(logger *Logger) *zap.Logger {
	return zap.New(&zapAdapter{logger: logger})
}

func zapLevel(level zapcore.Level) Level {
	switch level {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// Enabled implements zapcore.Core.
func (a *zapAdapter) Enabled(level zapcore.Level) bool {
	return a.logger.enabled(zapLevel(level))
}

// With implements zapcore.Core.
func (a *zapAdapter) With(fields []zapcore.Field) zapcore.Core {
	return &zapAdapter{logger: a.logger.WithFields(fieldMap(fields))}
}

// Check implements zapcore.Core.
func (a *zapAdapter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(ent.Level) {
		return ce.AddCore(ent, a)
	}
	return ce
}

// Write implements zapcore.Core.
func (a *zapAdapter) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	f := fieldMap(fields)
	if ent.Caller.Defined {
		f["caller"] = ent.Caller.TrimmedPath()
	}
	a.logger.write(zapLevel(ent.Level), ent.Message, f)
	return nil
}

// Sync implements zapcore.Core.
func (a *zapAdapter) Sync() error { return nil }

// fieldMap flattens zap fields through a throwaway map encoder.
func fieldMap(fields []zapcore.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}
