package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldSession is the structured log field key for the interview session id.
	FieldSession = "session_id"
	// FieldStage is the structured log field key for the interview stage.
	FieldStage = "stage"
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// SessionFields returns the standard fields describing one interview session,
// followed by any extra fields. Empty values are ignored to keep log entries
// compact.
func SessionFields(sessionID, stage string, extra ...zap.Field) []zap.Field {
	fields := StringFields(
		StringField{Key: FieldSession, Value: sessionID},
		StringField{Key: FieldStage, Value: stage},
	)
	return append(fields, extra...)
}

// WithSession attaches the session fields to the provided logger, creating a
// no-op logger when nil to avoid panics.
func WithSession(logger *zap.Logger, sessionID, stage string) *zap.Logger {
	return WithFields(logger, SessionFields(sessionID, stage)...)
}
