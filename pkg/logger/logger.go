// Package logger emits structured JSON events. Every log line carries an
// "event" name plus arbitrary fields, so downstream tooling can filter on
// event rather than parsing message strings.
package logger

import (
	"log/slog"
	"os"
)

var log *slog.Logger

func Init() {
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func fieldsToAttrs(fields map[string]interface{}) []any {
	attrs := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

func Info(event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	log.Info(event, fieldsToAttrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	log.Warn(event, fieldsToAttrs(fields)...)
}

func Error(event string, err error, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	attrs := fieldsToAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	log.Error(event, attrs...)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	attrs := append(fieldsToAttrs(fields), slog.String("user_id", userID))
	log.Info(event, attrs...)
}

func WarnWithUser(userID, event string, fields map[string]interface{}) {
	if log == nil {
		Init()
	}
	attrs := append(fieldsToAttrs(fields), slog.String("user_id", userID))
	log.Warn(event, attrs...)
}
