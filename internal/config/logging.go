package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates a dual-output logger: text to stderr, JSON to
// file. Secret values are masked before any handler sees them.
// Returns the logger and a cleanup function to close the file.
func SetupLogger(logFile string, level slog.Level, secrets []string) (*slog.Logger, func() error) {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	noop := func() error { return nil }

	if logFile == "" {
		return slog.New(redacted(stderrHandler, secrets)), noop
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Fall back to stderr-only if file fails
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return slog.New(redacted(stderrHandler, secrets)), noop
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(redacted(slogmulti.Fanout(stderrHandler, fileHandler), secrets))

	return logger, func() error { return file.Close() }
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level, secrets []string) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(redacted(slogmulti.Fanout(stderrHandler, fileHandler), secrets))
}

const mask = "[redacted]"

func redacted(next slog.Handler, secrets []string) slog.Handler {
	if len(secrets) == 0 {
		return next
	}
	mw := slogmulti.NewHandleInlineMiddleware(func(ctx context.Context, record slog.Record, handle func(context.Context, slog.Record) error) error {
		clean := slog.NewRecord(record.Time, record.Level, redactString(record.Message, secrets), record.PC)
		record.Attrs(func(a slog.Attr) bool {
			clean.AddAttrs(redactAttr(a, secrets))
			return true
		})
		return handle(ctx, clean)
	})
	return slogmulti.Pipe(mw).Handler(next)
}

func redactAttr(a slog.Attr, secrets []string) slog.Attr {
	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		return slog.String(a.Key, redactString(val.String(), secrets))
	case slog.KindGroup:
		attrs := val.Group()
		clean := make([]any, 0, len(attrs))
		for _, ga := range attrs {
			clean = append(clean, redactAttr(ga, secrets))
		}
		return slog.Group(a.Key, clean...)
	default:
		return a
	}
}

func redactString(s string, secrets []string) string {
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, mask)
	}
	return s
}
