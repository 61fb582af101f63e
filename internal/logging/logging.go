// Package logging builds the process logger and turns the runner's
// "<tag> | <message>" event lines into slog records.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// New returns a tint text logger, or a JSON logger when format is "json".
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ParseLevel maps debug/info/warn/error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Split separates the tag from the message. Lines without a separator are
// attributed to System.
func Split(line string) (tag, message string) {
	tag, message, ok := strings.Cut(line, "|")
	if !ok {
		return "System", strings.TrimSpace(line)
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		tag = "System"
	}
	return tag, strings.TrimSpace(message)
}

// Classify derives the level from the status keywords in message.
func Classify(message string) slog.Level {
	switch {
	case strings.Contains(message, "Error"), strings.Contains(message, "Failed"):
		if strings.Contains(message, "Warning") {
			return slog.LevelWarn
		}
		return slog.LevelError
	case strings.Contains(message, "Warning"),
		strings.Contains(message, "Already Claimed"),
		strings.Contains(message, "Insufficient"):
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// EventSink returns a line logger that writes each event to l with the
// tag as the account attribute.
func EventSink(l *slog.Logger) func(string) {
	return func(line string) {
		tag, msg := Split(line)
		level := Classify(msg)
		if tag == "System" {
			l.Log(context.Background(), level, msg)
			return
		}
		l.Log(context.Background(), level, msg, "account", tag)
	}
}
