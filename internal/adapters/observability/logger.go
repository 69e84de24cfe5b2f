package observability

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// DefaultTimeFormat renders timestamps as microsecond ISO-8601 local time.
const DefaultTimeFormat = "2006-01-02T15:04:05.000000"

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	TimeFormat string `yaml:"time_format"`
}

// NewLogger builds the slog logger handed to every component. The time format
// is applied to the record time and to any time.Time attribute.
func NewLogger(w io.Writer, cfg LoggingConfig) *slog.Logger {
	layout := cfg.TimeFormat
	if layout == "" {
		layout = DefaultTimeFormat
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindTime {
				return slog.String(a.Key, a.Value.Time().Format(layout))
			}
			return a
		},
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// FormatTime renders t with layout, falling back to DefaultTimeFormat.
func FormatTime(t time.Time, layout string) string {
	if layout == "" {
		layout = DefaultTimeFormat
	}
	return t.Format(layout)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
