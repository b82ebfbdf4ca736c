package logging

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mapalert/go-map-alert/internal/config"
)

const serviceName = "map-alert"

// Setup installs the process-wide JSON logger. Every record carries a
// service attribute so lines from this process stay identifiable once
// aggregated.
func Setup(cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler).With("service", serviceName))
}

// Fatalf logs at error level and exits; for wiring failures in main before
// the server is up.
func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
