package bootstrap

import (
	"log/slog"
	"os"

	"github.com/floratech/rose-counter/internal/tracking"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideTrackingHandler(coordinator *tracking.Coordinator, logger *slog.Logger) *tracking.Handler {
	return tracking.NewHandler(coordinator, logger)
}

func RegisterRoutes(e *echo.Echo, handler *tracking.Handler) {
	handler.RegisterRoutes(e.Group(""))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideTrackingHandler,
	),
	fx.Invoke(RegisterRoutes),
)
