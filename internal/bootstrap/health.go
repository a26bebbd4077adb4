package bootstrap

import (
	"github.com/floratech/rose-counter/internal/detector"
	"github.com/floratech/rose-counter/internal/health"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	tracker detector.Tracker,
	stores *Stores,
) *health.Handler {
	return health.NewHandler(db, redisClient, tracker, stores.Backend, version)
}

func requestMetricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(requestMetricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
