package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floratech/rose-counter/internal/detector"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Backend names mirror the configuration values for state management.
const (
	BackendRedis  = "redis"
	BackendMemory = "in-memory"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type RequestStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int64  `json:"active_connections"`
}

type ReadinessResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Requests      RequestStats               `json:"requests"`
	Runtime       RuntimeStats               `json:"runtime"`
	Components    map[string]ComponentStatus `json:"components"`
}

// LivenessResponse keeps the wire shape clients already poll.
type LivenessResponse struct {
	Status          string `json:"status"`
	Redis           string `json:"redis"`
	StateManagement string `json:"state_management"`
	Message         string `json:"message"`
}

type Handler struct {
	db        *gorm.DB
	redis     *redis.Client
	tracker   detector.Tracker
	backend   string
	version   string
	startTime time.Time

	totalRequests     uint64
	activeConnections int64
}

func NewHandler(db *gorm.DB, redisClient *redis.Client, tracker detector.Tracker, backend, version string) *Handler {
	return &Handler{
		db:        db,
		redis:     redisClient,
		tracker:   tracker,
		backend:   backend,
		version:   version,
		startTime: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

func (h *Handler) IncrementConnections() {
	atomic.AddInt64(&h.activeConnections, 1)
}

func (h *Handler) DecrementConnections() {
	atomic.AddInt64(&h.activeConnections, -1)
}

// Liveness answers "is the shared store reachable" without side effects.
// With the in-process backend there is no store to reach, so the process
// being up is enough.
func (h *Handler) Liveness(c echo.Context) error {
	if h.backend != BackendRedis {
		return c.JSON(http.StatusOK, LivenessResponse{
			Status:          "healthy",
			Redis:           "disabled",
			StateManagement: BackendMemory,
			Message:         "Application is running normally (single-worker mode)",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, LivenessResponse{
			Status:          "unhealthy",
			Redis:           "disconnected",
			StateManagement: BackendRedis,
			Message:         "Redis connection failed",
		})
	}

	return c.JSON(http.StatusOK, LivenessResponse{
		Status:          "healthy",
		Redis:           "connected",
		StateManagement: BackendRedis,
		Message:         "Application is running normally with Redis",
	})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"redis", h.checkRedis},
		{"database", h.checkDatabase},
		{"detector", h.checkDetector},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()

	overallStatus := h.computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := ReadinessResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Requests: RequestStats{
			TotalRequests:     atomic.LoadUint64(&h.totalRequests),
			ActiveConnections: atomic.LoadInt64(&h.activeConnections),
		},
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: memStats.Alloc / 1024 / 1024,
			MemorySysMB:   memStats.Sys / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, resp)
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.backend != BackendRedis {
		return ComponentStatus{
			Status:    StatusHealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "redis disabled",
		}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.db == nil {
		// Archive database is optional.
		return ComponentStatus{
			Status:    StatusHealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "database not configured",
		}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "failed to get underlying db",
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkDetector(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.tracker == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "detector not configured",
		}
	}

	if !h.tracker.Healthy(ctx) {
		return ComponentStatus{
			Status:    StatusDegraded,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "detector sidecar unreachable",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) computeOverallStatus(components map[string]ComponentStatus) Status {
	// The session store is the only critical dependency; a sick detector
	// degrades frames but the API stays up.
	if status, ok := components["redis"]; ok && status.Status == StatusUnhealthy {
		return StatusUnhealthy
	}

	for _, status := range components {
		if status.Status != StatusHealthy {
			return StatusDegraded
		}
	}
	return StatusHealthy
}
