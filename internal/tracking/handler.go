package tracking

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/floratech/rose-counter/internal/detector"
	"github.com/floratech/rose-counter/internal/dto"
	"github.com/floratech/rose-counter/internal/shared"
	"github.com/labstack/echo/v4"
)

const sessionHeader = "X-Session-ID"

type Handler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

func NewHandler(coordinator *Coordinator, logger *slog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		logger:      logger.With("handler", "tracking"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/track/realtime/start", h.StartStream)
	g.POST("/track/realtime/stream", h.StreamFrame)
	g.POST("/track/realtime/stop", h.StopStream)
	g.GET("/track/realtime/stream/ws", h.StreamSocket)
	g.GET("/track/realtime/session", h.SessionInfo)
	g.GET("/track/realtime/roses-count", h.TotalRoses)
}

func (h *Handler) StartStream(c echo.Context) error {
	sess, err := h.coordinator.StartSession(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to start session", "error", err)
		return shared.ServiceUnavailable("start_failed", "failed to start tracking session")
	}

	return c.JSON(http.StatusOK, dto.StartResponse{
		Status:        "success",
		SessionID:     sess.ID,
		SessionNumber: sess.Number,
		Message:       "Tracking session started",
	})
}

func (h *Handler) StreamFrame(c echo.Context) error {
	sessionID, err := requireSessionID(c)
	if err != nil {
		return err
	}

	var req dto.FrameRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	frame, err := decodeFrame(req.Image)
	if err != nil {
		return shared.BadRequest("invalid_frame", "frame could not be decoded")
	}

	result, err := h.coordinator.ProcessFrame(c.Request().Context(), sessionID, frame)
	if err != nil {
		return h.mapError(err, "process frame")
	}

	return c.JSON(http.StatusOK, frameResponse(result))
}

func (h *Handler) StopStream(c echo.Context) error {
	sessionID, err := requireSessionID(c)
	if err != nil {
		return err
	}

	stats, err := h.coordinator.StopSession(c.Request().Context(), sessionID)
	if err != nil {
		return h.mapError(err, "stop session")
	}

	return c.JSON(http.StatusOK, dto.StopResponse{
		Status:       "success",
		Message:      "Stream stopped and session ended",
		SessionStats: statsResponse(stats),
	})
}

func (h *Handler) SessionInfo(c echo.Context) error {
	sessionID, err := requireSessionID(c)
	if err != nil {
		return err
	}

	stats, err := h.coordinator.SessionStats(c.Request().Context(), sessionID)
	if err != nil {
		return h.mapError(err, "get session stats")
	}

	return c.JSON(http.StatusOK, dto.SessionInfoResponse{
		Status:       "success",
		SessionStats: statsResponse(stats),
	})
}

func (h *Handler) TotalRoses(c echo.Context) error {
	total, err := h.coordinator.TotalUniqueRoses(c.Request().Context())
	if err != nil {
		return h.mapError(err, "get total roses")
	}

	return c.JSON(http.StatusOK, dto.TotalRosesResponse{
		Status:           "success",
		TotalUniqueRoses: total,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) mapError(err error, op string) error {
	switch {
	case errors.Is(err, shared.ErrSessionNotFound):
		return shared.NotFound("session_not_found", "session not found or expired")
	case errors.Is(err, shared.ErrSerialization), errors.Is(err, shared.ErrStoreUnavailable):
		h.logger.Error("store failure", "op", op, "error", err)
		return shared.ServiceUnavailable("store_unavailable", "backing store unavailable")
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		return shared.InternalError("internal_error", "request failed")
	}
}

func requireSessionID(c echo.Context) (string, error) {
	sessionID := c.Request().Header.Get(sessionHeader)
	if sessionID == "" {
		return "", shared.BadRequest("missing_session_id", "Missing session ID")
	}
	return sessionID, nil
}

// decodeFrame turns a data-URL or bare base64 payload into raw image
// bytes, verifying they decode as an image before any state changes.
func decodeFrame(payload string) ([]byte, error) {
	if payload == "" {
		return nil, shared.ErrInvalidFrame
	}

	if strings.HasPrefix(payload, "data:") {
		_, after, found := strings.Cut(payload, ",")
		if !found {
			return nil, shared.ErrInvalidFrame
		}
		payload = after
	}

	frame, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrInvalidFrame, err)
	}

	return validateFrame(frame)
}

func validateFrame(frame []byte) ([]byte, error) {
	if _, _, err := image.DecodeConfig(bytes.NewReader(frame)); err != nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrInvalidFrame, err)
	}
	return frame, nil
}

func frameResponse(result *FrameResult) dto.FrameResponse {
	tracked := make([]dto.TrackedRose, 0, len(result.TrackedRoses))
	for _, d := range result.TrackedRoses {
		tracked = append(tracked, trackedRose(d))
	}

	resp := dto.FrameResponse{
		Status:         "success",
		Count:          result.DisplayCount,
		SessionUnique:  result.SessionUnique,
		TotalUnique:    result.TotalUnique,
		CurrentInFrame: result.CurrentInFrame,
		FPS:            result.FPS,
		TrackedRoses:   tracked,
		CountUpdated:   result.CountUpdated,
		SessionNumber:  result.SessionNumber,
	}
	if len(result.Annotated) > 0 {
		resp.Image = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(result.Annotated)
	}
	return resp
}

func trackedRose(d detector.Detection) dto.TrackedRose {
	rose := dto.TrackedRose{BBox: d.BBox, Confidence: d.Confidence}
	if d.ID != nil {
		rose.ID = *d.ID
	}
	return rose
}

func statsResponse(stats *FinalStats) dto.SessionStats {
	return dto.SessionStats{
		SessionNumber:        stats.SessionNumber,
		SessionUniqueRoses:   stats.SessionUniqueRoses,
		TotalUniqueRoses:     stats.TotalUniqueRoses,
		Duration:             stats.DurationSeconds,
		AverageFPS:           stats.AverageFPS,
		TotalFramesProcessed: stats.TotalFramesProcessed,
	}
}
