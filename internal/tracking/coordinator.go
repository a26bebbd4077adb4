package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/floratech/rose-counter/internal/detector"
	"github.com/floratech/rose-counter/internal/shared"
)

const (
	// DefaultCountUpdateInterval throttles display-count recomputation so
	// the shown value does not flicker frame-to-frame on transient
	// occlusion or misses.
	DefaultCountUpdateInterval = 2 * time.Second

	readRetryBackoff = 100 * time.Millisecond
)

// Archiver records terminal session stats in durable storage. Recording
// is best-effort; the persistent blob's history remains the source of
// truth for the counters.
type Archiver interface {
	Record(ctx context.Context, entry HistoryEntry) error
}

// FrameResult is what one processed frame reports back to the client.
type FrameResult struct {
	Annotated      []byte
	DisplayCount   int
	SessionUnique  int
	TotalUnique    int64
	CurrentInFrame int
	FPS            float64
	TrackedRoses   []detector.Detection
	CountUpdated   bool
	SessionNumber  int64
}

// FinalStats is returned by StopSession and, as a live projection, by
// SessionStats.
type FinalStats struct {
	SessionNumber        int64
	SessionUniqueRoses   int64
	TotalUniqueRoses     int64
	DurationSeconds      float64
	AverageFPS           float64
	TotalFramesProcessed int64
}

// Coordinator owns the session lifecycle: it creates sessions, folds
// detector output into per-session state frame by frame, and merges
// terminal counts into the cumulative totals on stop.
type Coordinator struct {
	sessions       SessionStore
	counters       CounterStore
	tracker        detector.Tracker
	archive        Archiver
	logger         *slog.Logger
	updateInterval time.Duration
	now            func() time.Time

	// Smoothed FPS is per coordinator instance: 1 / elapsed since the
	// previous frame this process handled.
	fpsMu       sync.Mutex
	lastFrameAt time.Time
	smoothedFPS float64
}

func NewCoordinator(
	sessions SessionStore,
	counters CounterStore,
	tracker detector.Tracker,
	archive Archiver,
	updateInterval time.Duration,
	logger *slog.Logger,
) *Coordinator {
	if updateInterval <= 0 {
		updateInterval = DefaultCountUpdateInterval
	}
	return &Coordinator{
		sessions:       sessions,
		counters:       counters,
		tracker:        tracker,
		archive:        archive,
		logger:         logger.With("component", "coordinator"),
		updateInterval: updateInterval,
		now:            time.Now,
	}
}

// StartSession creates an independent session: fresh ID, next number from
// the shared sequence, zeroed counters. It never fails because other
// sessions exist.
func (c *Coordinator) StartSession(ctx context.Context) (*Session, error) {
	id := shared.NewID("track_")

	number, err := c.counters.NextSessionNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("assign session number: %w", err)
	}

	sess := NewSession(id, number, c.now())
	if err := c.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// Informational only; a failed write here must not fail the start.
	if err := c.counters.SetLastSessionID(ctx, id); err != nil {
		c.logger.Warn("failed to record last session id", "session_id", id, "error", err)
	}

	c.logger.Info("session started", "session_id", id, "session_number", number)
	return sess, nil
}

// ProcessFrame runs one frame through the detector and folds the result
// into the session. Detector failures degrade to zero new detections; the
// frame still counts as processed and the previous display state is
// returned rather than an error.
func (c *Coordinator) ProcessFrame(ctx context.Context, sessionID string, frame []byte) (*FrameResult, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	fps := c.observeFPS(now)

	var detections []detector.Detection
	annotated := frame
	result, err := c.tracker.Track(ctx, frame)
	if err != nil {
		c.logger.Warn("detector failure, counting frame with zero detections",
			"session_id", sessionID, "error", err)
	} else {
		detections = result.Detections
		if len(result.Annotated) > 0 {
			annotated = result.Annotated
		}
	}

	sess.FrameCount++

	tracked := make([]detector.Detection, 0, len(detections))
	for _, d := range detections {
		if d.ID == nil {
			continue
		}
		sess.UniqueRoses.Add(*d.ID)
		tracked = append(tracked, d)
	}

	sess.PushFrameCount(len(detections))

	countUpdated := false
	if now.Sub(sess.LastCountUpdate) >= c.updateInterval {
		sess.DisplayCount = SmoothedCount(sess.FrameCounts)
		sess.LastCountUpdate = now
		countUpdated = true
	}
	sess.LastActiveAt = now

	if err := c.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", sessionID, err)
	}

	cumulative, err := c.cumulativeCount(ctx)
	if err != nil {
		return nil, err
	}

	return &FrameResult{
		Annotated:      annotated,
		DisplayCount:   sess.DisplayCount,
		SessionUnique:  sess.UniqueRoses.Len(),
		TotalUnique:    cumulative + int64(sess.UniqueRoses.Len()),
		CurrentInFrame: len(detections),
		FPS:            fps,
		TrackedRoses:   tracked,
		CountUpdated:   countUpdated,
		SessionNumber:  sess.Number,
	}, nil
}

// StopSession folds the session's terminal stats into the cumulative
// counters, archives them, and removes the live session. A delete failure
// after the fold is surfaced: a blind retry of stop would fold the count
// in twice.
func (c *Coordinator) StopSession(ctx context.Context, sessionID string) (*FinalStats, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	unique := int64(sess.UniqueRoses.Len())
	duration := now.Sub(sess.StartedAt).Seconds()
	if duration < 0 {
		duration = 0
	}
	var avgFPS float64
	if duration > 0 {
		avgFPS = float64(sess.FrameCount) / duration
	}

	entry := HistoryEntry{
		SessionID:       sess.ID,
		SessionNumber:   sess.Number,
		UniqueRoses:     unique,
		DurationSeconds: duration,
		AverageFPS:      avgFPS,
		TotalFrames:     sess.FrameCount,
		EndedAt:         now,
	}

	cumulative, err := c.counters.FoldSession(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("fold session %s: %w", sessionID, err)
	}

	if c.archive != nil {
		if err := c.archive.Record(ctx, entry); err != nil {
			c.logger.Warn("failed to archive session", "session_id", sessionID, "error", err)
		}
	}

	if err := c.sessions.Delete(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("delete session %s: %w", sessionID, err)
	}

	c.logger.Info("session stopped",
		"session_id", sessionID,
		"session_number", sess.Number,
		"unique_roses", unique,
		"cumulative", cumulative)

	return &FinalStats{
		SessionNumber:        sess.Number,
		SessionUniqueRoses:   unique,
		TotalUniqueRoses:     cumulative,
		DurationSeconds:      duration,
		AverageFPS:           avgFPS,
		TotalFramesProcessed: sess.FrameCount,
	}, nil
}

// SessionStats is the non-destructive view of StopSession's computation.
// Its total is a live projection: the persisted cumulative plus this
// session's not-yet-folded unique count.
func (c *Coordinator) SessionStats(ctx context.Context, sessionID string) (*FinalStats, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cumulative, err := c.cumulativeCount(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	unique := int64(sess.UniqueRoses.Len())
	duration := now.Sub(sess.StartedAt).Seconds()
	if duration < 0 {
		duration = 0
	}
	var avgFPS float64
	if duration > 0 {
		avgFPS = float64(sess.FrameCount) / duration
	}

	return &FinalStats{
		SessionNumber:        sess.Number,
		SessionUniqueRoses:   unique,
		TotalUniqueRoses:     cumulative + unique,
		DurationSeconds:      duration,
		AverageFPS:           avgFPS,
		TotalFramesProcessed: sess.FrameCount,
	}, nil
}

// TotalUniqueRoses is the exact global counter: stopped sessions only,
// excluding any in-flight contributions.
func (c *Coordinator) TotalUniqueRoses(ctx context.Context) (int64, error) {
	return c.cumulativeCount(ctx)
}

// StoreHealthy reports whether the backing stores are reachable, without
// side effects.
func (c *Coordinator) StoreHealthy(ctx context.Context) bool {
	return c.sessions.Ping(ctx) == nil && c.counters.Ping(ctx) == nil
}

// cumulativeCount reads the persisted cumulative counter, retrying the
// idempotent read once after a short backoff.
func (c *Coordinator) cumulativeCount(ctx context.Context) (int64, error) {
	data, err := c.counters.Data(ctx)
	if err == nil {
		return data.CumulativeSessionCount, nil
	}

	select {
	case <-time.After(readRetryBackoff):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	data, err = c.counters.Data(ctx)
	if err != nil {
		return 0, fmt.Errorf("read persistent counters: %w", err)
	}
	return data.CumulativeSessionCount, nil
}

func (c *Coordinator) observeFPS(now time.Time) float64 {
	c.fpsMu.Lock()
	defer c.fpsMu.Unlock()

	if !c.lastFrameAt.IsZero() {
		if elapsed := now.Sub(c.lastFrameAt).Seconds(); elapsed > 0 {
			c.smoothedFPS = 1 / elapsed
		}
	}
	c.lastFrameAt = now
	return c.smoothedFPS
}
