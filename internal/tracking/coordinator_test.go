package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/floratech/rose-counter/internal/detector"
	"github.com/floratech/rose-counter/internal/shared"
)

type fakeTracker struct {
	results [][]int64
	fail    bool
	calls   int
}

func (f *fakeTracker) Track(_ context.Context, frame []byte) (*detector.Result, error) {
	defer func() { f.calls++ }()
	if f.fail {
		return nil, errors.New("model crashed")
	}

	var ids []int64
	if f.calls < len(f.results) {
		ids = f.results[f.calls]
	}
	detections := make([]detector.Detection, len(ids))
	for i := range ids {
		id := ids[i]
		detections[i] = detector.Detection{ID: &id, Confidence: 0.9}
	}
	return &detector.Result{Detections: detections, Annotated: frame}, nil
}

func (f *fakeTracker) Healthy(context.Context) bool { return !f.fail }

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCoordinator(t *testing.T, tracker detector.Tracker) (*Coordinator, *MemorySessionStore, *MemoryCounterStore, *testClock) {
	t.Helper()

	sessions := NewMemorySessionStore(time.Hour)
	t.Cleanup(sessions.Close)
	counters := NewMemoryCounterStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	clock := &testClock{t: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	c := NewCoordinator(sessions, counters, tracker, nil, 2*time.Second, logger)
	c.now = clock.Now
	sessions.now = clock.Now
	return c, sessions, counters, clock
}

func TestCoordinatorUniqueCountScenario(t *testing.T) {
	// Frames return ids [1,2], [1,3], [4]: four distinct roses.
	tracker := &fakeTracker{results: [][]int64{{1, 2}, {1, 3}, {4}}}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	sess, err := c.StartSession(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Number != 1 {
		t.Errorf("expected session number 1, got %d", sess.Number)
	}

	uniques := []int{2, 3, 4}
	for i := 0; i < 3; i++ {
		clock.Advance(100 * time.Millisecond)
		result, err := c.ProcessFrame(ctx, sess.ID, []byte("frame"))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if result.SessionUnique != uniques[i] {
			t.Errorf("frame %d: expected %d unique, got %d", i, uniques[i], result.SessionUnique)
		}
		// Nothing folded yet, so the total is the live projection.
		if result.TotalUnique != int64(uniques[i]) {
			t.Errorf("frame %d: expected total %d, got %d", i, uniques[i], result.TotalUnique)
		}
	}

	stats, err := c.StopSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stats.SessionUniqueRoses != 4 {
		t.Errorf("expected 4 unique roses, got %d", stats.SessionUniqueRoses)
	}
	if stats.TotalUniqueRoses != 4 {
		t.Errorf("expected cumulative 4, got %d", stats.TotalUniqueRoses)
	}
	if stats.TotalFramesProcessed != 3 {
		t.Errorf("expected 3 frames, got %d", stats.TotalFramesProcessed)
	}

	// The session is gone once stopped.
	if _, err := c.SessionStats(ctx, sess.ID); !errors.Is(err, shared.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after stop, got %v", err)
	}
}

// Track identities reset across sessions, so the same physical roses
// re-detected in a second session count again. Documented behavior, not
// a bug to fix here.
func TestCoordinatorCrossSessionDoubleCount(t *testing.T) {
	tracker := &fakeTracker{results: [][]int64{{1, 2}, {1, 2, 3}}}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	first, err := c.StartSession(ctx)
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := c.ProcessFrame(ctx, first.ID, []byte("frame")); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := c.StopSession(ctx, first.ID); err != nil {
		t.Fatalf("stop first: %v", err)
	}

	second, err := c.StartSession(ctx)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if second.Number != 2 {
		t.Errorf("expected session number 2, got %d", second.Number)
	}
	clock.Advance(time.Second)
	if _, err := c.ProcessFrame(ctx, second.ID, []byte("frame")); err != nil {
		t.Fatalf("second frame: %v", err)
	}
	stats, err := c.StopSession(ctx, second.ID)
	if err != nil {
		t.Fatalf("stop second: %v", err)
	}

	if stats.TotalUniqueRoses != 5 {
		t.Errorf("expected cumulative 5 (2+3, no cross-session dedup), got %d", stats.TotalUniqueRoses)
	}

	total, err := c.TotalUniqueRoses(ctx)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != 5 {
		t.Errorf("expected global total 5, got %d", total)
	}
}

func TestCoordinatorDisplayCountThrottle(t *testing.T) {
	// Every frame sees 3 roses; the display only updates once per
	// interval regardless of frame rate.
	results := make([][]int64, 0, 40)
	for i := 0; i < 40; i++ {
		results = append(results, []int64{1, 2, 3})
	}
	tracker := &fakeTracker{results: results}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	sess, err := c.StartSession(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	updates := 0
	for i := 0; i < 20; i++ {
		clock.Advance(250 * time.Millisecond)
		result, err := c.ProcessFrame(ctx, sess.ID, []byte("frame"))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if result.CountUpdated {
			updates++
			if result.DisplayCount != 3 {
				t.Errorf("frame %d: expected display 3, got %d", i, result.DisplayCount)
			}
		}
	}

	// 20 frames at 4/s over 5s with a 2s interval: updates at 2s, 4s, 5s
	// boundaries only.
	if updates < 2 || updates > 3 {
		t.Errorf("expected 2-3 display updates over 5s, got %d", updates)
	}
}

func TestCoordinatorDisplayCountStableBetweenUpdates(t *testing.T) {
	tracker := &fakeTracker{results: [][]int64{{1, 2, 3, 4, 5}, {1}, {1}}}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	sess, _ := c.StartSession(ctx)

	clock.Advance(3 * time.Second)
	first, err := c.ProcessFrame(ctx, sess.ID, []byte("frame"))
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if !first.CountUpdated {
		t.Fatal("expected update on first frame past the interval")
	}

	// Inside the throttle window the display keeps its last value even
	// though the window contents changed.
	clock.Advance(100 * time.Millisecond)
	second, err := c.ProcessFrame(ctx, sess.ID, []byte("frame"))
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if second.CountUpdated {
		t.Error("expected no update inside throttle window")
	}
	if second.DisplayCount != first.DisplayCount {
		t.Errorf("display drifted between updates: %d -> %d", first.DisplayCount, second.DisplayCount)
	}
}

func TestCoordinatorDetectorFailureDegrades(t *testing.T) {
	tracker := &fakeTracker{fail: true}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	sess, _ := c.StartSession(ctx)
	clock.Advance(time.Second)

	frame := []byte("raw-frame")
	result, err := c.ProcessFrame(ctx, sess.ID, frame)
	if err != nil {
		t.Fatalf("expected degraded result, got error %v", err)
	}
	if result.CurrentInFrame != 0 || result.SessionUnique != 0 {
		t.Errorf("expected zero detections on failure, got %+v", result)
	}
	if string(result.Annotated) != string(frame) {
		t.Error("expected original frame passed through on detector failure")
	}

	// The frame still counts as processed.
	stats, err := c.SessionStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalFramesProcessed != 1 {
		t.Errorf("expected frame counted despite failure, got %d", stats.TotalFramesProcessed)
	}
}

func TestCoordinatorUnknownSession(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t, &fakeTracker{})
	ctx := context.Background()

	if _, err := c.ProcessFrame(ctx, "track_ghost", []byte("frame")); !errors.Is(err, shared.ErrSessionNotFound) {
		t.Errorf("process: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := c.StopSession(ctx, "track_ghost"); !errors.Is(err, shared.ErrSessionNotFound) {
		t.Errorf("stop: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := c.SessionStats(ctx, "track_ghost"); !errors.Is(err, shared.ErrSessionNotFound) {
		t.Errorf("stats: expected ErrSessionNotFound, got %v", err)
	}
}

func TestCoordinatorStatsIdempotent(t *testing.T) {
	tracker := &fakeTracker{results: [][]int64{{1, 2}}}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	sess, _ := c.StartSession(ctx)
	clock.Advance(time.Second)
	if _, err := c.ProcessFrame(ctx, sess.ID, []byte("frame")); err != nil {
		t.Fatalf("frame: %v", err)
	}

	first, err := c.SessionStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("first stats: %v", err)
	}
	second, err := c.SessionStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("second stats: %v", err)
	}
	if *first != *second {
		t.Errorf("stats not idempotent: %+v vs %+v", first, second)
	}
}

// A session that expires instead of being stopped loses its contribution
// but never corrupts the cumulative counter.
func TestCoordinatorTTLExpiryLosesButNeverCorrupts(t *testing.T) {
	tracker := &fakeTracker{results: [][]int64{{1, 2}, {5, 6, 7}}}
	c, _, counters, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	stopped, _ := c.StartSession(ctx)
	clock.Advance(time.Second)
	if _, err := c.ProcessFrame(ctx, stopped.ID, []byte("frame")); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if _, err := c.StopSession(ctx, stopped.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	abandoned, _ := c.StartSession(ctx)
	clock.Advance(time.Second)
	if _, err := c.ProcessFrame(ctx, abandoned.ID, []byte("frame")); err != nil {
		t.Fatalf("frame: %v", err)
	}

	// Idle past the TTL: the session vanishes without a stop.
	clock.Advance(2 * time.Hour)
	if _, err := c.SessionStats(ctx, abandoned.ID); !errors.Is(err, shared.ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}

	data, err := counters.Data(ctx)
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if data.CumulativeSessionCount != 2 {
		t.Errorf("expected cumulative to hold at 2 (expired session never folded), got %d",
			data.CumulativeSessionCount)
	}
}

func TestCoordinatorCumulativeConservation(t *testing.T) {
	// Sessions contribute 2, 1, 3 unique roses; the global counter ends
	// at their sum.
	tracker := &fakeTracker{results: [][]int64{{10, 11}, {20}, {30, 31, 32}}}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	want := int64(0)
	for i := 0; i < 3; i++ {
		sess, err := c.StartSession(ctx)
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		clock.Advance(time.Second)
		result, err := c.ProcessFrame(ctx, sess.ID, []byte("frame"))
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		want += int64(result.SessionUnique)
		if _, err := c.StopSession(ctx, sess.ID); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}

	total, err := c.TotalUniqueRoses(ctx)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total != want {
		t.Errorf("expected conserved total %d, got %d", want, total)
	}
}

func TestCoordinatorFPS(t *testing.T) {
	tracker := &fakeTracker{results: [][]int64{{1}, {1}}}
	c, _, _, clock := newTestCoordinator(t, tracker)
	ctx := context.Background()

	sess, _ := c.StartSession(ctx)

	first, err := c.ProcessFrame(ctx, sess.ID, []byte("frame"))
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if first.FPS != 0 {
		t.Errorf("expected zero FPS before a second frame, got %f", first.FPS)
	}

	clock.Advance(500 * time.Millisecond)
	second, err := c.ProcessFrame(ctx, sess.ID, []byte("frame"))
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if second.FPS < 1.99 || second.FPS > 2.01 {
		t.Errorf("expected ~2 FPS for 500ms spacing, got %f", second.FPS)
	}
}

type recordingArchiver struct {
	entries []HistoryEntry
}

func (a *recordingArchiver) Record(_ context.Context, entry HistoryEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func TestCoordinatorArchivesOnStop(t *testing.T) {
	tracker := &fakeTracker{results: [][]int64{{1, 2}}}
	c, _, _, clock := newTestCoordinator(t, tracker)
	arch := &recordingArchiver{}
	c.archive = arch
	ctx := context.Background()

	sess, _ := c.StartSession(ctx)
	clock.Advance(time.Second)
	if _, err := c.ProcessFrame(ctx, sess.ID, []byte("frame")); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if _, err := c.StopSession(ctx, sess.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(arch.entries) != 1 {
		t.Fatalf("expected 1 archived entry, got %d", len(arch.entries))
	}
	if arch.entries[0].UniqueRoses != 2 {
		t.Errorf("expected archived unique count 2, got %d", arch.entries[0].UniqueRoses)
	}
}
