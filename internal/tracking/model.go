package tracking

import (
	"encoding/json"
	"slices"
	"time"
)

// frameCountWindow bounds the recent-history buffer used to stabilize the
// displayed count against per-frame detection noise.
const frameCountWindow = 10

// RoseSet is the set of track identities observed in a session. It
// serializes as a sorted list and deserializes back into a set, so
// duplicate entries in stored data collapse on load.
type RoseSet map[int64]struct{}

func (s RoseSet) Add(id int64) {
	s[id] = struct{}{}
}

func (s RoseSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s RoseSet) Len() int {
	return len(s)
}

func (s RoseSet) MarshalJSON() ([]byte, error) {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return json.Marshal(ids)
}

func (s *RoseSet) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(RoseSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	*s = set
	return nil
}

// Session is one active tracking stream. Mutated only by the coordinator's
// frame processing for its own ID; one in-flight frame per session is a
// precondition of the streaming protocol.
type Session struct {
	ID              string    `json:"id"`
	Number          int64     `json:"session_number"`
	StartedAt       time.Time `json:"start_time"`
	LastActiveAt    time.Time `json:"last_update"`
	LastCountUpdate time.Time `json:"last_count_update"`
	FrameCount      int64     `json:"frame_count"`
	UniqueRoses     RoseSet   `json:"session_unique_roses"`
	FrameCounts     []int     `json:"frame_counts"`
	DisplayCount    int       `json:"display_count"`
}

func NewSession(id string, number int64, now time.Time) *Session {
	return &Session{
		ID:              id,
		Number:          number,
		StartedAt:       now,
		LastActiveAt:    now,
		LastCountUpdate: now,
		UniqueRoses:     make(RoseSet),
		FrameCounts:     []int{},
	}
}

func (s *Session) RedisKey() string {
	return "session:" + s.ID
}

// PushFrameCount appends a per-frame visible count, dropping the oldest
// observation once the window is full.
func (s *Session) PushFrameCount(n int) {
	s.FrameCounts = append(s.FrameCounts, n)
	if len(s.FrameCounts) > frameCountWindow {
		s.FrameCounts = s.FrameCounts[len(s.FrameCounts)-frameCountWindow:]
	}
}

// SmoothedCount returns the floor average of the recent-count window, the
// stable value shown to clients between update intervals.
func SmoothedCount(window []int) int {
	if len(window) == 0 {
		return 0
	}
	sum := 0
	for _, n := range window {
		sum += n
	}
	return sum / len(window)
}
