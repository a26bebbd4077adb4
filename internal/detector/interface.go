package detector

import (
	"context"
	"time"
)

// Detection is one tracked object in a frame. ID is nil when the tracker
// could not assign a stable identity; such detections count toward the
// per-frame visible total but never toward uniqueness.
type Detection struct {
	ID         *int64     `json:"id,omitempty"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

// Result carries the detections for one frame plus the annotated frame
// rendered by the sidecar (empty when rendering failed).
type Result struct {
	Detections []Detection
	Annotated  []byte
}

type Tracker interface {
	Track(ctx context.Context, frame []byte) (*Result, error)
	Healthy(ctx context.Context) bool
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}
