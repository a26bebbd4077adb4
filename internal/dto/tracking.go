package dto

type FrameRequest struct {
	Image string `json:"image"`
}

type StartResponse struct {
	Status        string `json:"status"`
	SessionID     string `json:"session_id"`
	SessionNumber int64  `json:"session_number"`
	Message       string `json:"message"`
}

type TrackedRose struct {
	ID         int64      `json:"id"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

type FrameResponse struct {
	Status         string        `json:"status"`
	Image          string        `json:"image,omitempty"`
	Count          int           `json:"count"`
	SessionUnique  int           `json:"session_unique"`
	TotalUnique    int64         `json:"total_unique"`
	CurrentInFrame int           `json:"current_in_frame"`
	FPS            float64       `json:"fps"`
	TrackedRoses   []TrackedRose `json:"tracked_roses"`
	CountUpdated   bool          `json:"count_updated"`
	SessionNumber  int64         `json:"session_number"`
}

type SessionStats struct {
	SessionNumber        int64   `json:"session_number"`
	SessionUniqueRoses   int64   `json:"session_unique_roses"`
	TotalUniqueRoses     int64   `json:"total_unique_roses"`
	Duration             float64 `json:"duration"`
	AverageFPS           float64 `json:"average_fps"`
	TotalFramesProcessed int64   `json:"total_frames_processed"`
}

type StopResponse struct {
	Status       string       `json:"status"`
	Message      string       `json:"message"`
	SessionStats SessionStats `json:"session_stats"`
}

type SessionInfoResponse struct {
	Status       string       `json:"status"`
	SessionStats SessionStats `json:"session_stats"`
}

type TotalRosesResponse struct {
	Status           string `json:"status"`
	TotalUniqueRoses int64  `json:"total_unique_roses"`
	Timestamp        string `json:"timestamp"`
}
