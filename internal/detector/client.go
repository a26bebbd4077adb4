package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the detector sidecar over HTTP. The sidecar owns the
// model and the tracking algorithm; this process only ships frames in and
// detections out.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
	}
}

type trackRequest struct {
	Image string `json:"image"`
}

type trackResponse struct {
	Detections []Detection `json:"detections"`
	Image      string      `json:"image,omitempty"`
}

func (c *Client) Track(ctx context.Context, frame []byte) (*Result, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("no frame data provided")
	}

	body, err := json.Marshal(trackRequest{
		Image: base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/track", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}

	var tr trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &Result{Detections: tr.Detections}
	if tr.Image != "" {
		annotated, err := base64.StdEncoding.DecodeString(tr.Image)
		if err != nil {
			return nil, fmt.Errorf("decode annotated frame: %w", err)
		}
		result.Annotated = annotated
	}

	return result, nil
}

func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
