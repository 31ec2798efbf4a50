package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"campuscheck/internal/capture"
	"campuscheck/internal/geo"
)

// Client talks to the check-in verification endpoint. One request per frame,
// no client-side retry; a timeout surfaces as a SERVICE_ERROR outcome rather
// than leaving the caller waiting.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	StudentID  string          `json:"student_id"`
	ImageData  string          `json:"image_data"`
	CapturedAt time.Time       `json:"captured_at"`
	Location   *geo.Coordinate `json:"location,omitempty"`
}

// Submit sends one captured frame for identity verification. Transport
// failures, timeouts and 5xx responses all map to SERVICE_ERROR; the caller
// distinguishes business rejection from fault by the outcome reason.
func (c *Client) Submit(ctx context.Context, studentID string, frame capture.Frame, location *geo.Coordinate) Outcome {
	body, err := json.Marshal(submitRequest{
		StudentID:  studentID,
		ImageData:  base64.StdEncoding.EncodeToString(frame.Data),
		CapturedAt: frame.CapturedAt,
		Location:   location,
	})
	if err != nil {
		return Outcome{Reason: ReasonServiceError}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkins/verify", bytes.NewReader(body))
	if err != nil {
		return Outcome{Reason: ReasonServiceError}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{Reason: ReasonServiceError}
	}
	defer resp.Body.Close()

	// 401/422-class responses carry an outcome body; anything 5xx is a fault.
	if resp.StatusCode >= 500 {
		return Outcome{Reason: ReasonServiceError}
	}

	var out Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{Reason: ReasonServiceError}
	}
	if out.Reason == "" {
		if out.Verified {
			out.Reason = ReasonMatch
		} else {
			out.Reason = ReasonNoMatch
		}
	}
	return out
}
