// Package faceclient calls the external face-matching service. The service is
// an opaque oracle: it answers verified/not-verified with a confidence and
// nothing here depends on how it decides.
package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VerifyResult contains a 1:1 verification judgment for a stored reference.
type VerifyResult struct {
	StudentID     string
	Verified      bool
	Confidence    float64
	FacesDetected int
}

// EnrollResult contains the enrollment response for a reference photo.
type EnrollResult struct {
	StudentID string
	Success   bool
	Message   string
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, all calls return canned positive
// results so the rest of the system runs without the face service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Verify asks the oracle whether the frame matches the student's enrolled
// reference.
func (c *Client) Verify(ctx context.Context, studentID string, frame []byte) (*VerifyResult, error) {
	if c.Skip {
		return &VerifyResult{StudentID: studentID, Verified: true, Confidence: 0.92, FacesDetected: 1}, nil
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("frame required")
	}

	body, _ := json.Marshal(map[string]string{
		"student_id": studentID,
		"image_data": base64.StdEncoding.EncodeToString(frame),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		StudentID     string  `json:"student_id"`
		Verified      bool    `json:"verified"`
		Confidence    float64 `json:"confidence"`
		FacesDetected int     `json:"faces_detected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &VerifyResult{
		StudentID:     out.StudentID,
		Verified:      out.Verified,
		Confidence:    out.Confidence,
		FacesDetected: out.FacesDetected,
	}, nil
}

// Enroll registers a reference photo for later verification.
func (c *Client) Enroll(ctx context.Context, studentID string, photo []byte) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{StudentID: studentID, Success: true, Message: "enrolled (mock)"}, nil
	}

	body, _ := json.Marshal(map[string]string{
		"student_id": studentID,
		"image_data": base64.StdEncoding.EncodeToString(photo),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/enroll", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		StudentID string `json:"student_id"`
		Success   bool   `json:"success"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &EnrollResult{StudentID: out.StudentID, Success: out.Success, Message: out.Message}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
