// Package verify submits captured frames to the check-in verification
// endpoint and interprets the response.
package verify

// Reason classifies a verification outcome.
type Reason string

const (
	ReasonMatch        Reason = "MATCH"
	ReasonNoMatch      Reason = "NO_MATCH"
	ReasonLowQuality   Reason = "LOW_QUALITY"
	ReasonServiceError Reason = "SERVICE_ERROR"
)

// Outcome is produced once per submitted frame. A frame is never resubmitted
// automatically; retrying means a new user-initiated capture.
type Outcome struct {
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
	Reason     Reason  `json:"reason"`
}

// Failure reports whether the outcome is a service fault as opposed to a
// legitimate negative verification.
func (o Outcome) Failure() bool { return o.Reason == ReasonServiceError }
