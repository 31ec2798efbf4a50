// Package checkin orchestrates one student's attendance check-in: geofence
// advisory, camera capture, frame submission, terminal outcome. One flow per
// student session; the state enum replaces the pile of independent booleans
// the UI would otherwise juggle.
package checkin

import (
	"context"
	"errors"
	"sync"

	"campuscheck/internal/capture"
	"campuscheck/internal/geo"
	"campuscheck/internal/verify"
)

// State of the check-in flow.
type State string

const (
	StateIdle       State = "idle"
	StateGeoCheck   State = "geo_check"
	StateCameraOpen State = "camera_open"
	StateCaptured   State = "captured"
	StateSubmitting State = "submitting"
	StateVerified   State = "verified"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
)

// Terminal reports whether s is a terminal state awaiting acknowledgment.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateRejected || s == StateFailed
}

// FailureKind tells the UI what to say when the flow fails. Camera and
// service faults get distinct messages.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailurePermission FailureKind = "permission_denied"
	FailureCamera     FailureKind = "camera"
	FailureService    FailureKind = "service"
)

// ErrInvalidTransition is returned when an operation is called in a state
// that does not allow it. Operational failures are not errors here; they land
// in StateFailed with a FailureKind.
var ErrInvalidTransition = errors.New("invalid check-in transition")

// Session identifies who is checking in. Passed explicitly at construction;
// the flow never reads ambient auth state.
type Session struct {
	StudentID string
	DeviceID  string
}

// Locator supplies the device coordinate, or an error when the provider is
// denied or unavailable. Denial is "unknown location", not a flow abort.
type Locator interface {
	Locate(ctx context.Context) (geo.Coordinate, error)
}

// Verifier submits one frame and returns its outcome. Implemented by
// verify.Client in production.
type Verifier interface {
	Submit(ctx context.Context, studentID string, frame capture.Frame, location *geo.Coordinate) verify.Outcome
}

// GeoStatus is the advisory geofence result attached to the flow context.
type GeoStatus struct {
	Known    bool
	Location *geo.Coordinate
	Result   geo.Result
}

// Flow is the check-in state machine. Methods are safe for the UI goroutine
// plus a concurrent Cancel from teardown; everything else is sequential.
type Flow struct {
	session  Session
	fence    geo.Fence
	locator  Locator
	camera   *capture.Session
	verifier Verifier

	mu      sync.Mutex
	state   State
	gen     uint64 // bumped on cancel so stale async results are discarded
	frame   *capture.Frame
	geo     GeoStatus
	outcome *verify.Outcome
	failure FailureKind
	cause   error
}

// New builds an idle flow for one student session.
func New(session Session, fence geo.Fence, locator Locator, device capture.Device, verifier Verifier) *Flow {
	return &Flow{
		session:  session,
		fence:    fence,
		locator:  locator,
		camera:   capture.NewSession(device),
		verifier: verifier,
		state:    StateIdle,
	}
}

// Start begins a check-in: geofence advisory, then camera acquisition.
// Calling Start while a flow is already active is ignored, not queued.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return nil
	}
	f.state = StateGeoCheck
	f.outcome = nil
	f.failure = FailureNone
	f.cause = nil
	f.geo = GeoStatus{}
	gen := f.gen
	f.mu.Unlock()

	status := f.checkFence(ctx)

	f.mu.Lock()
	if f.gen != gen || f.state != StateGeoCheck {
		f.mu.Unlock()
		return nil
	}
	// Advisory: the result is attached for display, never a blocker.
	f.geo = status
	f.state = StateCameraOpen
	f.mu.Unlock()

	err := f.camera.Open(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen || f.state != StateCameraOpen {
		// Canceled while acquiring; release whatever the open produced.
		_ = f.camera.Close()
		return nil
	}
	if err != nil {
		f.failLocked(err)
	}
	return nil
}

// checkFence resolves the device location and evaluates the campus fence.
// Provider denial or malformed coordinates yield an unknown location with
// WithinFence=false.
func (f *Flow) checkFence(ctx context.Context) GeoStatus {
	if f.locator == nil {
		return GeoStatus{}
	}
	point, err := f.locator.Locate(ctx)
	if err != nil {
		return GeoStatus{}
	}
	res, err := geo.Evaluate(point, f.fence)
	if err != nil {
		return GeoStatus{}
	}
	return GeoStatus{Known: true, Location: &point, Result: res}
}

// Capture snapshots a still frame and releases the camera. A live handle
// exists only while the flow is in CameraOpen.
func (f *Flow) Capture() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateCameraOpen {
		return ErrInvalidTransition
	}

	frame, err := f.camera.Capture()
	if err != nil {
		_ = f.camera.Close()
		f.failLocked(err)
		return nil
	}
	_ = f.camera.Close()
	f.frame = &frame
	f.state = StateCaptured
	return nil
}

// Retake discards the captured frame and reopens the camera.
func (f *Flow) Retake(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateCaptured {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	f.discardFrameLocked()
	f.state = StateCameraOpen
	gen := f.gen
	f.mu.Unlock()

	err := f.camera.Open(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen || f.state != StateCameraOpen {
		_ = f.camera.Close()
		return nil
	}
	if err != nil {
		f.failLocked(err)
	}
	return nil
}

// Confirm submits the captured frame. The frame is consumed by exactly one
// submission; reaching Submitting again requires a fresh capture. If the flow
// is canceled while the request is in flight, the result is discarded.
func (f *Flow) Confirm(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateCaptured || f.frame == nil {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	f.state = StateSubmitting
	frame := f.frame
	f.frame = nil // consumed; Cancel has nothing left to race on
	location := f.geo.Location
	studentID := f.session.StudentID
	gen := f.gen
	f.mu.Unlock()

	out := f.verifier.Submit(ctx, studentID, *frame, location)
	frame.Discard()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen || f.state != StateSubmitting {
		// Flow already returned to Idle; the late result is dropped.
		return nil
	}
	f.outcome = &out
	switch {
	case out.Failure():
		f.failure = FailureService
		f.state = StateFailed
	case out.Verified:
		f.state = StateVerified
	default:
		f.state = StateRejected
	}
	return nil
}

// Acknowledge returns a terminal flow to Idle, releasing the camera and
// discarding any frame regardless of which terminal state was reached.
func (f *Flow) Acknowledge() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.Terminal() {
		return ErrInvalidTransition
	}
	f.resetLocked()
	return nil
}

// Cancel aborts the flow from any state: the camera is released
// synchronously, the frame discarded, and any in-flight submission result
// dropped on arrival. Safe to call on an idle flow.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.resetLocked()
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Geo returns the advisory geofence status for the current flow.
func (f *Flow) Geo() GeoStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.geo
}

// Outcome returns the verification outcome, valid in Verified and Rejected
// (and Failed when the service produced one).
func (f *Flow) Outcome() (verify.Outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcome == nil {
		return verify.Outcome{}, false
	}
	return *f.outcome, true
}

// Failure returns why the flow failed, for UI messaging.
func (f *Flow) Failure() (FailureKind, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure, f.cause
}

// CameraActive reports whether a live camera handle is held. Test hook for
// the release-on-every-path property.
func (f *Flow) CameraActive() bool { return f.camera.Active() }

func (f *Flow) failLocked(err error) {
	f.cause = err
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		f.failure = FailurePermission
	default:
		f.failure = FailureCamera
	}
	f.discardFrameLocked()
	f.state = StateFailed
}

func (f *Flow) resetLocked() {
	_ = f.camera.Close()
	f.discardFrameLocked()
	f.outcome = nil
	f.failure = FailureNone
	f.cause = nil
	f.geo = GeoStatus{}
	f.state = StateIdle
}

func (f *Flow) discardFrameLocked() {
	if f.frame != nil {
		f.frame.Discard()
		f.frame = nil
	}
}
