package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campuscheck/internal/capture"
	"campuscheck/internal/geo"
	"campuscheck/internal/verify"
)

var testFence = geo.Fence{
	Center:       geo.Coordinate{Latitude: 27.71477743675058, Longitude: 85.30895279815599},
	RadiusMeters: 100,
}

type fakeDevice struct {
	openErr error
	frame   capture.Frame
	grabErr error
	opens   int
}

type fakeStream struct {
	dev *fakeDevice
}

func (d *fakeDevice) Open(ctx context.Context) (capture.Stream, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeStream{dev: d}, nil
}

func (s *fakeStream) Grab() (capture.Frame, error) {
	if s.dev.grabErr != nil {
		return capture.Frame{}, s.dev.grabErr
	}
	f := s.dev.frame
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f, nil
}

func (s *fakeStream) Close() error { return nil }

func goodFrame() capture.Frame {
	return capture.Frame{Data: []byte("frame"), Width: 640, Height: 480, CapturedAt: time.Now()}
}

type fakeLocator struct {
	point geo.Coordinate
	err   error
}

func (l fakeLocator) Locate(ctx context.Context) (geo.Coordinate, error) {
	return l.point, l.err
}

type fakeVerifier struct {
	mu       sync.Mutex
	outcome  verify.Outcome
	submits  int
	lastID   string
	block    chan struct{} // when set, Submit waits until closed
}

func (v *fakeVerifier) Submit(ctx context.Context, studentID string, frame capture.Frame, loc *geo.Coordinate) verify.Outcome {
	v.mu.Lock()
	v.submits++
	v.lastID = studentID
	block := v.block
	out := v.outcome
	v.mu.Unlock()
	if block != nil {
		<-block
	}
	return out
}

func newTestFlow(dev *fakeDevice, loc Locator, v Verifier) *Flow {
	return New(Session{StudentID: "S1", DeviceID: "kiosk-1"}, testFence, loc, dev, v)
}

func TestHappyPathVerified(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	ver := &fakeVerifier{outcome: verify.Outcome{Verified: true, Confidence: 0.91, Reason: verify.ReasonMatch}}
	f := newTestFlow(dev, fakeLocator{point: testFence.Center}, ver)
	ctx := context.Background()

	if err := f.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.State() != StateCameraOpen {
		t.Fatalf("expected CameraOpen, got %s", f.State())
	}
	if g := f.Geo(); !g.Known || !g.Result.WithinFence {
		t.Fatalf("expected within-fence advisory, got %+v", g)
	}

	if err := f.Capture(); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if f.State() != StateCaptured {
		t.Fatalf("expected Captured, got %s", f.State())
	}
	if f.CameraActive() {
		t.Fatal("camera must be released once the frame is captured")
	}

	if err := f.Confirm(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if f.State() != StateVerified {
		t.Fatalf("expected Verified, got %s", f.State())
	}
	out, ok := f.Outcome()
	if !ok || !out.Verified || out.Reason != verify.ReasonMatch {
		t.Fatalf("unexpected outcome: %+v ok=%v", out, ok)
	}
	if ver.lastID != "S1" {
		t.Fatalf("verifier saw student %q", ver.lastID)
	}

	if err := f.Acknowledge(); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if f.State() != StateIdle || f.CameraActive() {
		t.Fatal("acknowledge must return to Idle with the camera released")
	}
	if _, ok := f.Outcome(); ok {
		t.Fatal("outcome must be cleared after acknowledgment")
	}
}

func TestNoMatchReachesRejected(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	ver := &fakeVerifier{outcome: verify.Outcome{Verified: false, Confidence: 0.2, Reason: verify.ReasonNoMatch}}
	f := newTestFlow(dev, nil, ver)
	ctx := context.Background()

	f.Start(ctx)
	f.Capture()
	f.Confirm(ctx)

	if f.State() != StateRejected {
		t.Fatalf("expected Rejected, got %s", f.State())
	}
	if kind, _ := f.Failure(); kind != FailureNone {
		t.Fatalf("NO_MATCH is a business outcome, not a failure: %s", kind)
	}
}

func TestServiceErrorReachesFailed(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	ver := &fakeVerifier{outcome: verify.Outcome{Reason: verify.ReasonServiceError}}
	f := newTestFlow(dev, nil, ver)
	ctx := context.Background()

	f.Start(ctx)
	f.Capture()
	f.Confirm(ctx)

	if f.State() != StateFailed {
		t.Fatalf("expected Failed, got %s", f.State())
	}
	if kind, _ := f.Failure(); kind != FailureService {
		t.Fatalf("expected service failure kind, got %s", kind)
	}
	// Failed is recoverable: acknowledge, then start again.
	if err := f.Acknowledge(); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := f.Start(ctx); err != nil || f.State() != StateCameraOpen {
		t.Fatalf("restart after failure: err=%v state=%s", err, f.State())
	}
}

func TestPermissionDeniedDistinctFromCameraFault(t *testing.T) {
	f := newTestFlow(&fakeDevice{openErr: capture.ErrPermissionDenied}, nil, &fakeVerifier{})
	f.Start(context.Background())
	if f.State() != StateFailed {
		t.Fatalf("expected Failed, got %s", f.State())
	}
	kind, cause := f.Failure()
	if kind != FailurePermission {
		t.Fatalf("expected permission kind, got %s", kind)
	}
	if !errors.Is(cause, capture.ErrPermissionDenied) {
		t.Fatalf("expected wrapped cause, got %v", cause)
	}
	if f.CameraActive() {
		t.Fatal("no camera handle may survive a failed open")
	}
}

func TestCaptureFaultClosesSessionFirst(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame(), grabErr: capture.ErrNotReady}
	f := newTestFlow(dev, nil, &fakeVerifier{})
	ctx := context.Background()

	f.Start(ctx)
	f.Capture()

	if f.State() != StateFailed {
		t.Fatalf("expected Failed, got %s", f.State())
	}
	if kind, _ := f.Failure(); kind != FailureCamera {
		t.Fatalf("expected camera kind, got %s", kind)
	}
	if f.CameraActive() {
		t.Fatal("camera must be closed before entering Failed")
	}
}

func TestStartWhileActiveIsIgnored(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	f := newTestFlow(dev, nil, &fakeVerifier{})
	ctx := context.Background()

	f.Start(ctx)
	if err := f.Start(ctx); err != nil {
		t.Fatalf("re-entrant start must be a no-op, got %v", err)
	}
	if dev.opens != 1 {
		t.Fatalf("re-entrant start acquired the camera again: %d opens", dev.opens)
	}
	if f.State() != StateCameraOpen {
		t.Fatalf("state disturbed by re-entrant start: %s", f.State())
	}
}

func TestRetakeDiscardsAndReopens(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	ver := &fakeVerifier{outcome: verify.Outcome{Verified: true, Reason: verify.ReasonMatch}}
	f := newTestFlow(dev, nil, ver)
	ctx := context.Background()

	f.Start(ctx)
	f.Capture()
	if err := f.Retake(ctx); err != nil {
		t.Fatalf("retake: %v", err)
	}
	if f.State() != StateCameraOpen || !f.CameraActive() {
		t.Fatalf("retake must reopen the camera, state=%s active=%v", f.State(), f.CameraActive())
	}
	if dev.opens != 2 {
		t.Fatalf("expected 2 device opens, got %d", dev.opens)
	}

	f.Capture()
	f.Confirm(ctx)
	if f.State() != StateVerified {
		t.Fatalf("expected Verified after retaken capture, got %s", f.State())
	}
}

func TestNoStaleResubmission(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	ver := &fakeVerifier{outcome: verify.Outcome{Verified: true, Reason: verify.ReasonMatch}}
	f := newTestFlow(dev, nil, ver)
	ctx := context.Background()

	f.Start(ctx)
	f.Capture()
	f.Confirm(ctx)

	// Terminal state reached; a second confirm has no frame to consume.
	if err := f.Confirm(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if ver.submits != 1 {
		t.Fatalf("frame submitted %d times", ver.submits)
	}

	// Misuse from other states too.
	if err := f.Capture(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("capture outside CameraOpen: %v", err)
	}
	if err := f.Retake(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retake outside Captured: %v", err)
	}
	if err := f.Acknowledge(); err != nil {
		t.Fatalf("acknowledge from terminal: %v", err)
	}
	if err := f.Acknowledge(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("acknowledge from Idle: %v", err)
	}
}

func TestCancelReleasesCameraSynchronously(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	f := newTestFlow(dev, nil, &fakeVerifier{})
	f.Start(context.Background())
	if !f.CameraActive() {
		t.Fatal("precondition: camera open")
	}
	f.Cancel()
	if f.CameraActive() || f.State() != StateIdle {
		t.Fatal("cancel must release the camera and return to Idle")
	}
}

func TestCancelWhileSubmittingDiscardsResult(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	ver := &fakeVerifier{
		outcome: verify.Outcome{Verified: true, Reason: verify.ReasonMatch},
		block:   make(chan struct{}),
	}
	f := newTestFlow(dev, nil, ver)
	ctx := context.Background()

	f.Start(ctx)
	f.Capture()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Confirm(ctx)
	}()

	// Wait for the submission to be in flight, then leave the check-in UI.
	deadline := time.After(time.Second)
	for f.State() != StateSubmitting {
		select {
		case <-deadline:
			t.Fatal("flow never entered Submitting")
		case <-time.After(time.Millisecond):
		}
	}
	f.Cancel()
	if f.State() != StateIdle {
		t.Fatalf("cancel while submitting must return to Idle, got %s", f.State())
	}

	close(ver.block) // let the in-flight request complete
	<-done

	if f.State() != StateIdle {
		t.Fatalf("late result must be discarded, state=%s", f.State())
	}
	if _, ok := f.Outcome(); ok {
		t.Fatal("late outcome must not be recorded")
	}
}

func TestGeofenceDenialIsAdvisoryOnly(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	f := newTestFlow(dev, fakeLocator{err: errors.New("location permission denied")}, &fakeVerifier{})
	f.Start(context.Background())

	if f.State() != StateCameraOpen {
		t.Fatalf("denied location must not block the flow, got %s", f.State())
	}
	g := f.Geo()
	if g.Known || g.Result.WithinFence {
		t.Fatalf("denied location must read as unknown/outside, got %+v", g)
	}
}

func TestGeofenceOutsideStillProceeds(t *testing.T) {
	dev := &fakeDevice{frame: goodFrame()}
	far := geo.Coordinate{Latitude: 27.8, Longitude: 85.4}
	f := newTestFlow(dev, fakeLocator{point: far}, &fakeVerifier{})
	f.Start(context.Background())

	g := f.Geo()
	if !g.Known || g.Result.WithinFence {
		t.Fatalf("expected known outside-fence advisory, got %+v", g)
	}
	if g.Result.DistanceMeters <= 100 {
		t.Fatalf("distance should exceed the radius, got %v", g.Result.DistanceMeters)
	}
	if f.State() != StateCameraOpen {
		t.Fatalf("outside-fence must not block capture, got %s", f.State())
	}
}
