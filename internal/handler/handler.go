// Package handler exposes the HTTP surface: session issuance, the student
// registry, the verification endpoint, and attendance queries and overrides.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campuscheck/internal/auth"
	"campuscheck/internal/cloudinary"
	"campuscheck/internal/config"
	"campuscheck/internal/faceclient"
	"campuscheck/internal/geo"
	"campuscheck/internal/ledger"
	"campuscheck/internal/queue"
	"campuscheck/internal/student"
	"campuscheck/internal/verify"
)

// Oracle is the face-matching judgment the verify endpoint defers to.
// Satisfied by faceclient.Client.
type Oracle interface {
	Verify(ctx context.Context, studentID string, frame []byte) (*faceclient.VerifyResult, error)
	Enroll(ctx context.Context, studentID string, photo []byte) (*faceclient.EnrollResult, error)
}

// Handler holds the wired dependencies behind the HTTP routes.
type Handler struct {
	log      *slog.Logger
	cfg      config.App
	students student.Repository
	ledger   ledger.Ledger
	oracle   Oracle
	cdn      *cloudinary.Client
	queue    queue.Queue
	tz       *time.Location
	fence    geo.Fence
}

// New builds a handler. cdn may be nil when image storage is not configured.
func New(cfg config.App, log *slog.Logger, students student.Repository, led ledger.Ledger, oracle Oracle, cdn *cloudinary.Client, q queue.Queue) *Handler {
	loc, err := time.LoadLocation(cfg.AttendanceTZ)
	if err != nil {
		log.Warn("unknown timezone, falling back to UTC", "tz", cfg.AttendanceTZ)
		loc = time.UTC
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		students: students,
		ledger:   led,
		oracle:   oracle,
		cdn:      cdn,
		queue:    q,
		tz:       loc,
		fence: geo.Fence{
			Center:       geo.Coordinate{Latitude: cfg.CampusLat, Longitude: cfg.CampusLng},
			RadiusMeters: cfg.CampusRadiusM,
		},
	}
}

// Mount registers routes. Session issuance is public; everything else sits
// behind the given auth middleware.
func (h *Handler) Mount(r *gin.Engine, authMW gin.HandlerFunc) {
	r.POST("/v1/sessions", h.CreateSession)

	g := r.Group("/v1", authMW)
	g.POST("/students", h.RegisterStudent)
	g.GET("/students", h.ListStudents)
	g.GET("/students/:id", h.GetStudent)
	g.GET("/students/:id/attendance", h.StudentHistory)
	g.POST("/checkins/verify", h.VerifyCheckIn)
	g.GET("/attendance", h.ListAttendance)
	g.PUT("/attendance/:id", h.UpdateAttendance)
	g.POST("/attendance/bulk", h.BulkUpdateAttendance)
}

// CreateSession issues a signed token for a registered student. Kiosks call
// this once per check-in flow.
func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.students.Get(c.Request.Context(), req.StudentID)
	if err != nil {
		if errors.Is(err, student.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown student"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !st.Enrolled {
		c.JSON(http.StatusForbidden, gin.H{"error": "student not enrolled"})
		return
	}

	token, err := auth.Issue(st.ID, "student", h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token": token.Value,
		"expires_at":   token.ExpiresAt.Unix(),
	})
}

// RegisterStudent creates a registry entry, uploads the reference photo when
// image storage is configured, and enrolls the photo with the oracle.
func (h *Handler) RegisterStudent(c *gin.Context) {
	var req struct {
		FirstName  string `json:"first_name" binding:"required"`
		MiddleName string `json:"middle_name"`
		LastName   string `json:"last_name" binding:"required"`
		ClassName  string `json:"class_name"`
		PhotoData  string `json:"photo_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	photo, err := base64.StdEncoding.DecodeString(req.PhotoData)
	if err != nil || len(photo) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo_data must be base64"})
		return
	}

	st := student.Student{
		ID:         uuid.NewString(),
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		ClassName:  req.ClassName,
		CreatedAt:  time.Now().UTC(),
	}

	if h.cdn != nil {
		up, err := h.cdn.UploadBytes(photo, st.ID+".jpg")
		if err != nil {
			h.log.Error("photo upload failed", "student_id", st.ID, "err", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "photo upload failed"})
			return
		}
		st.PhotoURL = up.SecureURL
	}

	enr, err := h.oracle.Enroll(c.Request.Context(), st.ID, photo)
	if err != nil {
		h.log.Error("enrollment failed", "student_id", st.ID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "face enrollment failed"})
		return
	}
	st.Enrolled = enr.Success

	if err := h.students.Create(c.Request.Context(), &st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}

	c.JSON(http.StatusCreated, st)
}

// GetStudent fetches one registry entry.
func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, student.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown student"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListStudents returns every registry entry.
func (h *Handler) ListStudents(c *gin.Context) {
	list, err := h.students.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": list})
}

// VerifyCheckIn is the synchronous verification endpoint. The geofence check
// is advisory; the oracle's judgment alone decides whether an attendance
// record is written.
func (h *Handler) VerifyCheckIn(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		ImageData string `json:"image_data" binding:"required"`
		Location  *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if claims, ok := auth.ClaimsFrom(c); ok && claims.Role == "student" && claims.Subject != req.StudentID {
		c.JSON(http.StatusForbidden, gin.H{"error": "student mismatch"})
		return
	}

	st, err := h.students.Get(c.Request.Context(), req.StudentID)
	if err != nil {
		if errors.Is(err, student.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown student"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !st.Enrolled {
		c.JSON(http.StatusForbidden, gin.H{"error": "student not enrolled"})
		return
	}

	frame, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil || len(frame) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_data must be base64"})
		return
	}

	var (
		withinFence *bool
		distance    *float64
	)
	if req.Location != nil {
		res, gerr := geo.Evaluate(geo.Coordinate{Latitude: req.Location.Latitude, Longitude: req.Location.Longitude}, h.fence)
		if gerr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gerr.Error()})
			return
		}
		withinFence = &res.WithinFence
		distance = &res.DistanceMeters
		if !res.WithinFence {
			h.log.Warn("check-in outside geofence",
				"student_id", req.StudentID, "distance_m", res.DistanceMeters)
		}
	}

	now := time.Now()
	outcome := verify.Outcome{Reason: verify.ReasonServiceError}
	res, err := h.oracle.Verify(c.Request.Context(), req.StudentID, frame)
	switch {
	case err != nil:
		h.log.Error("oracle unavailable", "student_id", req.StudentID, "err", err)
	case res.FacesDetected == 0:
		outcome = verify.Outcome{Reason: verify.ReasonLowQuality, Confidence: res.Confidence}
	case res.Verified:
		outcome = verify.Outcome{Verified: true, Confidence: res.Confidence, Reason: verify.ReasonMatch}
	default:
		outcome = verify.Outcome{Confidence: res.Confidence, Reason: verify.ReasonNoMatch}
	}
	observeVerification(outcome)

	h.publishAudit(ledger.AuditEvent{
		ID:             uuid.NewString(),
		StudentID:      req.StudentID,
		Verified:       outcome.Verified,
		Confidence:     outcome.Confidence,
		Reason:         string(outcome.Reason),
		WithinFence:    withinFence,
		DistanceMeters: distance,
		OccurredAt:     now.UTC(),
	})

	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"verified": false,
			"reason":   verify.ReasonServiceError,
			"error":    "verification service unavailable",
		})
		return
	}

	body := gin.H{
		"verified":   outcome.Verified,
		"confidence": outcome.Confidence,
		"reason":     outcome.Reason,
	}
	if withinFence != nil {
		body["within_fence"] = *withinFence
		body["distance_meters"] = *distance
	}

	if !outcome.Verified {
		c.JSON(http.StatusOK, body)
		return
	}

	rec, err := h.ledger.RecordVerifiedCheckIn(c.Request.Context(), req.StudentID, ledger.DayOf(now, h.tz))
	if err != nil {
		h.log.Error("attendance write failed", "student_id", req.StudentID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance write failed"})
		return
	}
	body["record"] = rec
	c.JSON(http.StatusOK, body)
}

func (h *Handler) publishAudit(evt ledger.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.queue.Publish(ctx, queue.Message{Type: queue.TypeCheckIn, Event: evt}); err != nil {
		h.log.Warn("audit publish failed", "student_id", evt.StudentID, "err", err)
	}
}

// StudentHistory returns a student's attendance, newest first.
func (h *Handler) StudentHistory(c *gin.Context) {
	limit := 30
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := h.ledger.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ListAttendance returns all records for a day, defaulting to today.
func (h *Handler) ListAttendance(c *gin.Context) {
	day := ledger.DayOf(time.Now(), h.tz)
	if v := c.Query("date"); v != "" {
		parsed, err := ledger.ParseDay(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		day = parsed
	}
	records, err := h.ledger.ListDay(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day, "records": records})
}

// UpdateAttendance overrides one record's status.
func (h *Handler) UpdateAttendance(c *gin.Context) {
	var req struct {
		Status ledger.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.ledger.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	switch {
	case errors.Is(err, ledger.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

// BulkUpdateAttendance applies status changes per record. Failures do not
// roll back earlier entries; each result is reported individually.
func (h *Handler) BulkUpdateAttendance(c *gin.Context) {
	var req struct {
		Updates []ledger.StatusUpdate `json:"updates" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "updates required"})
		return
	}

	results := h.ledger.BulkSetStatus(c.Request.Context(), req.Updates)
	out := make([]gin.H, 0, len(results))
	failed := 0
	for _, r := range results {
		entry := gin.H{"record_id": r.RecordID, "ok": r.Err == nil}
		if r.Err != nil {
			failed++
			entry["error"] = r.Err.Error()
		}
		out = append(out, entry)
	}
	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": out, "failed": failed})
}
