// Package student is the registry the check-in core verifies against.
// Registration stores the reference photo URL; the oracle holds the
// biometric template.
package student

import (
	"context"
	"errors"
	"time"
)

// Student is a registered student.
type Student struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	MiddleName string    `json:"middle_name,omitempty"`
	LastName   string    `json:"last_name"`
	ClassName  string    `json:"class_name,omitempty"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	Enrolled   bool      `json:"enrolled"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrNotFound means no student matches the given id.
var ErrNotFound = errors.New("student not found")

// Repository is the registry contract.
type Repository interface {
	Create(ctx context.Context, st *Student) error
	Get(ctx context.Context, id string) (Student, error)
	List(ctx context.Context) ([]Student, error)
	ListIDs(ctx context.Context) ([]string, error)
	SetEnrolled(ctx context.Context, id string, enrolled bool) error
}
