package student

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository backs tests and local development.
type MemoryRepository struct {
	mu       sync.Mutex
	students map[string]Student
}

// NewMemoryRepository creates an empty registry.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{students: make(map[string]Student)}
}

func (r *MemoryRepository) Create(ctx context.Context, st *Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.CreatedAt = time.Now().UTC()
	r.students[st.ID] = *st
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.students[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return st, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Student, 0, len(r.students))
	for _, st := range r.students {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.students))
	for id := range r.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepository) SetEnrolled(ctx context.Context, id string, enrolled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.students[id]
	if !ok {
		return ErrNotFound
	}
	st.Enrolled = enrolled
	r.students[id] = st
	return nil
}
