package student

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists students in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgres creates a repository over an open connection.
func NewPostgres(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, first_name, middle_name, last_name, class_name, photo_url, enrolled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, st.ID, st.FirstName, st.MiddleName, st.LastName, st.ClassName, st.PhotoURL, st.Enrolled, st.CreatedAt)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, middle_name, last_name, class_name, photo_url, enrolled, created_at
		FROM students WHERE id = $1
	`, id)
	var st Student
	err := row.Scan(&st.ID, &st.FirstName, &st.MiddleName, &st.LastName, &st.ClassName, &st.PhotoURL, &st.Enrolled, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, ErrNotFound
	}
	return st, err
}

func (r *PostgresRepository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, first_name, middle_name, last_name, class_name, photo_url, enrolled, created_at
		FROM students ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.FirstName, &st.MiddleName, &st.LastName, &st.ClassName, &st.PhotoURL, &st.Enrolled, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (r *PostgresRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM students`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) SetEnrolled(ctx context.Context, id string, enrolled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET enrolled = $2 WHERE id = $1`, id, enrolled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
