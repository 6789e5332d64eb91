package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// CourseRepository exposes the course projection needed by enrollment flows.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository instantiates a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns the course with its module IDs in curriculum order.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, title, price, currency, is_published FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}

	const modulesQuery = `SELECT id FROM course_modules WHERE course_id = $1 ORDER BY position, id`
	moduleIDs := []string{}
	if err := r.db.SelectContext(ctx, &moduleIDs, modulesQuery, id); err != nil {
		return nil, fmt.Errorf("load course modules: %w", err)
	}
	course.ModuleIDs = moduleIDs
	return &course, nil
}

// IncrementEnrollmentCount bumps the denormalised enrollment counter.
func (r *CourseRepository) IncrementEnrollmentCount(ctx context.Context, id string) error {
	const query = `UPDATE courses SET enrollment_count = enrollment_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment course enrollment count: %w", err)
	}
	return nil
}
