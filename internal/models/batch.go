package models

import (
	"errors"
	"time"
)

// Batch is a scheduled cohort whose date window gates content access.
type Batch struct {
	ID            string    `db:"id" json:"id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	Name          string    `db:"name" json:"name"`
	StartDate     time.Time `db:"start_date" json:"start_date"`
	EndDate       time.Time `db:"end_date" json:"end_date"`
	Capacity      int       `db:"capacity" json:"capacity"`
	EnrolledCount int       `db:"enrolled_count" json:"enrolled_count"`
	Active        bool      `db:"is_active" json:"is_active"`
}

// Validate checks the window and capacity invariants.
func (b Batch) Validate() error {
	if b.EndDate.Before(b.StartDate) {
		return errors.New("batch end date must not precede start date")
	}
	if b.Capacity < 1 {
		return errors.New("batch capacity must be at least 1")
	}
	if b.EnrolledCount < 0 {
		return errors.New("batch enrolled count must not be negative")
	}
	return nil
}

// HasAvailableSlots reports whether another student fits into the batch.
func (b Batch) HasAvailableSlots() bool {
	return b.EnrolledCount < b.Capacity
}
