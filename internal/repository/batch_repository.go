package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// BatchRepository reads course batches and maintains their seat counts.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository instantiates a BatchRepository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// FindByID returns a batch by ID.
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	const query = `SELECT id, course_id, name, start_date, end_date, capacity, enrolled_count, is_active FROM batches WHERE id = $1`
	var batch models.Batch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// IncrementEnrolled takes one seat. It reports false when the batch is already full.
func (r *BatchRepository) IncrementEnrolled(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE batches SET enrolled_count = enrolled_count + 1 WHERE id = $1 AND enrolled_count < capacity`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("increment batch enrolled count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment batch enrolled count: %w", err)
	}
	return affected > 0, nil
}
