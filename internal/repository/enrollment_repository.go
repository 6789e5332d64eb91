package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, batch_id, payment_status, payment_id, order_id, order_amount, order_currency, order_created_at,
        completed, completed_at, completion_percentage, enrolled_at, last_accessed_at, created_at, updated_at`

const progressColumns = `enrollment_id, module_id, completed, completed_at, watch_time, position`

// EnrollmentRepository handles persistence of enrollments and module progress.
type EnrollmentRepository struct {
	db     *sqlx.DB
	reader *sqlx.DB
}

// NewEnrollmentRepository constructs the repository. Listings go through reader
// when provided, which may lag behind writes on db.
func NewEnrollmentRepository(db *sqlx.DB, reader *sqlx.DB) *EnrollmentRepository {
	if reader == nil {
		reader = db
	}
	return &EnrollmentRepository{db: db, reader: reader}
}

// FindByStudentAndCourse returns the enrollment for the pair from the primary.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND course_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		return nil, err
	}
	progress, err := r.loadProgress(ctx, r.db, enrollment.ID)
	if err != nil {
		return nil, err
	}
	enrollment.Progress = progress
	return &enrollment, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	progress, err := r.loadProgress(ctx, r.db, enrollment.ID)
	if err != nil {
		return nil, err
	}
	enrollment.Progress = progress
	return &enrollment, nil
}

// ListByStudent returns every enrollment of the student from the read path.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at DESC`
	var enrollments []models.Enrollment
	if err := r.reader.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return []models.Enrollment{}, nil
	}

	ids := make([]string, len(enrollments))
	for i, e := range enrollments {
		ids[i] = e.ID
	}
	var rows []models.ModuleProgress
	progressQuery := `SELECT ` + progressColumns + ` FROM module_progress WHERE enrollment_id = ANY($1) ORDER BY enrollment_id, position`
	if err := r.reader.SelectContext(ctx, &rows, progressQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list student progress: %w", err)
	}
	byEnrollment := make(map[string][]models.ModuleProgress, len(enrollments))
	for _, row := range rows {
		byEnrollment[row.EnrollmentID] = append(byEnrollment[row.EnrollmentID], row)
	}
	for i := range enrollments {
		enrollments[i].Progress = byEnrollment[enrollments[i].ID]
		if enrollments[i].Progress == nil {
			enrollments[i].Progress = []models.ModuleProgress{}
		}
	}
	return enrollments, nil
}

// CreateFree inserts a completed enrollment unless one already exists for the
// pair, in which case the stored row is returned with created=false.
func (r *EnrollmentRepository) CreateFree(ctx context.Context, enrollment *models.Enrollment) (*models.Enrollment, bool, error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.PaymentStatus = models.PaymentStatusCompleted
	enrollment.CreatedAt, enrollment.UpdatedAt = now, now

	const query = `INSERT INTO enrollments (id, student_id, course_id, batch_id, payment_status, completed, completion_percentage, enrolled_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, 0, $6, $7, $7)
        ON CONFLICT (student_id, course_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		enrollment.ID, enrollment.StudentID, enrollment.CourseID, enrollment.BatchID, enrollment.PaymentStatus, enrollment.EnrolledAt, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create free enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create free enrollment: %w", err)
	}
	if affected == 0 {
		existing, err := r.FindByStudentAndCourse(ctx, enrollment.StudentID, enrollment.CourseID)
		if err != nil {
			return nil, false, fmt.Errorf("load existing enrollment: %w", err)
		}
		return existing, false, nil
	}
	enrollment.Progress = []models.ModuleProgress{}
	return enrollment, true, nil
}

// UpsertPending records a freshly created order against the pair. Rows whose
// payment already completed are left untouched and sql.ErrNoRows is returned.
func (r *EnrollmentRepository) UpsertPending(ctx context.Context, studentID, courseID string, batchID *string, order models.PaymentOrder) (*models.Enrollment, error) {
	now := time.Now().UTC()
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	query := `INSERT INTO enrollments (id, student_id, course_id, batch_id, payment_status, order_id, order_amount, order_currency, order_created_at,
            completed, completion_percentage, enrolled_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, 0, $10, $10, $10)
        ON CONFLICT (student_id, course_id) DO UPDATE SET
            payment_status = EXCLUDED.payment_status,
            order_id = EXCLUDED.order_id,
            order_amount = EXCLUDED.order_amount,
            order_currency = EXCLUDED.order_currency,
            order_created_at = EXCLUDED.order_created_at,
            batch_id = COALESCE(EXCLUDED.batch_id, enrollments.batch_id),
            updated_at = EXCLUDED.updated_at
        WHERE enrollments.payment_status <> 'completed'
        RETURNING ` + enrollmentColumns
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query,
		uuid.NewString(), studentID, courseID, batchID, models.PaymentStatusPending,
		order.ID, order.Amount, order.Currency, createdAt, now,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("upsert pending enrollment: %w", err)
	}
	progress, err := r.loadProgress(ctx, r.db, enrollment.ID)
	if err != nil {
		return nil, err
	}
	enrollment.Progress = progress
	return &enrollment, nil
}

// MarkPaymentCompleted upserts the pair as paid. Exactly one row is created or updated.
func (r *EnrollmentRepository) MarkPaymentCompleted(ctx context.Context, studentID, courseID, orderID, paymentID string) (*models.Enrollment, error) {
	now := time.Now().UTC()
	query := `INSERT INTO enrollments (id, student_id, course_id, payment_status, payment_id, order_id,
            completed, completion_percentage, enrolled_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, 0, $7, $7, $7)
        ON CONFLICT (student_id, course_id) DO UPDATE SET
            payment_status = EXCLUDED.payment_status,
            payment_id = EXCLUDED.payment_id,
            order_id = EXCLUDED.order_id,
            updated_at = EXCLUDED.updated_at
        RETURNING ` + enrollmentColumns
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query,
		uuid.NewString(), studentID, courseID, models.PaymentStatusCompleted, paymentID, orderID, now,
	); err != nil {
		return nil, fmt.Errorf("complete enrollment payment: %w", err)
	}
	progress, err := r.loadProgress(ctx, r.db, enrollment.ID)
	if err != nil {
		return nil, err
	}
	enrollment.Progress = progress
	return &enrollment, nil
}

// MarkPaymentFailed flags an unpaid enrollment for the pair as failed.
func (r *EnrollmentRepository) MarkPaymentFailed(ctx context.Context, studentID, courseID string) error {
	const query = `UPDATE enrollments SET payment_status = $3, updated_at = $4
        WHERE student_id = $1 AND course_id = $2 AND payment_status IN ('pending', 'failed')`
	if _, err := r.db.ExecContext(ctx, query, studentID, courseID, models.PaymentStatusFailed, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark enrollment payment failed: %w", err)
	}
	return nil
}

// MarkRefunded moves a completed enrollment to refunded. It reports whether a row changed.
func (r *EnrollmentRepository) MarkRefunded(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE enrollments SET payment_status = $2, updated_at = $3 WHERE id = $1 AND payment_status = 'completed'`
	res, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusRefunded, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("refund enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refund enrollment: %w", err)
	}
	return affected > 0, nil
}

// TouchLastAccessed records a content view.
func (r *EnrollmentRepository) TouchLastAccessed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE enrollments SET last_accessed_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch enrollment access: %w", err)
	}
	return nil
}

// ExpireStalePending fails pending enrollments whose order was created before cutoff.
func (r *EnrollmentRepository) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `UPDATE enrollments SET payment_status = $1, updated_at = $2
        WHERE payment_status = 'pending' AND order_created_at IS NOT NULL AND order_created_at < $3`
	res, err := r.db.ExecContext(ctx, query, models.PaymentStatusFailed, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending enrollments: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire pending enrollments: %w", err)
	}
	return affected, nil
}

// MutateProgress applies fn to the latest persisted state of the enrollment
// under a row lock and stores the result. An error from fn aborts without writes.
func (r *EnrollmentRepository) MutateProgress(ctx context.Context, enrollmentID string, fn func(models.Enrollment) (models.Enrollment, error)) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin progress tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current models.Enrollment
	lockQuery := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &current, lockQuery, enrollmentID); err != nil {
		return nil, err
	}
	progress, err := r.loadProgress(ctx, tx, enrollmentID)
	if err != nil {
		return nil, err
	}
	current.Progress = progress

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	const upsert = `INSERT INTO module_progress (enrollment_id, module_id, completed, completed_at, watch_time, position)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (enrollment_id, module_id) DO UPDATE SET
            completed = module_progress.completed OR EXCLUDED.completed,
            completed_at = COALESCE(module_progress.completed_at, EXCLUDED.completed_at),
            watch_time = GREATEST(module_progress.watch_time, EXCLUDED.watch_time)`
	changed := false
	for _, entry := range next.Progress {
		before, ok := models.FindModuleProgress(current.Progress, entry.ModuleID)
		if ok && progressEqual(before, entry) {
			continue
		}
		changed = true
		if _, err := tx.ExecContext(ctx, upsert, enrollmentID, entry.ModuleID, entry.Completed, entry.CompletedAt, entry.WatchTime, entry.Position); err != nil {
			return nil, fmt.Errorf("upsert module progress: %w", err)
		}
	}

	if changed || next.Completed != current.Completed || next.CompletionPercentage != current.CompletionPercentage {
		next.UpdatedAt = time.Now().UTC()
		const update = `UPDATE enrollments SET
            completed = completed OR $2,
            completed_at = COALESCE(completed_at, $3),
            completion_percentage = $4,
            updated_at = $5
        WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, enrollmentID, next.Completed, next.CompletedAt, next.CompletionPercentage, next.UpdatedAt); err != nil {
			return nil, fmt.Errorf("update enrollment completion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit progress tx: %w", err)
	}
	return &next, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id
LEFT JOIN batches b ON b.id = e.batch_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.BatchID != "" {
		conditions = append(conditions, fmt.Sprintf("e.batch_id = $%d", len(args)+1))
		args = append(args, filter.BatchID)
	}
	if filter.PaymentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("e.payment_status = $%d", len(args)+1))
		args = append(args, filter.PaymentStatus)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "u.full_name",
		"progress":     "e.completion_percentage",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.batch_id, e.payment_status, e.payment_id, e.order_id, e.order_amount,
        e.order_currency, e.order_created_at, e.completed, e.completed_at, e.completion_percentage, e.enrolled_at, e.last_accessed_at,
        e.created_at, e.updated_at, COALESCE(u.full_name, '') AS student_name, COALESCE(c.title, '') AS course_title, b.name AS batch_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.reader.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.reader.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

func (r *EnrollmentRepository) loadProgress(ctx context.Context, q sqlx.QueryerContext, enrollmentID string) ([]models.ModuleProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM module_progress WHERE enrollment_id = $1 ORDER BY position`
	progress := []models.ModuleProgress{}
	if err := sqlx.SelectContext(ctx, q, &progress, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("load module progress: %w", err)
	}
	return progress, nil
}

func progressEqual(a, b models.ModuleProgress) bool {
	if a.Completed != b.Completed || a.WatchTime != b.WatchTime {
		return false
	}
	if (a.CompletedAt == nil) != (b.CompletedAt == nil) {
		return false
	}
	return a.CompletedAt == nil || a.CompletedAt.Equal(*b.CompletedAt)
}
