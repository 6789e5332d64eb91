package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
)

const denialPaymentRequired = "payment_required"

type batchReader interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
}

type accessEnrollmentStore interface {
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	TouchLastAccessed(ctx context.Context, id string, at time.Time) error
}

// AccessGuard decides whether an enrollment may currently reach course content.
// Decisions are computed on every call and never cached.
type AccessGuard struct {
	enrollments accessEnrollmentStore
	batches     batchReader
	now         func() time.Time
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewAccessGuard constructs an AccessGuard. A nil clock uses time.Now.
func NewAccessGuard(enrollments accessEnrollmentStore, batches batchReader, now func() time.Time, metrics *MetricsService, logger *zap.Logger) *AccessGuard {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessGuard{enrollments: enrollments, batches: batches, now: now, metrics: metrics, logger: logger}
}

// Check evaluates the batch window of the enrollment. Enrollments without a
// batch are always open. A referenced batch that cannot be found fails closed.
func (g *AccessGuard) Check(ctx context.Context, enrollment models.Enrollment) (models.AccessDecision, error) {
	if !enrollment.HasBatch() {
		return models.OpenAccess(), nil
	}
	batch, err := g.batches.FindByID(ctx, *enrollment.BatchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AccessDecision{}, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return models.AccessDecision{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	decision := models.DecideBatchAccess(*batch, g.now())
	if !decision.Accessible {
		g.metrics.IncAccessDenied(string(decision.Reason))
	}
	return decision, nil
}

// CheckCourseAccess resolves the caller's enrollment for courseID, requires a
// completed payment and evaluates the batch window. Allowed views are stamped
// on the enrollment's last access time.
func (g *AccessGuard) CheckCourseAccess(ctx context.Context, studentID, courseID string) (models.AccessDecision, error) {
	enrollment, err := g.ResolvePaid(ctx, studentID, courseID)
	if err != nil {
		return models.AccessDecision{}, err
	}
	decision, err := g.Check(ctx, *enrollment)
	if err != nil {
		return models.AccessDecision{}, err
	}
	if decision.Accessible {
		if err := g.enrollments.TouchLastAccessed(ctx, enrollment.ID, g.now().UTC()); err != nil {
			g.logger.Warn("failed to record enrollment access", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		}
	}
	return decision, nil
}

// ResolvePaid loads the caller's enrollment and rejects it unless its payment grants access.
func (g *AccessGuard) ResolvePaid(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	enrollment, err := g.enrollments.FindByStudentAndCourse(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "not enrolled in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.PaymentStatus.GrantsAccess() {
		g.metrics.IncAccessDenied(denialPaymentRequired)
		return nil, appErrors.WithDetails(appErrors.ErrPaymentRequired, "", map[string]interface{}{
			"payment_status": enrollment.PaymentStatus,
		})
	}
	return enrollment, nil
}

// accessExpiredError renders a denied decision as ACCESS_EXPIRED with the window attached.
func accessExpiredError(decision models.AccessDecision) error {
	details := map[string]interface{}{"reason": decision.Reason}
	if decision.StartDate != nil {
		details["start_date"] = decision.StartDate.Format("2006-01-02")
	}
	if decision.EndDate != nil {
		details["end_date"] = decision.EndDate.Format("2006-01-02")
	}
	return appErrors.WithDetails(appErrors.ErrAccessExpired, decision.Message, details)
}
