package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/jobs"
)

type progressStore interface {
	MutateProgress(ctx context.Context, enrollmentID string, fn func(models.Enrollment) (models.Enrollment, error)) (*models.Enrollment, error)
}

// ProgressTracker records per-module progress for paid, in-window enrollments.
type ProgressTracker struct {
	store     progressStore
	courses   courseReader
	guard     *AccessGuard
	cache     *CacheService
	jobs      jobs.Enqueuer
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewProgressTracker constructs a ProgressTracker. A nil clock uses time.Now.
func NewProgressTracker(store progressStore, courses courseReader, guard *AccessGuard, cache *CacheService, queue jobs.Enqueuer, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, now func() time.Time) *ProgressTracker {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &ProgressTracker{
		store:     store,
		courses:   courses,
		guard:     guard,
		cache:     cache,
		jobs:      queue,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       now,
	}
}

// MarkModuleProgress applies a module update. Completion and watch time only
// move forward, so replays and reordered updates converge.
func (t *ProgressTracker) MarkModuleProgress(ctx context.Context, studentID string, req dto.ProgressRequest) (*models.Enrollment, error) {
	if err := t.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	enrollment, err := t.guard.ResolvePaid(ctx, studentID, req.CourseID)
	if err != nil {
		return nil, err
	}
	course, err := t.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.HasModule(req.ModuleID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found in this course")
	}

	patch := models.ProgressPatch{Completed: req.Completed, WatchTime: req.WatchTime}
	var firstCompletion bool
	updated, err := t.store.MutateProgress(ctx, enrollment.ID, func(current models.Enrollment) (models.Enrollment, error) {
		// The window is checked again on the locked row.
		decision, err := t.guard.Check(ctx, current)
		if err != nil {
			return current, err
		}
		if !decision.Accessible {
			return current, accessExpiredError(decision)
		}
		next := models.WithModuleProgress(current, req.ModuleID, patch, course.ModuleIDs, t.now().UTC())
		firstCompletion = !current.Completed && next.Completed
		return next, nil
	})
	if err != nil {
		var appErr *appErrors.Error
		switch {
		case errors.As(err, &appErr):
			return nil, err
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update progress")
		}
	}

	t.metrics.IncProgressUpdate(firstCompletion)
	t.cache.Invalidate(ctx, myEnrollmentsKey(studentID))
	if firstCompletion {
		t.logger.Info("course completed",
			zap.String("enrollment_id", updated.ID),
			zap.String("course_id", updated.CourseID),
		)
		if t.jobs != nil {
			job := jobs.Job{ID: uuid.NewString(), Type: JobCourseCompleted, Payload: NewEnrollmentJob(*updated)}
			if err := t.jobs.Enqueue(job); err != nil {
				t.logger.Warn("failed to enqueue completion job", zap.String("enrollment_id", updated.ID), zap.Error(err))
			}
		}
	}
	return updated, nil
}

// Progress returns the caller's enrollment together with its module progress.
func (t *ProgressTracker) Progress(ctx context.Context, studentID, courseID string) (*models.Enrollment, *models.Course, error) {
	enrollment, err := t.guard.ResolvePaid(ctx, studentID, courseID)
	if err != nil {
		return nil, nil, err
	}
	course, err := t.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return enrollment, course, nil
}
