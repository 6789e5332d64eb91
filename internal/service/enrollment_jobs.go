package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/events"
	"github.com/noah-isme/lms-enrollment-api/pkg/jobs"
)

// Background job types.
const (
	JobEnrollmentConfirmed = events.TypeEnrollmentConfirmed
	JobCourseCompleted     = events.TypeCourseCompleted
)

// EnrollmentJob is the payload of enrollment lifecycle jobs. The step flags
// are set as side effects land so a retried job resumes where it failed.
type EnrollmentJob struct {
	EnrollmentID string
	StudentID    string
	CourseID     string
	BatchID      string
	OccurredAt   time.Time

	CourseCounted bool
	BatchCounted  bool
	Published     bool
}

// NewEnrollmentJob builds a job payload from an enrollment snapshot.
func NewEnrollmentJob(e models.Enrollment) *EnrollmentJob {
	job := &EnrollmentJob{
		EnrollmentID: e.ID,
		StudentID:    e.StudentID,
		CourseID:     e.CourseID,
		OccurredAt:   time.Now().UTC(),
	}
	if e.HasBatch() {
		job.BatchID = *e.BatchID
	}
	return job
}

type courseCounter interface {
	IncrementEnrollmentCount(ctx context.Context, id string) error
}

type batchCounter interface {
	IncrementEnrolled(ctx context.Context, id string) (bool, error)
}

// EnrollmentJobs runs the follow-up work of confirmed and completed enrollments.
type EnrollmentJobs struct {
	courses   courseCounter
	batches   batchCounter
	publisher events.Publisher
	logger    *zap.Logger
}

// NewEnrollmentJobs constructs the job handlers.
func NewEnrollmentJobs(courses courseCounter, batches batchCounter, publisher events.Publisher, logger *zap.Logger) *EnrollmentJobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &EnrollmentJobs{courses: courses, batches: batches, publisher: publisher, logger: logger}
}

// Register binds the handlers on mux.
func (h *EnrollmentJobs) Register(mux *jobs.Mux) {
	mux.Handle(JobEnrollmentConfirmed, h.handleConfirmed)
	mux.Handle(JobCourseCompleted, h.handleCompleted)
}

func (h *EnrollmentJobs) handleConfirmed(ctx context.Context, job jobs.Job) error {
	payload, err := enrollmentPayload(job)
	if err != nil {
		return err
	}
	if !payload.CourseCounted {
		if err := h.courses.IncrementEnrollmentCount(ctx, payload.CourseID); err != nil {
			return fmt.Errorf("increment course enrollment count: %w", err)
		}
		payload.CourseCounted = true
	}
	if payload.BatchID != "" && !payload.BatchCounted {
		incremented, err := h.batches.IncrementEnrolled(ctx, payload.BatchID)
		if err != nil {
			return fmt.Errorf("increment batch enrolled count: %w", err)
		}
		if !incremented {
			h.logger.Warn("batch already at capacity",
				zap.String("batch_id", payload.BatchID),
				zap.String("enrollment_id", payload.EnrollmentID),
			)
		}
		payload.BatchCounted = true
	}
	return h.publish(ctx, job.Type, payload)
}

func (h *EnrollmentJobs) handleCompleted(ctx context.Context, job jobs.Job) error {
	payload, err := enrollmentPayload(job)
	if err != nil {
		return err
	}
	return h.publish(ctx, job.Type, payload)
}

func (h *EnrollmentJobs) publish(ctx context.Context, eventType string, payload *EnrollmentJob) error {
	if payload.Published {
		return nil
	}
	event := events.Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		EnrollmentID: payload.EnrollmentID,
		StudentID:    payload.StudentID,
		CourseID:     payload.CourseID,
		BatchID:      payload.BatchID,
		OccurredAt:   payload.OccurredAt,
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	payload.Published = true
	return nil
}

func enrollmentPayload(job jobs.Job) (*EnrollmentJob, error) {
	payload, ok := job.Payload.(*EnrollmentJob)
	if !ok || payload == nil {
		return nil, jobs.Permanent(fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload))
	}
	return payload, nil
}
