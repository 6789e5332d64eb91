package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/config"
	"github.com/noah-isme/lms-enrollment-api/pkg/retry"
)

type enrollmentLister interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
}

// ConfirmationResult reports whether a confirmed enrollment became visible.
type ConfirmationResult struct {
	Visible    bool
	Enrollment *models.Enrollment
	Attempts   int
}

// ConfirmationPoller waits for a freshly confirmed enrollment to show up on
// the read path, which may lag behind the primary.
type ConfirmationPoller struct {
	reader  enrollmentLister
	policy  retry.Policy
	metrics *MetricsService
	logger  *zap.Logger
}

// NewConfirmationPoller constructs a poller. A nil sleep uses real timers.
func NewConfirmationPoller(reader enrollmentLister, cfg config.ConfirmationConfig, sleep retry.Sleeper, metrics *MetricsService, logger *zap.Logger) *ConfirmationPoller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmationPoller{
		reader: reader,
		policy: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			Delay:          cfg.Delay,
			AttemptTimeout: cfg.AttemptTimeout,
			Sleep:          sleep,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// AwaitVisible reads the student's enrollments until courseID appears with a
// completed payment. Running out of attempts is reported through Visible=false,
// never as an error.
func (p *ConfirmationPoller) AwaitVisible(ctx context.Context, studentID, courseID string) ConfirmationResult {
	read := func(ctx context.Context) (*models.Enrollment, error) {
		enrollments, err := p.reader.ListByStudent(ctx, studentID)
		if err != nil {
			return nil, err
		}
		for i := range enrollments {
			if enrollments[i].CourseID == courseID && enrollments[i].PaymentStatus.GrantsAccess() {
				return &enrollments[i], nil
			}
		}
		return nil, nil
	}
	found := func(e *models.Enrollment) bool { return e != nil }

	res, err := retry.Until(ctx, p.policy, read, found)
	result := ConfirmationResult{Visible: res.Satisfied, Enrollment: res.Value, Attempts: res.Attempts}
	p.metrics.ObserveConfirmation(res.Attempts, res.Satisfied)
	if err != nil {
		fields := []zap.Field{
			zap.String("student_id", studentID),
			zap.String("course_id", courseID),
			zap.Int("attempts", res.Attempts),
		}
		if res.LastErr != nil {
			fields = append(fields, zap.NamedError("last_error", res.LastErr))
		}
		if !errors.Is(err, retry.ErrExhausted) {
			fields = append(fields, zap.Error(err))
		}
		p.logger.Warn("enrollment confirmation not visible yet", fields...)
	}
	return result
}
