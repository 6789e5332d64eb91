package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/gateway"
	"github.com/noah-isme/lms-enrollment-api/pkg/jobs"
)

type enrollmentStore interface {
	FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	CreateFree(ctx context.Context, enrollment *models.Enrollment) (*models.Enrollment, bool, error)
	UpsertPending(ctx context.Context, studentID, courseID string, batchID *string, order models.PaymentOrder) (*models.Enrollment, error)
	MarkPaymentCompleted(ctx context.Context, studentID, courseID, orderID, paymentID string) (*models.Enrollment, error)
	MarkPaymentFailed(ctx context.Context, studentID, courseID string) error
	MarkRefunded(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type paymentGateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
	VerifyPayment(ctx context.Context, req gateway.VerifyRequest) (*gateway.VerifyResponse, error)
}

type confirmationAwaiter interface {
	AwaitVisible(ctx context.Context, studentID, courseID string) ConfirmationResult
}

// EnrollmentServiceConfig tunes order handling and caching.
type EnrollmentServiceConfig struct {
	DefaultCurrency string
	// OrderTTL bounds how long a pending order is reused for repeated enroll calls.
	OrderTTL time.Duration
	CacheTTL time.Duration
	Now      func() time.Time
}

type enrollMode int

const (
	enrollAny enrollMode = iota
	enrollFreeOnly
	enrollPaidOnly
)

// EnrollmentService orchestrates free and paid enrollment and payment verification.
type EnrollmentService struct {
	store     enrollmentStore
	courses   courseReader
	batches   batchReader
	gateway   paymentGateway
	poller    confirmationAwaiter
	cache     *CacheService
	jobs      jobs.Enqueuer
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       EnrollmentServiceConfig

	orders        singleflight.Group
	verifications singleflight.Group
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(store enrollmentStore, courses courseReader, batches batchReader, gw paymentGateway, poller confirmationAwaiter, cache *CacheService, queue jobs.Enqueuer, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg EnrollmentServiceConfig) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "INR"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &EnrollmentService{
		store:     store,
		courses:   courses,
		batches:   batches,
		gateway:   gw,
		poller:    poller,
		cache:     cache,
		jobs:      queue,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Enroll enrolls the student into a free course directly, or opens (or reuses)
// a payment order for a paid one.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.EnrollResponse, error) {
	return s.enroll(ctx, studentID, req, enrollAny)
}

// EnrollFree enrolls into a course that has no price.
func (s *EnrollmentService) EnrollFree(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.EnrollResponse, error) {
	return s.enroll(ctx, studentID, req, enrollFreeOnly)
}

// CreateOrder opens a payment order for a paid course.
func (s *EnrollmentService) CreateOrder(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.EnrollResponse, error) {
	return s.enroll(ctx, studentID, req, enrollPaidOnly)
}

func (s *EnrollmentService) enroll(ctx context.Context, studentID string, req dto.EnrollRequest, mode enrollMode) (*dto.EnrollResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !course.Published {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is not open for enrollment")
	}
	switch {
	case mode == enrollFreeOnly && !course.IsFree():
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course requires payment")
	case mode == enrollPaidOnly && course.IsFree():
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is free, no payment order needed")
	}
	if req.BatchID != nil {
		if err := s.checkBatch(ctx, course.ID, *req.BatchID); err != nil {
			return nil, err
		}
	}

	if course.IsFree() {
		return s.enrollFree(ctx, studentID, course, req.BatchID)
	}

	key := studentID + "|" + course.ID
	v, err, _ := s.orders.Do(key, func() (interface{}, error) {
		return s.openOrder(ctx, studentID, course, req.BatchID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dto.EnrollResponse), nil
}

func (s *EnrollmentService) enrollFree(ctx context.Context, studentID string, course *models.Course, batchID *string) (*dto.EnrollResponse, error) {
	enrollment, created, err := s.store.CreateFree(ctx, &models.Enrollment{
		StudentID:  studentID,
		CourseID:   course.ID,
		BatchID:    batchID,
		EnrolledAt: s.cfg.Now().UTC(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	if created {
		s.cache.Invalidate(ctx, myEnrollmentsKey(studentID))
		s.enqueue(JobEnrollmentConfirmed, enrollment)
		s.logger.Info("free enrollment created",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("student_id", studentID),
			zap.String("course_id", course.ID),
		)
	}
	return &dto.EnrollResponse{Enrollment: enrollment, Created: created}, nil
}

// openOrder enforces a single in-flight order per student and course.
func (s *EnrollmentService) openOrder(ctx context.Context, studentID string, course *models.Course, batchID *string) (*dto.EnrollResponse, error) {
	existing, err := s.store.FindByStudentAndCourse(ctx, studentID, course.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	now := s.cfg.Now().UTC()
	if existing != nil {
		if existing.PaymentStatus == models.PaymentStatusCompleted {
			return &dto.EnrollResponse{Enrollment: existing}, nil
		}
		if order := existing.PendingOrder(); order != nil && !order.Expired(now, s.cfg.OrderTTL) {
			return &dto.EnrollResponse{Enrollment: existing, Order: order}, nil
		}
	}

	currency := strings.ToUpper(course.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	amount := course.AmountMinor()
	created, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  newReceipt(),
		Notes:    map[string]string{"student_id": studentID, "course_id": course.ID},
	})
	if err != nil {
		s.logger.Warn("payment order creation failed",
			zap.String("student_id", studentID),
			zap.String("course_id", course.ID),
			zap.Error(err),
		)
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, "failed to create payment order")
	}
	s.metrics.IncOrdersCreated()

	order := models.PaymentOrder{ID: created.ID, Amount: created.Amount, Currency: created.Currency, CreatedAt: now}
	if order.Amount == 0 {
		order.Amount = amount
	}
	if order.Currency == "" {
		order.Currency = currency
	}

	enrollment, err := s.store.UpsertPending(ctx, studentID, course.ID, batchID, order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Payment completed between our read and the upsert.
			paid, findErr := s.store.FindByStudentAndCourse(ctx, studentID, course.ID)
			if findErr != nil {
				return nil, appErrors.Wrap(findErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
			}
			return &dto.EnrollResponse{Enrollment: paid}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment order")
	}
	s.logger.Info("payment order created",
		zap.String("order_id", order.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.Int64("amount", order.Amount),
		zap.String("currency", order.Currency),
	)
	return &dto.EnrollResponse{Enrollment: enrollment, Order: &order, Created: existing == nil}, nil
}

// VerifyPayment checks a checkout callback with the gateway, records the
// outcome and waits for the confirmed enrollment to become readable.
func (s *EnrollmentService) VerifyPayment(ctx context.Context, studentID string, req dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment verification payload")
	}
	key := studentID + "|" + req.OrderID
	v, err, _ := s.verifications.Do(key, func() (interface{}, error) {
		return s.verify(ctx, studentID, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dto.VerifyPaymentResponse), nil
}

func (s *EnrollmentService) verify(ctx context.Context, studentID string, req dto.VerifyPaymentRequest) (*dto.VerifyPaymentResponse, error) {
	existing, err := s.store.FindByStudentAndCourse(ctx, studentID, req.CourseID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if existing != nil {
		if existing.PaymentStatus == models.PaymentStatusCompleted && existing.PaymentID != nil && *existing.PaymentID == req.PaymentID {
			return &dto.VerifyPaymentResponse{Enrollment: existing, Visible: true, Message: "payment already verified"}, nil
		}
		if order := existing.PendingOrder(); order != nil && order.ID != req.OrderID {
			s.metrics.ObserveVerification(VerificationRejected)
			return nil, appErrors.Clone(appErrors.ErrVerification, "order does not match the pending enrollment")
		}
	}

	verdict, err := s.gateway.VerifyPayment(ctx, gateway.VerifyRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		CourseID:  req.CourseID,
	})
	if err != nil {
		s.metrics.ObserveVerification(VerificationErrored)
		s.logger.Warn("payment verification unavailable", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, "failed to verify payment")
	}
	if !verdict.Success {
		s.metrics.ObserveVerification(VerificationRejected)
		if existing != nil {
			if err := s.store.MarkPaymentFailed(ctx, studentID, req.CourseID); err != nil {
				s.logger.Error("failed to mark enrollment payment failed", zap.String("order_id", req.OrderID), zap.Error(err))
			}
			s.cache.Invalidate(ctx, myEnrollmentsKey(studentID))
		}
		message := verdict.Message
		if message == "" {
			message = appErrors.ErrVerification.Message
		}
		return nil, appErrors.Clone(appErrors.ErrVerification, message)
	}

	enrollment, err := s.store.MarkPaymentCompleted(ctx, studentID, req.CourseID, req.OrderID, req.PaymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	s.metrics.ObserveVerification(VerificationSucceeded)
	s.cache.Invalidate(ctx, myEnrollmentsKey(studentID))
	if existing == nil || existing.PaymentStatus != models.PaymentStatusCompleted {
		s.enqueue(JobEnrollmentConfirmed, enrollment)
	}
	s.logger.Info("payment verified",
		zap.String("order_id", req.OrderID),
		zap.String("payment_id", req.PaymentID),
		zap.String("enrollment_id", enrollment.ID),
	)

	resp := &dto.VerifyPaymentResponse{Enrollment: enrollment, Message: verdict.Message}
	if s.poller != nil {
		result := s.poller.AwaitVisible(ctx, studentID, req.CourseID)
		resp.Visible, resp.Attempts = result.Visible, result.Attempts
		if result.Enrollment != nil {
			resp.Enrollment = result.Enrollment
		}
		// A concurrent listing may have cached the lagging read while we polled.
		s.cache.Invalidate(ctx, myEnrollmentsKey(studentID))
	}
	return resp, nil
}

// ListMine returns the student's enrollments through the cached read path.
func (s *EnrollmentService) ListMine(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	key := myEnrollmentsKey(studentID)
	var cached []models.Enrollment
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}
	enrollments, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	s.cache.Set(ctx, key, enrollments, s.cfg.CacheTTL)
	return enrollments, nil
}

// ListByCourse returns a page of a course's enrollments for staff.
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID string, query dto.CourseEnrollmentQuery) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment query")
	}
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, nil, err
	}
	filter := models.EnrollmentFilter{
		CourseID:      courseID,
		BatchID:       query.BatchID,
		PaymentStatus: models.PaymentStatus(query.PaymentStatus),
		Page:          query.Page,
		PageSize:      query.PageSize,
		SortBy:        query.SortBy,
		SortOrder:     query.SortOrder,
	}
	enrollments, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Refund moves a paid enrollment to refunded, which revokes content access.
func (s *EnrollmentService) Refund(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.store.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.PaymentStatus != models.PaymentStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only paid enrollments can be refunded")
	}
	changed, err := s.store.MarkRefunded(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refund enrollment")
	}
	if !changed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment changed concurrently")
	}
	s.cache.Invalidate(ctx, myEnrollmentsKey(enrollment.StudentID))
	s.logger.Info("enrollment refunded", zap.String("enrollment_id", enrollmentID))

	refunded := enrollment.Clone()
	refunded.PaymentStatus = models.PaymentStatusRefunded
	return &refunded, nil
}

func (s *EnrollmentService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *EnrollmentService) checkBatch(ctx context.Context, courseID, batchID string) error {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	switch {
	case batch.CourseID != courseID:
		return appErrors.Clone(appErrors.ErrValidation, "batch does not belong to course")
	case !batch.Active:
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "batch is not active")
	case !batch.HasAvailableSlots():
		return appErrors.Clone(appErrors.ErrConflict, "batch is full")
	}
	return nil
}

func (s *EnrollmentService) enqueue(jobType string, enrollment *models.Enrollment) {
	if s.jobs == nil || enrollment == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: NewEnrollmentJob(*enrollment)}
	if err := s.jobs.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue enrollment job",
			zap.String("type", jobType),
			zap.String("enrollment_id", enrollment.ID),
			zap.Error(err),
		)
	}
}

func myEnrollmentsKey(studentID string) string {
	return "enrollments:student:" + studentID
}

func newReceipt() string {
	return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
