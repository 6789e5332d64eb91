package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/gateway"
)

type enrollmentFixture struct {
	svc     *EnrollmentService
	store   *memoryEnrollmentStore
	gateway *stubGateway
	queue   *recordingQueue
	cache   *memoryCacheRepo
	metrics *MetricsService
	clock   *time.Time
}

func testCourses() *stubCourseReader {
	return &stubCourseReader{courses: map[string]models.Course{
		"course-free":  {ID: "course-free", Title: "Intro", Price: decimal.Zero, Published: true, ModuleIDs: []string{"m1", "m2"}},
		"course-1":     {ID: "course-1", Title: "Go Fundamentals", Price: decimal.RequireFromString("999.00"), Currency: "INR", Published: true, ModuleIDs: []string{"m1", "m2", "m3"}},
		"course-usd":   {ID: "course-usd", Title: "Advanced", Price: decimal.RequireFromString("19.99"), Currency: "usd", Published: true},
		"course-draft": {ID: "course-draft", Title: "Draft", Price: decimal.Zero},
	}}
}

func newEnrollmentFixture(t *testing.T) *enrollmentFixture {
	t.Helper()
	now := date(2024, 1, 10)
	f := &enrollmentFixture{
		store:   newMemoryEnrollmentStore(),
		gateway: &stubGateway{verdict: gateway.VerifyResponse{Success: true, Message: "verified"}},
		queue:   &recordingQueue{},
		cache:   newMemoryCacheRepo(),
		metrics: NewMetricsService(),
		clock:   &now,
	}
	cache := NewCacheService(f.cache, f.metrics, time.Minute, nil, true)
	poller := NewConfirmationPoller(f.store, config.ConfirmationConfig{MaxAttempts: 3, Delay: time.Second}, func(context.Context, time.Duration) error { return nil }, f.metrics, nil)
	f.svc = NewEnrollmentService(f.store, testCourses(), januaryBatch(), f.gateway, poller, cache, f.queue, nil, f.metrics, nil, EnrollmentServiceConfig{
		OrderTTL: 15 * time.Minute,
		Now:      func() time.Time { return *f.clock },
	})
	return f
}

func TestEnrollFreeCourseCreatesCompletedEnrollment(t *testing.T) {
	f := newEnrollmentFixture(t)

	res, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-free"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Nil(t, res.Order)
	assert.Equal(t, models.PaymentStatusCompleted, res.Enrollment.PaymentStatus)
	assert.Empty(t, res.Enrollment.Progress)
	orders, _ := f.gateway.calls()
	assert.Zero(t, orders)
	assert.Equal(t, []string{JobEnrollmentConfirmed}, f.queue.types())

	again, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-free"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.Enrollment.ID, again.Enrollment.ID)
	assert.Len(t, f.queue.types(), 1)
}

func TestEnrollRejectsUnknownAndUnpublishedCourses(t *testing.T) {
	f := newEnrollmentFixture(t)

	_, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "missing"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-draft"})
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestEnrollFreeRejectsPricedCourse(t *testing.T) {
	f := newEnrollmentFixture(t)
	_, err := f.svc.EnrollFree(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.svc.CreateOrder(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-free"})
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
}

func TestEnrollPaidCourseCreatesPendingOrder(t *testing.T) {
	f := newEnrollmentFixture(t)

	res, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.True(t, res.Created)
	assert.Equal(t, int64(99900), res.Order.Amount)
	assert.Equal(t, "INR", res.Order.Currency)
	assert.Equal(t, models.PaymentStatusPending, res.Enrollment.PaymentStatus)
	assert.Equal(t, "course-1", f.gateway.lastOrder.Notes["course_id"])
	assert.Equal(t, uint64(1), f.metrics.Snapshot().OrdersCreated)
	assert.Empty(t, f.queue.types())
}

func TestEnrollUppercasesCourseCurrency(t *testing.T) {
	f := newEnrollmentFixture(t)
	res, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-usd"})
	require.NoError(t, err)
	assert.Equal(t, "USD", res.Order.Currency)
	assert.Equal(t, int64(1999), res.Order.Amount)
}

func TestEnrollReusesInFlightOrderUntilExpired(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()

	first, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)

	*f.clock = f.clock.Add(10 * time.Minute)
	second, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.False(t, second.Created)

	*f.clock = f.clock.Add(10 * time.Minute)
	third, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, third.Order.ID)
	assert.Equal(t, first.Enrollment.ID, third.Enrollment.ID)

	orders, _ := f.gateway.calls()
	assert.Equal(t, 2, orders)
}

func TestEnrollConcurrentCallsMintOneOrder(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.gateway.release = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*dto.EnrollResponse, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-1"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.gateway.release)
	wg.Wait()

	orders, _ := f.gateway.calls()
	assert.Equal(t, 1, orders)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, results[0].Order.ID, res.Order.ID)
	}
}

func TestEnrollGatewayFailurePersistsNothing(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.gateway.createErr = gateway.ErrUnavailable

	_, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	assert.ErrorIs(t, err, appErrors.ErrGateway)
	assert.Empty(t, f.store.byID)
}

func TestEnrollPaidReturnsCompletedEnrollmentUnchanged(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.store.put(models.Enrollment{ID: "enr-paid", StudentID: "stu-1", CourseID: "course-1", PaymentStatus: models.PaymentStatusCompleted})

	res, err := f.svc.Enroll(context.Background(), "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)
	assert.Nil(t, res.Order)
	assert.Equal(t, "enr-paid", res.Enrollment.ID)
	orders, _ := f.gateway.calls()
	assert.Zero(t, orders)
}

func TestEnrollValidatesBatch(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1", BatchID: strPtr("nope")})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-free", BatchID: strPtr("batch-jan")})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	res, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1", BatchID: strPtr("batch-jan")})
	require.NoError(t, err)
	require.NotNil(t, res.Enrollment.BatchID)
	assert.Equal(t, "batch-jan", *res.Enrollment.BatchID)
}

func TestVerifyPaymentSuccess(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	created, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)

	// Warm the cache with the pending view; verification must drop it.
	_, err = f.svc.ListMine(ctx, "stu-1")
	require.NoError(t, err)

	res, err := f.svc.VerifyPayment(ctx, "stu-1", dto.VerifyPaymentRequest{OrderID: created.Order.ID, PaymentID: "pay_1", Signature: "sig", CourseID: "course-1"})
	require.NoError(t, err)
	assert.True(t, res.Visible)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, models.PaymentStatusCompleted, res.Enrollment.PaymentStatus)
	assert.Equal(t, created.Enrollment.ID, res.Enrollment.ID)
	assert.Equal(t, []string{JobEnrollmentConfirmed}, f.queue.types())

	mine, err := f.svc.ListMine(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.PaymentStatusCompleted, mine[0].PaymentStatus)
}

func TestVerifyPaymentReplayDoesNotCallGateway(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	req := dto.VerifyPaymentRequest{OrderID: "order_x", PaymentID: "pay_1", Signature: "sig", CourseID: "course-1"}

	_, err := f.svc.VerifyPayment(ctx, "stu-1", req)
	require.NoError(t, err)
	replay, err := f.svc.VerifyPayment(ctx, "stu-1", req)
	require.NoError(t, err)
	assert.True(t, replay.Visible)

	_, verifications := f.gateway.calls()
	assert.Equal(t, 1, verifications)
	assert.Len(t, f.queue.types(), 1)
}

func TestVerifyPaymentConcurrentCallbacksVerifyOnce(t *testing.T) {
	f := newEnrollmentFixture(t)
	req := dto.VerifyPaymentRequest{OrderID: "order_x", PaymentID: "pay_1", Signature: "sig", CourseID: "course-1"}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyPayment(context.Background(), "stu-1", req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, verifications := f.gateway.calls()
	assert.Equal(t, 1, verifications)
	assert.Len(t, f.store.byID, 1)
}

func TestVerifyPaymentOrderMismatch(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	_, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)

	_, err = f.svc.VerifyPayment(ctx, "stu-1", dto.VerifyPaymentRequest{OrderID: "order_other", PaymentID: "pay_1", Signature: "sig", CourseID: "course-1"})
	assert.ErrorIs(t, err, appErrors.ErrVerification)
	_, verifications := f.gateway.calls()
	assert.Zero(t, verifications)
}

func TestVerifyPaymentRejectedMarksFailed(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	created, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)
	f.gateway.verdict = gateway.VerifyResponse{Success: false, Message: "signature mismatch"}

	_, err = f.svc.VerifyPayment(ctx, "stu-1", dto.VerifyPaymentRequest{OrderID: created.Order.ID, PaymentID: "pay_1", Signature: "bad", CourseID: "course-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrVerification)
	assert.Equal(t, "signature mismatch", appErrors.FromError(err).Message)
	assert.Equal(t, models.PaymentStatusFailed, f.store.get(created.Enrollment.ID).PaymentStatus)
	assert.Empty(t, f.queue.types())
}

func TestVerifyPaymentGatewayErrorLeavesStateUntouched(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	created, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)
	f.gateway.verifyErr = errors.New("connection reset")

	_, err = f.svc.VerifyPayment(ctx, "stu-1", dto.VerifyPaymentRequest{OrderID: created.Order.ID, PaymentID: "pay_1", Signature: "sig", CourseID: "course-1"})
	assert.ErrorIs(t, err, appErrors.ErrGateway)
	assert.Equal(t, models.PaymentStatusPending, f.store.get(created.Enrollment.ID).PaymentStatus)
}

type fixedAwaiter struct {
	result ConfirmationResult
}

func (a fixedAwaiter) AwaitVisible(ctx context.Context, studentID, courseID string) ConfirmationResult {
	return a.result
}

func TestVerifyPaymentSoftFailsWhenNotVisible(t *testing.T) {
	store := newMemoryEnrollmentStore()
	gw := &stubGateway{verdict: gateway.VerifyResponse{Success: true}}
	svc := NewEnrollmentService(store, testCourses(), januaryBatch(), gw, fixedAwaiter{result: ConfirmationResult{Attempts: 5}}, nil, nil, nil, nil, nil, EnrollmentServiceConfig{})

	res, err := svc.VerifyPayment(context.Background(), "stu-1", dto.VerifyPaymentRequest{OrderID: "o", PaymentID: "p", Signature: "s", CourseID: "course-1"})
	require.NoError(t, err)
	assert.False(t, res.Visible)
	assert.Equal(t, 5, res.Attempts)
	require.NotNil(t, res.Enrollment)
	assert.Equal(t, models.PaymentStatusCompleted, res.Enrollment.PaymentStatus)
}

func TestListMineUsesCache(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	f.store.put(models.Enrollment{StudentID: "stu-1", CourseID: "course-1", PaymentStatus: models.PaymentStatusCompleted})

	first, err := f.svc.ListMine(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	f.store.listErr = errors.New("replica down")
	second, err := f.svc.ListMine(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)

	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
}

func TestRefundOnlyFromCompleted(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	f.store.put(models.Enrollment{ID: "enr-paid", StudentID: "stu-1", CourseID: "course-1", PaymentStatus: models.PaymentStatusCompleted})
	f.store.put(models.Enrollment{ID: "enr-pending", StudentID: "stu-1", CourseID: "course-usd", PaymentStatus: models.PaymentStatusPending})

	refunded, err := f.svc.Refund(ctx, "enr-paid")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.Equal(t, models.PaymentStatusRefunded, f.store.get("enr-paid").PaymentStatus)

	_, err = f.svc.Refund(ctx, "enr-pending")
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.svc.Refund(ctx, "enr-missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRefundedStudentCanPayAgain(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	f.store.put(models.Enrollment{ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", PaymentStatus: models.PaymentStatusRefunded})

	res, err := f.svc.Enroll(ctx, "stu-1", dto.EnrollRequest{CourseID: "course-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, "enr-1", res.Enrollment.ID)
	assert.Equal(t, models.PaymentStatusPending, res.Enrollment.PaymentStatus)
}

func TestListByCourse(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	f.store.put(models.Enrollment{StudentID: "stu-1", CourseID: "course-1", PaymentStatus: models.PaymentStatusCompleted})
	f.store.put(models.Enrollment{StudentID: "stu-2", CourseID: "course-1", PaymentStatus: models.PaymentStatusPending})
	f.store.put(models.Enrollment{StudentID: "stu-3", CourseID: "course-usd", PaymentStatus: models.PaymentStatusCompleted})

	items, page, err := f.svc.ListByCourse(ctx, "course-1", dto.CourseEnrollmentQuery{PaymentStatus: "completed"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "stu-1", items[0].StudentID)
	assert.Equal(t, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, page)

	_, _, err = f.svc.ListByCourse(ctx, "course-1", dto.CourseEnrollmentQuery{SortBy: "drop table"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, _, err = f.svc.ListByCourse(ctx, "missing", dto.CourseEnrollmentQuery{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
