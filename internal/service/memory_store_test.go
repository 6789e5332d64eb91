package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/pkg/gateway"
	"github.com/noah-isme/lms-enrollment-api/pkg/jobs"
)

// memoryEnrollmentStore mimics EnrollmentRepository, including the row lock
// taken by MutateProgress.
type memoryEnrollmentStore struct {
	mu        sync.Mutex
	byID      map[string]*models.Enrollment
	seq       int
	mutations int
	listErr   error
}

func newMemoryEnrollmentStore() *memoryEnrollmentStore {
	return &memoryEnrollmentStore{byID: map[string]*models.Enrollment{}}
}

func (m *memoryEnrollmentStore) put(e models.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		m.seq++
		e.ID = fmt.Sprintf("enr-%d", m.seq)
	}
	if e.Progress == nil {
		e.Progress = []models.ModuleProgress{}
	}
	clone := e.Clone()
	m.byID[e.ID] = &clone
}

func (m *memoryEnrollmentStore) get(id string) models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Clone()
}

func (m *memoryEnrollmentStore) findPair(studentID, courseID string) *models.Enrollment {
	for _, e := range m.byID {
		if e.StudentID == studentID && e.CourseID == courseID {
			return e
		}
	}
	return nil
}

func (m *memoryEnrollmentStore) insert(studentID, courseID string, batchID *string) *models.Enrollment {
	m.seq++
	now := time.Now().UTC()
	e := &models.Enrollment{
		ID:         fmt.Sprintf("enr-%d", m.seq),
		StudentID:  studentID,
		CourseID:   courseID,
		BatchID:    batchID,
		EnrolledAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
		Progress:   []models.ModuleProgress{},
	}
	m.byID[e.ID] = e
	return e
}

func copyOut(e *models.Enrollment) *models.Enrollment {
	clone := e.Clone()
	return &clone
}

func (m *memoryEnrollmentStore) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findPair(studentID, courseID)
	if e == nil {
		return nil, sql.ErrNoRows
	}
	return copyOut(e), nil
}

func (m *memoryEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyOut(e), nil
}

func (m *memoryEnrollmentStore) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []models.Enrollment{}
	for _, e := range m.byID {
		if e.StudentID == studentID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryEnrollmentStore) CreateFree(ctx context.Context, enrollment *models.Enrollment) (*models.Enrollment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.findPair(enrollment.StudentID, enrollment.CourseID); existing != nil {
		return copyOut(existing), false, nil
	}
	e := m.insert(enrollment.StudentID, enrollment.CourseID, enrollment.BatchID)
	e.PaymentStatus = models.PaymentStatusCompleted
	return copyOut(e), true, nil
}

func (m *memoryEnrollmentStore) UpsertPending(ctx context.Context, studentID, courseID string, batchID *string, order models.PaymentOrder) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findPair(studentID, courseID)
	if e == nil {
		e = m.insert(studentID, courseID, batchID)
	} else if e.PaymentStatus == models.PaymentStatusCompleted {
		return nil, sql.ErrNoRows
	}
	orderID, amount, currency, created := order.ID, order.Amount, order.Currency, order.CreatedAt
	e.PaymentStatus = models.PaymentStatusPending
	e.OrderID, e.OrderAmount, e.OrderCurrency, e.OrderCreatedAt = &orderID, &amount, &currency, &created
	if batchID != nil {
		e.BatchID = batchID
	}
	return copyOut(e), nil
}

func (m *memoryEnrollmentStore) MarkPaymentCompleted(ctx context.Context, studentID, courseID, orderID, paymentID string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.findPair(studentID, courseID)
	if e == nil {
		e = m.insert(studentID, courseID, nil)
	}
	e.PaymentStatus = models.PaymentStatusCompleted
	e.PaymentID, e.OrderID = &paymentID, &orderID
	return copyOut(e), nil
}

func (m *memoryEnrollmentStore) MarkPaymentFailed(ctx context.Context, studentID, courseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.findPair(studentID, courseID); e != nil && (e.PaymentStatus == models.PaymentStatusPending || e.PaymentStatus == models.PaymentStatusFailed) {
		e.PaymentStatus = models.PaymentStatusFailed
	}
	return nil
}

func (m *memoryEnrollmentStore) MarkRefunded(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || e.PaymentStatus != models.PaymentStatusCompleted {
		return false, nil
	}
	e.PaymentStatus = models.PaymentStatusRefunded
	return true, nil
}

func (m *memoryEnrollmentStore) TouchLastAccessed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[id]; ok {
		e.LastAccessedAt = &at
	}
	return nil
}

func (m *memoryEnrollmentStore) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.byID {
		if e.PaymentStatus == models.PaymentStatusPending && e.OrderCreatedAt != nil && e.OrderCreatedAt.Before(cutoff) {
			e.PaymentStatus = models.PaymentStatusFailed
			n++
		}
	}
	return n, nil
}

func (m *memoryEnrollmentStore) MutateProgress(ctx context.Context, enrollmentID string, fn func(models.Enrollment) (models.Enrollment, error)) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	next, err := fn(e.Clone())
	if err != nil {
		return nil, err
	}
	m.mutations++
	stored := next.Clone()
	m.byID[enrollmentID] = &stored
	return copyOut(&stored), nil
}

func (m *memoryEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.EnrollmentDetail{}
	for _, e := range m.byID {
		if e.CourseID != filter.CourseID {
			continue
		}
		if filter.PaymentStatus != "" && e.PaymentStatus != filter.PaymentStatus {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e.Clone(), StudentName: e.StudentID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type stubCourseReader struct {
	courses map[string]models.Course
}

func (s *stubCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

// stubGateway counts calls and can hold CreateOrder open until release is closed.
type stubGateway struct {
	mu          sync.Mutex
	orderCalls  int
	verifyCalls int
	createErr   error
	verifyErr   error
	verdict     gateway.VerifyResponse
	release     chan struct{}
	lastOrder   gateway.OrderRequest
}

func (g *stubGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	g.orderCalls++
	n := g.orderCalls
	g.lastOrder = req
	release := g.release
	g.mu.Unlock()
	if release != nil {
		<-release
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &gateway.Order{ID: fmt.Sprintf("order_%d", n), Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

func (g *stubGateway) VerifyPayment(ctx context.Context, req gateway.VerifyRequest) (*gateway.VerifyResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	verdict := g.verdict
	return &verdict, nil
}

func (g *stubGateway) calls() (orders, verifications int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orderCalls, g.verifyCalls
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Type)
	}
	return out
}
