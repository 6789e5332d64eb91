package models

import "time"

// PaymentStatus represents the payment lifecycle of an enrollment.
type PaymentStatus string

// Possible payment statuses.
const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Valid reports whether the status is one of the known values.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// GrantsAccess reports whether course content may be served for this status.
func (s PaymentStatus) GrantsAccess() bool {
	return s == PaymentStatusCompleted
}

// Enrollment binds a student to a course, its payment state and its progress.
type Enrollment struct {
	ID                   string           `db:"id" json:"id"`
	StudentID            string           `db:"student_id" json:"student_id"`
	CourseID             string           `db:"course_id" json:"course_id"`
	BatchID              *string          `db:"batch_id" json:"batch_id,omitempty"`
	PaymentStatus        PaymentStatus    `db:"payment_status" json:"payment_status"`
	PaymentID            *string          `db:"payment_id" json:"payment_id,omitempty"`
	OrderID              *string          `db:"order_id" json:"order_id,omitempty"`
	OrderAmount          *int64           `db:"order_amount" json:"-"`
	OrderCurrency        *string          `db:"order_currency" json:"-"`
	OrderCreatedAt       *time.Time       `db:"order_created_at" json:"-"`
	Completed            bool             `db:"completed" json:"completed"`
	CompletedAt          *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CompletionPercentage int              `db:"completion_percentage" json:"completion_percentage"`
	EnrolledAt           time.Time        `db:"enrolled_at" json:"enrolled_at"`
	LastAccessedAt       *time.Time       `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
	Progress             []ModuleProgress `db:"-" json:"progress"`
}

// HasBatch reports whether the enrollment is scoped to a batch window.
func (e Enrollment) HasBatch() bool {
	return e.BatchID != nil && *e.BatchID != ""
}

// PendingOrder returns the order recorded on a pending enrollment, if any.
func (e Enrollment) PendingOrder() *PaymentOrder {
	if e.PaymentStatus != PaymentStatusPending || e.OrderID == nil || *e.OrderID == "" {
		return nil
	}
	order := &PaymentOrder{ID: *e.OrderID}
	if e.OrderAmount != nil {
		order.Amount = *e.OrderAmount
	}
	if e.OrderCurrency != nil {
		order.Currency = *e.OrderCurrency
	}
	if e.OrderCreatedAt != nil {
		order.CreatedAt = *e.OrderCreatedAt
	}
	return order
}

// Clone returns a deep copy so pure updates never alias the caller's slices.
func (e Enrollment) Clone() Enrollment {
	clone := e
	if e.Progress != nil {
		clone.Progress = make([]ModuleProgress, len(e.Progress))
		copy(clone.Progress, e.Progress)
	}
	return clone
}

// ModuleProgress is the per-module completion and watch-time record.
type ModuleProgress struct {
	EnrollmentID string     `db:"enrollment_id" json:"-"`
	ModuleID     string     `db:"module_id" json:"module_id"`
	Completed    bool       `db:"completed" json:"completed"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	WatchTime    int64      `db:"watch_time" json:"watch_time"`
	Position     int        `db:"position" json:"-"`
}

// EnrollmentDetail enriches Enrollment with course and batch labels.
type EnrollmentDetail struct {
	Enrollment
	StudentName string  `db:"student_name" json:"student_name"`
	CourseTitle string  `db:"course_title" json:"course_title"`
	BatchName   *string `db:"batch_name" json:"batch_name,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CourseID      string
	BatchID       string
	PaymentStatus PaymentStatus
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
