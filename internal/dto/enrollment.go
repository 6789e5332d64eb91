package dto

import (
	"time"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
)

// EnrollRequest captures POST /enrollments and POST /payments/order payloads.
type EnrollRequest struct {
	CourseID string  `json:"course_id" validate:"required"`
	BatchID  *string `json:"batch_id,omitempty" validate:"omitempty,min=1"`
}

// EnrollResponse describes the outcome of an enroll call. Order is present
// only when the student still has to pay.
type EnrollResponse struct {
	Enrollment *models.Enrollment   `json:"enrollment"`
	Order      *models.PaymentOrder `json:"order,omitempty"`
	Created    bool                 `json:"created"`
}

// VerifyPaymentRequest is the checkout callback forwarded by the client.
type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// VerifyPaymentResponse reports the confirmed enrollment and whether the read
// path already reflects it.
type VerifyPaymentResponse struct {
	Enrollment *models.Enrollment `json:"enrollment"`
	Visible    bool               `json:"visible"`
	Attempts   int                `json:"attempts"`
	Message    string             `json:"message,omitempty"`
}

// ProgressRequest captures POST /enrollments/progress.
type ProgressRequest struct {
	CourseID  string `json:"course_id" validate:"required"`
	ModuleID  string `json:"module_id" validate:"required"`
	Completed bool   `json:"completed"`
	WatchTime int64  `json:"watch_time" validate:"gte=0"`
}

// AccessResponse is returned by GET /enrollments/check-access/:courseId.
type AccessResponse struct {
	Accessible bool                `json:"accessible"`
	Reason     models.AccessReason `json:"reason"`
	Message    string              `json:"message"`
	StartDate  *time.Time          `json:"start_date,omitempty"`
	EndDate    *time.Time          `json:"end_date,omitempty"`
}

// NewAccessResponse converts a decision into its response form.
func NewAccessResponse(d models.AccessDecision) AccessResponse {
	return AccessResponse{
		Accessible: d.Accessible,
		Reason:     d.Reason,
		Message:    d.Message,
		StartDate:  d.StartDate,
		EndDate:    d.EndDate,
	}
}

// CourseEnrollmentQuery holds query parameters for GET /enrollments/course/:courseId.
type CourseEnrollmentQuery struct {
	BatchID       string `form:"batch_id"`
	PaymentStatus string `form:"payment_status" validate:"omitempty,oneof=pending completed failed refunded"`
	Page          int    `form:"page" validate:"omitempty,min=1"`
	PageSize      int    `form:"page_size" validate:"omitempty,min=1,max=100"`
	SortBy        string `form:"sort_by" validate:"omitempty,oneof=enrolled_at student_name progress"`
	SortOrder     string `form:"sort_order" validate:"omitempty,oneof=asc desc ASC DESC"`
}
