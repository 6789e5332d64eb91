package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-enrollment-api/internal/dto"
	"github.com/noah-isme/lms-enrollment-api/internal/models"
	"github.com/noah-isme/lms-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.EnrollResponse, error)
	EnrollFree(ctx context.Context, studentID string, req dto.EnrollRequest) (*dto.EnrollResponse, error)
	ListMine(ctx context.Context, studentID string) ([]models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string, query dto.CourseEnrollmentQuery) ([]models.EnrollmentDetail, *models.Pagination, error)
	Refund(ctx context.Context, enrollmentID string) (*models.Enrollment, error)
}

type accessChecker interface {
	CheckCourseAccess(ctx context.Context, studentID, courseID string) (models.AccessDecision, error)
}

type progressService interface {
	MarkModuleProgress(ctx context.Context, studentID string, req dto.ProgressRequest) (*models.Enrollment, error)
}

type progressExporter interface {
	ExportProgress(ctx context.Context, studentID, courseID, format string) (*service.ExportFile, error)
}

// EnrollmentHandler exposes enrollment, access and progress endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
	access      accessChecker
	progress    progressService
	exports     progressExporter
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, access accessChecker, progress progressService, exports progressExporter) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, access: access, progress: progress, exports: exports}
}

// Enroll godoc
// @Summary Enroll in a course
// @Description Free courses are enrolled immediately. Paid courses return a payment order to complete checkout.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	h.enroll(c, h.enrollments.Enroll)
}

// EnrollFree godoc
// @Summary Enroll in a free course
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments/free [post]
func (h *EnrollmentHandler) EnrollFree(c *gin.Context) {
	h.enroll(c, h.enrollments.EnrollFree)
}

func (h *EnrollmentHandler) enroll(c *gin.Context, fn func(context.Context, string, dto.EnrollRequest) (*dto.EnrollResponse, error)) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := fn(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Created {
		response.Created(c, result)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// MyCourses godoc
// @Summary List the caller's enrollments
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/my-courses [get]
func (h *EnrollmentHandler) MyCourses(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	enrollments, err := h.enrollments.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil, map[string]interface{}{"count": len(enrollments)})
}

// CheckAccess godoc
// @Summary Check whether course content is currently accessible
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/check-access/{courseId} [get]
func (h *EnrollmentHandler) CheckAccess(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	decision, err := h.access.CheckCourseAccess(c.Request.Context(), claims.UserID, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewAccessResponse(decision), nil)
}

// UpdateProgress godoc
// @Summary Record module progress
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.ProgressRequest true "Progress payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/progress [post]
func (h *EnrollmentHandler) UpdateProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.progress.MarkModuleProgress(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ExportProgress godoc
// @Summary Download the caller's course progress
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param courseId path string true "Course ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /enrollments/{courseId}/progress/export [get]
func (h *EnrollmentHandler) ExportProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	file, err := h.exports.ExportProgress(c.Request.Context(), claims.UserID, c.Param("courseId"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// ListByCourse godoc
// @Summary List enrollments of a course
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Param batch_id query string false "Filter by batch"
// @Param payment_status query string false "pending, completed, failed or refunded"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param sort_by query string false "enrolled_at, student_name or progress"
// @Param sort_order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /enrollments/course/{courseId} [get]
func (h *EnrollmentHandler) ListByCourse(c *gin.Context) {
	var query dto.CourseEnrollmentQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	enrollments, pagination, err := h.enrollments.ListByCourse(c.Request.Context(), c.Param("courseId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Refund godoc
// @Summary Refund a paid enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments/{id}/refund [post]
func (h *EnrollmentHandler) Refund(c *gin.Context) {
	enrollment, err := h.enrollments.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
