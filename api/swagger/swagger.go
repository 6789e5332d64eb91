package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LMS Enrollment API",
        "description": "Enrollment, payment confirmation, access windows and progress tracking for the learning platform.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Enrollments", "description": "Enrollment lifecycle, access checks and progress"},
        {"name": "Payments", "description": "Checkout orders and payment verification"},
        {"name": "Observability", "description": "Metrics summaries"}
    ],
    "paths": {
        "/enrollments": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll in a course",
                "description": "Free courses are enrolled immediately. Paid courses return a payment order to complete checkout.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "200": {"description": "Existing enrollment or reused order", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Course or batch not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Payment gateway unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/free": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll in a free course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Course requires payment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/my-courses": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List the caller's enrollments",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/check-access/{courseId}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Check whether course content is currently accessible",
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Access decision", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Payment required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not enrolled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/progress": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Record module progress",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ProgressRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated enrollment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Access expired or payment required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Module or enrollment not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{courseId}/progress/export": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Download the caller's course progress",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/enrollments/course/{courseId}": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments of a course",
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "string"},
                    {"name": "batch_id", "in": "query", "type": "string"},
                    {"name": "payment_status", "in": "query", "type": "string", "enum": ["pending", "completed", "failed", "refunded"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"},
                    {"name": "sort_by", "in": "query", "type": "string", "enum": ["enrolled_at", "student_name", "progress"]},
                    {"name": "sort_order", "in": "query", "type": "string", "enum": ["asc", "desc"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/refund": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Refund a paid enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Refunded enrollment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Enrollment is not paid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/order": {
            "post": {
                "tags": ["Payments"],
                "summary": "Open a payment order for a paid course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "200": {"description": "Order", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Course is free", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Payment gateway unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/verify": {
            "post": {
                "tags": ["Payments"],
                "summary": "Verify a completed checkout",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Confirmed enrollment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Verification failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Payment gateway unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Enrollment metrics summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "EnrollRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"},
                "batch_id": {"type": "string"}
            },
            "required": ["course_id"]
        },
        "VerifyPaymentRequest": {
            "type": "object",
            "properties": {
                "order_id": {"type": "string"},
                "payment_id": {"type": "string"},
                "signature": {"type": "string"},
                "course_id": {"type": "string"}
            },
            "required": ["order_id", "payment_id", "signature", "course_id"]
        },
        "ProgressRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"},
                "module_id": {"type": "string"},
                "completed": {"type": "boolean"},
                "watch_time": {"type": "integer", "minimum": 0}
            },
            "required": ["course_id", "module_id"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
