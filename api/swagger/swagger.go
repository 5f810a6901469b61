package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "PASI Sync API",
        "description": "Reconciles registry course enrollments with the school's student records.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "SyncReport", "description": "Per school year reconciliation report"},
        {"name": "Links", "description": "Registry record to student course links"},
        {"name": "Status", "description": "Internal/registry status reconciliation"},
        {"name": "Provisioning", "description": "New student and course creation from registry records"},
        {"name": "CourseCodes", "description": "Registry course code lookup"},
        {"name": "Observability", "description": "Metrics snapshot"}
    ],
    "parameters": {
        "year": {"name": "year", "in": "path", "required": true, "type": "string", "description": "School year, 24_25 or 24/25"},
        "bucket": {"name": "bucket", "in": "path", "required": true, "type": "string", "enum": ["existing-link-failed", "new-link-failed", "needs-manual-mapping", "status-mismatch", "missing-registry-record"]},
        "entryKey": {"name": "entryKey", "in": "path", "required": true, "type": "string"}
    },
    "paths": {
        "/sync-report/{year}": {
            "get": {
                "tags": ["SyncReport"],
                "summary": "Sync report summary",
                "parameters": [{"$ref": "#/parameters/year"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync-report/{year}/buckets/{bucket}": {
            "get": {
                "tags": ["SyncReport"],
                "summary": "List report bucket entries",
                "parameters": [
                    {"$ref": "#/parameters/year"},
                    {"$ref": "#/parameters/bucket"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "checked", "in": "query", "type": "boolean"},
                    {"name": "flagged", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sortBy", "in": "query", "type": "string", "enum": ["studentName", "asn", "courseCode", "reason", "classifiedAt"]},
                    {"name": "sortOrder", "in": "query", "type": "string", "enum": ["asc", "desc"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid school year or bucket", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync-report/{year}/buckets/{bucket}/export": {
            "get": {
                "tags": ["SyncReport"],
                "summary": "Export a report bucket",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"$ref": "#/parameters/year"},
                    {"$ref": "#/parameters/bucket"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/sync-report/{year}/buckets/{bucket}/{entryKey}/checked": {
            "patch": {
                "tags": ["SyncReport"],
                "summary": "Mark a report entry as reviewed",
                "parameters": [
                    {"$ref": "#/parameters/year"},
                    {"$ref": "#/parameters/bucket"},
                    {"$ref": "#/parameters/entryKey"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetCheckedRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Entry not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync-report/{year}/watch": {
            "get": {
                "tags": ["SyncReport"],
                "summary": "Stream report changes",
                "produces": ["text/event-stream"],
                "parameters": [{"$ref": "#/parameters/year"}],
                "responses": {
                    "200": {"description": "Event stream"}
                }
            }
        },
        "/sync-report/{year}/runs": {
            "post": {
                "tags": ["SyncReport"],
                "summary": "Start a classification run",
                "parameters": [{"$ref": "#/parameters/year"}],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "A run is already pending", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync-report/{year}/runs/latest": {
            "get": {
                "tags": ["SyncReport"],
                "summary": "Latest classification run status",
                "parameters": [{"$ref": "#/parameters/year"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No run recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync-report/{year}/runs/{runId}/snapshot": {
            "get": {
                "tags": ["SyncReport"],
                "summary": "Download the CSV snapshot of a run",
                "produces": ["text/csv"],
                "parameters": [
                    {"$ref": "#/parameters/year"},
                    {"name": "runId", "in": "path", "required": true, "type": "string", "format": "uuid"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/sync-report/{year}/status-mismatches/{entryKey}/status": {
            "put": {
                "tags": ["Status"],
                "summary": "Correct the internal status of a mismatched record",
                "parameters": [
                    {"$ref": "#/parameters/year"},
                    {"$ref": "#/parameters/entryKey"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangeStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Status incompatible", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sync-report/{year}/status-mismatches/{entryKey}/status/reset": {
            "post": {
                "tags": ["Status"],
                "summary": "Restore the status observed at classification time",
                "parameters": [
                    {"$ref": "#/parameters/year"},
                    {"$ref": "#/parameters/entryKey"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/ResetStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Nothing to reset", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/status/options": {
            "get": {
                "tags": ["Status"],
                "summary": "Internal statuses an operator may choose",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/status/compatibility": {
            "get": {
                "tags": ["Status"],
                "summary": "Check an internal/registry status pair",
                "parameters": [
                    {"name": "internal", "in": "query", "required": true, "type": "string"},
                    {"name": "registry", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/links": {
            "post": {
                "tags": ["Links"],
                "summary": "Link a registry record to a student course",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LinkRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Record or summary missing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already linked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Store write failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/provisioning/lookup": {
            "get": {
                "tags": ["Provisioning"],
                "summary": "Look up an existing student by email",
                "parameters": [
                    {"name": "email", "in": "query", "required": true, "type": "string", "format": "email"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/provisioning/drafts/{recordId}": {
            "get": {
                "tags": ["Provisioning"],
                "summary": "Prefill a student and course from a registry record",
                "parameters": [
                    {"name": "recordId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/provisioning": {
            "post": {
                "tags": ["Provisioning"],
                "summary": "Create the student profile and course enrollment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ProvisionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Student or enrollment conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/course-codes/{code}": {
            "get": {
                "tags": ["CourseCodes"],
                "summary": "Resolve a registry course code",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/snapshot": {
            "get": {
                "tags": ["Observability"],
                "summary": "Service metrics snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SetCheckedRequest": {
            "type": "object",
            "properties": {
                "checked": {"type": "boolean"}
            },
            "required": ["checked"]
        },
        "LinkRequest": {
            "type": "object",
            "properties": {
                "pasiRecordId": {"type": "string"},
                "summaryKey": {"type": "string"},
                "schoolYear": {"type": "string"}
            },
            "required": ["pasiRecordId", "summaryKey"]
        },
        "ChangeStatusRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["Active", "Completed", "Withdrawn", "Unenrolled", "Paused", "Starting", "Resuming"]},
                "reason": {"type": "string"},
                "actor": {"type": "string"},
                "force": {"type": "boolean"}
            },
            "required": ["status"]
        },
        "ResetStatusRequest": {
            "type": "object",
            "properties": {
                "actor": {"type": "string"}
            }
        },
        "ProvisionRequest": {
            "type": "object",
            "properties": {
                "pasiRecordId": {"type": "string"},
                "email": {"type": "string", "format": "email"},
                "asn": {"type": "string"},
                "firstName": {"type": "string"},
                "lastName": {"type": "string"},
                "courseId": {"type": "integer"},
                "status": {"type": "string"},
                "enrollmentState": {"type": "string", "enum": ["Active", "Future", "Archived"]},
                "pasi": {"type": "boolean"},
                "studentType": {"type": "string"},
                "lmsId": {"type": "string"}
            },
            "required": ["pasiRecordId", "email", "asn", "firstName", "lastName", "courseId", "studentType"]
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
                "status": {"type": "integer"}
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
