package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Roster Import API",
        "description": "Bulk import of accounts, classes, course sections, students and scores",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Imports", "description": "Roster file submissions and their reports"}
    ],
    "paths": {
        "/imports": {
            "post": {
                "tags": ["Imports"],
                "summary": "Import roster files",
                "description": "Each file field is named after its entity kind. Files are processed in the fixed order accounts, classes, course_sections, students, scores. The format follows the file extension (.csv or .xlsx).",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "accounts", "in": "formData", "type": "file"},
                    {"name": "classes", "in": "formData", "type": "file"},
                    {"name": "course_sections", "in": "formData", "type": "file"},
                    {"name": "students", "in": "formData", "type": "file"},
                    {"name": "scores", "in": "formData", "type": "file"},
                    {"name": "dry_run", "in": "query", "type": "boolean"},
                    {"name": "async", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "201": {"description": "Finished", "schema": {"$ref": "#/definitions/ImportJobEnvelope"}},
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ImportJobEnvelope"}},
                    "400": {"description": "Malformed submission", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Missing or invalid bearer token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Upload too large", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "415": {"description": "Unsupported file format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/imports/templates": {
            "get": {
                "tags": ["Imports"],
                "summary": "Accepted columns per entity kind",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/imports/{id}": {
            "get": {
                "tags": ["Imports"],
                "summary": "Import status and report",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ImportJobEnvelope"}},
                    "404": {"description": "Unknown or expired submission", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/imports/{id}/export": {
            "get": {
                "tags": ["Imports"],
                "summary": "Download an import report",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"], "default": "csv"}
                ],
                "responses": {
                    "200": {"description": "Report file", "schema": {"type": "file"}},
                    "404": {"description": "Report missing or not ready", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "Counts": {
            "type": "object",
            "properties": {
                "submitted": {"type": "integer"},
                "valid": {"type": "integer"},
                "invalid": {"type": "integer"},
                "resolved": {"type": "integer"},
                "unresolved": {"type": "integer"},
                "superseded": {"type": "integer"},
                "created": {"type": "integer"},
                "updated": {"type": "integer"},
                "failed": {"type": "integer"},
                "blocked": {"type": "integer"}
            }
        },
        "KindReport": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "status": {"type": "string", "enum": ["completed", "aborted", "blocked", "skipped", "dry_run"]},
                "reason": {"type": "string"},
                "counts": {"$ref": "#/definitions/Counts"}
            }
        },
        "RowOutcome": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "row": {"type": "integer"},
                "natural_key": {"type": "string"},
                "outcome": {"type": "string", "enum": ["invalid", "unresolved", "superseded", "created", "updated", "failed", "blocked", "would_import"]},
                "synthetic_key": {"type": "string"},
                "valid": {"type": "boolean"},
                "resolved": {"type": "boolean"}
            }
        },
        "Diagnostic": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "row": {"type": "integer"},
                "field": {"type": "string"},
                "category": {"type": "string", "enum": ["validation", "resolution", "execution", "stage"]},
                "severity": {"type": "string", "enum": ["error", "warning"]},
                "message": {"type": "string"}
            }
        },
        "Report": {
            "type": "object",
            "properties": {
                "submission_id": {"type": "string"},
                "status": {"type": "string", "enum": ["completed", "completed_with_errors", "aborted", "dry_run"]},
                "dry_run": {"type": "boolean"},
                "totals": {"$ref": "#/definitions/Counts"},
                "kinds": {"type": "array", "items": {"$ref": "#/definitions/KindReport"}},
                "rows": {"type": "array", "items": {"$ref": "#/definitions/RowOutcome"}},
                "diagnostics": {"type": "array", "items": {"$ref": "#/definitions/Diagnostic"}},
                "started_at": {"type": "string", "format": "date-time"},
                "finished_at": {"type": "string", "format": "date-time"}
            }
        },
        "ImportFile": {
            "type": "object",
            "properties": {
                "kind": {"type": "string"},
                "format": {"type": "string"},
                "name": {"type": "string"},
                "size": {"type": "integer"}
            }
        },
        "ImportJob": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string", "enum": ["QUEUED", "PROCESSING", "FINISHED", "FAILED"]},
                "dryRun": {"type": "boolean"},
                "files": {"type": "array", "items": {"$ref": "#/definitions/ImportFile"}},
                "createdAt": {"type": "string", "format": "date-time"},
                "finishedAt": {"type": "string", "format": "date-time"},
                "error": {"type": "string"},
                "report": {"$ref": "#/definitions/Report"}
            }
        },
        "ImportJobEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/ImportJob"}
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
