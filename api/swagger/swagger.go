package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "E-Sign API",
        "description": "Document signing: staff upload and anchor documents, signers complete through token links.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Documents", "description": "Staff document management"},
        {"name": "Public Signing", "description": "Token-addressed signer flow"},
        {"name": "Files", "description": "Signed downloads from local storage"}
    ],
    "paths": {
        "/documents": {
            "get": {
                "tags": ["Documents"],
                "summary": "List documents",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["draft", "ready", "completed", "cancelled"]},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "mine", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Documents"],
                "summary": "Upload a document and create its signers",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "file", "in": "formData", "type": "file", "required": true},
                    {"name": "metadata", "in": "formData", "type": "string", "required": true, "description": "CreateDocumentRequest as JSON"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{uuid}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Get a document with signer links and anchors",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "uuid", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{uuid}/anchors": {
            "put": {
                "tags": ["Documents"],
                "summary": "Replace the anchor set of a document",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "uuid", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetAnchorsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{uuid}/cancel": {
            "post": {
                "tags": ["Documents"],
                "summary": "Cancel a document",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "uuid", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/documents/{uuid}/recompose": {
            "post": {
                "tags": ["Documents"],
                "summary": "Rebuild the final document from stored signatures",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "uuid", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Document cancelled or completed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{uuid}/trail": {
            "get": {
                "tags": ["Documents"],
                "summary": "Audit events of a document",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "uuid", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/public/sign/{token}": {
            "get": {
                "tags": ["Public Signing"],
                "summary": "Open a signing link",
                "parameters": [{"name": "token", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/sign/{token}/identification": {
            "post": {
                "tags": ["Public Signing"],
                "summary": "Confirm or correct signer identity",
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IdentificationRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/public/sign/{token}/finalize": {
            "post": {
                "tags": ["Public Signing"],
                "summary": "Submit signature artifacts and sign",
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FinalizeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already used or invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "410": {"description": "Expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Request body too large", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Missing required artifact", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Storage failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/sign/{token}/document": {
            "get": {
                "tags": ["Public Signing"],
                "summary": "Download the document for a signer",
                "produces": ["application/pdf"],
                "parameters": [{"name": "token", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "PDF", "schema": {"type": "file"}}}
            }
        },
        "/public/sign/{token}/receipt": {
            "get": {
                "tags": ["Public Signing"],
                "summary": "Download the signing receipt",
                "produces": ["application/pdf"],
                "parameters": [{"name": "token", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "PDF", "schema": {"type": "file"}}}
            }
        },
        "/files/{token}": {
            "get": {
                "tags": ["Files"],
                "summary": "Download a stored object through a signed URL",
                "parameters": [{"name": "token", "in": "path", "type": "string", "required": true}],
                "responses": {"200": {"description": "File", "schema": {"type": "file"}}}
            }
        }
    },
    "definitions": {
        "AnchorInput": {
            "type": "object",
            "required": ["signer", "tipo", "page", "w", "h"],
            "properties": {
                "signer": {"type": "integer", "description": "Signer position, 1-based"},
                "tipo": {"type": "string", "enum": ["signature", "initials"]},
                "page": {"type": "integer"},
                "x": {"type": "number"},
                "y": {"type": "number"},
                "w": {"type": "number"},
                "h": {"type": "number"}
            }
        },
        "SetAnchorsRequest": {
            "type": "object",
            "properties": {
                "anchors": {"type": "array", "items": {"$ref": "#/definitions/AnchorInput"}}
            }
        },
        "IdentificationRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "document_number": {"type": "string"},
                "email": {"type": "string"},
                "phone": {"type": "string"}
            }
        },
        "FinalizeRequest": {
            "type": "object",
            "required": ["signature", "terms_version"],
            "properties": {
                "signature": {"type": "string", "description": "PNG or JPEG, base64 or data URL"},
                "initials": {"type": "string"},
                "selfie": {"type": "string"},
                "terms_version": {"type": "string"},
                "geolocation": {"type": "string"},
                "device_fingerprint": {"type": "string"},
                "identity": {"$ref": "#/definitions/IdentificationRequest"}
            }
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
