package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the datasync service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>datasync API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the sync protocol endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "datasync", "version": "v1.0.0" },
  "components": {
    "parameters": {
      "org": { "name": "orgName", "in": "path", "required": true, "schema": { "type": "string", "pattern": "^[A-Za-z0-9._~-]{1,250}$" } },
      "solution": { "name": "solutionId", "in": "path", "required": true, "schema": { "type": "string", "pattern": "^[A-Za-z0-9._~-]{1,250}$" } },
      "docType": { "name": "docType", "in": "path", "required": true, "schema": { "type": "string", "pattern": "^[A-Za-z0-9._~-]{1,250}$" } },
      "docId": { "name": "docId", "in": "path", "required": true, "schema": { "type": "string", "pattern": "^[A-Za-z0-9._~-]{1,250}$" } },
      "userHeader": { "name": "X-AIQ-UserId", "in": "header", "required": true, "schema": { "type": "string" } },
      "deviceHeader": { "name": "X-AIQ-DeviceId", "in": "header", "required": true, "schema": { "type": "string" } },
      "ifMatch": { "name": "If-Match", "in": "header", "description": "quoted decimal revision, e.g. \"7\"", "schema": { "type": "string" } }
    },
    "schemas": {
      "DocumentReference": { "type": "object", "properties": { "_id": { "type": "string" }, "_type": { "type": "string" }, "_rev": { "type": "integer", "format": "int64" } } },
      "ListDocumentsResponse": { "type": "object", "properties": { "documentReferences": { "type": "array", "items": { "$ref": "#/components/schemas/DocumentReference" } } } }
    }
  },
  "paths": {
    "/aiq/integration/datasync/{orgName}/{solutionId}": {
      "get": {
        "summary": "List document references of a tenant",
        "parameters": [ { "$ref": "#/components/parameters/org" }, { "$ref": "#/components/parameters/solution" }, { "name": "userId", "in": "query", "schema": { "type": "string" } } ],
        "responses": { "200": { "description": "references", "content": { "application/json": { "schema": { "$ref": "#/components/schemas/ListDocumentsResponse" } } } }, "400": { "description": "invalid identifier" } }
      }
    },
    "/aiq/integration/datasync/{orgName}/{solutionId}/{docType}/{docId}": {
      "parameters": [ { "$ref": "#/components/parameters/org" }, { "$ref": "#/components/parameters/solution" }, { "$ref": "#/components/parameters/docType" }, { "$ref": "#/components/parameters/docId" } ],
      "get": { "summary": "Retrieve a document; body carries _rev", "responses": { "200": { "description": "document, ETag = revision" }, "404": { "description": "not found" } } },
      "put": {
        "summary": "Insert (no If-Match) or update (If-Match) a document",
        "parameters": [ { "$ref": "#/components/parameters/userHeader" }, { "$ref": "#/components/parameters/deviceHeader" }, { "$ref": "#/components/parameters/ifMatch" } ],
        "requestBody": { "required": true, "content": { "application/json": { "schema": { "type": "object" } } } },
        "responses": { "201": { "description": "inserted, ETag = 1" }, "204": { "description": "updated, ETag = new revision" }, "400": { "description": "invalid identifier, body or If-Match" }, "405": { "description": "insert of a reserved document type" }, "409": { "description": "id already exists" }, "412": { "description": "stale or missing revision" } }
      },
      "delete": {
        "summary": "Delete a document at the given revision",
        "parameters": [ { "$ref": "#/components/parameters/userHeader" }, { "$ref": "#/components/parameters/deviceHeader" }, { "$ref": "#/components/parameters/ifMatch" } ],
        "responses": { "204": { "description": "deleted" }, "400": { "description": "missing or malformed If-Match" }, "412": { "description": "stale revision, wrong type or missing document" } }
      }
    },
    "/aiq/integration/datasync/{orgName}/{solutionId}/{docType}/{docId}/{name}": {
      "get": { "summary": "Attachments are not stored", "responses": { "404": { "description": "always" } } }
    },
    "/aiq/integration/logout/{orgName}": {
      "post": {
        "summary": "Revoke a user's access to the organization",
        "parameters": [ { "$ref": "#/components/parameters/org" } ],
        "requestBody": { "content": { "application/json": { "schema": { "type": "object", "properties": { "userId": { "type": "string" } } } } } },
        "responses": { "204": { "description": "logged out" }, "400": { "description": "missing userId" } }
      }
    },
    "/aiq/integration/heartbeat": { "get": { "summary": "Protocol heartbeat", "responses": { "200": { "description": "{}" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
