// Package docs holds the OpenAPI description served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "Apache 2.0",
            "url": "http://www.apache.org/licenses/LICENSE-2.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/config": {
            "get": {
                "description": "Get the effective configuration with secrets masked",
                "produces": ["application/json"],
                "tags": ["config"],
                "summary": "Get configuration",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Check if the API is running",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/sources": {
            "get": {
                "description": "Get the cursor, state and last checkpoint of every source",
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "List sources",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.SourceStatus"}}}
                }
            }
        },
        "/sources/{id}": {
            "get": {
                "description": "Get the progress of one source",
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Get source",
                "parameters": [
                    {"type": "string", "description": "Source id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SourceStatus"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/sources/{id}/checkpoint": {
            "post": {
                "description": "Persist the cursor of one source immediately",
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Checkpoint source",
                "parameters": [
                    {"type": "string", "description": "Source id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.CheckpointResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "description": "Get the health of every component and the progress of every source",
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Get system status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.CheckpointResponse": {
            "type": "object",
            "properties": {
                "checkpoint_id": {"type": "integer"},
                "cursor": {"type": "string"},
                "source_id": {"type": "string"},
                "taken_at": {"type": "string"}
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        },
        "api.StatusResponse": {
            "type": "object",
            "properties": {
                "errors": {"type": "object", "additionalProperties": {"type": "string"}},
                "health": {"$ref": "#/definitions/model.HealthStatus"},
                "sources": {"type": "array", "items": {"$ref": "#/definitions/model.SourceStatus"}},
                "status": {"type": "string"}
            }
        },
        "model.HealthStatus": {
            "type": "object",
            "properties": {
                "components": {"type": "object", "additionalProperties": {"$ref": "#/definitions/model.HealthStatus"}},
                "details": {"type": "object", "additionalProperties": true},
                "message": {"type": "string"},
                "status": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "model.SourceStatus": {
            "type": "object",
            "properties": {
                "cursor": {"type": "string"},
                "dropped": {"type": "integer"},
                "id": {"type": "string"},
                "last_checkpoint": {"type": "string"},
                "name": {"type": "string"},
                "state": {"type": "string"},
                "status": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "commitstream API",
	Description:      "Inspect and checkpoint the commit sources of a running commitstream",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
