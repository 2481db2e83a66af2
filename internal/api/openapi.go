package api

// buildOpenAPIDoc returns an OpenAPI 3.1 document describing the bridge API.
func buildOpenAPIDoc() map[string]any {
	errorResponse := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/Error"},
				},
			},
		}
	}
	invokeResponses := map[string]any{
		"200": map[string]any{
			"description": "Worker records",
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/InvokeResponse"},
				},
			},
		},
		"400": errorResponse("Invalid input"),
		"401": errorResponse("Missing or invalid API key"),
		"413": errorResponse("Request body too large"),
		"429": errorResponse("Rate limit exceeded"),
		"500": errorResponse("Worker failed"),
		"503": errorResponse("Worker missing, request cancelled or too many concurrent invocations"),
		"504": errorResponse("Worker timed out"),
	}
	secured := []any{map[string]any{"BearerAuth": []string{}}}

	invokeOp := func(id, summary, schema string) map[string]any {
		return map[string]any{
			"post": map[string]any{
				"operationId": id,
				"summary":     summary,
				"tags":        []string{"invocations"},
				"security":    secured,
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"$ref": "#/components/schemas/" + schema},
						},
					},
				},
				"responses": invokeResponses,
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "jsoon-bridge",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{
					"operationId": "healthz",
					"summary":     "Service and worker health",
					"responses":   map[string]any{"200": map[string]any{"description": "Health report"}},
				},
			},
			"/api/process-text": invokeOp("processText", "Process raw calendar text", "ProcessTextRequest"),
			"/api/process-urls": invokeOp("processURLs", "Process up to 5 calendar URLs", "ProcessURLsRequest"),
			"/api/invoke":      invokeOp("invoke", "Process text or URLs", "InvokeRequest"),
			"/api/invocations": map[string]any{
				"get": map[string]any{
					"operationId": "listInvocations",
					"summary":     "Recent invocations, newest first",
					"tags":        []string{"history"},
					"security":    secured,
					"parameters": []any{map[string]any{
						"name": "limit", "in": "query",
						"schema": map[string]any{"type": "integer", "minimum": 0},
					}},
					"responses": map[string]any{
						"200": map[string]any{"description": "Invocation list"},
						"404": errorResponse("History disabled"),
					},
				},
			},
			"/api/invocations/{id}": map[string]any{
				"get": map[string]any{
					"operationId": "getInvocation",
					"summary":     "One invocation",
					"tags":        []string{"history"},
					"security":    secured,
					"parameters": []any{map[string]any{
						"name": "id", "in": "path", "required": true,
						"schema": map[string]any{"type": "string"},
					}},
					"responses": map[string]any{
						"200": map[string]any{"description": "Invocation"},
						"404": errorResponse("Unknown invocation or history disabled"),
					},
				},
			},
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "events",
					"summary":     "Server-Sent Events stream of invocation lifecycle events",
					"security":    secured,
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Event stream",
							"content":     map[string]any{"text/event-stream": map[string]any{}},
						},
					},
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"Options": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"upcomingDays":  map[string]any{"type": "integer"},
						"limit":         map[string]any{"type": "integer"},
						"template":      map[string]any{"type": "string"},
						"offsetMarkers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
					},
				},
				"ProcessTextRequest": map[string]any{
					"type":     "object",
					"required": []string{"text"},
					"properties": map[string]any{
						"text":    map[string]any{"type": "string"},
						"options": map[string]any{"$ref": "#/components/schemas/Options"},
					},
				},
				"ProcessURLsRequest": map[string]any{
					"type":     "object",
					"required": []string{"urls"},
					"properties": map[string]any{
						"urls":    map[string]any{"type": "array", "items": map[string]any{"type": "string", "format": "uri"}, "minItems": 1, "maxItems": 5},
						"options": map[string]any{"$ref": "#/components/schemas/Options"},
					},
				},
				"InvokeRequest": map[string]any{
					"type":     "object",
					"required": []string{"input"},
					"properties": map[string]any{
						"input": map[string]any{"oneOf": []any{
							map[string]any{"type": "string"},
							map[string]any{"type": "array", "items": map[string]any{"type": "string", "format": "uri"}, "minItems": 1, "maxItems": 5},
						}},
						"options": map[string]any{"$ref": "#/components/schemas/Options"},
					},
				},
				"InvokeResponse": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"data":    map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
						"logs":    map[string]any{"type": "string"},
						"verbose": map[string]any{"type": "boolean"},
					},
				},
				"Error": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"error": map[string]any{"type": "string"},
						"kind":  map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}
