package handlers

import (
	"encoding/json"
	"net/http"
)

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      map[string]string{"type": "string"},
	}
}

func queryParam(name, description, typ string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      map[string]string{"type": typ},
	}
}

func jsonResponse(description string, schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schema},
		},
	}
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

var errorResponses = map[string]interface{}{
	"400": jsonResponse("Invalid period key or value", ref("Error")),
	"401": jsonResponse("Missing or invalid bearer token", ref("Error")),
	"404": jsonResponse("Unknown catalog or profile", ref("Error")),
	"503": jsonResponse("Store unavailable", ref("Error")),
}

func withErrors(ok map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range errorResponses {
		out[k] = v
	}
	for k, v := range ok {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the readings API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	catalog := pathParam("catalog", "Catalog id, e.g. agua, gas, ptar")
	period := pathParam("period", "Period key: 2025-W05 for weekly catalogs, 2025-03-01 for daily ones")
	page := queryParam("page", "Page number (default: 1)", "integer")
	limit := queryParam("limit", "Records per page (default: 100)", "integer")

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Campus Utilities API",
			"description": "Meter reading entry, comparison against the previous period, bulk import and consumption summaries",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
		"paths": map[string]interface{}{
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":  "Health check",
					"security": []interface{}{},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Service and store reachable"},
						"503": map[string]string{"description": "Store unreachable"},
					},
				},
			},
			"/api/session": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Start a session",
					"description": "Creates a default user profile on first login and returns the navigation sections of the role",
					"responses":   withErrors(map[string]interface{}{"200": jsonResponse("Existing profile", ref("Session")), "201": jsonResponse("Profile created", ref("Session"))}, nil),
				},
			},
			"/api/me": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "Current session",
					"responses": withErrors(map[string]interface{}{"200": jsonResponse("Session", ref("Session"))}, nil),
				},
			},
			"/api/users": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "List profiles",
					"parameters": []interface{}{page, limit},
					"responses":  withErrors(map[string]interface{}{"200": map[string]string{"description": "Paginated profiles"}}, nil),
				},
			},
			"/api/contact": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":  "Send a contact message",
					"security": []interface{}{},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{"schema": ref("ContactRequest")},
						},
					},
					"responses": withErrors(map[string]interface{}{"201": map[string]string{"description": "Message stored"}}, nil),
				},
				"get": map[string]interface{}{
					"summary":    "List contact messages, newest first",
					"parameters": []interface{}{page, limit},
					"responses":  withErrors(map[string]interface{}{"200": map[string]string{"description": "Paginated messages"}}, nil),
				},
			},
			"/api/catalogs": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "List measurement point catalogs",
					"responses": withErrors(map[string]interface{}{"200": map[string]string{"description": "Catalogs"}}, nil),
				},
			},
			"/api/catalogs/{catalog}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Catalog with its measurement points",
					"parameters": []interface{}{catalog},
					"responses":  withErrors(map[string]interface{}{"200": map[string]string{"description": "Catalog"}}, nil),
				},
			},
			"/api/catalogs/{catalog}/periods": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "List created periods, newest first",
					"parameters": []interface{}{catalog, queryParam("year", "Filter by year", "integer"), page, limit},
					"responses":  withErrors(map[string]interface{}{"200": map[string]string{"description": "Paginated periods"}}, nil),
				},
				"post": map[string]interface{}{
					"summary":    "Create an empty period",
					"parameters": []interface{}{catalog},
					"responses": withErrors(map[string]interface{}{
						"200": map[string]string{"description": "Period already existed"},
						"201": map[string]string{"description": "Period created"},
					}, nil),
				},
			},
			"/api/catalogs/{catalog}/periods/{period}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Comparison view of a period",
					"description": "Current and previous readings per point with delta, percent change, consumption and completion",
					"parameters":  []interface{}{catalog, period},
					"responses":   withErrors(map[string]interface{}{"200": jsonResponse("Comparison view", ref("ComparisonView"))}, nil),
				},
			},
			"/api/catalogs/{catalog}/periods/{period}/readings": map[string]interface{}{
				"put": map[string]interface{}{
					"summary":     "Save readings",
					"description": "Values are numbers or strings with . or , decimals. Derived totals are recomputed and cannot be set.",
					"parameters":  []interface{}{catalog, period},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{"schema": ref("UpdateReadingsRequest")},
						},
					},
					"responses": withErrors(map[string]interface{}{"200": map[string]string{"description": "Saved; returns view and save result"}}, nil),
				},
			},
			"/api/catalogs/{catalog}/periods/{period}/import": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Import a spreadsheet (xlsx or csv)",
					"parameters": []interface{}{catalog, period},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"multipart/form-data": map[string]interface{}{
								"schema": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"file": map[string]string{"type": "string", "format": "binary"},
									},
								},
							},
						},
					},
					"responses": withErrors(
						map[string]interface{}{"200": map[string]string{"description": "Import report"}},
						map[string]interface{}{"422": jsonResponse("No row matched a measurement point", ref("Error"))},
					),
				},
			},
			"/api/catalogs/{catalog}/periods/{period}/export.csv": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Export readings as CSV (punto,nombre,lectura)",
					"parameters": []interface{}{catalog, period},
					"responses":  withErrors(map[string]interface{}{"200": map[string]string{"description": "CSV file"}}, nil),
				},
			},
			"/api/catalogs/{catalog}/template.xlsx": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Blank entry workbook",
					"parameters": []interface{}{catalog},
					"responses":  withErrors(map[string]interface{}{"200": map[string]string{"description": "xlsx file"}}, nil),
				},
			},
			"/api/catalogs/{catalog}/summary": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Yearly consumption summary and forecast",
					"parameters": []interface{}{catalog, queryParam("year", "Year (default: current)", "integer")},
					"responses":  withErrors(map[string]interface{}{"200": map[string]string{"description": "Summary"}}, nil),
				},
			},
			"/ws/editor": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Websocket editing session",
					"description": "Messages {type: open|edit|flush|import}. Edits are saved after a quiet interval; snapshots with the save status are pushed on every change. The token may be passed as ?token=.",
					"parameters": []interface{}{
						queryParam("catalog", "Catalog to open on connect", "string"),
						queryParam("period", "Period to open on connect", "string"),
						queryParam("token", "Bearer token", "string"),
					},
					"responses": map[string]interface{}{
						"101": map[string]string{"description": "Switching protocols"},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
						"details": map[string]string{"type": "object"},
					},
				},
				"Session": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"profile":  map[string]string{"type": "object"},
						"sections": map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
					},
				},
				"ContactRequest": map[string]interface{}{
					"type":     "object",
					"required": []string{"name", "email", "message"},
					"properties": map[string]interface{}{
						"name":    map[string]string{"type": "string"},
						"email":   map[string]string{"type": "string", "format": "email"},
						"message": map[string]string{"type": "string"},
					},
				},
				"UpdateReadingsRequest": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"values": map[string]interface{}{
							"type":                 "object",
							"additionalProperties": map[string]interface{}{"oneOf": []map[string]string{{"type": "number"}, {"type": "string"}}},
						},
					},
				},
				"ComparisonView": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"catalog":           map[string]string{"type": "string"},
						"period":            map[string]string{"type": "string"},
						"label":             map[string]string{"type": "string"},
						"previous_period":   map[string]string{"type": "string"},
						"exists":            map[string]string{"type": "boolean"},
						"completion":        map[string]string{"type": "number"},
						"total_consumption": map[string]interface{}{"type": "number", "nullable": true},
						"points": map[string]interface{}{
							"type": "array",
							"items": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"point_id":      map[string]string{"type": "string"},
									"name":          map[string]string{"type": "string"},
									"current":       map[string]interface{}{"type": "number", "nullable": true},
									"previous":      map[string]interface{}{"type": "number", "nullable": true},
									"delta":         map[string]interface{}{"type": "number", "nullable": true},
									"delta_percent": map[string]interface{}{"type": "number", "nullable": true},
									"consumption":   map[string]interface{}{"type": "number", "nullable": true},
									"completed":     map[string]string{"type": "boolean"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
