package api

import (
	"fmt"
	"net/http"

	"github.com/mattjoyce/hookd/internal/hook"
)

// handleOpenAPI handles GET /openapi.json
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(hook.Events()))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one operation per
// lifecycle event plus the hook admin routes.
func buildOpenAPIDoc(evs []hook.Event) map[string]any {
	security := []any{map[string]any{"BearerAuth": []string{}}}
	paths := map[string]any{}

	for _, ev := range evs {
		paths[fmt.Sprintf("/events/%s", ev)] = map[string]any{
			"post": map[string]any{
				"operationId": "fire__" + string(ev),
				"summary":     fmt.Sprintf("Deliver %s to every hook", ev),
				"tags":        []string{"events"},
				"parameters": []any{map[string]any{
					"name":        "wait",
					"in":          "query",
					"description": "Wait for every hook and return their results",
					"schema":      map[string]any{"type": "boolean"},
				}},
				"requestBody": map[string]any{
					"required": false,
					"content": map[string]any{
						"application/json": map[string]any{"schema": eventBodySchema()},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "All hooks handled the event"},
					"202": map[string]any{"description": "Event accepted"},
					"400": map[string]any{"description": "Bad request"},
					"404": map[string]any{"description": "Unknown event"},
					"409": map[string]any{"description": "A hook was locked; send the event again"},
				},
				"security": security,
			},
		}
	}

	hookParam := []any{map[string]any{"name": "name", "in": "path", "required": true, "schema": map[string]any{"type": "string"}}}
	paths["/hooks"] = map[string]any{
		"get":  map[string]any{"operationId": "listHooks", "tags": []string{"hooks"}, "security": security, "responses": okResponse()},
		"post": map[string]any{"operationId": "createHook", "tags": []string{"hooks"}, "security": security, "responses": okResponse()},
	}
	paths["/hooks/{name}"] = map[string]any{
		"get":    map[string]any{"operationId": "getHook", "tags": []string{"hooks"}, "parameters": hookParam, "security": security, "responses": okResponse()},
		"delete": map[string]any{"operationId": "deleteHook", "tags": []string{"hooks"}, "parameters": hookParam, "security": security, "responses": okResponse()},
	}
	paths["/hooks/{name}/unlock"] = map[string]any{
		"post": map[string]any{"operationId": "unlockHook", "tags": []string{"hooks"}, "parameters": hookParam, "security": security, "responses": okResponse()},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hookd",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func eventBodySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"node": map[string]any{"type": "integer", "description": "Id of the node the event is about"},
			"data": map[string]any{"type": "object", "description": "Extra arguments passed to scripts"},
		},
	}
}

func okResponse() map[string]any {
	return map[string]any{"200": map[string]any{"description": "OK"}}
}
