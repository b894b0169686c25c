// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	RegisterHealthRoutes(router, handlers)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(newTestService(t, 0))

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, w).Status)
}

func TestHandlers_HandleReady(t *testing.T) {
	svc := newTestService(t, 1)
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ReadyResponse](t, w)
	assert.True(t, resp.Ready)
	assert.Equal(t, 1, resp.SchemaVersion)
	assert.Equal(t, 2, resp.LatestVersion)

	require.NoError(t, svc.Store().Close())
	w = doJSON(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.False(t, decode[ReadyResponse](t, w).Ready)
}

func TestHandlers_RequestID(t *testing.T) {
	router := setupTestRouter(newTestService(t, 1))

	req := httptest.NewRequest(http.MethodGet, "/v1/graph/schema", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = doJSON(t, router, http.MethodGet, "/v1/graph/schema", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_Migrations(t *testing.T) {
	router := setupTestRouter(newTestService(t, 0))

	w := doJSON(t, router, http.MethodPost, "/v1/graph/nodes", PutNodeRequest{Label: "Person"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SCHEMA_NOT_INITIALIZED", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodGet, "/v1/graph/migrations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[MigrationsResponse](t, w)
	assert.Equal(t, 0, list.CurrentVersion)
	assert.Equal(t, 2, list.LatestVersion)
	require.Len(t, list.Migrations, 2)
	assert.Equal(t, "V0001__people_schema", list.Migrations[0].Name)

	w = doJSON(t, router, http.MethodPost, "/v1/graph/migrations/apply", ApplyMigrationsRequest{Target: 1, DryRun: true})
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[ApplyMigrationsResponse](t, w)
	assert.True(t, plan.DryRun)
	require.Len(t, plan.Plan, 1)
	assert.NotEmpty(t, plan.Plan[0].Statements)
	assert.Equal(t, 0, plan.CurrentVersion)

	w = doJSON(t, router, http.MethodPost, "/v1/graph/migrations/apply", ApplyMigrationsRequest{Target: 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_TARGET", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/graph/migrations/apply", nil)
	require.Equal(t, http.StatusOK, w.Code)
	applied := decode[ApplyMigrationsResponse](t, w)
	assert.Len(t, applied.Applied, 2)
	assert.Equal(t, 2, applied.CurrentVersion)

	// Re-running is a no-op.
	w = doJSON(t, router, http.MethodPost, "/v1/graph/migrations/apply", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[ApplyMigrationsResponse](t, w).Applied)

	w = doJSON(t, router, http.MethodGet, "/v1/graph/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sch := decode[schema.Schema](t, w)
	assert.Equal(t, 2, sch.Version)
	assert.Contains(t, sch.Edges, schema.EdgeWith)
}

func TestHandlers_Nodes(t *testing.T) {
	router := setupTestRouter(newTestService(t, 1))

	w := doJSON(t, router, http.MethodPost, "/v1/graph/nodes", PutNodeRequest{
		Label:      "Person",
		ID:         "ada",
		Properties: map[string]any{"name": "Ada", "user_id": 7},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	node := decode[storage.Node](t, w)
	assert.Equal(t, "ada", node.ID)

	t.Run("invalid properties", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/graph/nodes", PutNodeRequest{
			Label:      "PeopleGroup",
			Properties: map[string]any{"scope": "global", "motto": "x"},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, "INVALID_PROPERTIES", resp.Code)
		assert.Len(t, resp.Violations, 2)
	})

	t.Run("missing label", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/graph/nodes", map[string]any{"id": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	})

	t.Run("get", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/graph/nodes/ada", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Ada", decode[storage.Node](t, w).Properties["name"])

		w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes/nobody", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, w).Code)
	})

	t.Run("find", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/v1/graph/nodes?label=Person&property=user_id&value=7", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[NodesResponse](t, w)
		assert.Equal(t, 1, resp.Count)

		w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes?label=Person&property=user_id&value=8", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0, decode[NodesResponse](t, w).Count)

		w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes?label=Person&property=name", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes?label=Place", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w := doJSON(t, router, http.MethodDelete, "/v1/graph/nodes/ada", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(t, router, http.MethodDelete, "/v1/graph/nodes/ada", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandlers_Edges(t *testing.T) {
	router := setupTestRouter(newTestService(t, 2))

	for _, id := range []string{"ada", "bob"} {
		w := doJSON(t, router, http.MethodPost, "/v1/graph/nodes", PutNodeRequest{Label: "Person", ID: id})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/graph/edges", PutEdgeRequest{
		Label: "KNOWS", From: "ada", To: "bob",
		Properties: map[string]any{"type": "child_of", "reputation": "negative"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	edge := decode[storage.Edge](t, w)
	assert.Equal(t, storage.EdgeID(schema.EdgeKnows, "ada", "bob"), edge.ID)

	w = doJSON(t, router, http.MethodPost, "/v1/graph/edges", PutEdgeRequest{Label: "AT", From: "ada", To: "nowhere"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ENDPOINT_MISSING", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/graph/edges", PutEdgeRequest{
		Label: "KNOWS", From: "ada", To: "bob", Properties: map[string]any{"reputation": "great"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes/bob/edges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[EdgesResponse](t, w).Count)

	w = doJSON(t, router, http.MethodGet, "/v1/graph/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[Report](t, w)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.NodesScanned)

	w = doJSON(t, router, http.MethodDelete, "/v1/graph/edges/"+edge.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes/bob/edges", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[EdgesResponse](t, w).Count)
}

func TestHandlers_VerifyCached(t *testing.T) {
	svc := newTestService(t, 1)
	v := NewVerifier(svc, 0, nil)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc).WithVerifier(v))

	w := doJSON(t, router, http.MethodGet, "/v1/graph/verify?cached=true", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	v.tick(t.Context())
	w = doJSON(t, router, http.MethodGet, "/v1/graph/verify?cached=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[Report](t, w).SchemaVersion)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&schema.ValidationError{}, http.StatusBadRequest, "INVALID_PROPERTIES"},
		{ErrInvalidQuery, http.StatusBadRequest, "INVALID_REQUEST"},
		{storage.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{ErrSchemaNotInitialized, http.StatusConflict, "SCHEMA_NOT_INITIALIZED"},
		{storage.ErrClosed, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{assert.AnError, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestHandlers_PutNode_KeepsLargeIntegersExact(t *testing.T) {
	router := setupTestRouter(newTestService(t, 2))
	const big = "9007199254740993"

	w := doJSON(t, router, http.MethodPost, "/v1/graph/nodes", map[string]any{
		"label":      "Person",
		"id":         "big",
		"properties": map[string]any{"name": "Big", "user_id": json.Number(big)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"user_id":`+big)

	w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes/big", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var node storage.Node
	dec := json.NewDecoder(bytes.NewReader(w.Body.Bytes()))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&node))
	assert.Equal(t, json.Number(big), node.Properties["user_id"])

	w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes?label=Person&property=user_id&value="+big, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[NodesResponse](t, w).Count)

	w = doJSON(t, router, http.MethodGet, "/v1/graph/nodes?label=Person&property=user_id&value=9007199254740992", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[NodesResponse](t, w).Count)
}

func TestHandlers_PutNode_NumberForStringProperty(t *testing.T) {
	router := setupTestRouter(newTestService(t, 2))

	w := doJSON(t, router, http.MethodPost, "/v1/graph/nodes", map[string]any{
		"label":      "Person",
		"id":         "p1",
		"properties": map[string]any{"name": 42},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, schema.ReasonWrongType, resp.Violations[0].Reason)
}
