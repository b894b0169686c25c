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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/socialgraph/services/graph/migrations"
	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	"github.com/AleutianAI/socialgraph/services/graph/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// Handlers contains the HTTP handlers for the graph API.
type Handlers struct {
	svc      *Service
	verifier *Verifier
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// WithVerifier lets GET /v1/graph/verify?cached=true serve the background
// verifier's last report.
func (h *Handlers) WithVerifier(v *Verifier) *Handlers {
	h.verifier = v
	return h
}

// HandleSchema handles GET /v1/graph/schema.
//
// Response:
//
//	200 OK: schema.Schema at the applied version
//	500 Internal Server Error: Ledger could not be read
func (h *Handlers) HandleSchema(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleSchema")

	sch, err := h.svc.Schema(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, sch)
}

// HandleListMigrations handles GET /v1/graph/migrations.
//
// Response:
//
//	200 OK: MigrationsResponse
func (h *Handlers) HandleListMigrations(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleListMigrations")

	ctx := c.Request.Context()
	status, err := h.svc.MigrationStatus(ctx)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	current, err := h.svc.Runner().CurrentVersion(ctx)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, MigrationsResponse{
		CurrentVersion: current,
		LatestVersion:  h.svc.Runner().Registry().Latest(),
		Migrations:     status,
	})
}

// HandleApplyMigrations handles POST /v1/graph/migrations/apply.
//
// Description:
//
//	Applies pending migrations up to the requested target, or returns the
//	plan when dry_run is set. An empty body applies everything.
//
// Request Body:
//
//	ApplyMigrationsRequest (optional)
//
// Response:
//
//	200 OK: ApplyMigrationsResponse
//	400 Bad Request: Invalid target
//	409 Conflict: Ledger does not match the registered migrations
func (h *Handlers) HandleApplyMigrations(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleApplyMigrations")

	var req ApplyMigrationsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}

	ctx := c.Request.Context()
	resp := ApplyMigrationsResponse{DryRun: req.DryRun}
	if req.DryRun {
		plan, err := h.svc.Plan(ctx, req.Target)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		resp.Plan = plan
	} else {
		logger.Info("Applying migrations", "target", req.Target)
		applied, err := h.svc.Migrate(ctx, req.Target)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		resp.Applied = applied
	}

	current, err := h.svc.Runner().CurrentVersion(ctx)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	resp.CurrentVersion = current
	c.JSON(http.StatusOK, resp)
}

// HandlePutNode handles POST /v1/graph/nodes.
//
// Request Body:
//
//	PutNodeRequest
//
// Response:
//
//	200 OK: storage.Node as stored
//	400 Bad Request: Properties violate the schema
//	409 Conflict: No migration applied, or the ID belongs to another label
func (h *Handlers) HandlePutNode(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandlePutNode")

	var req PutNodeRequest
	if err := bindJSON(c, &req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	node, err := h.svc.PutNode(c.Request.Context(), schema.Label(req.Label), req.ID, req.Properties)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// HandleGetNode handles GET /v1/graph/nodes/:id.
func (h *Handlers) HandleGetNode(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleGetNode")

	node, err := h.svc.GetNode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

// HandleDeleteNode handles DELETE /v1/graph/nodes/:id.
//
// Response:
//
//	204 No Content: Node and its edges removed
//	404 Not Found: No such node
func (h *Handlers) HandleDeleteNode(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleDeleteNode")

	if err := h.svc.DeleteNode(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleNodeEdges handles GET /v1/graph/nodes/:id/edges.
func (h *Handlers) HandleNodeEdges(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleNodeEdges")

	edges, err := h.svc.EdgesOf(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, EdgesResponse{Edges: nonNil(edges), Count: len(edges)})
}

// HandleFindNodes handles GET /v1/graph/nodes.
//
// Query Parameters:
//
//	label: Node label (required)
//	property: Property to match (optional; omitted lists the whole label)
//	value: Value to match, required with property
//
// Response:
//
//	200 OK: NodesResponse
//	400 Bad Request: Unknown label or property, or a value outside its set
func (h *Handlers) HandleFindNodes(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleFindNodes")

	label := c.Query("label")
	property := c.Query("property")
	value, hasValue := c.GetQuery("value")
	if label == "" || (property != "" && !hasValue) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "label is required, and value is required with property",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var match any
	if property != "" {
		match = value
	}
	nodes, err := h.svc.FindNodes(c.Request.Context(), schema.Label(label), property, match)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, NodesResponse{Nodes: nonNil(nodes), Count: len(nodes)})
}

// HandlePutEdge handles POST /v1/graph/edges.
//
// Request Body:
//
//	PutEdgeRequest
//
// Response:
//
//	200 OK: storage.Edge as stored
//	400 Bad Request: Properties or endpoint labels violate the schema
//	404 Not Found: An endpoint node does not exist
//	409 Conflict: No migration applied
func (h *Handlers) HandlePutEdge(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandlePutEdge")

	var req PutEdgeRequest
	if err := bindJSON(c, &req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	edge, err := h.svc.PutEdge(c.Request.Context(), schema.Label(req.Label), req.From, req.To, req.Properties)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

// HandleDeleteEdge handles DELETE /v1/graph/edges/:id.
func (h *Handlers) HandleDeleteEdge(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleDeleteEdge")

	if err := h.svc.DeleteEdge(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleVerify handles GET /v1/graph/verify.
//
// Description:
//
//	Audits the graph and returns the report. With cached=true the last
//	report of the background verifier is returned instead, or 404 if it
//	has not finished a run yet.
//
// Response:
//
//	200 OK: Report (findings may be non-empty)
//	404 Not Found: cached=true and no report yet
func (h *Handlers) HandleVerify(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := requestLogger(c, requestID, "HandleVerify")

	if c.Query("cached") == "true" {
		var last *Report
		if h.verifier != nil {
			last = h.verifier.Last()
		}
		if last == nil {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no audit report yet", Code: "NOT_FOUND"})
			return
		}
		c.JSON(http.StatusOK, last)
		return
	}

	report, err := h.svc.Verify(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if report.Findings == nil {
		report.Findings = []Finding{}
	}
	c.JSON(http.StatusOK, report)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// HandleReady handles GET /ready.
//
// Description:
//
//	Returns 503 Service Unavailable with Retry-After when the store cannot
//	be reached or the ledger cannot be read.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false)
func (h *Handlers) HandleReady(c *gin.Context) {
	ctx := c.Request.Context()
	resp := ReadyResponse{LatestVersion: h.svc.Runner().Registry().Latest()}

	err := h.svc.Ping(ctx)
	if err == nil {
		resp.SchemaVersion, err = h.svc.Runner().CurrentVersion(ctx)
	}
	if err != nil {
		resp.Error = err.Error()
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	resp.Ready = true
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

// getOrCreateRequestID returns the X-Request-ID header, generating one if
// absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// bindJSON decodes the request body into obj and runs gin's validator.
//
// Description:
//
//	Unlike ShouldBindJSON it decodes numbers as json.Number, so integer
//	properties beyond 2^53 reach schema normalization exactly instead of
//	being rounded through float64.
func bindJSON(c *gin.Context, obj any) error {
	if c.Request == nil || c.Request.Body == nil {
		return errors.New("invalid request")
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(obj); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(obj)
}

// requestLogger returns a logger tagged with the request and, when tracing
// is on, its trace and span IDs.
func requestLogger(c *gin.Context, requestID, handler string) *slog.Logger {
	logger := slog.With("request_id", requestID, "handler", handler)
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

// errorStatus maps a service error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrInvalidProperties):
		return http.StatusBadRequest, "INVALID_PROPERTIES"
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, storage.ErrInvalidID):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, migrations.ErrInvalidTarget):
		return http.StatusBadRequest, "INVALID_TARGET"
	case errors.Is(err, storage.ErrEndpointMissing):
		return http.StatusNotFound, "ENDPOINT_MISSING"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrSchemaNotInitialized):
		return http.StatusConflict, "SCHEMA_NOT_INITIALIZED"
	case errors.Is(err, storage.ErrLabelConflict):
		return http.StatusConflict, "LABEL_CONFLICT"
	case errors.Is(err, migrations.ErrChecksumMismatch),
		errors.Is(err, migrations.ErrLedgerGap):
		return http.StatusConflict, "CHECKSUM_MISMATCH"
	case errors.Is(err, migrations.ErrUnknownVersion):
		// Either a target past the latest version or a ledger entry the
		// registry does not know.
		return http.StatusConflict, "UNKNOWN_VERSION"
	case errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if ve, ok := schema.AsValidationError(err); ok {
		resp.Violations = ve.Violations
	}

	switch {
	case status == http.StatusInternalServerError:
		logger.Error("Request failed", "error", err)
		resp.Error = "internal error"
	case status > http.StatusInternalServerError:
		logger.Warn("Store unavailable", "error", err)
	default:
		logger.Info("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, resp)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
