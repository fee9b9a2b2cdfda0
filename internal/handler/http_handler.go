// Package handler exposes the approvals engine over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
	"github.com/pesio-ai/be-plt-approvals/pkg/errors"
	"github.com/pesio-ai/be-plt-approvals/pkg/logger"
	"github.com/pesio-ai/be-plt-approvals/pkg/middleware"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	workflowService   *service.WorkflowService
	definitionService *service.DefinitionService
	permissionService *service.PermissionService
	actorService      *service.ActorService
	log               *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	workflowService *service.WorkflowService,
	definitionService *service.DefinitionService,
	permissionService *service.PermissionService,
	actorService *service.ActorService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		workflowService:   workflowService,
		definitionService: definitionService,
		permissionService: permissionService,
		actorService:      actorService,
		log:               log,
	}
}

// Routes mounts all API routes on a chi router.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", h.StartWorkflow)
			r.Post("/cancel", h.CancelWorkflow)
			r.Post("/recall", h.RecallWorkflow)
			r.Post("/actions", h.SubmitAction)
			r.Get("/current", h.CurrentStep)
			r.Get("/pending", h.PendingActions)
			r.Get("/{instanceID}/history", h.History)
		})
		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", h.ListDefinitions)
			r.Post("/", h.CreateDefinition)
			r.Post("/{definitionID}/publish", h.PublishDefinition)
		})
		r.Route("/permissions", func(r chi.Router) {
			r.Get("/can", h.Can)
			r.Post("/temporary", h.GrantTemporary)
			r.Post("/temporary/revoke", h.RevokeTemporary)
		})
		r.Route("/delegations", func(r chi.Router) {
			r.Get("/", h.ListDelegations)
			r.Post("/", h.CreateDelegation)
			r.Post("/revoke", h.RevokeDelegation)
		})
	})
}

// ── Workflows ─────────────────────────────────────────────────────────────────

// StartWorkflow starts a workflow run for a business record.
func (h *HTTPHandler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req service.StartWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.StartedBy = userID
	}

	inst, err := h.workflowService.StartWorkflow(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

type cancelRequest struct {
	EntityID    string `json:"entity_id"`
	EntityType  string `json:"entity_type"`
	EntityRef   string `json:"entity_ref"`
	CancelledBy string `json:"cancelled_by"`
}

// CancelWorkflow cancels the active workflow for a business record.
func (h *HTTPHandler) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.CancelledBy = userID
	}

	if err := h.workflowService.CancelWorkflow(r.Context(), req.EntityID, req.EntityType, req.EntityRef, req.CancelledBy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type recallRequest struct {
	InstanceID string  `json:"instance_id"`
	RecalledBy string  `json:"recalled_by"`
	Comments   *string `json:"comments,omitempty"`
}

// RecallWorkflow lets the submitter withdraw an in-progress workflow.
func (h *HTTPHandler) RecallWorkflow(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.RecalledBy = userID
	}

	if err := h.workflowService.RecallWorkflow(r.Context(), req.InstanceID, req.RecalledBy, req.Comments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// SubmitAction applies one user's decision to the instance's active step.
func (h *HTTPHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.UserID = userID
	}

	result, err := h.workflowService.SubmitAction(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CurrentStep reports where an entity's active workflow stands.
func (h *HTTPHandler) CurrentStep(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	entityType := r.URL.Query().Get("entity_type")
	entityRef := r.URL.Query().Get("entity_ref")
	if entityType == "" || entityRef == "" {
		writeError(w, errors.InvalidInput("query", "entity_type and entity_ref are required"))
		return
	}

	info, err := h.workflowService.CurrentStep(r.Context(), entityID, entityType, entityRef)
	if err != nil {
		writeError(w, err)
		return
	}
	if info == nil {
		writeError(w, errors.NotFound("workflow_instance", entityType+"/"+entityRef))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// PendingActions lists executions awaiting a user.
func (h *HTTPHandler) PendingActions(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = middleware.UserID(r.Context())
	}
	if userID == "" {
		writeError(w, errors.InvalidInput("user_id", "user id is required"))
		return
	}

	items, err := h.workflowService.PendingActionsFor(r.Context(), entityID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// History returns an instance's full execution and action history.
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	history, err := h.workflowService.History(r.Context(), instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// ── Definitions ───────────────────────────────────────────────────────────────

// CreateDefinition creates an unpublished workflow definition.
func (h *HTTPHandler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.CreatedBy = userID
	}

	def, steps, err := h.definitionService.CreateDefinition(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"definition": def, "steps": steps})
}

// PublishDefinition validates the step graph and publishes the definition.
func (h *HTTPHandler) PublishDefinition(w http.ResponseWriter, r *http.Request) {
	definitionID := chi.URLParam(r, "definitionID")

	if err := h.definitionService.Publish(r.Context(), definitionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

// ListDefinitions lists workflow definitions for an entity.
func (h *HTTPHandler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")

	defs, err := h.definitionService.List(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": defs, "total": len(defs)})
}

// ── Permissions ───────────────────────────────────────────────────────────────

// Can answers a stage-scoped permission question for UI gating.
func (h *HTTPHandler) Can(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var stageCode *string
	if v := q.Get("stage"); v != "" {
		stageCode = &v
	}
	var ref *service.EntityRef
	if q.Get("entity_type") != "" && q.Get("entity_ref") != "" {
		ref = &service.EntityRef{Kind: q.Get("entity_type"), ID: q.Get("entity_ref")}
	}

	granted, reason, err := h.permissionService.Can(r.Context(),
		q.Get("entity_id"), q.Get("user_id"), q.Get("module"), stageCode, q.Get("permission"), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": granted, "reason": reason})
}

type grantTemporaryRequest struct {
	EntityID   string     `json:"entity_id"`
	UserID     string     `json:"user_id"`
	EntityType string     `json:"entity_type"`
	EntityRef  string     `json:"entity_ref"`
	Permission string     `json:"permission"`
	GrantedBy  string     `json:"granted_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// GrantTemporary creates a record-scoped temporary grant.
func (h *HTTPHandler) GrantTemporary(w http.ResponseWriter, r *http.Request) {
	var req grantTemporaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.GrantedBy = userID
	}

	perm, err := h.permissionService.GrantTemporary(r.Context(), req.EntityID, req.UserID,
		service.EntityRef{Kind: req.EntityType, ID: req.EntityRef}, req.Permission, req.GrantedBy, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

type revokeRequest struct {
	ID        string `json:"id"`
	RevokedBy string `json:"revoked_by"`
}

// RevokeTemporary revokes a temporary grant before its expiry.
func (h *HTTPHandler) RevokeTemporary(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.RevokedBy = userID
	}

	if err := h.permissionService.RevokeTemporary(r.Context(), req.ID, req.RevokedBy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ── Delegations ───────────────────────────────────────────────────────────────

type createDelegationRequest struct {
	EntityID     string    `json:"entity_id"`
	FromUserID   string    `json:"from_user_id"`
	ToUserID     string    `json:"to_user_id"`
	Scope        string    `json:"scope"`
	DefinitionID *string   `json:"definition_id,omitempty"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Reason       *string   `json:"reason,omitempty"`
}

// CreateDelegation records a standing delegation window.
func (h *HTTPHandler) CreateDelegation(w http.ResponseWriter, r *http.Request) {
	var req createDelegationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	createdBy := middleware.UserID(r.Context())
	if createdBy == "" {
		createdBy = req.FromUserID
	}

	d, err := h.actorService.CreateDelegation(r.Context(), &repository.Delegation{
		EntityID:     req.EntityID,
		FromUserID:   req.FromUserID,
		ToUserID:     req.ToUserID,
		Scope:        req.Scope,
		DefinitionID: req.DefinitionID,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Reason:       req.Reason,
		CreatedBy:    createdBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// RevokeDelegation deactivates a delegation.
func (h *HTTPHandler) RevokeDelegation(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if userID := middleware.UserID(r.Context()); userID != "" {
		req.RevokedBy = userID
	}

	if err := h.actorService.RevokeDelegation(r.Context(), req.ID, req.RevokedBy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ListDelegations lists delegations involving a user.
func (h *HTTPHandler) ListDelegations(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = middleware.UserID(r.Context())
	}
	if userID == "" {
		writeError(w, errors.InvalidInput("user_id", "user id is required"))
		return
	}

	ds, err := h.actorService.ListDelegations(r.Context(), entityID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delegations": ds, "total": len(ds)})
}

// ── Response helpers ──────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), map[string]string{
		"code":  string(errors.CodeOf(err)),
		"error": err.Error(),
	})
}
