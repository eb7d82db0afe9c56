package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/keypointlab/infantposebackend/repository"
	"github.com/keypointlab/infantposebackend/workflow"
)

type AssignmentHandler struct {
	Engine      *workflow.Engine
	Assignments repository.AssignmentRepository
}

func NewAssignmentHandler(engine *workflow.Engine, assignments repository.AssignmentRepository) *AssignmentHandler {
	return &AssignmentHandler{Engine: engine, Assignments: assignments}
}

type assignBatchPayload struct {
	BatchID     uint `json:"batch_id"`
	AnnotatorID uint `json:"annotator_id"`
	workflow.AssignmentInput
}

func (ah *AssignmentHandler) AssignBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	var payload assignBatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body: "+err.Error())
		return
	}

	assignment, err := ah.Engine.AssignBatch(actor, payload.BatchID, payload.AnnotatorID, payload.AssignmentInput)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

type assignRevisionPayload struct {
	ImageID     uint `json:"image_id"`
	AnnotatorID uint `json:"annotator_id"`
	workflow.AssignmentInput
}

func (ah *AssignmentHandler) AssignRevision(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	var payload assignRevisionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body: "+err.Error())
		return
	}

	assignment, err := ah.Engine.AssignRevision(actor, payload.ImageID, payload.AnnotatorID, payload.AssignmentInput)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (ah *AssignmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "assignmentID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	assignment, err := ah.Engine.GetAssignment(id)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (ah *AssignmentHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	id, err := parseUintParam(r, "assignmentID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := ah.Engine.Acknowledge(actor, id); err != nil {
		WriteWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ah *AssignmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	id, err := parseUintParam(r, "assignmentID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := ah.Engine.CancelAssignment(actor, id); err != nil {
		WriteWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecomputeProgress re-derives the assignment's completion counters from the
// image store and returns the refreshed assignment.
func (ah *AssignmentHandler) RecomputeProgress(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "assignmentID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := ah.Engine.RecordProgress(id); err != nil {
		WriteWorkflowError(w, err)
		return
	}
	assignment, err := ah.Engine.GetAssignment(id)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

// ListMine returns the authenticated annotator's assignments, active ones
// only unless ?all=true.
func (ah *AssignmentHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	activeOnly := r.URL.Query().Get("all") != "true"
	assignments, err := ah.Assignments.ListByAnnotator(actor.ID, activeOnly)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (ah *AssignmentHandler) ListByBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseUintParam(r, "batchID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	assignments, err := ah.Assignments.ListByBatch(batchID)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}
