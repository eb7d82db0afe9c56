package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/keypointlab/infantposebackend/workflow"
)

type AnnotationHandler struct {
	Engine *workflow.Engine
}

func NewAnnotationHandler(engine *workflow.Engine) *AnnotationHandler {
	return &AnnotationHandler{Engine: engine}
}

type submitPayload struct {
	ImageID      uint `json:"image_id"`
	AssignmentID uint `json:"assignment_id"`
	workflow.SubmissionInput
}

func (anh *AnnotationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body: "+err.Error())
		return
	}

	annotation, err := anh.Engine.Submit(actor, payload.ImageID, payload.AssignmentID, payload.SubmissionInput)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, annotation)
}

func (anh *AnnotationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "annotationID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	annotation, err := anh.Engine.GetAnnotation(id)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, annotation)
}

// History returns every annotation version for an image, oldest first.
func (anh *AnnotationHandler) History(w http.ResponseWriter, r *http.Request) {
	imageID, err := parseUintParam(r, "imageID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	history, err := anh.Engine.AnnotationHistory(imageID)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (anh *AnnotationHandler) Latest(w http.ResponseWriter, r *http.Request) {
	imageID, err := parseUintParam(r, "imageID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	annotation, err := anh.Engine.LatestAnnotation(imageID)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, annotation)
}
