package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/keypointlab/infantposebackend/workflow"
)

type VerificationHandler struct {
	Engine *workflow.Engine
}

func NewVerificationHandler(engine *workflow.Engine) *VerificationHandler {
	return &VerificationHandler{Engine: engine}
}

// NextPending claims the highest-priority submitted annotation for the
// authenticated verifier and returns it.
func (vh *VerificationHandler) NextPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	annotation, err := vh.Engine.NextPending(actor)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, annotation)
}

func (vh *VerificationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	annotationID, err := parseUintParam(r, "annotationID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var input workflow.DecisionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body: "+err.Error())
		return
	}

	verification, err := vh.Engine.Decide(actor, annotationID, input)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, verification)
}

func (vh *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	annotationID, err := parseUintParam(r, "annotationID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	verification, err := vh.Engine.GetVerification(annotationID)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

// CanonicalKeypoints resolves the authoritative keypoints for an approved
// image, corrections included.
func (vh *VerificationHandler) CanonicalKeypoints(w http.ResponseWriter, r *http.Request) {
	imageID, err := parseUintParam(r, "imageID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	keypoints, err := vh.Engine.CanonicalKeypoints(imageID)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keypoints)
}

func (vh *VerificationHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := vh.Engine.PendingReviewCount()
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pending": count})
}
