package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/workflow"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Error encoding JSON response: %v", err)
		}
	}
}

// WriteWorkflowError maps workflow error types to HTTP statuses and writes
// the standard envelope. Unknown errors become opaque 500s.
func WriteWorkflowError(w http.ResponseWriter, err error) {
	var (
		validationErr *workflow.ValidationError
		transitionErr *workflow.IllegalTransitionError
		stateErr      *workflow.InvalidStateError
		capacityErr   *workflow.CapacityExceededError
		conflictErr   *workflow.ConflictError
		notFoundErr   *workflow.NotFoundError
		decidedErr    *workflow.AlreadyDecidedError
		forbiddenErr  *workflow.ForbiddenError
	)

	switch {
	case errors.As(err, &validationErr):
		WriteAPIError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &notFoundErr), errors.Is(err, gorm.ErrRecordNotFound):
		WriteAPIError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &forbiddenErr):
		WriteAPIError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.As(err, &transitionErr):
		WriteAPIError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.As(err, &stateErr):
		WriteAPIError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.As(err, &conflictErr):
		WriteAPIError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &decidedErr):
		WriteAPIError(w, http.StatusConflict, "already_decided", err.Error())
	case errors.As(err, &capacityErr):
		WriteAPIError(w, http.StatusConflict, "capacity_exceeded", err.Error())
	default:
		log.Printf("handlers: internal error: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
