package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/repository"
)

type AdminUserHandler struct {
	UserRepo repository.UserRepository
}

func NewAdminUserHandler(userRepo repository.UserRepository) *AdminUserHandler {
	return &AdminUserHandler{UserRepo: userRepo}
}

func (h *AdminUserHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		users []models.User
		err   error
	)
	if role := r.URL.Query().Get("role"); role != "" {
		users, err = h.UserRepo.ListByRole(models.Role(role))
	} else {
		users, err = h.UserRepo.ListAll()
	}
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "list_failed", "failed to list users")
		return
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *AdminUserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "userID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	user, err := h.UserRepo.GetByID(id)
	if err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	userForResponse := *user
	userForResponse.PasswordHash = ""
	writeJSON(w, http.StatusOK, userForResponse)
}

type approvalPayload struct {
	Approved bool `json:"approved"`
}

func (h *AdminUserHandler) SetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "userID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var payload approvalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body")
		return
	}

	if err := h.UserRepo.SetApproval(id, payload.Approved); err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rolePayload struct {
	Role models.Role `json:"role"`
}

func (h *AdminUserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "userID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var payload rolePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body")
		return
	}

	switch payload.Role {
	case models.RoleAdmin, models.RoleAnnotator, models.RoleVerifier:
	default:
		WriteAPIError(w, http.StatusBadRequest, "invalid_role", "role must be ADMIN, ANNOTATOR or VERIFIER")
		return
	}

	if err := h.UserRepo.SetRole(id, payload.Role); err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type capacityPayload struct {
	MaxConcurrentBatches int `json:"max_concurrent_batches"`
}

func (h *AdminUserHandler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "userID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var payload capacityPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body")
		return
	}
	if payload.MaxConcurrentBatches < 1 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_capacity", "max_concurrent_batches must be at least 1")
		return
	}

	if err := h.UserRepo.SetMaxConcurrentBatches(id, payload.MaxConcurrentBatches); err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
