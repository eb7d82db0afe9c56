package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keypointlab/infantposebackend/media"
	"github.com/keypointlab/infantposebackend/workflow"
)

type SchemaHandler struct {
	Engine *workflow.Engine
}

func NewSchemaHandler(engine *workflow.Engine) *SchemaHandler {
	return &SchemaHandler{Engine: engine}
}

func (sh *SchemaHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	var input workflow.SchemaInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body: "+err.Error())
		return
	}

	schema, err := sh.Engine.RegisterSchema(actor, input)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, schema)
}

func (sh *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "schemaID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	schema, err := sh.Engine.GetSchema(id)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (sh *SchemaHandler) List(w http.ResponseWriter, r *http.Request) {
	schemas, err := sh.Engine.ListSchemas()
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schemas)
}

// Template returns the bundled pose model's 26-keypoint layout as a starting
// point for a new schema registration.
func (sh *SchemaHandler) Template(w http.ResponseWriter, r *http.Request) {
	keypoints, connections := media.InfantPoseSchemaTemplate()
	writeJSON(w, http.StatusOK, workflow.SchemaInput{
		Name:                   "infant-pose",
		Version:                "draft",
		Keypoints:              keypoints,
		Connections:            connections,
		MinVisibilityThreshold: 0.5,
	})
}

func (sh *SchemaHandler) Deprecate(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	id, err := parseUintParam(r, "schemaID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := sh.Engine.DeprecateSchema(actor, id); err != nil {
		WriteWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUintParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &paramError{name: name, raw: raw}
	}
	return uint(id), nil
}

type paramError struct {
	name string
	raw  string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + " '" + e.raw + "'"
}
