package handlers

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/keypointlab/infantposebackend/database"
)

type StatsHandler struct {
	DB *sql.DB
}

func NewStatsHandler(db *sql.DB) *StatsHandler {
	return &StatsHandler{DB: db}
}

// Throughput aggregates submission and approval counts per annotator.
// Optional filters: ?annotator_id=N and ?since=RFC3339.
func (sh *StatsHandler) Throughput(w http.ResponseWriter, r *http.Request) {
	var filter database.ThroughputFilter

	if raw := r.URL.Query().Get("annotator_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_filter", "invalid annotator_id")
			return
		}
		uid := uint(id)
		filter.AnnotatorID = &uid
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_filter", "since must be RFC3339")
			return
		}
		filter.Since = &since
	}

	rows, err := database.QueryAnnotatorThroughput(sh.DB, filter)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "query_failed", "failed to query throughput")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (sh *StatsHandler) BatchProgress(w http.ResponseWriter, r *http.Request) {
	rows, err := database.QueryBatchProgress(sh.DB, r.URL.Query().Get("status"))
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "query_failed", "failed to query batch progress")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (sh *StatsHandler) OverdueAssignments(w http.ResponseWriter, r *http.Request) {
	rows, err := database.QueryOverdueAssignments(sh.DB, time.Now())
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "query_failed", "failed to query overdue assignments")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// AuditTrail returns the audit log for one entity, newest first.
// Query params: entity_type, entity_id, optional limit.
func (sh *StatsHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if entityType == "" {
		WriteAPIError(w, http.StatusBadRequest, "invalid_filter", "entity_type is required")
		return
	}
	entityID, err := strconv.ParseUint(r.URL.Query().Get("entity_id"), 10, 64)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_filter", "entity_id is required")
		return
	}

	var limit uint64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_filter", "invalid limit")
			return
		}
	}

	rows, err := database.QueryAuditTrail(sh.DB, entityType, uint(entityID), limit)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "query_failed", "failed to query audit trail")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
