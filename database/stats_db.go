package database

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Reporting queries are built with squirrel so optional filters compose
// without string concatenation. They read the same sqlite file the workflow
// engine writes through GORM.

// AnnotatorThroughput is one annotator's output over the queried window.
type AnnotatorThroughput struct {
	AnnotatorID          uint    `json:"annotator_id"`
	Username             string  `json:"username"`
	AnnotationsSubmitted int     `json:"annotations_submitted"`
	AnnotationsApproved  int     `json:"annotations_approved"`
	AvgTimeSpentSeconds  float64 `json:"avg_time_spent_seconds"`
}

// ThroughputFilter narrows the throughput report.
type ThroughputFilter struct {
	AnnotatorID *uint
	Since       *time.Time
}

// QueryAnnotatorThroughput aggregates submissions per annotator, newest
// heaviest first.
func QueryAnnotatorThroughput(db *sql.DB, filter ThroughputFilter) ([]AnnotatorThroughput, error) {
	queryBuilder := sq.Select(
		"users.id",
		"users.username",
		"COUNT(annotations.id)",
		"COALESCE(SUM(CASE WHEN annotations.status = 'APPROVED' THEN 1 ELSE 0 END), 0)",
		"COALESCE(AVG(annotations.time_spent_seconds), 0)",
	).
		From("annotations").
		Join("batch_assignments ON batch_assignments.id = annotations.assignment_id").
		Join("users ON users.id = batch_assignments.annotator_id").
		GroupBy("users.id", "users.username").
		OrderBy("COUNT(annotations.id) DESC")

	if filter.AnnotatorID != nil {
		queryBuilder = queryBuilder.Where(sq.Eq{"batch_assignments.annotator_id": *filter.AnnotatorID})
	}
	if filter.Since != nil {
		queryBuilder = queryBuilder.Where(sq.GtOrEq{"annotations.submitted_at": *filter.Since})
	}

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for annotator throughput: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotator throughput: %w", err)
	}
	defer rows.Close()

	var results []AnnotatorThroughput
	for rows.Next() {
		var t AnnotatorThroughput
		if err := rows.Scan(&t.AnnotatorID, &t.Username, &t.AnnotationsSubmitted,
			&t.AnnotationsApproved, &t.AvgTimeSpentSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan throughput row: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// BatchProgressRow is the counter rollup for one batch.
type BatchProgressRow struct {
	BatchID        uint    `json:"batch_id"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Priority       int     `json:"priority"`
	TotalImages    int     `json:"total_images"`
	AssignedCount  int     `json:"assigned_count"`
	CompletedCount int     `json:"completed_count"`
	ApprovedCount  int     `json:"approved_count"`
	RejectedCount  int     `json:"rejected_count"`
	Progress       float64 `json:"progress"`
}

// QueryBatchProgress returns per-batch progress, optionally filtered by
// status, highest priority first.
func QueryBatchProgress(db *sql.DB, status string) ([]BatchProgressRow, error) {
	queryBuilder := sq.Select(
		"id", "name", "status", "priority", "total_images",
		"assigned_count", "completed_count", "approved_count", "rejected_count",
		"CASE WHEN total_images > 0 THEN completed_count * 100.0 / total_images ELSE 0 END",
	).
		From("image_batches").
		OrderBy("priority DESC", "created_at ASC")

	if status != "" {
		queryBuilder = queryBuilder.Where(sq.Eq{"status": status})
	}

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for batch progress: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch progress: %w", err)
	}
	defer rows.Close()

	var results []BatchProgressRow
	for rows.Next() {
		var r BatchProgressRow
		if err := rows.Scan(&r.BatchID, &r.Name, &r.Status, &r.Priority, &r.TotalImages,
			&r.AssignedCount, &r.CompletedCount, &r.ApprovedCount, &r.RejectedCount, &r.Progress); err != nil {
			return nil, fmt.Errorf("failed to scan batch progress row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// OverdueAssignmentRow surfaces an active assignment past its due date. The
// core never cancels these; external tooling decides what to do.
type OverdueAssignmentRow struct {
	AssignmentID uint      `json:"assignment_id"`
	BatchID      uint      `json:"batch_id"`
	AnnotatorID  uint      `json:"annotator_id"`
	Username     string    `json:"username"`
	DueDate      time.Time `json:"due_date"`
	Progress     float64   `json:"progress"`
}

// QueryOverdueAssignments lists active assignments whose due date has
// passed, most overdue first.
func QueryOverdueAssignments(db *sql.DB, now time.Time) ([]OverdueAssignmentRow, error) {
	queryBuilder := sq.Select(
		"batch_assignments.id",
		"batch_assignments.batch_id",
		"batch_assignments.annotator_id",
		"users.username",
		"batch_assignments.due_date",
		"batch_assignments.progress_percentage",
	).
		From("batch_assignments").
		Join("users ON users.id = batch_assignments.annotator_id").
		Where(sq.Eq{"batch_assignments.status": []string{"ASSIGNED", "ACKNOWLEDGED", "IN_PROGRESS"}}).
		Where(sq.NotEq{"batch_assignments.due_date": nil}).
		Where(sq.Lt{"batch_assignments.due_date": now}).
		OrderBy("batch_assignments.due_date ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for overdue assignments: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue assignments: %w", err)
	}
	defer rows.Close()

	var results []OverdueAssignmentRow
	for rows.Next() {
		var r OverdueAssignmentRow
		if err := rows.Scan(&r.AssignmentID, &r.BatchID, &r.AnnotatorID, &r.Username,
			&r.DueDate, &r.Progress); err != nil {
			return nil, fmt.Errorf("failed to scan overdue assignment row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AuditTrailRow is one audit log entry in the report shape.
type AuditTrailRow struct {
	ID         uint      `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   uint      `json:"entity_id"`
	Action     string    `json:"action"`
	ActorID    *uint     `json:"actor_id,omitempty"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// QueryAuditTrail returns audit entries, optionally scoped to one entity,
// newest first.
func QueryAuditTrail(db *sql.DB, entityType string, entityID uint, limit uint64) ([]AuditTrailRow, error) {
	if limit == 0 || limit > 500 {
		limit = 100
	}
	queryBuilder := sq.Select("id", "entity_type", "entity_id", "action", "actor_id", "detail", "created_at").
		From("audit_logs").
		OrderBy("id DESC").
		Limit(limit)

	if entityType != "" {
		queryBuilder = queryBuilder.Where(sq.Eq{"entity_type": entityType})
		if entityID != 0 {
			queryBuilder = queryBuilder.Where(sq.Eq{"entity_id": entityID})
		}
	}

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for audit trail: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var results []AuditTrailRow
	for rows.Next() {
		var r AuditTrailRow
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Action, &r.ActorID,
			&r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit trail row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
