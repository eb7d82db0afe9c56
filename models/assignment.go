package models

import "time"

type AssignmentType string

const (
	AssignmentInitial  AssignmentType = "INITIAL"
	AssignmentRevision AssignmentType = "REVISION"
)

type AssignmentStatus string

const (
	AssignmentAssigned     AssignmentStatus = "ASSIGNED"
	AssignmentAcknowledged AssignmentStatus = "ACKNOWLEDGED"
	AssignmentInProgress   AssignmentStatus = "IN_PROGRESS"
	AssignmentCompleted    AssignmentStatus = "COMPLETED"
	AssignmentCancelled    AssignmentStatus = "CANCELLED"
)

// BatchAssignment is the unit of work handed to one annotator. Assignments
// are never mutated on rejection; a revision produces a new REVISION-typed
// assignment so the full history is preserved.
type BatchAssignment struct {
	ID      uint       `json:"id" gorm:"primaryKey"`
	BatchID uint       `json:"batch_id" gorm:"index;not null"`
	Batch   ImageBatch `json:"-" gorm:"foreignKey:BatchID"`

	AnnotatorID  uint `json:"annotator_id" gorm:"index:idx_assignments_annotator_status;not null"`
	AssignedByID uint `json:"assigned_by_id" gorm:"not null"`

	Type                AssignmentType   `json:"type" gorm:"not null;default:INITIAL"`
	Status              AssignmentStatus `json:"status" gorm:"index:idx_assignments_annotator_status;not null;default:ASSIGNED"`
	SpecialInstructions *string          `json:"special_instructions,omitempty"`

	ImagesTotal        int     `json:"images_total" gorm:"not null"`
	ImagesCompleted    int     `json:"images_completed" gorm:"not null;default:0"`
	ProgressPercentage float64 `json:"progress_percentage" gorm:"not null;default:0"`

	AssignedAt     time.Time  `json:"assigned_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Active reports whether the assignment still counts against the annotator's
// concurrent-batch capacity.
func (s AssignmentStatus) Active() bool {
	return s == AssignmentAssigned || s == AssignmentAcknowledged || s == AssignmentInProgress
}

// IsOverdue reports whether the assignment is active past its due date. The
// core never auto-cancels overdue work; this is surfaced for external tooling.
func (a *BatchAssignment) IsOverdue(now time.Time) bool {
	return a.Status.Active() && a.DueDate != nil && now.After(*a.DueDate)
}

func (BatchAssignment) TableName() string {
	return "batch_assignments"
}
