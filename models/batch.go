package models

import "time"

// BatchStatus is derived from the states of a batch's member images; it is
// stored so listings don't need a per-batch aggregate query.
type BatchStatus string

const (
	BatchUploaded           BatchStatus = "UPLOADED"
	BatchReadyForAnnotation BatchStatus = "READY_FOR_ANNOTATION"
	BatchInProgress         BatchStatus = "IN_PROGRESS"
	BatchCompleted          BatchStatus = "COMPLETED"
	BatchArchived           BatchStatus = "ARCHIVED"
)

const (
	MinBatchPriority     = 1
	MaxBatchPriority     = 10
	DefaultBatchPriority = 5
)

// ImageBatch is a named group of images sharing one keypoint schema, moved
// through the workflow together. Batches are archived, never hard-deleted.
//
// The per-status counters are maintained in the same transaction as every
// member image state transition; see workflow.transitionImage.
type ImageBatch struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	Name        string  `json:"name" gorm:"not null"`
	Description *string `json:"description,omitempty"`

	SchemaID uint           `json:"schema_id" gorm:"index;not null"`
	Schema   KeypointSchema `json:"-" gorm:"foreignKey:SchemaID"`

	TotalImages int         `json:"total_images" gorm:"not null;default:0"`
	Status      BatchStatus `json:"status" gorm:"index;not null;default:UPLOADED"`

	// 1-10, higher is dequeued first by the verification queue
	Priority int `json:"priority" gorm:"index;not null;default:5"`

	// running counters; assigned covers ASSIGNED..REQUIRES_REVISION,
	// completed = approved + rejected
	AssignedCount  int `json:"assigned_count" gorm:"not null;default:0"`
	CompletedCount int `json:"completed_count" gorm:"not null;default:0"`
	ApprovedCount  int `json:"approved_count" gorm:"not null;default:0"`
	RejectedCount  int `json:"rejected_count" gorm:"not null;default:0"`

	// images whose preprocessing failed; they stay UPLOADED until retried
	FailedPreprocessCount int `json:"failed_preprocess_count" gorm:"not null;default:0"`

	UploadedByID uint       `json:"uploaded_by_id" gorm:"index"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
}

// ProgressPercentage is the share of member images in a terminal state.
func (b *ImageBatch) ProgressPercentage() float64 {
	if b.TotalImages == 0 {
		return 0
	}
	return float64(b.CompletedCount) / float64(b.TotalImages) * 100
}

func (ImageBatch) TableName() string {
	return "image_batches"
}
