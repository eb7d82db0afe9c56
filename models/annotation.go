package models

import "time"

type AnnotationStatus string

const (
	AnnotationSubmitted         AnnotationStatus = "SUBMITTED"
	AnnotationUnderReview       AnnotationStatus = "UNDER_REVIEW"
	AnnotationApproved          AnnotationStatus = "APPROVED"
	AnnotationRevisionRequested AnnotationStatus = "REVISION_REQUESTED"
	AnnotationRejected          AnnotationStatus = "REJECTED"
)

type DifficultyRating string

const (
	DifficultyEasy     DifficultyRating = "EASY"
	DifficultyMedium   DifficultyRating = "MEDIUM"
	DifficultyHard     DifficultyRating = "HARD"
	DifficultyVeryHard DifficultyRating = "VERY_HARD"
)

// Annotation is one annotator's keypoint submission for one image. Rows are
// append-only: a resubmission after rejection gets Version+1 and points back
// at the prior row through RevisionOfID. Only Status moves after creation.
type Annotation struct {
	ID      uint  `json:"id" gorm:"primaryKey"`
	ImageID uint  `json:"image_id" gorm:"index:idx_annotations_image_version,unique;not null"`
	Image   Image `json:"-" gorm:"foreignKey:ImageID"`

	AssignmentID uint            `json:"assignment_id" gorm:"index;not null"`
	Assignment   BatchAssignment `json:"-" gorm:"foreignKey:AssignmentID"`

	Version      int   `json:"version" gorm:"index:idx_annotations_image_version,unique;not null;default:1"`
	RevisionOfID *uint `json:"revision_of_id,omitempty"`

	Keypoints KeypointList `json:"keypoints" gorm:"serializer:json"`

	// self-reported by the annotator, stored as given and never recomputed
	QualityScore     *float64          `json:"quality_score,omitempty"`
	DifficultyRating *DifficultyRating `json:"difficulty_rating,omitempty"`
	GeneralNotes     *string           `json:"general_notes,omitempty"`
	TimeSpentSeconds int               `json:"time_spent_seconds"`

	Status      AnnotationStatus `json:"status" gorm:"index;not null;default:SUBMITTED"`
	CreatedAt   time.Time        `json:"created_at"`
	SubmittedAt time.Time        `json:"submitted_at"`
}
