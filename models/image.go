package models

import "time"

// ImageStatus is the per-image workflow state. Legal transitions form a line
// from UPLOADED to APPROVED with one backward edge from REQUIRES_REVISION to
// ASSIGNED; REJECTED is the terminal outcome for images a verifier rules out
// of re-annotation. The transition table lives in the workflow package.
type ImageStatus string

const (
	ImageUploaded         ImageStatus = "UPLOADED"
	ImagePreprocessed     ImageStatus = "PREPROCESSED"
	ImageAssigned         ImageStatus = "ASSIGNED"
	ImageInProgress       ImageStatus = "IN_PROGRESS"
	ImageSubmitted        ImageStatus = "SUBMITTED"
	ImageUnderReview      ImageStatus = "UNDER_REVIEW"
	ImageApproved         ImageStatus = "APPROVED"
	ImageRejected         ImageStatus = "REJECTED"
	ImageRequiresRevision ImageStatus = "REQUIRES_REVISION"
)

// Image is one uploaded photograph and its progress through the workflow.
// CurrentAnnotatorID/CurrentVerifierID are lookup relations, not ownership.
type Image struct {
	ID      uint       `json:"id" gorm:"primaryKey"`
	BatchID uint       `json:"batch_id" gorm:"index:idx_images_batch_status;not null"`
	Batch   ImageBatch `json:"-" gorm:"foreignKey:BatchID"`

	Filename         string  `json:"filename" gorm:"not null"`
	OriginalFilename string  `json:"original_filename" gorm:"not null"`
	StoragePath      string  `json:"storage_path" gorm:"not null"`
	ThumbnailPath    *string `json:"thumbnail_path,omitempty"`

	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`

	// optional EXIF-derived capture date
	AcquisitionDate *time.Time `json:"acquisition_date,omitempty"`

	// baseline keypoints from the pose estimator, stored verbatim
	YoloKeypoints        KeypointList `json:"yolo_keypoints,omitempty" gorm:"serializer:json"`
	YoloConfidence       *float64     `json:"yolo_confidence,omitempty"`
	YoloProcessingTimeMS *int64       `json:"yolo_processing_time_ms,omitempty"`
	YoloModelVersion     *string      `json:"yolo_model_version,omitempty"`
	PreprocessError      *string      `json:"preprocess_error,omitempty"`

	Status ImageStatus `json:"status" gorm:"index:idx_images_batch_status;index;not null;default:UPLOADED"`

	CurrentAnnotatorID  *uint `json:"current_annotator_id,omitempty" gorm:"index"`
	CurrentVerifierID   *uint `json:"current_verifier_id,omitempty" gorm:"index"`
	CurrentAssignmentID *uint `json:"current_assignment_id,omitempty" gorm:"index"`

	CreatedAt        time.Time `json:"created_at"`
	LastStatusChange time.Time `json:"last_status_change"`
}

// Terminal reports whether the image has reached a final workflow state.
func (s ImageStatus) Terminal() bool {
	return s == ImageApproved || s == ImageRejected
}

// InAnnotationPipeline reports whether the image is currently attributed to
// an assignment (counts toward the batch's assigned_count).
func (s ImageStatus) InAnnotationPipeline() bool {
	switch s {
	case ImageAssigned, ImageInProgress, ImageSubmitted, ImageUnderReview, ImageRequiresRevision:
		return true
	}
	return false
}
