package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/permissions"
)

// BatchInput is the payload for creating a batch.
type BatchInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	SchemaID    uint    `json:"schema_id"`
	Priority    int     `json:"priority"`
}

// CreateBatch creates an empty batch bound to an active schema. First use by
// a batch is what freezes a schema version.
func (e *Engine) CreateBatch(actor *models.User, input BatchInput) (*models.ImageBatch, error) {
	if err := requireAction(actor, permissions.ActionBatchCreate); err != nil {
		return nil, err
	}
	if input.Name == "" {
		return nil, &ValidationError{Entity: "batch", Detail: "name is required"}
	}
	if input.Priority == 0 {
		input.Priority = models.DefaultBatchPriority
	}
	if input.Priority < models.MinBatchPriority || input.Priority > models.MaxBatchPriority {
		return nil, &ValidationError{Entity: "batch",
			Detail: fmt.Sprintf("priority must be between %d and %d", models.MinBatchPriority, models.MaxBatchPriority)}
	}
	if _, err := e.GetSchema(input.SchemaID); err != nil {
		return nil, err
	}

	batch := models.ImageBatch{
		Name:         input.Name,
		Description:  input.Description,
		SchemaID:     input.SchemaID,
		Priority:     input.Priority,
		Status:       models.BatchUploaded,
		UploadedByID: actor.ID,
	}
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("failed to create batch %q: %w", input.Name, err)
		}
		return audit(tx, "batch", batch.ID, "batch.created", &actor.ID, batch.Name)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// ImageUpload carries the file facts established by the upload handler.
type ImageUpload struct {
	Filename         string
	OriginalFilename string
	StoragePath      string
	ThumbnailPath    *string
	Width            int
	Height           int
	FileSize         int64
	MimeType         string
	AcquisitionDate  *time.Time
}

// AddImage records a freshly uploaded image in the batch, in UPLOADED state,
// and bumps the batch's total. Only legal while the batch itself is still
// UPLOADED; once preprocessing completes the membership is frozen.
func (e *Engine) AddImage(actor *models.User, batchID uint, upload ImageUpload) (*models.Image, error) {
	if err := requireAction(actor, permissions.ActionBatchCreate); err != nil {
		return nil, err
	}
	if upload.Width <= 0 || upload.Height <= 0 {
		return nil, &ValidationError{Entity: "image", Detail: "image dimensions must be positive"}
	}

	img := models.Image{
		BatchID:          batchID,
		Filename:         upload.Filename,
		OriginalFilename: upload.OriginalFilename,
		StoragePath:      upload.StoragePath,
		ThumbnailPath:    upload.ThumbnailPath,
		Width:            upload.Width,
		Height:           upload.Height,
		FileSize:         upload.FileSize,
		MimeType:         upload.MimeType,
		AcquisitionDate:  upload.AcquisitionDate,
		Status:           models.ImageUploaded,
		LastStatusChange: time.Now().UTC(),
	}
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var batch models.ImageBatch
		if err := tx.First(&batch, batchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "batch", ID: batchID}
			}
			return fmt.Errorf("failed to load batch %d: %w", batchID, err)
		}
		if batch.Status != models.BatchUploaded {
			return &InvalidStateError{Entity: "batch", ID: batchID, State: string(batch.Status),
				Detail: "images can only be added while the batch is still uploading"}
		}
		if err := tx.Create(&img).Error; err != nil {
			return fmt.Errorf("failed to create image record for %s: %w", upload.OriginalFilename, err)
		}
		if err := tx.Model(&models.ImageBatch{}).Where("id = ?", batchID).
			Update("total_images", gorm.Expr("total_images + 1")).Error; err != nil {
			return fmt.Errorf("failed to bump total_images for batch %d: %w", batchID, err)
		}
		return audit(tx, "image", img.ID, "image.uploaded", &actor.ID, upload.OriginalFilename)
	})
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// PreprocessResult is the pose estimator's verbatim output for one image.
type PreprocessResult struct {
	Keypoints        models.KeypointList
	Confidence       float64
	ProcessingTimeMS int64
	ModelVersion     string
}

// SetPreprocessResult stores the baseline keypoints and moves the image
// UPLOADED -> PREPROCESSED. Called by the preprocessing workers.
func (e *Engine) SetPreprocessResult(imageID uint, result PreprocessResult) error {
	var batchID uint
	err := e.db.Transaction(func(tx *gorm.DB) error {
		img, err := lockImage(tx, imageID)
		if err != nil {
			return err
		}
		batchID = img.BatchID
		// pre-marshal: map-based updates bypass the gorm field serializer
		kps, err := json.Marshal(result.Keypoints)
		if err != nil {
			return fmt.Errorf("failed to encode keypoints for image %d: %w", imageID, err)
		}
		extra := map[string]any{
			"yolo_keypoints":          string(kps),
			"yolo_confidence":         result.Confidence,
			"yolo_processing_time_ms": result.ProcessingTimeMS,
			"yolo_model_version":      result.ModelVersion,
			"preprocess_error":        gorm.Expr("NULL"),
		}
		if err := transitionImage(tx, img, models.ImagePreprocessed, extra); err != nil {
			return err
		}
		return audit(tx, "image", imageID, "image.preprocessed", nil,
			fmt.Sprintf("model %s, confidence %.2f", result.ModelVersion, result.Confidence))
	})
	if err != nil {
		return err
	}
	e.publish(Event{Type: EventImagePreprocessed, Entity: "image", EntityID: imageID, BatchID: batchID})
	return nil
}

// SetPreprocessFailure records an estimator failure. The image stays
// UPLOADED (blocking batch readiness) until external tooling retries it.
func (e *Engine) SetPreprocessFailure(imageID uint, procErr error) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		img, err := lockImage(tx, imageID)
		if err != nil {
			return err
		}
		if img.Status != models.ImageUploaded {
			return &InvalidStateError{Entity: "image", ID: imageID, State: string(img.Status),
				Detail: "preprocess failures only apply to raw images"}
		}
		// first failure for this image bumps the batch's failed count
		if img.PreprocessError == nil {
			if err := tx.Model(&models.ImageBatch{}).Where("id = ?", img.BatchID).
				Update("failed_preprocess_count", gorm.Expr("failed_preprocess_count + 1")).Error; err != nil {
				return fmt.Errorf("failed to bump failed_preprocess_count for batch %d: %w", img.BatchID, err)
			}
		}
		msg := procErr.Error()
		if err := tx.Model(&models.Image{}).Where("id = ?", imageID).
			Update("preprocess_error", msg).Error; err != nil {
			return fmt.Errorf("failed to record preprocess error for image %d: %w", imageID, err)
		}
		return audit(tx, "image", imageID, "image.preprocess_failed", nil, msg)
	})
}

// GetBatch returns a batch by id.
func (e *Engine) GetBatch(id uint) (*models.ImageBatch, error) {
	var batch models.ImageBatch
	if err := e.db.First(&batch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "batch", ID: id}
		}
		return nil, fmt.Errorf("failed to load batch %d: %w", id, err)
	}
	return &batch, nil
}

// GetImage returns an image by id.
func (e *Engine) GetImage(id uint) (*models.Image, error) {
	var img models.Image
	if err := e.db.First(&img, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "image", ID: id}
		}
		return nil, fmt.Errorf("failed to load image %d: %w", id, err)
	}
	return &img, nil
}

// ArchiveBatch marks a terminal batch archived. Batches are never hard
// deleted; their images and annotation history stay queryable.
func (e *Engine) ArchiveBatch(actor *models.User, batchID uint) error {
	if err := requireAction(actor, permissions.ActionBatchArchive); err != nil {
		return err
	}
	now := time.Now().UTC()
	return e.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ImageBatch{}).
			Where("id = ? AND status = ?", batchID, models.BatchCompleted).
			Updates(map[string]any{"status": models.BatchArchived, "archived_at": now})
		if res.Error != nil {
			return fmt.Errorf("failed to archive batch %d: %w", batchID, res.Error)
		}
		if res.RowsAffected == 0 {
			var batch models.ImageBatch
			if err := tx.First(&batch, batchID).Error; err != nil {
				return &NotFoundError{Entity: "batch", ID: batchID}
			}
			return &InvalidStateError{Entity: "batch", ID: batchID, State: string(batch.Status),
				Detail: "only completed batches can be archived"}
		}
		return audit(tx, "batch", batchID, "batch.archived", &actor.ID, "")
	})
}
