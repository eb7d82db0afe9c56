package workflow

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/permissions"
)

// SubmissionInput is an annotator's refined keypoint submission for one
// image. Quality and difficulty are self-reported and stored as given; only
// the structural schema rules are enforced here.
type SubmissionInput struct {
	Keypoints        models.KeypointList      `json:"keypoints"`
	QualityScore     *float64                 `json:"quality_score,omitempty"`
	DifficultyRating *models.DifficultyRating `json:"difficulty_rating,omitempty"`
	GeneralNotes     *string                  `json:"general_notes,omitempty"`
	TimeSpentSeconds int                      `json:"time_spent_seconds"`
}

// Submit validates and persists a keypoint submission, flips the image to
// SUBMITTED and queues the new annotation version for review. A resubmission
// after rejection gets the next version number and links to the prior row;
// nothing is ever overwritten. Two concurrent submissions for the same image
// cannot both succeed: the loser's guarded status update hits zero rows and
// surfaces as ConflictError.
func (e *Engine) Submit(actor *models.User, imageID, assignmentID uint, input SubmissionInput) (*models.Annotation, error) {
	if err := requireAction(actor, permissions.ActionAnnotationSubmit); err != nil {
		return nil, err
	}

	var annotation models.Annotation
	var batchID uint
	err := e.db.Transaction(func(tx *gorm.DB) error {
		img, err := lockImage(tx, imageID)
		if err != nil {
			return err
		}
		batchID = img.BatchID

		var assignment models.BatchAssignment
		if err := tx.First(&assignment, assignmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "assignment", ID: assignmentID}
			}
			return fmt.Errorf("failed to load assignment %d: %w", assignmentID, err)
		}
		if assignment.AnnotatorID != actor.ID {
			return &ForbiddenError{UserID: actor.ID, Detail: "assignment belongs to another annotator"}
		}
		if !assignment.Status.Active() {
			return &InvalidStateError{Entity: "assignment", ID: assignmentID, State: string(assignment.Status),
				Detail: "assignment is no longer active"}
		}
		if img.CurrentAssignmentID == nil || *img.CurrentAssignmentID != assignmentID {
			return &ForbiddenError{UserID: actor.ID,
				Detail: fmt.Sprintf("assignment %d is not the active assignment for image %d", assignmentID, imageID)}
		}

		var batch models.ImageBatch
		if err := tx.First(&batch, img.BatchID).Error; err != nil {
			return fmt.Errorf("failed to load batch %d: %w", img.BatchID, err)
		}
		var schema models.KeypointSchema
		if err := tx.First(&schema, batch.SchemaID).Error; err != nil {
			return fmt.Errorf("failed to load schema %d for batch %d: %w", batch.SchemaID, batch.ID, err)
		}
		if err := validateSubmission(&schema, input.Keypoints); err != nil {
			return err
		}

		// a submission against a freshly (re-)assigned image starts work
		// implicitly
		if img.Status == models.ImageAssigned {
			if err := transitionImage(tx, img, models.ImageInProgress, nil); err != nil {
				return err
			}
		}
		if img.Status != models.ImageInProgress {
			return &InvalidStateError{Entity: "image", ID: imageID, State: string(img.Status),
				Detail: "image is not open for annotation"}
		}

		version := 1
		var prior models.Annotation
		var revisionOf *uint
		err = tx.Where("image_id = ?", imageID).Order("version DESC").First(&prior).Error
		switch {
		case err == nil:
			version = prior.Version + 1
			revisionOf = &prior.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first submission
		default:
			return fmt.Errorf("failed to look up prior annotation for image %d: %w", imageID, err)
		}

		now := time.Now().UTC()
		annotation = models.Annotation{
			ImageID:          imageID,
			AssignmentID:     assignmentID,
			Version:          version,
			RevisionOfID:     revisionOf,
			Keypoints:        input.Keypoints,
			QualityScore:     input.QualityScore,
			DifficultyRating: input.DifficultyRating,
			GeneralNotes:     input.GeneralNotes,
			TimeSpentSeconds: input.TimeSpentSeconds,
			Status:           models.AnnotationSubmitted,
			SubmittedAt:      now,
		}
		if err := tx.Create(&annotation).Error; err != nil {
			return fmt.Errorf("failed to create annotation v%d for image %d: %w", version, imageID, err)
		}

		if err := transitionImage(tx, img, models.ImageSubmitted, nil); err != nil {
			return err
		}
		if err := recordProgress(tx, assignmentID); err != nil {
			return err
		}
		return audit(tx, "annotation", annotation.ID, "annotation.submitted", &actor.ID,
			fmt.Sprintf("image %d version %d", imageID, version))
	})
	if err != nil {
		return nil, err
	}

	e.publish(Event{Type: EventAnnotationSubmitted, Entity: "annotation", EntityID: annotation.ID, BatchID: batchID,
		Extra: map[string]any{"image_id": imageID, "version": annotation.Version}})
	return &annotation, nil
}

// validateSubmission enforces the owning schema's structural rules: the
// submitted ids must exactly cover the schema's ids, required keypoints must
// be visible, no more than MaxMissingKeypoints may be invisible, and every
// visible keypoint's confidence must clear the visibility threshold.
func validateSubmission(schema *models.KeypointSchema, keypoints models.KeypointList) error {
	if len(keypoints) != len(schema.Keypoints) {
		return &ValidationError{Entity: "annotation",
			Detail: fmt.Sprintf("schema %s %s defines %d keypoints, got %d",
				schema.Name, schema.Version, len(schema.Keypoints), len(keypoints))}
	}

	seen := make(map[int]bool, len(keypoints))
	missing := 0
	for _, kp := range keypoints {
		if kp.ID < 0 || kp.ID >= len(schema.Keypoints) {
			return &ValidationError{Entity: "annotation",
				Detail: fmt.Sprintf("keypoint id %d is not defined by schema %s %s", kp.ID, schema.Name, schema.Version)}
		}
		if seen[kp.ID] {
			return &ValidationError{Entity: "annotation",
				Detail: fmt.Sprintf("duplicate keypoint id %d", kp.ID)}
		}
		seen[kp.ID] = true

		if !kp.Visible {
			missing++
			continue
		}
		if kp.Confidence < schema.MinVisibilityThreshold {
			return &ValidationError{Entity: "annotation",
				Detail: fmt.Sprintf("keypoint %d (%s) confidence %.2f is below the visibility threshold %.2f",
					kp.ID, schema.KeypointName(kp.ID), kp.Confidence, schema.MinVisibilityThreshold)}
		}
	}

	if missing > schema.MaxMissingKeypoints {
		return &ValidationError{Entity: "annotation",
			Detail: fmt.Sprintf("%d keypoints missing, schema allows at most %d", missing, schema.MaxMissingKeypoints)}
	}
	for _, requiredID := range schema.RequiredIDs() {
		kp, _ := keypoints.ByID(requiredID)
		if !kp.Visible {
			return &ValidationError{Entity: "annotation",
				Detail: fmt.Sprintf("required keypoint %d (%s) is not visible", requiredID, schema.KeypointName(requiredID))}
		}
	}
	return nil
}

// GetAnnotation returns an annotation by id.
func (e *Engine) GetAnnotation(id uint) (*models.Annotation, error) {
	var annotation models.Annotation
	if err := e.db.First(&annotation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "annotation", ID: id}
		}
		return nil, fmt.Errorf("failed to load annotation %d: %w", id, err)
	}
	return &annotation, nil
}

// AnnotationHistory returns every annotation version for an image, oldest
// first, forming the append-only revision log.
func (e *Engine) AnnotationHistory(imageID uint) ([]models.Annotation, error) {
	var annotations []models.Annotation
	if err := e.db.Where("image_id = ?", imageID).Order("version ASC").Find(&annotations).Error; err != nil {
		return nil, fmt.Errorf("failed to load annotation history for image %d: %w", imageID, err)
	}
	return annotations, nil
}

// LatestAnnotation returns the newest annotation version for an image, the
// only one that can still be active.
func (e *Engine) LatestAnnotation(imageID uint) (*models.Annotation, error) {
	var annotation models.Annotation
	err := e.db.Where("image_id = ?", imageID).Order("version DESC").First(&annotation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "annotation", ID: imageID}
		}
		return nil, fmt.Errorf("failed to load latest annotation for image %d: %w", imageID, err)
	}
	return &annotation, nil
}
