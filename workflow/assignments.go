package workflow

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/permissions"
)

// AssignmentInput carries the optional knobs for a new assignment.
type AssignmentInput struct {
	DueDate             *time.Time `json:"due_date,omitempty"`
	SpecialInstructions *string    `json:"special_instructions,omitempty"`
}

// AssignBatch hands a READY_FOR_ANNOTATION batch to an annotator. The
// capacity check, the batch status compare-and-set, the assignment insert and
// the member image transitions all commit atomically; losing any race rolls
// the whole operation back, leaving the batch ready for the winner.
func (e *Engine) AssignBatch(actor *models.User, batchID, annotatorID uint, input AssignmentInput) (*models.BatchAssignment, error) {
	if err := requireAction(actor, permissions.ActionAssignmentCreate); err != nil {
		return nil, err
	}

	var assignment models.BatchAssignment
	err := e.db.Transaction(func(tx *gorm.DB) error {
		annotator, err := loadAnnotator(tx, annotatorID)
		if err != nil {
			return err
		}
		if err := checkCapacity(tx, annotator); err != nil {
			return err
		}

		var batch models.ImageBatch
		if err := tx.First(&batch, batchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "batch", ID: batchID}
			}
			return fmt.Errorf("failed to load batch %d: %w", batchID, err)
		}

		// compare-and-set on the batch status is what picks exactly one
		// winner between concurrent assignment attempts
		res := tx.Model(&models.ImageBatch{}).
			Where("id = ? AND status = ?", batchID, models.BatchReadyForAnnotation).
			Update("status", models.BatchInProgress)
		if res.Error != nil {
			return fmt.Errorf("failed to claim batch %d: %w", batchID, res.Error)
		}
		if res.RowsAffected == 0 {
			return &InvalidStateError{Entity: "batch", ID: batchID, State: string(batch.Status),
				Detail: "batch is not ready for annotation"}
		}

		// a batch re-opened after a cancellation may already have approved
		// images; the assignment covers only what is left in the pool
		var assignable int64
		if err := tx.Model(&models.Image{}).
			Where("batch_id = ? AND status = ? AND current_assignment_id IS NULL", batchID, models.ImagePreprocessed).
			Count(&assignable).Error; err != nil {
			return fmt.Errorf("failed to count assignable images in batch %d: %w", batchID, err)
		}
		if assignable == 0 {
			return &InvalidStateError{Entity: "batch", ID: batchID, State: string(batch.Status),
				Detail: "batch has no assignable images"}
		}

		assignment = models.BatchAssignment{
			BatchID:             batchID,
			AnnotatorID:         annotatorID,
			AssignedByID:        actor.ID,
			Type:                models.AssignmentInitial,
			Status:              models.AssignmentAssigned,
			SpecialInstructions: input.SpecialInstructions,
			ImagesTotal:         int(assignable),
			AssignedAt:          time.Now().UTC(),
			DueDate:             input.DueDate,
		}
		if err := tx.Create(&assignment).Error; err != nil {
			return fmt.Errorf("failed to create assignment for batch %d: %w", batchID, err)
		}

		imgRes := tx.Model(&models.Image{}).
			Where("batch_id = ? AND status = ? AND current_assignment_id IS NULL", batchID, models.ImagePreprocessed).
			Updates(map[string]any{
				"status":                models.ImageAssigned,
				"current_annotator_id":  annotatorID,
				"current_assignment_id": assignment.ID,
				"last_status_change":    time.Now().UTC(),
			})
		if imgRes.Error != nil {
			return fmt.Errorf("failed to assign images of batch %d: %w", batchID, imgRes.Error)
		}
		if imgRes.RowsAffected != assignable {
			return &ConflictError{Entity: "batch", ID: batchID,
				Detail: fmt.Sprintf("expected %d assignable images, claimed %d", assignable, imgRes.RowsAffected)}
		}
		if err := tx.Model(&models.ImageBatch{}).Where("id = ?", batchID).
			Update("assigned_count", assignable).Error; err != nil {
			return fmt.Errorf("failed to update assigned_count for batch %d: %w", batchID, err)
		}

		return audit(tx, "assignment", assignment.ID, "assignment.created", &actor.ID,
			fmt.Sprintf("batch %d -> annotator %d", batchID, annotatorID))
	})
	if err != nil {
		return nil, err
	}

	e.publish(Event{Type: EventAssignmentCreated, Entity: "assignment", EntityID: assignment.ID, BatchID: batchID,
		Extra: map[string]any{"annotator_id": annotatorID, "type": models.AssignmentInitial}})
	return &assignment, nil
}

// AssignRevision creates a REVISION assignment for a single image that came
// back REQUIRES_REVISION, to the same or a different annotator. The original
// assignment is never mutated, preserving the full history.
func (e *Engine) AssignRevision(actor *models.User, imageID, annotatorID uint, input AssignmentInput) (*models.BatchAssignment, error) {
	if err := requireAction(actor, permissions.ActionAssignmentCreate); err != nil {
		return nil, err
	}

	var assignment models.BatchAssignment
	var batchID uint
	err := e.db.Transaction(func(tx *gorm.DB) error {
		annotator, err := loadAnnotator(tx, annotatorID)
		if err != nil {
			return err
		}
		if err := checkCapacity(tx, annotator); err != nil {
			return err
		}

		img, err := lockImage(tx, imageID)
		if err != nil {
			return err
		}
		batchID = img.BatchID
		if img.Status != models.ImageRequiresRevision {
			return &InvalidStateError{Entity: "image", ID: imageID, State: string(img.Status),
				Detail: "only images requiring revision can be re-assigned"}
		}

		assignment = models.BatchAssignment{
			BatchID:             img.BatchID,
			AnnotatorID:         annotatorID,
			AssignedByID:        actor.ID,
			Type:                models.AssignmentRevision,
			Status:              models.AssignmentAssigned,
			SpecialInstructions: input.SpecialInstructions,
			ImagesTotal:         1,
			AssignedAt:          time.Now().UTC(),
			DueDate:             input.DueDate,
		}
		if err := tx.Create(&assignment).Error; err != nil {
			return fmt.Errorf("failed to create revision assignment for image %d: %w", imageID, err)
		}

		extra := map[string]any{
			"current_annotator_id":  annotatorID,
			"current_assignment_id": assignment.ID,
		}
		if err := transitionImage(tx, img, models.ImageAssigned, extra); err != nil {
			return err
		}
		return audit(tx, "assignment", assignment.ID, "assignment.created", &actor.ID,
			fmt.Sprintf("revision of image %d -> annotator %d", imageID, annotatorID))
	})
	if err != nil {
		return nil, err
	}

	e.publish(Event{Type: EventAssignmentCreated, Entity: "assignment", EntityID: assignment.ID, BatchID: batchID,
		Extra: map[string]any{"annotator_id": annotatorID, "type": models.AssignmentRevision, "image_id": imageID}})
	return &assignment, nil
}

// Acknowledge records that the annotator has seen the assignment. Calling it
// twice has the same effect as calling it once.
func (e *Engine) Acknowledge(actor *models.User, assignmentID uint) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		var assignment models.BatchAssignment
		if err := tx.First(&assignment, assignmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "assignment", ID: assignmentID}
			}
			return fmt.Errorf("failed to load assignment %d: %w", assignmentID, err)
		}
		if actor == nil || (assignment.AnnotatorID != actor.ID && !actor.IsAdmin()) {
			return &ForbiddenError{UserID: actorID(actor), Detail: "assignment belongs to another annotator"}
		}
		if assignment.AcknowledgedAt != nil {
			return nil // idempotent
		}
		now := time.Now().UTC()
		updates := map[string]any{"acknowledged_at": now}
		query := tx.Model(&models.BatchAssignment{}).
			Where("id = ? AND acknowledged_at IS NULL", assignmentID)
		// a late acknowledgement only records the timestamp; COMPLETED and
		// CANCELLED assignments stay terminal
		if assignment.Status == models.AssignmentAssigned {
			updates["status"] = models.AssignmentAcknowledged
			query = query.Where("status = ?", models.AssignmentAssigned)
		}
		res := query.Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to acknowledge assignment %d: %w", assignmentID, res.Error)
		}
		return audit(tx, "assignment", assignmentID, "assignment.acknowledged", &actor.ID, "")
	})
}

// CancelAssignment terminates an active assignment and returns its
// not-yet-submitted images to the pool. Admin only.
func (e *Engine) CancelAssignment(actor *models.User, assignmentID uint) error {
	if err := requireAction(actor, permissions.ActionAssignmentCreate); err != nil {
		return err
	}
	return e.db.Transaction(func(tx *gorm.DB) error {
		var assignment models.BatchAssignment
		if err := tx.First(&assignment, assignmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "assignment", ID: assignmentID}
			}
			return fmt.Errorf("failed to load assignment %d: %w", assignmentID, err)
		}
		if !assignment.Status.Active() {
			return &InvalidStateError{Entity: "assignment", ID: assignmentID, State: string(assignment.Status),
				Detail: "only active assignments can be cancelled"}
		}

		var pending []models.Image
		if err := tx.Where("current_assignment_id = ? AND status IN ?", assignmentID,
			[]models.ImageStatus{models.ImageAssigned, models.ImageInProgress}).
			Find(&pending).Error; err != nil {
			return fmt.Errorf("failed to list pending images of assignment %d: %w", assignmentID, err)
		}
		for i := range pending {
			img := &pending[i]
			// pending images drop out of the pipeline and go back to the
			// preprocessed pool; the state machine has no edge for this, so
			// the reset bypasses transitionImage and fixes counters directly
			res := tx.Model(&models.Image{}).
				Where("id = ? AND status = ?", img.ID, img.Status).
				Updates(map[string]any{
					"status":                models.ImagePreprocessed,
					"current_annotator_id":  gorm.Expr("NULL"),
					"current_assignment_id": gorm.Expr("NULL"),
					"last_status_change":    time.Now().UTC(),
				})
			if res.Error != nil {
				return fmt.Errorf("failed to release image %d: %w", img.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return &ConflictError{Entity: "image", ID: img.ID, Detail: "image changed state during cancellation"}
			}
			if err := tx.Model(&models.ImageBatch{}).Where("id = ?", img.BatchID).
				Update("assigned_count", gorm.Expr("assigned_count - 1")).Error; err != nil {
				return fmt.Errorf("failed to update counters for batch %d: %w", img.BatchID, err)
			}
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.BatchAssignment{}).Where("id = ?", assignmentID).
			Updates(map[string]any{"status": models.AssignmentCancelled, "completed_at": now}).Error; err != nil {
			return fmt.Errorf("failed to cancel assignment %d: %w", assignmentID, err)
		}

		// if nothing from this batch is in flight anymore, reopen it
		var inPipeline int64
		if err := tx.Model(&models.Image{}).
			Where("batch_id = ? AND status IN ?", assignment.BatchID, []models.ImageStatus{
				models.ImageAssigned, models.ImageInProgress, models.ImageSubmitted,
				models.ImageUnderReview, models.ImageRequiresRevision,
			}).Count(&inPipeline).Error; err != nil {
			return fmt.Errorf("failed to count in-flight images for batch %d: %w", assignment.BatchID, err)
		}
		if inPipeline == 0 {
			if err := tx.Model(&models.ImageBatch{}).
				Where("id = ? AND status = ?", assignment.BatchID, models.BatchInProgress).
				Update("status", models.BatchReadyForAnnotation).Error; err != nil {
				return fmt.Errorf("failed to reopen batch %d: %w", assignment.BatchID, err)
			}
		}
		return audit(tx, "assignment", assignmentID, "assignment.cancelled", &actor.ID, "")
	})
}

// RecordProgress recomputes images_completed and progress_percentage for an
// assignment from the image store. It is invoked automatically whenever a
// member image reaches SUBMITTED or drops back out of it.
func (e *Engine) RecordProgress(assignmentID uint) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		return recordProgress(tx, assignmentID)
	})
}

func recordProgress(tx *gorm.DB, assignmentID uint) error {
	var assignment models.BatchAssignment
	if err := tx.First(&assignment, assignmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Entity: "assignment", ID: assignmentID}
		}
		return fmt.Errorf("failed to load assignment %d: %w", assignmentID, err)
	}

	var completed int64
	if err := tx.Model(&models.Image{}).
		Where("current_assignment_id = ? AND status IN ?", assignmentID, []models.ImageStatus{
			models.ImageSubmitted, models.ImageUnderReview, models.ImageApproved,
		}).Count(&completed).Error; err != nil {
		return fmt.Errorf("failed to count completed images for assignment %d: %w", assignmentID, err)
	}

	progress := 0.0
	if assignment.ImagesTotal > 0 {
		progress = float64(completed) / float64(assignment.ImagesTotal) * 100
	}

	updates := map[string]any{
		"images_completed":    completed,
		"progress_percentage": progress,
	}
	now := time.Now().UTC()
	if completed >= int64(assignment.ImagesTotal) && assignment.Status.Active() {
		updates["status"] = models.AssignmentCompleted
		updates["completed_at"] = now
	} else if completed > 0 && assignment.StartedAt == nil {
		updates["started_at"] = now
		if assignment.Status == models.AssignmentAssigned || assignment.Status == models.AssignmentAcknowledged {
			updates["status"] = models.AssignmentInProgress
		}
	}

	if err := tx.Model(&models.BatchAssignment{}).Where("id = ?", assignmentID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to record progress for assignment %d: %w", assignmentID, err)
	}
	return nil
}

// GetAssignment returns an assignment by id.
func (e *Engine) GetAssignment(id uint) (*models.BatchAssignment, error) {
	var assignment models.BatchAssignment
	if err := e.db.First(&assignment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "assignment", ID: id}
		}
		return nil, fmt.Errorf("failed to load assignment %d: %w", id, err)
	}
	return &assignment, nil
}

func loadAnnotator(tx *gorm.DB, annotatorID uint) (*models.User, error) {
	var annotator models.User
	if err := tx.First(&annotator, annotatorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "user", ID: annotatorID}
		}
		return nil, fmt.Errorf("failed to load user %d: %w", annotatorID, err)
	}
	if !annotator.CanAnnotate() {
		return nil, &ValidationError{Entity: "assignment",
			Detail: fmt.Sprintf("user %d is not an approved annotator", annotatorID)}
	}
	return &annotator, nil
}

// checkCapacity enforces the annotator's concurrent-batch limit inside the
// caller's transaction, so the check and the assignment insert are one
// atomic unit.
func checkCapacity(tx *gorm.DB, annotator *models.User) error {
	var active int64
	if err := tx.Model(&models.BatchAssignment{}).
		Where("annotator_id = ? AND status IN ?", annotator.ID, []models.AssignmentStatus{
			models.AssignmentAssigned, models.AssignmentAcknowledged, models.AssignmentInProgress,
		}).Count(&active).Error; err != nil {
		return fmt.Errorf("failed to count active assignments for user %d: %w", annotator.ID, err)
	}
	limit := annotator.MaxConcurrentBatches
	if limit <= 0 {
		limit = models.DefaultMaxConcurrentBatches
	}
	if active >= int64(limit) {
		return &CapacityExceededError{AnnotatorID: annotator.ID, Limit: limit}
	}
	return nil
}

func actorID(actor *models.User) uint {
	if actor == nil {
		return 0
	}
	return actor.ID
}
