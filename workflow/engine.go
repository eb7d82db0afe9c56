package workflow

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
)

// Engine is the annotation workflow core: schema registry, batch/image store,
// assignment manager, annotation engine and verification engine share one
// database handle so every state transition and its side effects commit as a
// single transaction.
type Engine struct {
	db   *gorm.DB
	sink EventSink
}

// NewEngine creates a workflow engine publishing events to sink. A nil sink
// discards events.
func NewEngine(db *gorm.DB, sink EventSink) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{db: db, sink: sink}
}

// DB exposes the underlying handle for read-only consumers (handlers, stats).
func (e *Engine) DB() *gorm.DB {
	return e.db
}

func (e *Engine) publish(events ...Event) {
	for _, ev := range events {
		e.sink.Publish(ev)
	}
}

// audit appends an audit row inside the caller's transaction.
func audit(tx *gorm.DB, entityType string, entityID uint, action string, actorID *uint, detail string) error {
	entry := models.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
		Detail:     detail,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to write audit log for %s %d: %w", entityType, entityID, err)
	}
	return nil
}

// transitionImage is the single state-transition routine: it writes the new
// image status (guarded by the expected current status, so a lost race
// surfaces as ConflictError), applies any extra column updates, adjusts the
// owning batch's counters and re-derives the batch status, all on tx. The
// caller's transaction boundary is what makes counters and image states never
// observably inconsistent.
func transitionImage(tx *gorm.DB, img *models.Image, to models.ImageStatus, extra map[string]any) error {
	from := img.Status
	if !CanTransition(from, to) {
		return &IllegalTransitionError{Entity: "image", ID: img.ID, From: string(from), To: string(to)}
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":             to,
		"last_status_change": now,
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&models.Image{}).
		Where("id = ? AND status = ?", img.ID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to transition image %d to %s: %w", img.ID, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return &ConflictError{Entity: "image", ID: img.ID,
			Detail: fmt.Sprintf("expected status %s, another writer got there first", from)}
	}

	if err := adjustBatchCounters(tx, img.BatchID, from, to); err != nil {
		return err
	}
	if err := deriveBatchStatus(tx, img.BatchID, to); err != nil {
		return err
	}

	img.Status = to
	img.LastStatusChange = now
	return nil
}

// adjustBatchCounters applies the counter deltas implied by a from->to image
// transition to the owning batch, in the same transaction.
func adjustBatchCounters(tx *gorm.DB, batchID uint, from, to models.ImageStatus) error {
	updates := map[string]any{}

	if !from.InAnnotationPipeline() && to.InAnnotationPipeline() {
		updates["assigned_count"] = gorm.Expr("assigned_count + 1")
	} else if from.InAnnotationPipeline() && !to.InAnnotationPipeline() {
		updates["assigned_count"] = gorm.Expr("assigned_count - 1")
	}

	if to.Terminal() {
		updates["completed_count"] = gorm.Expr("completed_count + 1")
		if to == models.ImageApproved {
			updates["approved_count"] = gorm.Expr("approved_count + 1")
		} else {
			updates["rejected_count"] = gorm.Expr("rejected_count + 1")
		}
	}

	if len(updates) == 0 {
		return nil
	}
	if err := tx.Model(&models.ImageBatch{}).Where("id = ?", batchID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update counters for batch %d: %w", batchID, err)
	}
	return nil
}

// deriveBatchStatus moves the batch along its derived status line when a
// member image transition can have changed it.
func deriveBatchStatus(tx *gorm.DB, batchID uint, to models.ImageStatus) error {
	switch {
	case to == models.ImagePreprocessed:
		// batch is ready once no member image is still raw
		var remaining int64
		if err := tx.Model(&models.Image{}).
			Where("batch_id = ? AND status = ?", batchID, models.ImageUploaded).
			Count(&remaining).Error; err != nil {
			return fmt.Errorf("failed to count unprocessed images for batch %d: %w", batchID, err)
		}
		if remaining == 0 {
			if err := tx.Model(&models.ImageBatch{}).
				Where("id = ? AND status = ?", batchID, models.BatchUploaded).
				Update("status", models.BatchReadyForAnnotation).Error; err != nil {
				return fmt.Errorf("failed to mark batch %d ready: %w", batchID, err)
			}
		}

	case to.Terminal():
		var batch models.ImageBatch
		if err := tx.First(&batch, batchID).Error; err != nil {
			return fmt.Errorf("failed to load batch %d: %w", batchID, err)
		}
		if batch.CompletedCount >= batch.TotalImages {
			if err := tx.Model(&models.ImageBatch{}).
				Where("id = ? AND status = ?", batchID, models.BatchInProgress).
				Update("status", models.BatchCompleted).Error; err != nil {
				return fmt.Errorf("failed to complete batch %d: %w", batchID, err)
			}
		}
	}
	return nil
}

// lockImage loads an image for update inside tx.
func lockImage(tx *gorm.DB, imageID uint) (*models.Image, error) {
	var img models.Image
	if err := tx.First(&img, imageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "image", ID: imageID}
		}
		return nil, fmt.Errorf("failed to load image %d: %w", imageID, err)
	}
	return &img, nil
}
