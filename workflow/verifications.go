package workflow

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/permissions"
)

// DecisionInput is the payload accompanying a verification decision.
type DecisionInput struct {
	Decision                models.VerificationDecision `json:"decision"`
	CorrectedKeypoints      models.KeypointList         `json:"corrected_keypoints,omitempty"`
	FeedbackToAnnotator     *string                     `json:"feedback_to_annotator,omitempty"`
	RejectionReason         *models.RejectionReason     `json:"rejection_reason,omitempty"`
	RejectionDetails        *string                     `json:"rejection_details,omitempty"`
	OverallQualityScore     int                         `json:"overall_quality_score"`
	AnatomicalAccuracy      *int                        `json:"anatomical_accuracy,omitempty"`
	TechnicalPrecision      *int                        `json:"technical_precision,omitempty"`
	CompletenessScore       *int                        `json:"completeness_score,omitempty"`
	CanBeReannotated        *bool                       `json:"can_be_reannotated,omitempty"`
	VerificationTimeSeconds int                         `json:"verification_time_seconds"`
}

// NextPending claims the next annotation awaiting review for the given
// verifier: highest owning-batch priority first, oldest submission first
// within a priority. Claiming flips the image and annotation to UNDER_REVIEW
// so two verifiers cannot pick up the same work. Returns NotFoundError when
// the queue is empty.
func (e *Engine) NextPending(actor *models.User) (*models.Annotation, error) {
	if err := requireAction(actor, permissions.ActionVerificationWrite); err != nil {
		return nil, err
	}

	var claimed models.Annotation
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var annotation models.Annotation
		err := tx.Model(&models.Annotation{}).
			Joins("JOIN images ON images.id = annotations.image_id").
			Joins("JOIN image_batches ON image_batches.id = images.batch_id").
			Where("annotations.status = ? AND images.status = ?", models.AnnotationSubmitted, models.ImageSubmitted).
			Order("image_batches.priority DESC, annotations.submitted_at ASC").
			First(&annotation).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "annotation", ID: 0}
			}
			return fmt.Errorf("failed to query review queue: %w", err)
		}

		img, err := lockImage(tx, annotation.ImageID)
		if err != nil {
			return err
		}
		extra := map[string]any{"current_verifier_id": actor.ID}
		if err := transitionImage(tx, img, models.ImageUnderReview, extra); err != nil {
			return err
		}
		if err := tx.Model(&models.Annotation{}).Where("id = ?", annotation.ID).
			Update("status", models.AnnotationUnderReview).Error; err != nil {
			return fmt.Errorf("failed to mark annotation %d under review: %w", annotation.ID, err)
		}
		annotation.Status = models.AnnotationUnderReview
		claimed = annotation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Decide records a verifier's terminal decision on an annotation version and
// applies its workflow effects. Every decision is recorded immutably; a
// revised annotation gets a fresh Verification row on its next review.
func (e *Engine) Decide(actor *models.User, annotationID uint, input DecisionInput) (*models.Verification, error) {
	if err := requireAction(actor, permissions.ActionVerificationWrite); err != nil {
		return nil, err
	}

	var verification models.Verification
	var batchID uint
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var annotation models.Annotation
		if err := tx.First(&annotation, annotationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Entity: "annotation", ID: annotationID}
			}
			return fmt.Errorf("failed to load annotation %d: %w", annotationID, err)
		}

		var existing models.Verification
		err := tx.Where("annotation_id = ?", annotationID).First(&existing).Error
		switch {
		case err == nil:
			return &AlreadyDecidedError{AnnotationID: annotationID, VerificationID: existing.ID}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first decision
		default:
			return fmt.Errorf("failed to look up verification for annotation %d: %w", annotationID, err)
		}

		if annotation.Status != models.AnnotationUnderReview {
			return &NotFoundError{Entity: "annotation", ID: annotationID}
		}

		img, err := lockImage(tx, annotation.ImageID)
		if err != nil {
			return err
		}
		batchID = img.BatchID

		if img.CurrentVerifierID != nil && *img.CurrentVerifierID != actor.ID && !actor.IsAdmin() {
			return &ForbiddenError{UserID: actor.ID,
				Detail: fmt.Sprintf("annotation %d is under review by another verifier", annotationID)}
		}

		var batch models.ImageBatch
		if err := tx.First(&batch, img.BatchID).Error; err != nil {
			return fmt.Errorf("failed to load batch %d: %w", img.BatchID, err)
		}
		var schema models.KeypointSchema
		if err := tx.First(&schema, batch.SchemaID).Error; err != nil {
			return fmt.Errorf("failed to load schema %d: %w", batch.SchemaID, err)
		}
		if err := validateDecision(&schema, input); err != nil {
			return err
		}

		canReannotate := true
		if input.CanBeReannotated != nil {
			canReannotate = *input.CanBeReannotated
		}

		verification = models.Verification{
			AnnotationID:            annotationID,
			VerifierID:              actor.ID,
			Decision:                input.Decision,
			CorrectedKeypoints:      input.CorrectedKeypoints,
			FeedbackToAnnotator:     input.FeedbackToAnnotator,
			RejectionReason:         input.RejectionReason,
			RejectionDetails:        input.RejectionDetails,
			OverallQualityScore:     input.OverallQualityScore,
			AnatomicalAccuracy:      input.AnatomicalAccuracy,
			TechnicalPrecision:      input.TechnicalPrecision,
			CompletenessScore:       input.CompletenessScore,
			CanBeReannotated:        canReannotate,
			VerificationTimeSeconds: input.VerificationTimeSeconds,
			VerifiedAt:              time.Now().UTC(),
		}
		if err := tx.Create(&verification).Error; err != nil {
			return fmt.Errorf("failed to create verification for annotation %d: %w", annotationID, err)
		}

		annotationStatus := models.AnnotationApproved
		imageTarget := models.ImageApproved
		switch {
		case input.Decision.NeedsRevision():
			annotationStatus = models.AnnotationRevisionRequested
			imageTarget = models.ImageRequiresRevision
		case input.Decision == models.DecisionRejected && canReannotate:
			annotationStatus = models.AnnotationRejected
			imageTarget = models.ImageRequiresRevision
		case input.Decision == models.DecisionRejected:
			annotationStatus = models.AnnotationRejected
			imageTarget = models.ImageRejected
		}

		if err := tx.Model(&models.Annotation{}).Where("id = ?", annotationID).
			Update("status", annotationStatus).Error; err != nil {
			return fmt.Errorf("failed to update annotation %d status: %w", annotationID, err)
		}

		extra := map[string]any{}
		if imageTarget == models.ImageRequiresRevision {
			// the image goes back to the pool; the revision assignment will
			// set a fresh annotator
			extra["current_annotator_id"] = gorm.Expr("NULL")
			extra["current_assignment_id"] = gorm.Expr("NULL")
		}
		if err := transitionImage(tx, img, imageTarget, extra); err != nil {
			return err
		}
		if err := recordProgress(tx, annotation.AssignmentID); err != nil {
			return err
		}
		return audit(tx, "verification", verification.ID, "verification.decided", &actor.ID,
			fmt.Sprintf("annotation %d: %s", annotationID, input.Decision))
	})
	if err != nil {
		return nil, err
	}

	e.publish(Event{Type: EventVerificationDecided, Entity: "verification", EntityID: verification.ID, BatchID: batchID,
		Extra: map[string]any{"annotation_id": annotationID, "decision": verification.Decision}})
	return &verification, nil
}

func validateDecision(schema *models.KeypointSchema, input DecisionInput) error {
	switch input.Decision {
	case models.DecisionApproved, models.DecisionApprovedWithCorrections,
		models.DecisionMinorRevisionNeeded, models.DecisionMajorRevisionNeeded, models.DecisionRejected:
	default:
		return &ValidationError{Entity: "verification",
			Detail: fmt.Sprintf("unknown decision %q", input.Decision)}
	}

	if input.OverallQualityScore < 1 || input.OverallQualityScore > 10 {
		return &ValidationError{Entity: "verification", Detail: "overall_quality_score must be between 1 and 10"}
	}
	for _, score := range []*int{input.AnatomicalAccuracy, input.TechnicalPrecision, input.CompletenessScore} {
		if score != nil && (*score < 1 || *score > 10) {
			return &ValidationError{Entity: "verification", Detail: "quality sub-scores must be between 1 and 10"}
		}
	}

	if input.Decision == models.DecisionApprovedWithCorrections {
		if len(input.CorrectedKeypoints) == 0 {
			return &ValidationError{Entity: "verification",
				Detail: "corrected keypoints are required for APPROVED_WITH_CORRECTIONS"}
		}
		if err := validateSubmission(schema, input.CorrectedKeypoints); err != nil {
			return err
		}
	} else if len(input.CorrectedKeypoints) > 0 {
		return &ValidationError{Entity: "verification",
			Detail: fmt.Sprintf("corrections are not accepted with decision %s", input.Decision)}
	}

	if input.Decision.RequiresFeedback() {
		if input.FeedbackToAnnotator == nil || *input.FeedbackToAnnotator == "" {
			return &ValidationError{Entity: "verification",
				Detail: fmt.Sprintf("feedback is mandatory for %s", input.Decision)}
		}
		if input.RejectionReason == nil {
			return &ValidationError{Entity: "verification",
				Detail: fmt.Sprintf("rejection reason is mandatory for %s", input.Decision)}
		}
	}
	if input.RejectionReason != nil && !models.ValidRejectionReason(*input.RejectionReason) {
		return &ValidationError{Entity: "verification",
			Detail: fmt.Sprintf("unknown rejection reason %q", *input.RejectionReason)}
	}
	return nil
}

// GetVerification returns the verification for an annotation, if any.
func (e *Engine) GetVerification(annotationID uint) (*models.Verification, error) {
	var verification models.Verification
	err := e.db.Where("annotation_id = ?", annotationID).First(&verification).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "verification", ID: annotationID}
		}
		return nil, fmt.Errorf("failed to load verification for annotation %d: %w", annotationID, err)
	}
	return &verification, nil
}

// CanonicalKeypoints resolves the research-ready keypoints for an approved
// image: the verifier's corrections when the decision carried them, the
// annotator's submission otherwise.
func (e *Engine) CanonicalKeypoints(imageID uint) (models.KeypointList, error) {
	annotation, err := e.LatestAnnotation(imageID)
	if err != nil {
		return nil, err
	}
	if annotation.Status != models.AnnotationApproved {
		return nil, &InvalidStateError{Entity: "annotation", ID: annotation.ID, State: string(annotation.Status),
			Detail: "image has no approved annotation"}
	}
	verification, err := e.GetVerification(annotation.ID)
	if err != nil {
		return nil, err
	}
	if verification.Decision == models.DecisionApprovedWithCorrections && len(verification.CorrectedKeypoints) > 0 {
		return verification.CorrectedKeypoints, nil
	}
	return annotation.Keypoints, nil
}

// PendingReviewCount returns the size of the review queue.
func (e *Engine) PendingReviewCount() (int64, error) {
	var n int64
	err := e.db.Model(&models.Annotation{}).
		Where("status = ?", models.AnnotationSubmitted).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending reviews: %w", err)
	}
	return n, nil
}
