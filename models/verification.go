package models

import "time"

type VerificationDecision string

const (
	DecisionApproved                VerificationDecision = "APPROVED"
	DecisionApprovedWithCorrections VerificationDecision = "APPROVED_WITH_CORRECTIONS"
	DecisionMinorRevisionNeeded     VerificationDecision = "MINOR_REVISION_NEEDED"
	DecisionMajorRevisionNeeded     VerificationDecision = "MAJOR_REVISION_NEEDED"
	DecisionRejected                VerificationDecision = "REJECTED"
)

// NeedsRevision reports whether the decision sends the image back to
// annotation.
func (d VerificationDecision) NeedsRevision() bool {
	return d == DecisionMinorRevisionNeeded || d == DecisionMajorRevisionNeeded
}

// RequiresFeedback reports whether feedback and a rejection reason are
// mandatory for this decision.
func (d VerificationDecision) RequiresFeedback() bool {
	return d.NeedsRevision() || d == DecisionRejected
}

type RejectionReason string

const (
	RejectionPoorImageQuality     RejectionReason = "POOR_IMAGE_QUALITY"
	RejectionIncorrectKeypoints   RejectionReason = "INCORRECT_KEYPOINTS"
	RejectionAnatomicalErrors     RejectionReason = "ANATOMICAL_ERRORS"
	RejectionIncompleteAnnotation RejectionReason = "INCOMPLETE_ANNOTATION"
	RejectionTechnicalIssues      RejectionReason = "TECHNICAL_ISSUES"
	RejectionGuidelinesViolation  RejectionReason = "GUIDELINES_VIOLATION"
	RejectionOther                RejectionReason = "OTHER"
)

// ValidRejectionReason reports whether r is a member of the reason enum.
func ValidRejectionReason(r RejectionReason) bool {
	switch r {
	case RejectionPoorImageQuality, RejectionIncorrectKeypoints, RejectionAnatomicalErrors,
		RejectionIncompleteAnnotation, RejectionTechnicalIssues, RejectionGuidelinesViolation,
		RejectionOther:
		return true
	}
	return false
}

// Verification is one verifier's terminal decision on exactly one annotation
// version. Rows are immutable after creation; a re-review of a revised
// annotation creates a new row referencing the new version.
type Verification struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	AnnotationID uint       `json:"annotation_id" gorm:"uniqueIndex;not null"`
	Annotation   Annotation `json:"-" gorm:"foreignKey:AnnotationID"`

	VerifierID uint                 `json:"verifier_id" gorm:"index;not null"`
	Decision   VerificationDecision `json:"decision" gorm:"index;not null"`

	// corrections supplied with APPROVED_WITH_CORRECTIONS; when present they
	// are the canonical keypoints for the image (the annotation row itself is
	// left untouched)
	CorrectedKeypoints KeypointList `json:"corrected_keypoints,omitempty" gorm:"serializer:json"`

	FeedbackToAnnotator *string          `json:"feedback_to_annotator,omitempty"`
	RejectionReason     *RejectionReason `json:"rejection_reason,omitempty"`
	RejectionDetails    *string          `json:"rejection_details,omitempty"`

	// quality assessment, 1-10; overall is mandatory
	OverallQualityScore int  `json:"overall_quality_score" gorm:"not null"`
	AnatomicalAccuracy  *int `json:"anatomical_accuracy,omitempty"`
	TechnicalPrecision  *int `json:"technical_precision,omitempty"`
	CompletenessScore   *int `json:"completeness_score,omitempty"`

	// when false, a REJECTED image is terminal and may not be re-assigned
	CanBeReannotated bool `json:"can_be_reannotated" gorm:"not null;default:true"`

	VerificationTimeSeconds int       `json:"verification_time_seconds"`
	VerifiedAt              time.Time `json:"verified_at"`
}
