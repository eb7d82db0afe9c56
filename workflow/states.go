package workflow

import "github.com/keypointlab/infantposebackend/models"

// legalTransitions is the image workflow graph: a forward line from UPLOADED
// to the review outcomes, plus the single backward edge from
// REQUIRES_REVISION to ASSIGNED. Anything else is an IllegalTransitionError.
var legalTransitions = map[models.ImageStatus][]models.ImageStatus{
	models.ImageUploaded:     {models.ImagePreprocessed},
	models.ImagePreprocessed: {models.ImageAssigned},
	models.ImageAssigned:     {models.ImageInProgress},
	models.ImageInProgress:   {models.ImageSubmitted},
	models.ImageSubmitted:    {models.ImageUnderReview},
	models.ImageUnderReview: {
		models.ImageApproved,
		models.ImageRequiresRevision,
		models.ImageRejected,
	},
	models.ImageRequiresRevision: {models.ImageAssigned},
}

// CanTransition reports whether from -> to is a legal edge of the image
// workflow graph.
func CanTransition(from, to models.ImageStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
