package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypointlab/infantposebackend/models"
)

func TestSubmitHappyPath(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 2)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	keypoints := testKeypoints(0.9)
	annotation, err := e.Submit(annotator, imageIDs[0], assignment.ID, SubmissionInput{
		Keypoints:        keypoints,
		TimeSpentSeconds: 300,
		GeneralNotes:     strPtr("tricky lighting"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, annotation.Version)
	assert.Nil(t, annotation.RevisionOfID)
	assert.Equal(t, models.AnnotationSubmitted, annotation.Status)

	// coordinates come back exactly as submitted
	got, err := e.GetAnnotation(annotation.ID)
	require.NoError(t, err)
	assert.Equal(t, keypoints, got.Keypoints)

	img, err := e.GetImage(imageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.ImageSubmitted, img.Status)

	// assignment progress follows the submission
	a, err := e.GetAssignment(assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.ImagesCompleted)
	assert.InDelta(t, 50.0, a.ProgressPercentage, 0.01)
	assert.Equal(t, models.AssignmentInProgress, a.Status)
	require.NotNil(t, a.StartedAt)

	// the second submission completes the assignment
	submitImage(t, e, annotator, imageIDs[1], assignment.ID)
	a, err = e.GetAssignment(assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCompleted, a.Status)
	require.NotNil(t, a.CompletedAt)
}

func TestSubmitOwnershipChecks(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	other := createUser(t, e, "other", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 1)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	var forbiddenErr *ForbiddenError
	_, err = e.Submit(other, imageIDs[0], assignment.ID, SubmissionInput{Keypoints: testKeypoints(0.9)})
	require.ErrorAs(t, err, &forbiddenErr)

	// image must stay untouched after the failed submission
	img, err := e.GetImage(imageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.ImageAssigned, img.Status)
}

func TestSubmitValidation(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 1)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	cases := []struct {
		name      string
		keypoints models.KeypointList
	}{
		{"wrong count", testKeypoints(0.9)[:2]},
		{"undefined id", models.KeypointList{
			{ID: 0, X: 1, Y: 1, Confidence: 0.9, Visible: true},
			{ID: 1, X: 1, Y: 1, Confidence: 0.9, Visible: true},
			{ID: 7, X: 1, Y: 1, Confidence: 0.9, Visible: true},
		}},
		{"duplicate id", models.KeypointList{
			{ID: 0, X: 1, Y: 1, Confidence: 0.9, Visible: true},
			{ID: 1, X: 1, Y: 1, Confidence: 0.9, Visible: true},
			{ID: 1, X: 2, Y: 2, Confidence: 0.9, Visible: true},
		}},
		{"visible below threshold", models.KeypointList{
			{ID: 0, X: 1, Y: 1, Confidence: 0.9, Visible: true},
			{ID: 1, X: 1, Y: 1, Confidence: 0.2, Visible: true},
			{ID: 2, X: 1, Y: 1, Confidence: 0.9, Visible: true},
		}},
		{"too many missing", models.KeypointList{
			{ID: 0, X: 1, Y: 1, Confidence: 0.9, Visible: true},
			{ID: 1, Visible: false},
			{ID: 2, Visible: false},
		}},
		{"required keypoint missing", models.KeypointList{
			{ID: 0, Visible: false},
			{ID: 1, X: 1, Y: 1, Confidence: 0.9, Visible: true},
			{ID: 2, X: 1, Y: 1, Confidence: 0.9, Visible: true},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Submit(annotator, imageIDs[0], assignment.ID, SubmissionInput{Keypoints: tc.keypoints})
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}

	// a failed validation leaves the image assignable
	img, err := e.GetImage(imageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.ImageAssigned, img.Status)

	// one invisible optional keypoint is within the schema's allowance
	ok := testKeypoints(0.9)
	ok[2].Visible = false
	ok[2].Confidence = 0
	_, err = e.Submit(annotator, imageIDs[0], assignment.ID, SubmissionInput{Keypoints: ok})
	require.NoError(t, err)
}

func TestSubmitTwiceConflicts(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 1)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	submitImage(t, e, annotator, imageIDs[0], assignment.ID)

	// the image already left ASSIGNED and the assignment completed
	_, err = e.Submit(annotator, imageIDs[0], assignment.ID, SubmissionInput{Keypoints: testKeypoints(0.9)})
	require.Error(t, err)
}

func TestAnnotationHistoryOrdering(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	verifier := createUser(t, e, "verifier", models.RoleVerifier, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 1)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)
	first := submitImage(t, e, annotator, imageIDs[0], assignment.ID)

	// send it back and resubmit
	_, err = e.NextPending(verifier)
	require.NoError(t, err)
	_, err = e.Decide(verifier, first.ID, DecisionInput{
		Decision:            models.DecisionMinorRevisionNeeded,
		OverallQualityScore: 4,
		FeedbackToAnnotator: strPtr("left eye is off"),
		RejectionReason:     rejectionPtr(models.RejectionIncorrectKeypoints),
	})
	require.NoError(t, err)

	revision, err := e.AssignRevision(admin, imageIDs[0], annotator.ID, AssignmentInput{})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentRevision, revision.Type)
	assert.Equal(t, 1, revision.ImagesTotal)

	second := submitImage(t, e, annotator, imageIDs[0], revision.ID)
	assert.Equal(t, 2, second.Version)
	require.NotNil(t, second.RevisionOfID)
	assert.Equal(t, first.ID, *second.RevisionOfID)

	history, err := e.AnnotationHistory(imageIDs[0])
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)

	latest, err := e.LatestAnnotation(imageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func rejectionPtr(r models.RejectionReason) *models.RejectionReason { return &r }
