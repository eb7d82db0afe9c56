package workflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypointlab/infantposebackend/models"
)

func TestAssignBatch(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 3)

	due := time.Now().Add(72 * time.Hour)
	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentInitial, assignment.Type)
	assert.Equal(t, models.AssignmentAssigned, assignment.Status)
	assert.Equal(t, 3, assignment.ImagesTotal)

	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchInProgress, batch.Status)
	assert.Equal(t, 3, batch.AssignedCount)

	for _, id := range imageIDs {
		img, err := e.GetImage(id)
		require.NoError(t, err)
		assert.Equal(t, models.ImageAssigned, img.Status)
		require.NotNil(t, img.CurrentAnnotatorID)
		assert.Equal(t, annotator.ID, *img.CurrentAnnotatorID)
		require.NotNil(t, img.CurrentAssignmentID)
		assert.Equal(t, assignment.ID, *img.CurrentAssignmentID)
	}
}

func TestAssignBatchOnlyWhenReady(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)

	batch, err := e.CreateBatch(admin, BatchInput{Name: "raw", SchemaID: schema.ID})
	require.NoError(t, err)

	var stateErr *InvalidStateError
	_, err = e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.ErrorAs(t, err, &stateErr)

	// assigning an already-assigned batch loses the compare-and-set
	ready, _ := readyBatch(t, e, admin, schema.ID, 1)
	_, err = e.AssignBatch(admin, ready.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)
	_, err = e.AssignBatch(admin, ready.ID, annotator.ID, AssignmentInput{})
	require.ErrorAs(t, err, &stateErr)
}

func TestAssignBatchCapacity(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	require.NoError(t, e.db.Model(annotator).Update("max_concurrent_batches", 1).Error)
	annotator.MaxConcurrentBatches = 1

	schema := registerTestSchema(t, e, admin)
	first, _ := readyBatch(t, e, admin, schema.ID, 1)
	second, _ := readyBatch(t, e, admin, schema.ID, 1)

	_, err := e.AssignBatch(admin, first.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	var capacityErr *CapacityExceededError
	_, err = e.AssignBatch(admin, second.ID, annotator.ID, AssignmentInput{})
	require.ErrorAs(t, err, &capacityErr)

	// the losing batch is untouched and stays assignable
	second, err = e.GetBatch(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchReadyForAnnotation, second.Status)

	other := createUser(t, e, "other", models.RoleAnnotator, true)
	_, err = e.AssignBatch(admin, second.ID, other.ID, AssignmentInput{})
	require.NoError(t, err)
}

func TestAssignBatchRejectsNonAnnotators(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	schema := registerTestSchema(t, e, admin)
	batch, _ := readyBatch(t, e, admin, schema.ID, 1)

	var validationErr *ValidationError
	verifier := createUser(t, e, "verifier", models.RoleVerifier, true)
	_, err := e.AssignBatch(admin, batch.ID, verifier.ID, AssignmentInput{})
	require.ErrorAs(t, err, &validationErr)

	pending := createUser(t, e, "pending", models.RoleAnnotator, false)
	_, err = e.AssignBatch(admin, batch.ID, pending.ID, AssignmentInput{})
	require.ErrorAs(t, err, &validationErr)

	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	var forbiddenErr *ForbiddenError
	_, err = e.AssignBatch(annotator, batch.ID, annotator.ID, AssignmentInput{})
	require.ErrorAs(t, err, &forbiddenErr)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)
	batch, _ := readyBatch(t, e, admin, schema.ID, 1)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	require.NoError(t, e.Acknowledge(annotator, assignment.ID))
	got, err := e.GetAssignment(assignment.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AcknowledgedAt)
	firstAck := *got.AcknowledgedAt
	assert.Equal(t, models.AssignmentAcknowledged, got.Status)

	require.NoError(t, e.Acknowledge(annotator, assignment.ID))
	got, err = e.GetAssignment(assignment.ID)
	require.NoError(t, err)
	assert.True(t, firstAck.Equal(*got.AcknowledgedAt))

	var forbiddenErr *ForbiddenError
	other := createUser(t, e, "other", models.RoleAnnotator, true)
	require.ErrorAs(t, e.Acknowledge(other, assignment.ID), &forbiddenErr)

	var notFoundErr *NotFoundError
	require.ErrorAs(t, e.Acknowledge(annotator, 9999), &notFoundErr)
}

func TestCancelAssignmentReleasesPendingImages(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 2)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	require.NoError(t, e.CancelAssignment(admin, assignment.ID))

	got, err := e.GetAssignment(assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCancelled, got.Status)

	for _, id := range imageIDs {
		img, err := e.GetImage(id)
		require.NoError(t, err)
		assert.Equal(t, models.ImagePreprocessed, img.Status)
		assert.Nil(t, img.CurrentAnnotatorID)
		assert.Nil(t, img.CurrentAssignmentID)
	}

	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchReadyForAnnotation, batch.Status)
	assert.Zero(t, batch.AssignedCount)

	// the batch is assignable again
	_, err = e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	var stateErr *InvalidStateError
	require.ErrorAs(t, e.CancelAssignment(admin, assignment.ID), &stateErr)
}

func TestAcknowledgeLateStaysTerminal(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	require.NoError(t, e.db.Model(annotator).Update("max_concurrent_batches", 1).Error)
	annotator.MaxConcurrentBatches = 1
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 1)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)
	submitImage(t, e, annotator, imageIDs[0], assignment.ID)

	got, err := e.GetAssignment(assignment.ID)
	require.NoError(t, err)
	require.Equal(t, models.AssignmentCompleted, got.Status)

	// a late acknowledgement records the timestamp without reviving the
	// assignment
	require.NoError(t, e.Acknowledge(annotator, assignment.ID))
	got, err = e.GetAssignment(assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCompleted, got.Status)
	assert.NotNil(t, got.AcknowledgedAt)

	// and it does not consume the annotator's capacity again
	next, _ := readyBatch(t, e, admin, schema.ID, 1)
	_, err = e.AssignBatch(admin, next.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)

	// same for a cancelled assignment
	third, _ := readyBatch(t, e, admin, schema.ID, 1)
	other := createUser(t, e, "other", models.RoleAnnotator, true)
	otherAssignment, err := e.AssignBatch(admin, third.ID, other.ID, AssignmentInput{})
	require.NoError(t, err)
	require.NoError(t, e.CancelAssignment(admin, otherAssignment.ID))
	require.NoError(t, e.Acknowledge(other, otherAssignment.ID))
	got, err = e.GetAssignment(otherAssignment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentCancelled, got.Status)
}

func TestAssignBatchCapacityConcurrent(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	require.NoError(t, e.db.Model(annotator).Update("max_concurrent_batches", 1).Error)
	annotator.MaxConcurrentBatches = 1

	schema := registerTestSchema(t, e, admin)
	first, _ := readyBatch(t, e, admin, schema.ID, 1)
	second, _ := readyBatch(t, e, admin, schema.ID, 1)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, batchID := range []uint{first.ID, second.ID} {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := e.AssignBatch(admin, id, annotator.ID, AssignmentInput{})
			results <- err
		}(batchID)
	}
	wg.Wait()
	close(results)

	// exactly one of the simultaneous attempts lands
	var succeeded, overCapacity int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var capacityErr *CapacityExceededError
		require.ErrorAs(t, err, &capacityErr)
		overCapacity++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, overCapacity)
}

func TestReassignAfterCancelWithApprovedImages(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	annotator := createUser(t, e, "annotator", models.RoleAnnotator, true)
	verifier := createUser(t, e, "verifier", models.RoleVerifier, true)
	schema := registerTestSchema(t, e, admin)
	batch, imageIDs := readyBatch(t, e, admin, schema.ID, 2)

	assignment, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)
	submitImage(t, e, annotator, imageIDs[0], assignment.ID)

	claimed, err := e.NextPending(verifier)
	require.NoError(t, err)
	_, err = e.Decide(verifier, claimed.ID, DecisionInput{
		Decision: models.DecisionApproved, OverallQualityScore: 8,
	})
	require.NoError(t, err)

	require.NoError(t, e.CancelAssignment(admin, assignment.ID))
	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchReadyForAnnotation, batch.Status)

	// only the image still in the pool is handed out again
	second, err := e.AssignBatch(admin, batch.ID, annotator.ID, AssignmentInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.ImagesTotal)

	reassigned, err := e.GetImage(imageIDs[1])
	require.NoError(t, err)
	assert.Equal(t, models.ImageAssigned, reassigned.Status)
	approved, err := e.GetImage(imageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.ImageApproved, approved.Status)

	submitImage(t, e, annotator, imageIDs[1], second.ID)
	claimed, err = e.NextPending(verifier)
	require.NoError(t, err)
	_, err = e.Decide(verifier, claimed.ID, DecisionInput{
		Decision: models.DecisionApproved, OverallQualityScore: 8,
	})
	require.NoError(t, err)

	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, batch.Status)
	assert.Equal(t, 2, batch.ApprovedCount)
}

func TestIsOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	a := models.BatchAssignment{Status: models.AssignmentInProgress, DueDate: &past}
	assert.True(t, a.IsOverdue(now))

	a.DueDate = &future
	assert.False(t, a.IsOverdue(now))

	a.DueDate = &past
	a.Status = models.AssignmentCompleted
	assert.False(t, a.IsOverdue(now))

	a.Status = models.AssignmentAssigned
	a.DueDate = nil
	assert.False(t, a.IsOverdue(now))
}
