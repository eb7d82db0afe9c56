package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypointlab/infantposebackend/models"
)

func TestCreateBatchDefaultsAndValidation(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	schema := registerTestSchema(t, e, admin)

	batch, err := e.CreateBatch(admin, BatchInput{Name: "weekly intake", SchemaID: schema.ID})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultBatchPriority, batch.Priority)
	assert.Equal(t, models.BatchUploaded, batch.Status)
	assert.Zero(t, batch.TotalImages)

	var validationErr *ValidationError
	_, err = e.CreateBatch(admin, BatchInput{SchemaID: schema.ID})
	require.ErrorAs(t, err, &validationErr)

	_, err = e.CreateBatch(admin, BatchInput{Name: "x", SchemaID: schema.ID, Priority: 11})
	require.ErrorAs(t, err, &validationErr)

	_, err = e.CreateBatch(admin, BatchInput{Name: "x", SchemaID: schema.ID, Priority: -1})
	require.ErrorAs(t, err, &validationErr)
}

func TestPreprocessingDrivesBatchReadiness(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	schema := registerTestSchema(t, e, admin)

	batch, err := e.CreateBatch(admin, BatchInput{Name: "b", SchemaID: schema.ID})
	require.NoError(t, err)

	first, err := e.AddImage(admin, batch.ID, testUpload("a.jpg"))
	require.NoError(t, err)
	second, err := e.AddImage(admin, batch.ID, testUpload("b.jpg"))
	require.NoError(t, err)

	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.TotalImages)
	assert.Equal(t, models.BatchUploaded, batch.Status)

	result := PreprocessResult{
		Keypoints:        testKeypoints(0.75),
		Confidence:       0.75,
		ProcessingTimeMS: 55,
		ModelVersion:     "test-model",
	}
	require.NoError(t, e.SetPreprocessResult(first.ID, result))

	// one raw image left, so the batch is not ready yet
	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchUploaded, batch.Status)

	require.NoError(t, e.SetPreprocessResult(second.ID, result))
	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchReadyForAnnotation, batch.Status)

	// stored keypoints survive the round trip exactly
	img, err := e.GetImage(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImagePreprocessed, img.Status)
	assert.Equal(t, result.Keypoints, img.YoloKeypoints)
	require.NotNil(t, img.YoloConfidence)
	assert.Equal(t, 0.75, *img.YoloConfidence)

	// membership is frozen once the batch left UPLOADED
	var stateErr *InvalidStateError
	_, err = e.AddImage(admin, batch.ID, testUpload("late.jpg"))
	require.ErrorAs(t, err, &stateErr)
}

func TestPreprocessFailureBlocksReadiness(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	schema := registerTestSchema(t, e, admin)

	batch, err := e.CreateBatch(admin, BatchInput{Name: "b", SchemaID: schema.ID})
	require.NoError(t, err)
	img, err := e.AddImage(admin, batch.ID, testUpload("a.jpg"))
	require.NoError(t, err)

	procErr := &ProcessingError{ImageID: img.ID, Detail: "no pose detected"}
	require.NoError(t, e.SetPreprocessFailure(img.ID, procErr))
	// recording the same failure again must not double count
	require.NoError(t, e.SetPreprocessFailure(img.ID, procErr))

	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchUploaded, batch.Status)
	assert.Equal(t, 1, batch.FailedPreprocessCount)

	img2, err := e.GetImage(img.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImageUploaded, img2.Status)
	require.NotNil(t, img2.PreprocessError)
	assert.Contains(t, *img2.PreprocessError, "no pose detected")

	// a later successful retry clears the error and readies the batch
	require.NoError(t, e.SetPreprocessResult(img.ID, PreprocessResult{
		Keypoints:    testKeypoints(0.6),
		Confidence:   0.6,
		ModelVersion: "test-model",
	}))
	img2, err = e.GetImage(img.ID)
	require.NoError(t, err)
	assert.Nil(t, img2.PreprocessError)

	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchReadyForAnnotation, batch.Status)
}

func TestSetPreprocessResultTwiceConflicts(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	schema := registerTestSchema(t, e, admin)
	batch, err := e.CreateBatch(admin, BatchInput{Name: "b", SchemaID: schema.ID})
	require.NoError(t, err)
	img, err := e.AddImage(admin, batch.ID, testUpload("a.jpg"))
	require.NoError(t, err)

	result := PreprocessResult{Keypoints: testKeypoints(0.7), Confidence: 0.7, ModelVersion: "m"}
	require.NoError(t, e.SetPreprocessResult(img.ID, result))

	err = e.SetPreprocessResult(img.ID, result)
	var transitionErr *IllegalTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestArchiveOnlyCompletedBatches(t *testing.T) {
	e := newTestEngine(t)
	admin := createUser(t, e, "admin", models.RoleAdmin, true)
	schema := registerTestSchema(t, e, admin)
	batch, err := e.CreateBatch(admin, BatchInput{Name: "b", SchemaID: schema.ID})
	require.NoError(t, err)

	var stateErr *InvalidStateError
	require.ErrorAs(t, e.ArchiveBatch(admin, batch.ID), &stateErr)

	var notFoundErr *NotFoundError
	require.ErrorAs(t, e.ArchiveBatch(admin, 9999), &notFoundErr)
}
