package workflow

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keypointlab/infantposebackend/database"
	"github.com/keypointlab/infantposebackend/models"
)

var testDBSeq int64

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dsn := fmt.Sprintf("file:workflow_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := database.InitGormDB(dsn)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))
	return NewEngine(db, nil)
}

func createUser(t *testing.T, e *Engine, username string, role models.Role, approved bool) *models.User {
	t.Helper()
	user := &models.User{
		Username:             username,
		Email:                username + "@example.org",
		Role:                 role,
		IsApproved:           approved,
		MaxConcurrentBatches: models.DefaultMaxConcurrentBatches,
	}
	require.NoError(t, user.SetPassword("test-password"))
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func testSchemaInput() SchemaInput {
	return SchemaInput{
		Name:    "infant-head",
		Version: "1.0",
		Keypoints: []models.SchemaKeypoint{
			{ID: 0, Name: "nose", Required: true},
			{ID: 1, Name: "left_eye"},
			{ID: 2, Name: "right_eye"},
		},
		Connections: []models.SchemaConnection{
			{From: 0, To: 1},
			{From: 0, To: 2},
		},
		MinVisibilityThreshold: 0.5,
		MaxMissingKeypoints:    1,
	}
}

func registerTestSchema(t *testing.T, e *Engine, admin *models.User) *models.KeypointSchema {
	t.Helper()
	schema, err := e.RegisterSchema(admin, testSchemaInput())
	require.NoError(t, err)
	return schema
}

// readyBatch creates a batch with n preprocessed images so it sits in
// READY_FOR_ANNOTATION.
func readyBatch(t *testing.T, e *Engine, admin *models.User, schemaID uint, n int) (*models.ImageBatch, []uint) {
	t.Helper()
	batch, err := e.CreateBatch(admin, BatchInput{Name: "batch", SchemaID: schemaID, Priority: 5})
	require.NoError(t, err)

	imageIDs := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		img, err := e.AddImage(admin, batch.ID, testUpload(fmt.Sprintf("img_%03d.jpg", i)))
		require.NoError(t, err)
		imageIDs = append(imageIDs, img.ID)
	}
	for _, id := range imageIDs {
		require.NoError(t, e.SetPreprocessResult(id, PreprocessResult{
			Keypoints:        testKeypoints(0.8),
			Confidence:       0.8,
			ProcessingTimeMS: 40,
			ModelVersion:     "test-model",
		}))
	}

	batch, err = e.GetBatch(batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchReadyForAnnotation, batch.Status)
	return batch, imageIDs
}

func testUpload(name string) ImageUpload {
	return ImageUpload{
		Filename:         name,
		OriginalFilename: name,
		StoragePath:      "originals/" + name,
		Width:            640,
		Height:           480,
		FileSize:         1024,
		MimeType:         "image/jpeg",
	}
}

// testKeypoints returns a full, visible keypoint set for the test schema.
func testKeypoints(confidence float64) models.KeypointList {
	return models.KeypointList{
		{ID: 0, Name: "nose", X: 100.25, Y: 80.5, Confidence: confidence, Visible: true},
		{ID: 1, Name: "left_eye", X: 90.0, Y: 60.125, Confidence: confidence, Visible: true},
		{ID: 2, Name: "right_eye", X: 110.0, Y: 60.0, Confidence: confidence, Visible: true},
	}
}

// submitImage walks one image through assignment acknowledgement and
// submission, returning the annotation.
func submitImage(t *testing.T, e *Engine, annotator *models.User, imageID, assignmentID uint) *models.Annotation {
	t.Helper()
	annotation, err := e.Submit(annotator, imageID, assignmentID, SubmissionInput{
		Keypoints:        testKeypoints(0.9),
		TimeSpentSeconds: 120,
	})
	require.NoError(t, err)
	return annotation
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }
