package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image/color"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypointlab/infantposebackend/database"
	"github.com/keypointlab/infantposebackend/media"
	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/repository"
	"github.com/keypointlab/infantposebackend/workflow"
)

var exportTestDBSeq int64

type exportFixture struct {
	engine    *workflow.Engine
	exporter  *Exporter
	storage   media.Store
	admin     *models.User
	annotator *models.User
	verifier  *models.User
	schema    *models.KeypointSchema
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:export_test_%d?mode=memory&cache=shared", atomic.AddInt64(&exportTestDBSeq, 1))
	db, err := database.InitGormDB(dsn)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))

	storage, err := media.NewLocalStorage(t.TempDir(), map[media.AssetType]string{
		media.AssetTypeOriginal: "originals",
	})
	require.NoError(t, err)

	engine := workflow.NewEngine(db, nil)
	batchRepo := repository.NewGormBatchRepository(db)

	f := &exportFixture{
		engine:   engine,
		exporter: NewExporter(engine, batchRepo, storage),
		storage:  storage,
	}
	f.admin = f.createUser(t, "admin", models.RoleAdmin)
	f.annotator = f.createUser(t, "annotator", models.RoleAnnotator)
	f.verifier = f.createUser(t, "verifier", models.RoleVerifier)

	schema, err := engine.RegisterSchema(f.admin, workflow.SchemaInput{
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
	})
	require.NoError(t, err)
	f.schema = schema
	return f
}

func (f *exportFixture) createUser(t *testing.T, username string, role models.Role) *models.User {
	t.Helper()
	user := &models.User{
		Username:             username,
		Email:                username + "@example.org",
		Role:                 role,
		IsApproved:           true,
		MaxConcurrentBatches: models.DefaultMaxConcurrentBatches,
	}
	require.NoError(t, user.SetPassword("test-password"))
	require.NoError(t, f.engine.DB().Create(user).Error)
	return user
}

// addStoredImage writes a real JPEG into storage and registers it on the
// batch, so archive export can bundle the file.
func (f *exportFixture) addStoredImage(t *testing.T, batchID uint, name string) *models.Image {
	t.Helper()
	var buf bytes.Buffer
	src := imaging.New(64, 48, color.NRGBA{R: 200, G: 180, B: 160, A: 255})
	require.NoError(t, imaging.Encode(&buf, src, imaging.JPEG))

	relPath, err := f.storage.Save(media.AssetTypeOriginal, name, &buf)
	require.NoError(t, err)

	img, err := f.engine.AddImage(f.admin, batchID, workflow.ImageUpload{
		Filename:         filepath.Base(relPath),
		OriginalFilename: name,
		StoragePath:      relPath,
		Width:            64,
		Height:           48,
		FileSize:         int64(buf.Len()),
		MimeType:         "image/jpeg",
	})
	require.NoError(t, err)
	return img
}

func fullKeypoints() models.KeypointList {
	return models.KeypointList{
		{ID: 0, Name: "nose", X: 100.25, Y: 80.5, Confidence: 0.9, Visible: true},
		{ID: 1, Name: "left_eye", X: 90.0, Y: 60.125, Confidence: 0.9, Visible: true},
		{ID: 2, Name: "right_eye", X: 110.0, Y: 60.0, Confidence: 0.9, Visible: true},
	}
}

// approvedBatch drives two images through annotation and verification. The
// first image is approved as submitted; the second is approved with
// corrections that move the nose and drop the left eye.
func approvedBatch(t *testing.T, f *exportFixture) (*models.ImageBatch, *models.Image, *models.Image) {
	t.Helper()
	batch, err := f.engine.CreateBatch(f.admin, workflow.BatchInput{
		Name: "neonatal ward week 12", SchemaID: f.schema.ID, Priority: 5,
	})
	require.NoError(t, err)

	first := f.addStoredImage(t, batch.ID, "crib_a.jpg")
	second := f.addStoredImage(t, batch.ID, "crib_b.jpg")

	for _, id := range []uint{first.ID, second.ID} {
		require.NoError(t, f.engine.SetPreprocessResult(id, workflow.PreprocessResult{
			Keypoints:        fullKeypoints(),
			Confidence:       0.8,
			ProcessingTimeMS: 40,
			ModelVersion:     "test-model",
		}))
	}

	assignment, err := f.engine.AssignBatch(f.admin, batch.ID, f.annotator.ID, workflow.AssignmentInput{})
	require.NoError(t, err)

	submitted := fullKeypoints()
	_, err = f.engine.Submit(f.annotator, first.ID, assignment.ID, workflow.SubmissionInput{
		Keypoints: submitted, TimeSpentSeconds: 90,
	})
	require.NoError(t, err)

	occluded := fullKeypoints()
	occluded[2].Visible = false
	occluded[2].Confidence = 0.2
	_, err = f.engine.Submit(f.annotator, second.ID, assignment.ID, workflow.SubmissionInput{
		Keypoints: occluded, TimeSpentSeconds: 110,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		pending, err := f.engine.NextPending(f.verifier)
		require.NoError(t, err)

		input := workflow.DecisionInput{
			Decision:                models.DecisionApproved,
			OverallQualityScore:     8,
			VerificationTimeSeconds: 30,
		}
		if pending.ImageID == second.ID {
			corrected := models.KeypointList{
				{ID: 0, Name: "nose", X: 92.5, Y: 81.0, Confidence: 1.0, Visible: true},
				{ID: 2, Name: "right_eye", X: 111.0, Y: 61.0, Confidence: 1.0, Visible: true},
			}
			input.Decision = models.DecisionApprovedWithCorrections
			input.CorrectedKeypoints = corrected
		}
		_, err = f.engine.Decide(f.verifier, pending.ID, input)
		require.NoError(t, err)
	}

	batch, err = f.engine.GetBatch(batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchCompleted, batch.Status)
	return batch, first, second
}

func TestBuildDataset(t *testing.T) {
	f := newExportFixture(t)
	batch, first, second := approvedBatch(t, f)

	dataset, err := f.exporter.BuildDataset(batch.ID)
	require.NoError(t, err)

	require.Len(t, dataset.Categories, 1)
	category := dataset.Categories[0]
	assert.Equal(t, 1, category.ID)
	assert.Equal(t, []string{"nose", "left_eye", "right_eye"}, category.Keypoints)
	assert.Equal(t, [][]int{{1, 2}, {1, 3}}, category.Skeleton)

	require.Len(t, dataset.Images, 2)
	require.Len(t, dataset.Annotations, 2)

	byImage := make(map[uint]cocoAnnotation, len(dataset.Annotations))
	for _, ann := range dataset.Annotations {
		assert.Equal(t, 1, ann.CategoryID)
		assert.Equal(t, 0, ann.IsCrowd)
		byImage[ann.ImageID] = ann
	}

	asSubmitted := byImage[first.ID]
	assert.Equal(t, []float64{
		100.25, 80.5, 2,
		90.0, 60.125, 2,
		110.0, 60.0, 2,
	}, asSubmitted.Keypoints)
	assert.Equal(t, 3, asSubmitted.NumKeypoints)

	// Corrections replace the submission: the nose moves, the left eye is
	// absent and zero-filled.
	corrected := byImage[second.ID]
	assert.Equal(t, []float64{
		92.5, 81.0, 2,
		0, 0, 0,
		111.0, 61.0, 2,
	}, corrected.Keypoints)
	assert.Equal(t, 2, corrected.NumKeypoints)

	assert.Contains(t, dataset.Info.Description, "infant-head")
	assert.Equal(t, "1.0", dataset.Info.Version)
}

func TestBuildDatasetRequiresApprovedImages(t *testing.T) {
	f := newExportFixture(t)
	batch, err := f.engine.CreateBatch(f.admin, workflow.BatchInput{
		Name: "fresh batch", SchemaID: f.schema.ID, Priority: 5,
	})
	require.NoError(t, err)
	f.addStoredImage(t, batch.ID, "crib_a.jpg")

	_, err = f.exporter.BuildDataset(batch.ID)
	var invalidState *workflow.InvalidStateError
	require.ErrorAs(t, err, &invalidState)
	assert.Equal(t, "batch", invalidState.Entity)
}

func TestBuildDatasetUnknownBatch(t *testing.T) {
	f := newExportFixture(t)
	_, err := f.exporter.BuildDataset(9999)
	var notFound *workflow.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestWriteArchive(t *testing.T) {
	f := newExportFixture(t)
	batch, first, second := approvedBatch(t, f)
	saveDir := t.TempDir()

	filename, size, err := f.exporter.WriteArchive(batch.ID, saveDir)
	require.NoError(t, err)
	assert.Contains(t, filename, fmt.Sprintf("batch_%d_", batch.ID))
	assert.Greater(t, size, int64(0))

	reader, err := zip.OpenReader(filepath.Join(saveDir, filename))
	require.NoError(t, err)
	defer reader.Close()

	entries := make(map[string]bool, len(reader.File))
	for _, entry := range reader.File {
		entries[entry.Name] = true
	}
	assert.True(t, entries["annotations.json"])
	assert.True(t, entries[filepath.Join("images", first.OriginalFilename)])
	assert.True(t, entries[filepath.Join("images", second.OriginalFilename)])
}
