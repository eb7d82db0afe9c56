package repository

import (
	"fmt"
	"sort"

	"github.com/facette/natsort"
	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
)

// GormBatchRepository handles read-side queries over batches and their images
type GormBatchRepository struct {
	DB *gorm.DB
}

// NewGormBatchRepository creates a new instance of GormBatchRepository
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{DB: db}
}

// ListAll returns batches, optionally filtered by status, highest priority
// first.
func (r *GormBatchRepository) ListAll(status models.BatchStatus) ([]models.ImageBatch, error) {
	query := r.DB.Order("priority DESC, created_at ASC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var batches []models.ImageBatch
	if err := query.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

// ListImages returns a batch's images in natural filename order, so
// img2.jpg sorts before img10.jpg.
func (r *GormBatchRepository) ListImages(batchID uint) ([]models.Image, error) {
	var images []models.Image
	if err := r.DB.Where("batch_id = ?", batchID).Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list images for batch %d: %w", batchID, err)
	}
	sort.SliceStable(images, func(i, j int) bool {
		return natsort.Compare(images[i].OriginalFilename, images[j].OriginalFilename)
	})
	return images, nil
}

// ListImagesByStatus returns a batch's images in one workflow state, in
// natural filename order.
func (r *GormBatchRepository) ListImagesByStatus(batchID uint, status models.ImageStatus) ([]models.Image, error) {
	var images []models.Image
	if err := r.DB.Where("batch_id = ? AND status = ?", batchID, status).
		Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s images for batch %d: %w", status, batchID, err)
	}
	sort.SliceStable(images, func(i, j int) bool {
		return natsort.Compare(images[i].OriginalFilename, images[j].OriginalFilename)
	})
	return images, nil
}

// ListUnprocessedImages returns images still waiting for pose estimation,
// skipping ones already marked failed; used to refill the worker queue on
// startup.
func (r *GormBatchRepository) ListUnprocessedImages(limit int) ([]models.Image, error) {
	var images []models.Image
	query := r.DB.Where("status = ? AND preprocess_error IS NULL", models.ImageUploaded).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list unprocessed images: %w", err)
	}
	return images, nil
}
