package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
)

// GormAssignmentRepository handles read-side queries over assignments
type GormAssignmentRepository struct {
	DB *gorm.DB
}

// NewGormAssignmentRepository creates a new instance of GormAssignmentRepository
func NewGormAssignmentRepository(db *gorm.DB) *GormAssignmentRepository {
	return &GormAssignmentRepository{DB: db}
}

// ListByAnnotator returns an annotator's assignments, newest first.
func (r *GormAssignmentRepository) ListByAnnotator(annotatorID uint, activeOnly bool) ([]models.BatchAssignment, error) {
	query := r.DB.Where("annotator_id = ?", annotatorID).Order("assigned_at DESC")
	if activeOnly {
		query = query.Where("status IN ?", []models.AssignmentStatus{
			models.AssignmentAssigned, models.AssignmentAcknowledged, models.AssignmentInProgress,
		})
	}
	var assignments []models.BatchAssignment
	if err := query.Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("failed to list assignments for annotator %d: %w", annotatorID, err)
	}
	return assignments, nil
}

// ListByBatch returns every assignment ever created for a batch, preserving
// the full history including cancelled and revision assignments.
func (r *GormAssignmentRepository) ListByBatch(batchID uint) ([]models.BatchAssignment, error) {
	var assignments []models.BatchAssignment
	if err := r.DB.Where("batch_id = ?", batchID).Order("assigned_at ASC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("failed to list assignments for batch %d: %w", batchID, err)
	}
	return assignments, nil
}
