package repository

import (
	"github.com/keypointlab/infantposebackend/models"
)

// UserRepository defines the methods for user data operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
	Update(user *models.User) error
	ListAll() ([]models.User, error)
	ListByRole(role models.Role) ([]models.User, error)

	// admin account management
	SetApproval(userID uint, approved bool) error
	SetRole(userID uint, role models.Role) error
	SetMaxConcurrentBatches(userID uint, limit int) error
}

// BatchRepository defines the read-side methods for batch and image listings
type BatchRepository interface {
	ListAll(status models.BatchStatus) ([]models.ImageBatch, error)
	ListImages(batchID uint) ([]models.Image, error)
	ListImagesByStatus(batchID uint, status models.ImageStatus) ([]models.Image, error)
	ListUnprocessedImages(limit int) ([]models.Image, error)
}

// AssignmentRepository defines the read-side methods for assignment listings
type AssignmentRepository interface {
	ListByAnnotator(annotatorID uint, activeOnly bool) ([]models.BatchAssignment, error)
	ListByBatch(batchID uint) ([]models.BatchAssignment, error)
}
