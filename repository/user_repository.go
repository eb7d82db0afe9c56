package repository

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
)

// GormUserRepository handles database operations for User entities
type GormUserRepository struct {
	DB *gorm.DB
}

// NewGormUserRepository creates a new instance of GormUserRepository
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{DB: db}
}

func (r *GormUserRepository) Create(user *models.User) error {
	if err := r.DB.Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Username, err)
	}
	return nil
}

func (r *GormUserRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.DB.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormUserRepository) GetByUsername(username string) (*models.User, error) {
	var user models.User
	if err := r.DB.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormUserRepository) Update(user *models.User) error {
	if err := r.DB.Save(user).Error; err != nil {
		return fmt.Errorf("failed to update user %d: %w", user.ID, err)
	}
	return nil
}

func (r *GormUserRepository) ListAll() ([]models.User, error) {
	var users []models.User
	if err := r.DB.Order("username ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *GormUserRepository) ListByRole(role models.Role) ([]models.User, error) {
	var users []models.User
	if err := r.DB.Where("role = ?", role).Order("username ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users with role %s: %w", role, err)
	}
	return users, nil
}

func (r *GormUserRepository) SetApproval(userID uint, approved bool) error {
	return r.updateColumn(userID, "is_approved", approved)
}

func (r *GormUserRepository) SetRole(userID uint, role models.Role) error {
	switch role {
	case models.RoleAdmin, models.RoleAnnotator, models.RoleVerifier:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	return r.updateColumn(userID, "role", role)
}

func (r *GormUserRepository) SetMaxConcurrentBatches(userID uint, limit int) error {
	if limit < 1 {
		return fmt.Errorf("max_concurrent_batches must be at least 1")
	}
	return r.updateColumn(userID, "max_concurrent_batches", limit)
}

func (r *GormUserRepository) updateColumn(userID uint, column string, value any) error {
	res := r.DB.Model(&models.User{}).Where("id = ?", userID).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("failed to update %s for user %d: %w", column, userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
