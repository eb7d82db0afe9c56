package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role is the coarse capability class of a user. Fine-grained action checks
// live in the permissions package.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleAnnotator Role = "ANNOTATOR"
	RoleVerifier  Role = "VERIFIER"
)

const DefaultMaxConcurrentBatches = 2

// User represents an annotator, verifier or administrator in the system.
type User struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex"`
	PasswordHash string `json:"-" gorm:"not null"` // "-" means don't include in JSON responses
	Role         Role   `json:"role" gorm:"index;not null;default:ANNOTATOR"`

	// accounts must be approved by an admin before they can take work
	IsApproved bool `json:"is_approved" gorm:"not null;default:false"`

	// maximum number of batches an annotator may hold concurrently
	MaxConcurrentBatches int `json:"max_concurrent_batches" gorm:"not null;default:2"`

	// optional specialization hints, surfaced to admins when assigning work
	AnnotationSpecialty   *string `json:"annotation_specialty,omitempty"`
	VerificationExpertise *string `json:"verification_expertise,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetPassword hashes the given password and sets it on the user model.
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword verifies if the given password matches the user's hashed password.
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// CanAnnotate reports whether the user may take annotation work.
func (u *User) CanAnnotate() bool {
	return u.IsApproved && (u.Role == RoleAnnotator || u.Role == RoleAdmin)
}

// CanVerify reports whether the user may review submitted annotations.
func (u *User) CanVerify() bool {
	return u.IsApproved && (u.Role == RoleVerifier || u.Role == RoleAdmin)
}

// IsAdmin reports whether the user has administrative privileges.
func (u *User) IsAdmin() bool {
	return u.IsApproved && u.Role == RoleAdmin
}
