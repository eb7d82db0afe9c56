package models

import "time"

// SchemaKeypoint is one named landmark slot in a keypoint schema. IDs must be
// contiguous from zero within a schema.
type SchemaKeypoint struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// SchemaConnection is one skeleton edge between two keypoint ids.
type SchemaConnection struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// KeypointSchema is a named, versioned keypoint layout. Once referenced by a
// batch it is immutable; edits require publishing a new version.
type KeypointSchema struct {
	ID          uint    `json:"id" gorm:"primaryKey"`
	Name        string  `json:"name" gorm:"index:idx_schema_name_version,unique;not null"`
	Version     string  `json:"version" gorm:"index:idx_schema_name_version,unique;not null"`
	Description *string `json:"description,omitempty"`

	Keypoints   []SchemaKeypoint   `json:"keypoints" gorm:"serializer:json"`
	Connections []SchemaConnection `json:"connections" gorm:"serializer:json"`

	// validation rules applied to every annotation submitted against a batch
	// using this schema
	MinVisibilityThreshold float64 `json:"min_visibility_threshold" gorm:"not null;default:0.5"`
	MaxMissingKeypoints    int     `json:"max_missing_keypoints" gorm:"not null;default:3"`

	IsActive    bool      `json:"is_active" gorm:"index;not null;default:true"`
	CreatedByID uint      `json:"created_by_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RequiredIDs returns the ids of all keypoints flagged required.
func (s *KeypointSchema) RequiredIDs() []int {
	var ids []int
	for _, kp := range s.Keypoints {
		if kp.Required {
			ids = append(ids, kp.ID)
		}
	}
	return ids
}

// KeypointName returns the display name for a keypoint id, or "".
func (s *KeypointSchema) KeypointName(id int) string {
	for _, kp := range s.Keypoints {
		if kp.ID == id {
			return kp.Name
		}
	}
	return ""
}
