package workflow

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/permissions"
)

// SchemaInput is the definition submitted when registering a keypoint schema.
type SchemaInput struct {
	Name                   string                    `json:"name"`
	Version                string                    `json:"version"`
	Description            *string                   `json:"description,omitempty"`
	Keypoints              []models.SchemaKeypoint   `json:"keypoints"`
	Connections            []models.SchemaConnection `json:"connections"`
	MinVisibilityThreshold float64                   `json:"min_visibility_threshold"`
	MaxMissingKeypoints    int                       `json:"max_missing_keypoints"`
}

// RegisterSchema validates and stores a new keypoint schema version. Keypoint
// ids must be contiguous from zero, every connection must reference defined
// ids, and required keypoints are flags on the definitions themselves so the
// subset property holds by construction.
func (e *Engine) RegisterSchema(actor *models.User, input SchemaInput) (*models.KeypointSchema, error) {
	if err := requireAction(actor, permissions.ActionSchemaManage); err != nil {
		return nil, err
	}
	if err := validateSchemaInput(input); err != nil {
		return nil, err
	}

	schema := models.KeypointSchema{
		Name:                   input.Name,
		Version:                input.Version,
		Description:            input.Description,
		Keypoints:              input.Keypoints,
		Connections:            input.Connections,
		MinVisibilityThreshold: input.MinVisibilityThreshold,
		MaxMissingKeypoints:    input.MaxMissingKeypoints,
		IsActive:               true,
		CreatedByID:            actor.ID,
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&schema).Error; err != nil {
			return fmt.Errorf("failed to create schema %s %s: %w", input.Name, input.Version, err)
		}
		return audit(tx, "schema", schema.ID, "schema.registered", &actor.ID,
			fmt.Sprintf("%s %s, %d keypoints", schema.Name, schema.Version, len(schema.Keypoints)))
	})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// GetSchema returns an active schema by id. Deprecated schemas are not
// resolvable here; batches that already reference one keep working because
// they load it through their own foreign key.
func (e *Engine) GetSchema(id uint) (*models.KeypointSchema, error) {
	var schema models.KeypointSchema
	err := e.db.Where("id = ? AND is_active = ?", id, true).First(&schema).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "schema", ID: id}
		}
		return nil, fmt.Errorf("failed to load schema %d: %w", id, err)
	}
	return &schema, nil
}

// ListSchemas returns all schemas, newest first, including deprecated ones.
func (e *Engine) ListSchemas() ([]models.KeypointSchema, error) {
	var schemas []models.KeypointSchema
	if err := e.db.Order("created_at DESC").Find(&schemas).Error; err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	return schemas, nil
}

// DeprecateSchema flips the active flag. Existing batch references stay
// valid; the schema just stops being offered for new batches.
func (e *Engine) DeprecateSchema(actor *models.User, id uint) error {
	if err := requireAction(actor, permissions.ActionSchemaManage); err != nil {
		return err
	}
	return e.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.KeypointSchema{}).
			Where("id = ? AND is_active = ?", id, true).
			Update("is_active", false)
		if res.Error != nil {
			return fmt.Errorf("failed to deprecate schema %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return &NotFoundError{Entity: "schema", ID: id}
		}
		return audit(tx, "schema", id, "schema.deprecated", &actor.ID, "")
	})
}

func validateSchemaInput(input SchemaInput) error {
	if input.Name == "" || input.Version == "" {
		return &ValidationError{Entity: "schema", Detail: "name and version are required"}
	}
	if len(input.Keypoints) == 0 {
		return &ValidationError{Entity: "schema", Detail: "at least one keypoint is required"}
	}
	if input.MinVisibilityThreshold < 0 || input.MinVisibilityThreshold > 1 {
		return &ValidationError{Entity: "schema", Detail: "min_visibility_threshold must be in [0,1]"}
	}
	if input.MaxMissingKeypoints < 0 {
		return &ValidationError{Entity: "schema", Detail: "max_missing_keypoints must not be negative"}
	}

	seen := make(map[int]bool, len(input.Keypoints))
	for _, kp := range input.Keypoints {
		if kp.Name == "" {
			return &ValidationError{Entity: "schema", Detail: fmt.Sprintf("keypoint %d has no name", kp.ID)}
		}
		if seen[kp.ID] {
			return &ValidationError{Entity: "schema", Detail: fmt.Sprintf("duplicate keypoint id %d", kp.ID)}
		}
		seen[kp.ID] = true
	}
	// contiguity from zero: n distinct ids must cover [0, n)
	for i := range input.Keypoints {
		if !seen[i] {
			return &ValidationError{Entity: "schema",
				Detail: fmt.Sprintf("keypoint ids must be contiguous from 0; missing id %d", i)}
		}
	}

	for _, conn := range input.Connections {
		if !seen[conn.From] || !seen[conn.To] {
			return &ValidationError{Entity: "schema",
				Detail: fmt.Sprintf("connection %d-%d references an undefined keypoint id", conn.From, conn.To)}
		}
		if conn.From == conn.To {
			return &ValidationError{Entity: "schema",
				Detail: fmt.Sprintf("connection %d-%d joins a keypoint to itself", conn.From, conn.To)}
		}
	}
	return nil
}

// requireAction checks the actor's role against the static capability table.
func requireAction(actor *models.User, action permissions.Action) error {
	if actor == nil {
		return &ForbiddenError{Detail: "no caller identity"}
	}
	if !actor.IsApproved {
		return &ForbiddenError{UserID: actor.ID, Detail: "account not approved"}
	}
	if !permissions.Allowed(actor.Role, action) {
		return &ForbiddenError{UserID: actor.ID,
			Detail: fmt.Sprintf("role %s may not perform %s", actor.Role, action)}
	}
	return nil
}
