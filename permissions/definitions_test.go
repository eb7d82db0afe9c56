package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keypointlab/infantposebackend/models"
)

func TestAllowed(t *testing.T) {
	// admin holds every defined action
	for _, def := range DefinedActions {
		assert.True(t, Allowed(models.RoleAdmin, def.Key), "admin should be allowed %s", def.Key)
	}

	assert.True(t, Allowed(models.RoleAnnotator, ActionAnnotationSubmit))
	assert.False(t, Allowed(models.RoleAnnotator, ActionVerificationWrite))
	assert.False(t, Allowed(models.RoleAnnotator, ActionSchemaManage))
	assert.False(t, Allowed(models.RoleAnnotator, ActionAssignmentCreate))

	assert.True(t, Allowed(models.RoleVerifier, ActionVerificationWrite))
	assert.True(t, Allowed(models.RoleVerifier, ActionStatsView))
	assert.False(t, Allowed(models.RoleVerifier, ActionAnnotationSubmit))
	assert.False(t, Allowed(models.RoleVerifier, ActionUserManage))

	assert.False(t, Allowed("INTERN", ActionAnnotationSubmit))
	assert.False(t, Allowed(models.RoleAdmin, "album.delete"))
}

func TestDefinedActionsAreUnique(t *testing.T) {
	seen := map[Action]bool{}
	for _, def := range DefinedActions {
		assert.False(t, seen[def.Key], "duplicate action %s", def.Key)
		seen[def.Key] = true
		assert.NotEmpty(t, def.Name)
		assert.NotEmpty(t, def.Roles)
	}
}
