package permissions

import "github.com/keypointlab/infantposebackend/models"

// Action is a single workflow operation subject to role gating.
type Action string

const (
	ActionSchemaManage      Action = "schema.manage"
	ActionBatchCreate       Action = "batch.create"
	ActionBatchArchive      Action = "batch.archive"
	ActionBatchExport       Action = "batch.export"
	ActionAssignmentCreate  Action = "assignment.create"
	ActionAnnotationSubmit  Action = "annotation.submit"
	ActionVerificationWrite Action = "verification.decide"
	ActionUserManage        Action = "user.manage"
	ActionStatsView         Action = "stats.view"
)

// ActionDefinition describes a single gated operation, surfaced to admin
// tooling so role capabilities are discoverable.
type ActionDefinition struct {
	Key         Action        `json:"key"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Roles       []models.Role `json:"roles"`
}

// DefinedActions is the static capability table: every contract operation
// checks the caller's role against this, keeping one code path per operation
// instead of per-role handler variants.
var DefinedActions = []ActionDefinition{
	{
		Key:         ActionSchemaManage,
		Name:        "Manage Keypoint Schemas",
		Description: "Register new schema versions and deprecate old ones.",
		Roles:       []models.Role{models.RoleAdmin},
	},
	{
		Key:         ActionBatchCreate,
		Name:        "Create Batches",
		Description: "Create image batches and upload images into them.",
		Roles:       []models.Role{models.RoleAdmin},
	},
	{
		Key:         ActionBatchArchive,
		Name:        "Archive Batches",
		Description: "Archive completed batches.",
		Roles:       []models.Role{models.RoleAdmin},
	},
	{
		Key:         ActionBatchExport,
		Name:        "Export Datasets",
		Description: "Export approved annotations as a dataset archive.",
		Roles:       []models.Role{models.RoleAdmin},
	},
	{
		Key:         ActionAssignmentCreate,
		Name:        "Assign Work",
		Description: "Assign batches to annotators and create revision assignments.",
		Roles:       []models.Role{models.RoleAdmin},
	},
	{
		Key:         ActionAnnotationSubmit,
		Name:        "Submit Annotations",
		Description: "Submit refined keypoints for assigned images.",
		Roles:       []models.Role{models.RoleAnnotator, models.RoleAdmin},
	},
	{
		Key:         ActionVerificationWrite,
		Name:        "Verify Annotations",
		Description: "Claim submitted annotations for review and record decisions.",
		Roles:       []models.Role{models.RoleVerifier, models.RoleAdmin},
	},
	{
		Key:         ActionUserManage,
		Name:        "Manage Users",
		Description: "Approve accounts, change roles and capacity limits.",
		Roles:       []models.Role{models.RoleAdmin},
	},
	{
		Key:         ActionStatsView,
		Name:        "View Reports",
		Description: "Query throughput, progress and overdue reports.",
		Roles:       []models.Role{models.RoleAdmin, models.RoleVerifier},
	},
}

var allowed = buildIndex()

func buildIndex() map[Action]map[models.Role]bool {
	idx := make(map[Action]map[models.Role]bool, len(DefinedActions))
	for _, def := range DefinedActions {
		roles := make(map[models.Role]bool, len(def.Roles))
		for _, r := range def.Roles {
			roles[r] = true
		}
		idx[def.Key] = roles
	}
	return idx
}

// Allowed reports whether the role may perform the action.
func Allowed(role models.Role, action Action) bool {
	return allowed[action][role]
}
