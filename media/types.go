package media

import "github.com/keypointlab/infantposebackend/models"

// AssetType distinguishes generated asset categories in storage
type AssetType string

const (
	AssetTypeOriginal  AssetType = "original"
	AssetTypeThumbnail AssetType = "thumbnail"
	AssetTypeExport    AssetType = "export"
)

// PoseResult is the estimator's verbatim output for one image.
type PoseResult struct {
	Keypoints        models.KeypointList
	Confidence       float64
	ProcessingTimeMS int64
	ModelVersion     string
}

// PoseEstimator produces baseline keypoints for an uploaded image. The
// workflow core calls it once per image and stores the result as-is; it does
// not retry on failure.
type PoseEstimator interface {
	EstimatePose(imagePath string) (*PoseResult, error)
	ModelVersion() string
}
