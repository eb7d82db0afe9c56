package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"
)

var supportedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsRasterImage checks if the filename has a supported raster image extension
func IsRasterImage(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return supportedImageExtensions[ext]
}

// UniqueAssetName returns a collision-free storage filename preserving the
// hint's extension.
func UniqueAssetName(filenameHint string) string {
	ext := strings.ToLower(filepath.Ext(filenameHint))
	return uuid.NewString() + ext
}

// ImageProbe is the metadata established for an uploaded image before it
// enters the workflow.
type ImageProbe struct {
	Width           int
	Height          int
	FileSize        int64
	AcquisitionDate *time.Time
}

// ProbeImage opens the stored file to establish dimensions, size and the
// EXIF capture date if one is present.
func ProbeImage(path string) (*ImageProbe, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	bounds := img.Bounds()

	probe := &ImageProbe{
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		FileSize: info.Size(),
	}
	probe.AcquisitionDate = exifCaptureDate(path)
	return probe, nil
}

// exifCaptureDate extracts DateTimeOriginal; most uploads won't carry EXIF
// so a nil result is normal.
func exifCaptureDate(path string) *time.Time {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	meta, err := exif.Decode(f)
	if err != nil {
		return nil
	}
	taken, err := meta.DateTime()
	if err != nil {
		return nil
	}
	return &taken
}

// GenerateThumbnail writes a bounded-size JPEG copy of the image and returns
// the thumbnail's path.
func GenerateThumbnail(originalPath, thumbnailDir string, maxSize int) (string, error) {
	if err := os.MkdirAll(thumbnailDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory %s: %w", thumbnailDir, err)
	}

	img, err := imaging.Open(originalPath)
	if err != nil {
		return "", fmt.Errorf("failed to open image %s: %w", originalPath, err)
	}

	thumb := imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)

	thumbFilename := uuid.NewString() + ".jpg"
	thumbnailSavePath := filepath.Join(thumbnailDir, thumbFilename)
	if err := imaging.Save(thumb, thumbnailSavePath, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("failed to save thumbnail %s: %w", thumbnailSavePath, err)
	}
	return thumbnailSavePath, nil
}
