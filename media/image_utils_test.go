package media

import (
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestJPEG(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 120, G: 60, B: 30, A: 255})
	path := filepath.Join(dir, "capture.jpg")
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestIsRasterImage(t *testing.T) {
	assert.True(t, IsRasterImage("scan.jpg"))
	assert.True(t, IsRasterImage("scan.JPEG"))
	assert.True(t, IsRasterImage("frame.png"))
	assert.True(t, IsRasterImage("frame.TIFF"))
	assert.False(t, IsRasterImage("notes.txt"))
	assert.False(t, IsRasterImage("clip.mp4"))
	assert.False(t, IsRasterImage("noextension"))
}

func TestUniqueAssetName(t *testing.T) {
	first := UniqueAssetName("Upload One.JPG")
	second := UniqueAssetName("Upload One.JPG")

	assert.True(t, strings.HasSuffix(first, ".jpg"))
	assert.True(t, strings.HasSuffix(second, ".jpg"))
	assert.NotEqual(t, first, second)
	assert.NotContains(t, first, " ")
}

func TestProbeImage(t *testing.T) {
	dir := t.TempDir()
	path := writeTestJPEG(t, dir, 64, 48)

	probe, err := ProbeImage(path)
	require.NoError(t, err)

	assert.Equal(t, 64, probe.Width)
	assert.Equal(t, 48, probe.Height)
	assert.Greater(t, probe.FileSize, int64(0))
	assert.Nil(t, probe.AcquisitionDate)
}

func TestProbeImageMissingFile(t *testing.T) {
	_, err := ProbeImage(filepath.Join(t.TempDir(), "absent.jpg"))
	assert.Error(t, err)
}

func TestProbeImageUndecodable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

	_, err := ProbeImage(path)
	assert.Error(t, err)
}

func TestGenerateThumbnail(t *testing.T) {
	dir := t.TempDir()
	original := writeTestJPEG(t, dir, 640, 480)
	thumbDir := filepath.Join(dir, "thumbs")

	thumbPath, err := GenerateThumbnail(original, thumbDir, 100)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(thumbPath, ".jpg"))

	thumb, err := imaging.Open(thumbPath)
	require.NoError(t, err)
	bounds := thumb.Bounds()
	assert.Equal(t, 100, bounds.Dx())
	assert.Equal(t, 75, bounds.Dy())
}
