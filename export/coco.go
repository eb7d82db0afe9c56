package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/keypointlab/infantposebackend/media"
	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/repository"
	"github.com/keypointlab/infantposebackend/workflow"
)

// COCO keypoint visibility flags.
const (
	visNotLabeled = 0
	visOccluded   = 1
	visVisible    = 2
)

type cocoInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
	DateCreated string `json:"date_created"`
}

type cocoImage struct {
	ID       uint   `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ID           uint      `json:"id"`
	ImageID      uint      `json:"image_id"`
	CategoryID   int       `json:"category_id"`
	Keypoints    []float64 `json:"keypoints"`
	NumKeypoints int       `json:"num_keypoints"`
	IsCrowd      int       `json:"iscrowd"`
}

type cocoCategory struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Keypoints []string `json:"keypoints"`
	Skeleton  [][]int  `json:"skeleton"`
}

type cocoDataset struct {
	Info        cocoInfo         `json:"info"`
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

// Exporter builds COCO keypoint datasets from approved batch images.
type Exporter struct {
	engine  *workflow.Engine
	batches repository.BatchRepository
	storage media.Store
}

func NewExporter(engine *workflow.Engine, batches repository.BatchRepository, storage media.Store) *Exporter {
	return &Exporter{engine: engine, batches: batches, storage: storage}
}

// BuildDataset assembles the COCO document for one batch. Only APPROVED
// images are included; the keypoints written are the verifier-corrected set
// when corrections exist, the annotator's submission otherwise.
func (x *Exporter) BuildDataset(batchID uint) (*cocoDataset, error) {
	batch, err := x.engine.GetBatch(batchID)
	if err != nil {
		return nil, err
	}

	var schema models.KeypointSchema
	if err := x.engine.DB().First(&schema, batch.SchemaID).Error; err != nil {
		return nil, fmt.Errorf("failed to load schema %d for batch %d: %w", batch.SchemaID, batchID, err)
	}

	images, err := x.batches.ListImagesByStatus(batchID, models.ImageApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved images for batch %d: %w", batchID, err)
	}
	if len(images) == 0 {
		return nil, &workflow.InvalidStateError{
			Entity: "batch",
			ID:     batchID,
			State:  string(batch.Status),
			Detail: "no approved images to export",
		}
	}

	dataset := &cocoDataset{
		Info: cocoInfo{
			Description: fmt.Sprintf("%s (schema %s %s)", batch.Name, schema.Name, schema.Version),
			Version:     schema.Version,
			DateCreated: time.Now().Format(time.RFC3339),
		},
		Categories: []cocoCategory{buildCategory(&schema)},
	}

	annID := uint(1)
	for _, img := range images {
		keypoints, err := x.engine.CanonicalKeypoints(img.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve keypoints for image %d: %w", img.ID, err)
		}
		dataset.Images = append(dataset.Images, cocoImage{
			ID:       img.ID,
			FileName: img.OriginalFilename,
			Width:    img.Width,
			Height:   img.Height,
		})
		dataset.Annotations = append(dataset.Annotations, cocoAnnotation{
			ID:           annID,
			ImageID:      img.ID,
			CategoryID:   1,
			Keypoints:    flattenKeypoints(&schema, keypoints),
			NumKeypoints: keypoints.VisibleCount(),
			IsCrowd:      0,
		})
		annID++
	}
	return dataset, nil
}

// WriteArchive builds the dataset and bundles annotations.json with the
// original image files into a zip under saveDir. Returns the archive
// filename relative to saveDir and its size in bytes.
func (x *Exporter) WriteArchive(batchID uint, saveDir string) (string, int64, error) {
	dataset, err := x.BuildDataset(batchID)
	if err != nil {
		return "", 0, err
	}

	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create export directory %s: %w", saveDir, err)
	}

	archiveUUID, _ := uuid.NewRandom()
	zipFilename := fmt.Sprintf("batch_%d_%d_%s.zip", batchID, time.Now().Unix(), archiveUUID.String()[:8])
	zipFilePath := filepath.Join(saveDir, zipFilename)

	zipFile, err := os.Create(zipFilePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create archive %s: %w", zipFilePath, err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)

	writer, err := zipWriter.Create("annotations.json")
	if err != nil {
		zipWriter.Close()
		return "", 0, fmt.Errorf("failed to create annotations entry: %w", err)
	}
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dataset); err != nil {
		zipWriter.Close()
		return "", 0, fmt.Errorf("failed to encode dataset: %w", err)
	}

	for _, img := range dataset.Images {
		if err := x.addImageEntry(zipWriter, img); err != nil {
			log.Printf("export: skipping image %d: %v", img.ID, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to finalize archive %s: %w", zipFilePath, err)
	}

	info, err := zipFile.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat archive %s: %w", zipFilePath, err)
	}
	log.Printf("export: wrote %s (%d images, %d bytes)", zipFilename, len(dataset.Images), info.Size())
	return zipFilename, info.Size(), nil
}

func (x *Exporter) addImageEntry(zipWriter *zip.Writer, entry cocoImage) error {
	img, err := x.engine.GetImage(entry.ID)
	if err != nil {
		return err
	}
	fullPath, err := x.storage.GetFullPath(img.StoragePath)
	if err != nil {
		return err
	}
	src, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", fullPath, err)
	}
	defer src.Close()

	writer, err := zipWriter.Create(filepath.Join("images", entry.FileName))
	if err != nil {
		return fmt.Errorf("failed to create zip entry for %s: %w", entry.FileName, err)
	}
	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", entry.FileName, err)
	}
	return nil
}

func buildCategory(schema *models.KeypointSchema) cocoCategory {
	names := make([]string, len(schema.Keypoints))
	for _, kp := range schema.Keypoints {
		names[kp.ID] = kp.Name
	}
	// COCO skeletons index keypoints from 1
	skeleton := make([][]int, 0, len(schema.Connections))
	for _, c := range schema.Connections {
		skeleton = append(skeleton, []int{c.From + 1, c.To + 1})
	}
	return cocoCategory{ID: 1, Name: "infant", Keypoints: names, Skeleton: skeleton}
}

// flattenKeypoints emits the [x, y, v] triple per schema keypoint in schema
// id order, zero-filled for keypoints the annotator marked missing.
func flattenKeypoints(schema *models.KeypointSchema, keypoints models.KeypointList) []float64 {
	flat := make([]float64, 0, len(schema.Keypoints)*3)
	for _, skp := range schema.Keypoints {
		kp, ok := keypoints.ByID(skp.ID)
		if !ok {
			flat = append(flat, 0, 0, visNotLabeled)
			continue
		}
		vis := visOccluded
		if kp.Visible {
			vis = visVisible
		}
		flat = append(flat, kp.X, kp.Y, float64(vis))
	}
	return flat
}
