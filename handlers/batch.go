package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/keypointlab/infantposebackend/config"
	"github.com/keypointlab/infantposebackend/export"
	"github.com/keypointlab/infantposebackend/media"
	"github.com/keypointlab/infantposebackend/models"
	"github.com/keypointlab/infantposebackend/repository"
	"github.com/keypointlab/infantposebackend/workers"
	"github.com/keypointlab/infantposebackend/workflow"
)

const maxUploadBytes = 64 << 20

type BatchHandler struct {
	Engine   *workflow.Engine
	Batches  repository.BatchRepository
	Storage  media.Store
	Pool     *workers.PreprocessPool
	Exporter *export.Exporter
	Cfg      config.Config
}

func NewBatchHandler(engine *workflow.Engine, batches repository.BatchRepository, storage media.Store, pool *workers.PreprocessPool, exporter *export.Exporter, cfg config.Config) *BatchHandler {
	return &BatchHandler{Engine: engine, Batches: batches, Storage: storage, Pool: pool, Exporter: exporter, Cfg: cfg}
}

func (bh *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	var input workflow.BatchInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "invalid request body: "+err.Error())
		return
	}

	batch, err := bh.Engine.CreateBatch(actor, input)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (bh *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.BatchStatus(r.URL.Query().Get("status"))
	batches, err := bh.Batches.ListAll(status)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (bh *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "batchID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	batch, err := bh.Engine.GetBatch(id)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (bh *BatchHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "batchID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var images []models.Image
	if status := r.URL.Query().Get("status"); status != "" {
		images, err = bh.Batches.ListImagesByStatus(id, models.ImageStatus(status))
	} else {
		images, err = bh.Batches.ListImages(id)
	}
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// Upload accepts one multipart image file, stores the original, probes
// dimensions and EXIF, generates a thumbnail, registers the image with the
// batch and queues it for pose estimation.
func (bh *BatchHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	batchID, err := parseUintParam(r, "batchID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", "failed to parse multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "missing_file", "form field 'file' is required")
		return
	}
	defer file.Close()

	if !media.IsRasterImage(header.Filename) {
		WriteAPIError(w, http.StatusBadRequest, "unsupported_type",
			fmt.Sprintf("'%s' is not a supported image type", header.Filename))
		return
	}

	storagePath, err := bh.Storage.Save(media.AssetTypeOriginal, header.Filename, file)
	if err != nil {
		log.Printf("upload: failed to store original for batch %d: %v", batchID, err)
		WriteAPIError(w, http.StatusInternalServerError, "storage_error", "failed to store uploaded file")
		return
	}

	fullPath, err := bh.Storage.GetFullPath(storagePath)
	if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "storage_error", "failed to resolve stored file")
		return
	}

	probe, err := media.ProbeImage(fullPath)
	if err != nil {
		_ = bh.Storage.Delete(storagePath)
		WriteAPIError(w, http.StatusBadRequest, "unreadable_image", "stored file could not be decoded as an image")
		return
	}

	var thumbPath *string
	if thumb, err := media.GenerateThumbnail(fullPath, bh.Cfg.ThumbnailsPath, bh.Cfg.ThumbnailMaxSize); err != nil {
		log.Printf("upload: thumbnail generation failed for %s: %v", header.Filename, err)
	} else {
		thumbPath = &thumb
	}

	img, err := bh.Engine.AddImage(actor, batchID, workflow.ImageUpload{
		Filename:         storagePath,
		OriginalFilename: header.Filename,
		StoragePath:      storagePath,
		ThumbnailPath:    thumbPath,
		Width:            probe.Width,
		Height:           probe.Height,
		FileSize:         probe.FileSize,
		MimeType:         header.Header.Get("Content-Type"),
		AcquisitionDate:  probe.AcquisitionDate,
	})
	if err != nil {
		_ = bh.Storage.Delete(storagePath)
		WriteWorkflowError(w, err)
		return
	}

	bh.Pool.Enqueue(img.ID, fullPath)
	writeJSON(w, http.StatusCreated, img)
}

func (bh *BatchHandler) Archive(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		WriteAPIError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated user")
		return
	}

	id, err := parseUintParam(r, "batchID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := bh.Engine.ArchiveBatch(actor, id); err != nil {
		WriteWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportResponse struct {
	Archive string `json:"archive"`
	Size    int64  `json:"size_bytes"`
}

// Export bundles a batch's approved annotations and originals into a COCO
// keypoint archive and returns its download name.
func (bh *BatchHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "batchID")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	filename, size, err := bh.Exporter.WriteArchive(id, bh.Cfg.ExportsPath)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Archive: filename, Size: size})
}
