package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultOriginalsSubDir  = "originals"
	DefaultThumbnailsSubDir = "thumbnails"
	DefaultExportsSubDir    = "exports"
)

const (
	defaultPreprocessQueueSize  = 200
	defaultNumPreprocessWorkers = 2
	defaultThumbnailMaxSize     = 300
	defaultJWTExpiryHours       = 24
	defaultListenAddr           = ":8080"
)

type Config struct {
	// http listen address
	ListenAddr string

	// database path
	DatabasePath string

	// media storage configuration
	MediaStoragePath string // primary root for stored assets (originals, thumbs, exports)
	OriginalsPath    string // full-calculated path for original uploads
	ThumbnailsPath   string // full-calculated path for thumbnails
	ExportsPath      string // full-calculated path for dataset exports

	// thumbnail generation settings
	ThumbnailMaxSize int

	// worker settings
	PreprocessQueueSize  int
	NumPreprocessWorkers int

	// pose estimation model (DNN)
	PoseModelPath    string
	PoseModelVersion string

	// auth settings
	JWTSecret      string
	JWTExpiryHours int
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	listenAddr := getEnvOrDefault("LISTEN_ADDR", defaultListenAddr)

	dbPath := getEnvOrDefault("DATABASE_PATH", "annotations.db")

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	originalsSubDir := getEnvOrDefault("ORIGINALS_SUBDIR", DefaultOriginalsSubDir)
	absOriginalsPath := filepath.Join(absMediaStorage, originalsSubDir)

	thumbSubDir := getEnvOrDefault("THUMBNAILS_SUBDIR", DefaultThumbnailsSubDir)
	absThumbnailsPath := filepath.Join(absMediaStorage, thumbSubDir)

	exportSubDir := getEnvOrDefault("EXPORTS_SUBDIR", DefaultExportsSubDir)
	absExportsPath := filepath.Join(absMediaStorage, exportSubDir)

	thumbMaxSize := getEnvIntOrDefault("THUMBNAIL_MAX_SIZE", defaultThumbnailMaxSize)

	queueSize := getEnvIntOrDefault("PREPROCESS_QUEUE_SIZE", defaultPreprocessQueueSize)
	numWorkers := getEnvIntOrDefault("NUM_PREPROCESS_WORKERS", defaultNumPreprocessWorkers)

	poseModelPath := getEnvOrDefault("POSE_MODEL_PATH", "./models/infant-pose-yolov8.onnx")
	poseModelVersion := getEnvOrDefault("POSE_MODEL_VERSION", "yolov8n-pose-infant-v1")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	jwtExpiry := getEnvIntOrDefault("JWT_EXPIRY_HOURS", defaultJWTExpiryHours)

	cfg := Config{
		ListenAddr:           listenAddr,
		DatabasePath:         dbPath,
		MediaStoragePath:     absMediaStorage,
		OriginalsPath:        absOriginalsPath,
		ThumbnailsPath:       absThumbnailsPath,
		ExportsPath:          absExportsPath,
		ThumbnailMaxSize:     thumbMaxSize,
		PreprocessQueueSize:  queueSize,
		NumPreprocessWorkers: numWorkers,
		PoseModelPath:        poseModelPath,
		PoseModelVersion:     poseModelVersion,
		JWTSecret:            jwtSecret,
		JWTExpiryHours:       jwtExpiry,
	}

	return cfg, nil
}
