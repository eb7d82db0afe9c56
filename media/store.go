package media

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Store defines the interface for saving, retrieving, and deleting media assets
type Store interface {
	// Save stores data from reader under the asset type's directory, using
	// filenameHint for the extension. Returns the final relative path used.
	Save(assetType AssetType, filenameHint string, data io.Reader) (string, error)
	// Get retrieves a reader for an asset
	Get(relativePath string) (io.ReadCloser, os.FileInfo, error)
	// Delete removes an asset
	Delete(relativePath string) error
	// GetFullPath returns the absolute filesystem path for a relative asset path
	GetFullPath(relativePath string) (string, error)
}

// LocalStorage implements the Store interface using the local filesystem
type LocalStorage struct {
	basePath        string
	subDirMap       map[AssetType]string
	resolvedPathMap map[AssetType]string
}

// NewLocalStorage creates a new local filesystem store
func NewLocalStorage(basePath string, subDirs map[AssetType]string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}

	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	resolvedPaths := make(map[AssetType]string)
	for assetType, subDir := range subDirs {
		fullPath := filepath.Join(absBasePath, subDir)
		if !strings.HasPrefix(filepath.Clean(fullPath), absBasePath) {
			return nil, fmt.Errorf("invalid subdirectory configuration: '%s' resolves outside base path '%s'", subDir, absBasePath)
		}
		if err := os.MkdirAll(fullPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory '%s': %w", fullPath, err)
		}
		resolvedPaths[assetType] = fullPath
	}

	log.Printf("media.store: Initialized LocalStorage at %s", absBasePath)
	return &LocalStorage{
		basePath:        absBasePath,
		subDirMap:       subDirs,
		resolvedPathMap: resolvedPaths,
	}, nil
}

// Save writes the data under a collision-free generated name, keeping the
// hint's extension.
func (ls *LocalStorage) Save(assetType AssetType, filenameHint string, data io.Reader) (string, error) {
	dir, ok := ls.resolvedPathMap[assetType]
	if !ok {
		return "", fmt.Errorf("unknown asset type %q", assetType)
	}

	filename := UniqueAssetName(filenameHint)
	fullPath := filepath.Join(dir, filename)

	out, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create asset file %s: %w", fullPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, data); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to write asset %s: %w", fullPath, err)
	}

	relPath := filepath.ToSlash(filepath.Join(ls.subDirMap[assetType], filename))
	return relPath, nil
}

// Get opens an asset for reading.
func (ls *LocalStorage) Get(relativePath string) (io.ReadCloser, os.FileInfo, error) {
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open asset %s: %w", relativePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat asset %s: %w", relativePath, err)
	}
	return f, info, nil
}

// Delete removes an asset file.
func (ls *LocalStorage) Delete(relativePath string) error {
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete asset %s: %w", relativePath, err)
	}
	return nil
}

// GetFullPath resolves a stored relative path below the storage root,
// rejecting traversal.
func (ls *LocalStorage) GetFullPath(relativePath string) (string, error) {
	fullPath := filepath.Join(ls.basePath, filepath.FromSlash(relativePath))
	fullPath = filepath.Clean(fullPath)
	if !strings.HasPrefix(fullPath, ls.basePath) {
		return "", fmt.Errorf("asset path %q resolves outside storage root", relativePath)
	}
	return fullPath, nil
}
