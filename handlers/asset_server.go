package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const assetCacheMaxAge = 24 * time.Hour

// AssetServer serves stored files below assetDir. Mounted on a chi wildcard
// route, e.g. r.Get("/thumbnails/*", AssetServer(cfg.ThumbnailsPath, "/api/thumbnails/")).
// Paths that resolve outside assetDir are refused.
func AssetServer(assetDir, routePrefix string) http.HandlerFunc {
	assetDir = filepath.Clean(assetDir)
	log.Printf("Serving assets for '%s*' from %s", routePrefix, assetDir)

	return func(w http.ResponseWriter, r *http.Request) {
		relativePath := strings.TrimPrefix(r.URL.Path, routePrefix)
		if relativePath == "" || strings.Contains(relativePath, "..") {
			http.Error(w, "Invalid asset path", http.StatusBadRequest)
			return
		}

		assetPath := filepath.Clean(filepath.Join(assetDir, relativePath))
		if !strings.HasPrefix(assetPath, assetDir+string(os.PathSeparator)) {
			log.Printf("SECURITY: asset request '%s' resolved outside %s", r.URL.Path, assetDir)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if _, err := os.Stat(assetPath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			log.Printf("Error stating asset file %s: %v", assetPath, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(assetCacheMaxAge.Seconds())))
		http.ServeFile(w, r, assetPath)
	}
}
