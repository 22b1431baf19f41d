package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"picstash/internal/models"
	"picstash/internal/services"
	"picstash/internal/store"
)

// Store is everything the HTTP layer needs from the metadata store,
// implemented by *store.DB.
type Store interface {
	CreateImage(ctx context.Context, img *models.Image) error
	ChecksumExists(ctx context.Context, checksum string) (bool, error)
	ImageByID(ctx context.Context, id int64) (*models.Image, error)
	DeleteImage(ctx context.Context, id int64) error
	ListImages(ctx context.Context, q store.ListQuery) ([]models.Image, error)
	SearchBySimilarity(ctx context.Context, vec []float32, limit int) ([]models.Image, error)
	CountImages(ctx context.Context) (int64, error)
	ThumbnailByID(ctx context.Context, id int64) (*models.Thumbnail, error)
	ThumbnailsByImage(ctx context.Context, imageID int64) ([]models.Thumbnail, error)
	ImageThumbnail(ctx context.Context, imageID int64) (*models.Thumbnail, error)
}

// Queuer accepts thumbnail jobs, implemented by *services.ImageProcessor.
type Queuer interface {
	Queue(job services.ImageJob)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeStoreError maps store lookup failures to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	log.Printf("store error: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
