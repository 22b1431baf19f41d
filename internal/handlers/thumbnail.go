package handlers

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"picstash/internal/models"

	"github.com/go-chi/chi/v5"
)

type ThumbnailHandler struct {
	store Store
}

func NewThumbnailHandler(store Store) *ThumbnailHandler {
	return &ThumbnailHandler{store: store}
}

// Get serves thumbnail bytes by thumbnail id.
func (h *ThumbnailHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "thumbID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	thumb, err := h.store.ThumbnailByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.serve(w, r, thumb)
}

// ForImage serves the display thumbnail of an image, the largest one
// generated for it.
func (h *ThumbnailHandler) ForImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "imageID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	thumb, err := h.store.ImageThumbnail(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.serve(w, r, thumb)
}

func (h *ThumbnailHandler) serve(w http.ResponseWriter, r *http.Request, thumb *models.Thumbnail) {
	f, err := os.Open(thumb.StoragePath)
	if err != nil {
		log.Printf("open thumbnail %d: %v", thumb.ID, err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, thumb.StoragePath, thumb.CreatedAt, f)
}
