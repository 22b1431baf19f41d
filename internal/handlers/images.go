package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"picstash/internal/models"
	"picstash/internal/services"
	"picstash/internal/store"

	"github.com/go-chi/chi/v5"
)

const defaultLimit = 20

type feedItem struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Tags         []string  `json:"tags"`
	Filename     string    `json:"filename"`
	ImageURL     string    `json:"image_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	CreatedAt    time.Time `json:"created_at"`
}

type ImagesHandler struct {
	store    Store
	embedder services.Embedder
}

// NewImagesHandler serves the listing/search feed and per-image byte
// endpoints. embedder may be nil; semantic search then falls back to the
// text filter.
func NewImagesHandler(store Store, embedder services.Embedder) *ImagesHandler {
	return &ImagesHandler{store: store, embedder: embedder}
}

// List is the feed: newest first, keyset-paginated on created_at, with an
// optional text filter. mode=semantic ranks by tag-embedding similarity
// instead when a model is loaded.
func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	cursor := r.URL.Query().Get("cursor")
	mode := r.URL.Query().Get("mode")

	limit := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 50 {
			limit = l
		}
	}

	var images []models.Image
	var err error

	if mode == "semantic" && filter != "" && h.embedder != nil {
		images, err = h.semanticSearch(r, filter, limit)
	} else {
		var before time.Time
		if cursor != "" {
			before, err = time.Parse(time.RFC3339Nano, cursor)
			if err != nil {
				http.Error(w, "invalid cursor", http.StatusBadRequest)
				return
			}
		}
		images, err = h.store.ListImages(r.Context(), store.ListQuery{
			Filter: filter,
			Before: before,
			Limit:  limit,
		})
	}
	if err != nil {
		log.Printf("list images: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	items := make([]feedItem, 0, len(images))
	for _, img := range images {
		items = append(items, toFeedItem(img))
	}

	var nextCursor string
	if mode != "semantic" && len(items) == limit {
		nextCursor = items[len(items)-1].CreatedAt.Format(time.RFC3339Nano)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"next_cursor": nextCursor,
		"filter":      filter,
	})
}

func (h *ImagesHandler) semanticSearch(r *http.Request, filter string, limit int) ([]models.Image, error) {
	vec, err := h.embedder.Embed(filter)
	if err != nil {
		return nil, fmt.Errorf("embed filter: %w", err)
	}
	return h.store.SearchBySimilarity(r.Context(), vec, limit)
}

func (h *ImagesHandler) Count(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountImages(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	img, err := h.imageFromURL(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// ServeFile streams the original image bytes with the stored content type.
func (h *ImagesHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	img, err := h.imageFromURL(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	f, err := os.Open(img.StoragePath)
	if err != nil {
		log.Printf("open image %d: %v", img.ID, err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", img.Mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", img.Filename))
	http.ServeContent(w, r, img.Filename, img.CreatedAt, f)
}

// Delete removes the image row (thumbnail rows cascade) and then the files.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	img, err := h.imageFromURL(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	thumbs, err := h.store.ThumbnailsByImage(ctx, img.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := h.store.DeleteImage(ctx, img.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	// Rows are gone; files are best-effort from here.
	if err := os.Remove(img.StoragePath); err != nil && !os.IsNotExist(err) {
		log.Printf("remove image file %s: %v", img.StoragePath, err)
	}
	for _, t := range thumbs {
		if err := os.Remove(t.StoragePath); err != nil && !os.IsNotExist(err) {
			log.Printf("remove thumbnail file %s: %v", t.StoragePath, err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ImagesHandler) imageFromURL(r *http.Request) (*models.Image, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "imageID"), 10, 64)
	if err != nil || id <= 0 {
		return nil, store.ErrNotFound
	}
	return h.store.ImageByID(r.Context(), id)
}

func toFeedItem(img models.Image) feedItem {
	item := feedItem{
		ID:        img.ID,
		Title:     img.Title,
		Tags:      img.Tags,
		Filename:  img.Filename,
		ImageURL:  fmt.Sprintf("/api/images/%d/file", img.ID),
		CreatedAt: img.CreatedAt,
	}
	if img.ThumbnailStatus == models.StatusReady {
		item.ThumbnailURL = fmt.Sprintf("/api/images/%d/thumbnail", img.ID)
	}
	return item
}
