package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"picstash/internal/models"
	"picstash/internal/services"
)

var allowedMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

type UploadHandler struct {
	store      Store
	processor  Queuer
	storageDir string
	maxBytes   int64
}

func NewUploadHandler(store Store, processor Queuer, storageDir string, maxBytes int64) (*UploadHandler, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &UploadHandler{
		store:      store,
		processor:  processor,
		storageDir: storageDir,
		maxBytes:   maxBytes,
	}, nil
}

// Upload accepts a multipart form with an image file, a title and an
// optional JSON array of tags. The original is stored on disk, a metadata
// row is written and thumbnail generation is queued.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			http.Error(w, "tags must be a JSON array of strings", http.StatusBadRequest)
			return
		}
	}

	file, fh, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "missing image field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	// Trust the sniffed type over the declared one; browsers lie and curl
	// doesn't bother.
	mime := http.DetectContentType(data)
	if !allowedMimes[mime] {
		http.Error(w, "unsupported image format: "+mime, http.StatusBadRequest)
		return
	}

	img, err := h.storeUpload(r, data, fh.Filename, mime, title, tags)
	if err != nil {
		if errors.Is(err, errDuplicate) {
			http.Error(w, "image already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, img)
}

var errDuplicate = errors.New("duplicate image")

func (h *UploadHandler) storeUpload(r *http.Request, data []byte, filename, mime, title string, tags []string) (*models.Image, error) {
	ctx := r.Context()

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	exists, err := h.store.ChecksumExists(ctx, checksum)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if exists {
		return nil, errDuplicate
	}

	finalName := fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(filename))
	storagePath := filepath.Join(h.storageDir, finalName)
	if err := os.WriteFile(storagePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}

	img := &models.Image{
		Title:           title,
		Tags:            tags,
		Filename:        filename,
		Size:            int64(len(data)),
		Mime:            mime,
		Checksum:        checksum,
		StoragePath:     storagePath,
		ThumbnailStatus: models.StatusPending,
	}
	if err := h.store.CreateImage(ctx, img); err != nil {
		// No row, no file.
		os.Remove(storagePath)
		return nil, fmt.Errorf("db insert: %w", err)
	}

	h.processor.Queue(services.ImageJob{
		ImageID:     img.ID,
		StoragePath: storagePath,
		Filename:    filename,
		Title:       title,
		Tags:        tags,
	})

	return img, nil
}
