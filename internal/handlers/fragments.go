package handlers

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"picstash/internal/store"
)

//go:embed web
var webFS embed.FS

var cardsTmpl = template.Must(template.ParseFS(webFS, "web/cards.tmpl"))

// FragmentsHandler renders HTML fragments for partial page swaps: the
// thumbnail grid and the image counter.
type FragmentsHandler struct {
	store Store
}

func NewFragmentsHandler(store Store) *FragmentsHandler {
	return &FragmentsHandler{store: store}
}

// Home serves the index page.
func (h *FragmentsHandler) Home(w http.ResponseWriter, r *http.Request) {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// Images returns the thumbnail grid as a fragment; filter comes from the
// query string.
func (h *FragmentsHandler) Images(w http.ResponseWriter, r *http.Request) {
	h.renderGrid(w, r, r.URL.Query().Get("filter"))
}

// Search is the form-post variant of Images, for search boxes that submit
// instead of typing live.
func (h *FragmentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	h.renderGrid(w, r, r.PostFormValue("filter"))
}

func (h *FragmentsHandler) ImageCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountImages(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "%d images in the database", count)
}

func (h *FragmentsHandler) renderGrid(w http.ResponseWriter, r *http.Request, filter string) {
	images, err := h.store.ListImages(r.Context(), store.ListQuery{
		Filter: filter,
		Limit:  defaultLimit,
	})
	if err != nil {
		log.Printf("render grid: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	items := make([]feedItem, 0, len(images))
	for _, img := range images {
		items = append(items, toFeedItem(img))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := cardsTmpl.Execute(w, items); err != nil {
		log.Printf("render cards: %v", err)
	}
}
