package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"picstash/internal/models"
	"picstash/internal/services"
	"picstash/internal/store"
)

// mockStore is an in-memory stand-in for *store.DB, close enough to the
// real query semantics (filter matching, newest-first order, cascade) for
// handler tests.
type mockStore struct {
	mu         sync.Mutex
	nextID     int64
	images     map[int64]*models.Image
	thumbnails map[int64]*models.Thumbnail
	createErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		images:     make(map[int64]*models.Image),
		thumbnails: make(map[int64]*models.Thumbnail),
	}
}

func (m *mockStore) CreateImage(_ context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	img.ID = m.nextID
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func (m *mockStore) ChecksumExists(_ context.Context, checksum string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, img := range m.images {
		if img.Checksum == checksum {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) ImageByID(_ context.Context, id int64) (*models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (m *mockStore) DeleteImage(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.images, id)
	// the ON DELETE CASCADE part
	for tid, t := range m.thumbnails {
		if t.ImageID == id {
			delete(m.thumbnails, tid)
		}
	}
	return nil
}

func (m *mockStore) ListImages(_ context.Context, q store.ListQuery) ([]models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Image
	for _, img := range m.images {
		if img.ThumbnailStatus != models.StatusReady {
			continue
		}
		if q.Filter != "" && !matchesFilter(img, q.Filter) {
			continue
		}
		if !q.Before.IsZero() && !img.CreatedAt.Before(q.Before) {
			continue
		}
		out = append(out, *img)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matchesFilter(img *models.Image, filter string) bool {
	filter = strings.ToLower(filter)
	if strings.Contains(strings.ToLower(img.Title), filter) {
		return true
	}
	if strings.Contains(strings.ToLower(img.Filename), filter) {
		return true
	}
	for _, tag := range img.Tags {
		if strings.Contains(strings.ToLower(tag), filter) {
			return true
		}
	}
	return false
}

func (m *mockStore) SearchBySimilarity(_ context.Context, _ []float32, limit int) ([]models.Image, error) {
	return m.ListImages(context.Background(), store.ListQuery{Limit: limit})
}

func (m *mockStore) CountImages(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.images)), nil
}

func (m *mockStore) ThumbnailByID(_ context.Context, id int64) (*models.Thumbnail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.thumbnails[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ThumbnailsByImage(_ context.Context, imageID int64) ([]models.Thumbnail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Thumbnail
	for _, t := range m.thumbnails {
		if t.ImageID == imageID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaxDim > out[j].MaxDim })
	return out, nil
}

func (m *mockStore) ImageThumbnail(_ context.Context, imageID int64) (*models.Thumbnail, error) {
	thumbs, _ := m.ThumbnailsByImage(context.Background(), imageID)
	if len(thumbs) == 0 {
		return nil, store.ErrNotFound
	}
	return &thumbs[0], nil
}

func (m *mockStore) addImage(img models.Image) *models.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	img.ID = m.nextID
	m.images[img.ID] = &img
	return &img
}

func (m *mockStore) addThumbnail(t models.Thumbnail) *models.Thumbnail {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.thumbnails[t.ID] = &t
	return &t
}

func (m *mockStore) imageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.images)
}

func (m *mockStore) thumbnailCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.thumbnails)
}

// mockQueue records thumbnail jobs instead of running workers.
type mockQueue struct {
	mu   sync.Mutex
	jobs []services.ImageJob
}

func (q *mockQueue) Queue(job services.ImageJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *mockQueue) queued() []services.ImageJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]services.ImageJob(nil), q.jobs...)
}
