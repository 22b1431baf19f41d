package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"picstash/internal/models"

	"github.com/disintegration/imaging"
)

// Failure kinds for thumbnail generation. Decode errors mean the upload was
// not a readable image; IO errors mean the disk or database let us down.
var (
	ErrDecode = errors.New("image decode failed")
	ErrIO     = errors.New("storage failed")
)

// Store is the slice of the metadata store the processor needs.
type Store interface {
	SetThumbnailStatus(ctx context.Context, imageID int64, status string) error
	CreateThumbnail(ctx context.Context, t *models.Thumbnail) error
	MarkImageReady(ctx context.Context, imageID int64, embedding []float32) error
}

// Embedder turns text into a vector. Nil is fine; the processor then skips
// embeddings entirely.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

type ImageJob struct {
	ImageID     int64
	StoragePath string
	Filename    string
	Title       string
	Tags        []string
}

type OnComplete func(job ImageJob)

// ImageProcessor generates thumbnails on a small worker pool. Jobs are
// queued by the upload handler and by the startup backfill; each job fans
// out into one thumbnail per configured size.
type ImageProcessor struct {
	jobs       chan ImageJob
	wg         sync.WaitGroup
	store      Store
	thumbDir   string
	sizes      []int
	embedder   Embedder
	onComplete OnComplete
	once       sync.Once
}

func NewImageProcessor(store Store, baseDir string, sizes []int, workers, queueSize int, embedder Embedder, onComplete OnComplete) (*ImageProcessor, error) {
	thumbDir := filepath.Join(baseDir, "thumbnails")
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}

	p := &ImageProcessor{
		jobs:       make(chan ImageJob, queueSize),
		store:      store,
		thumbDir:   thumbDir,
		sizes:      sizes,
		embedder:   embedder,
		onComplete: onComplete,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p, nil
}

func (p *ImageProcessor) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if err := p.process(job); err != nil {
			log.Printf("worker %d: image %d failed: %v", id, job.ImageID, err)
			if err := p.store.SetThumbnailStatus(context.Background(), job.ImageID, models.StatusFailed); err != nil {
				log.Printf("worker %d: mark image %d failed: %v", id, job.ImageID, err)
			}
			continue
		}

		log.Printf("worker %d: image %d ready", id, job.ImageID)
		if p.onComplete != nil {
			p.onComplete(job)
		}
	}
}

func (p *ImageProcessor) process(job ImageJob) error {
	ctx := context.Background()

	if err := p.store.SetThumbnailStatus(ctx, job.ImageID, models.StatusProcessing); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	src, err := imaging.Open(job.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	for _, maxDim := range p.sizes {
		thumb := imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)

		path := filepath.Join(p.thumbDir, fmt.Sprintf("thumb_%d_%d.jpg", job.ImageID, maxDim))
		if err := imaging.Save(thumb, path, imaging.JPEGQuality(80)); err != nil {
			return fmt.Errorf("%w: save %s: %v", ErrIO, path, err)
		}

		bounds := thumb.Bounds()
		err := p.store.CreateThumbnail(ctx, &models.Thumbnail{
			ImageID:     job.ImageID,
			MaxDim:      maxDim,
			Width:       bounds.Dx(),
			Height:      bounds.Dy(),
			StoragePath: path,
		})
		if err != nil {
			// Don't leave a file behind that no record points to.
			os.Remove(path)
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	var embedding []float32
	if p.embedder != nil {
		embedding, err = p.embedder.Embed(embedText(job.Title, job.Tags))
		if err != nil {
			log.Printf("embed image %d: %v", job.ImageID, err)
			embedding = nil
		}
	}

	if err := p.store.MarkImageReady(ctx, job.ImageID, embedding); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Queue hands a job to the pool without blocking the request. A full queue
// drops the job; the startup backfill will pick the image up again.
func (p *ImageProcessor) Queue(job ImageJob) {
	select {
	case p.jobs <- job:
	default:
		log.Printf("job queue full, skipping image %d", job.ImageID)
	}
}

func (p *ImageProcessor) Shutdown() {
	p.once.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

func embedText(title string, tags []string) string {
	text := title
	for _, tag := range tags {
		text += " " + tag
	}
	return text
}
