package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"picstash/internal/config"
	"picstash/internal/handlers"
	mw "picstash/internal/middleware"
	"picstash/internal/services"
	"picstash/internal/store"
	"picstash/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to db: %v", err)
	}
	defer pool.Close()

	db := store.New(pool)
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Embedding service, only when a model is configured
	var embedder services.Embedder
	var embedding *services.EmbeddingService
	if cfg.EmbeddingEnabled() {
		embedding, err = services.NewEmbeddingService(cfg.ModelPath, cfg.TokenizerPath, cfg.OnnxLibraryPath)
		if err != nil {
			log.Fatalf("embedding service: %v", err)
		}
		defer embedding.Close()
		embedder = embedding
		log.Println("semantic search enabled")
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Thumbnail workers
	processor, err := services.NewImageProcessor(
		db, cfg.StorageDir, cfg.ThumbnailSizes, cfg.Workers, cfg.QueueSize,
		embedder,
		func(job services.ImageJob) {
			hub.Broadcast(ws.Message{
				Type:         "thumbnail_ready",
				ImageID:      job.ImageID,
				Title:        job.Title,
				Tags:         job.Tags,
				ThumbnailURL: fmt.Sprintf("/api/images/%d/thumbnail", job.ImageID),
			})
		},
	)
	if err != nil {
		log.Fatalf("image processor: %v", err)
	}
	defer processor.Shutdown()

	// Re-queue anything a previous run left unfinished
	go backfillThumbnails(ctx, db, processor)

	// Handlers
	uploadHandler, err := handlers.NewUploadHandler(db, processor, cfg.StorageDir, cfg.MaxUploadBytes)
	if err != nil {
		log.Fatalf("upload handler: %v", err)
	}
	imagesHandler := handlers.NewImagesHandler(db, embedder)
	thumbHandler := handlers.NewThumbnailHandler(db)
	fragmentsHandler := handlers.NewFragmentsHandler(db)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mw.Cors)

	r.Get("/", fragmentsHandler.Home)
	r.Get("/ws", hub.Handle)

	r.Route("/api", func(r chi.Router) {
		r.Post("/images", uploadHandler.Upload)
		r.Get("/images", imagesHandler.List)
		r.Get("/images/count", imagesHandler.Count)
		r.Get("/images/{imageID}", imagesHandler.Get)
		r.Get("/images/{imageID}/file", imagesHandler.ServeFile)
		r.Get("/images/{imageID}/thumbnail", thumbHandler.ForImage)
		r.Delete("/images/{imageID}", imagesHandler.Delete)
		r.Get("/thumbnails/{thumbID}", thumbHandler.Get)
	})

	r.Route("/fragments", func(r chi.Router) {
		r.Get("/images", fragmentsHandler.Images)
		r.Post("/search", fragmentsHandler.Search)
		r.Get("/image-count", fragmentsHandler.ImageCount)
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		log.Printf("server starting on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	srv.Shutdown(shutdownCtx)
	hub.Shutdown()
	processor.Shutdown()
	if embedding != nil {
		embedding.Close()
	}
	pool.Close()
}

// backfillThumbnails queues every image still marked pending or processing,
// covering uploads interrupted by a crash or restart.
func backfillThumbnails(ctx context.Context, db *store.DB, processor *services.ImageProcessor) {
	images, err := db.PendingImages(ctx)
	if err != nil {
		log.Printf("load pending images: %v", err)
		return
	}

	for _, img := range images {
		processor.Queue(services.ImageJob{
			ImageID:     img.ID,
			StoragePath: img.StoragePath,
			Filename:    img.Filename,
			Title:       img.Title,
			Tags:        img.Tags,
		})
	}
	if len(images) > 0 {
		log.Printf("queued %d pending images for processing", len(images))
	}
}
