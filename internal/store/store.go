package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"picstash/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when a lookup by id matches nothing. Handlers map
// it to 404.
var ErrNotFound = errors.New("not found")

// ListQuery describes one page of the image feed. A zero Before means "start
// from the newest image"; Filter matches title, filename or any tag.
type ListQuery struct {
	Filter string
	Before time.Time
	Limit  int
}

type DB struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS images (
			id                BIGSERIAL PRIMARY KEY,
			title             TEXT NOT NULL,
			tags              TEXT[] NOT NULL DEFAULT '{}',
			filename          TEXT NOT NULL,
			size              BIGINT NOT NULL,
			mime              TEXT NOT NULL,
			checksum          TEXT NOT NULL UNIQUE,
			storage_path      TEXT NOT NULL,
			thumbnail_status  TEXT NOT NULL DEFAULT 'pending',
			embedding         vector(384),
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS thumbnails (
			id            BIGSERIAL PRIMARY KEY,
			image_id      BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			max_dim       INT NOT NULL,
			width         INT NOT NULL,
			height        INT NOT NULL,
			storage_path  TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (image_id, max_dim)
		);

		CREATE INDEX IF NOT EXISTS images_created_at_idx
			ON images (created_at DESC);
		CREATE INDEX IF NOT EXISTS thumbnails_image_id_idx
			ON thumbnails (image_id);
		CREATE INDEX IF NOT EXISTS images_embedding_idx
			ON images USING hnsw (embedding vector_cosine_ops);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateImage inserts the record and fills in ID and CreatedAt.
func (d *DB) CreateImage(ctx context.Context, img *models.Image) error {
	err := d.pool.QueryRow(ctx, `
		INSERT INTO images (title, tags, filename, size, mime, checksum,
		                    storage_path, thumbnail_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`,
		img.Title, img.Tags, img.Filename, img.Size, img.Mime,
		img.Checksum, img.StoragePath, img.ThumbnailStatus,
	).Scan(&img.ID, &img.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (d *DB) ChecksumExists(ctx context.Context, checksum string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM images WHERE checksum = $1)`, checksum,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checksum lookup: %w", err)
	}
	return exists, nil
}

const imageColumns = `id, title, tags, filename, size, mime, checksum,
	storage_path, thumbnail_status, created_at`

func (d *DB) ImageByID(ctx context.Context, id int64) (*models.Image, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id)
	img, err := scanImage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return img, err
}

// DeleteImage removes the row; thumbnail rows go with it via the foreign
// key. Callers are responsible for the files on disk.
func (d *DB) DeleteImage(ctx context.Context, id int64) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) ListImages(ctx context.Context, q ListQuery) ([]models.Image, error) {
	sql := `SELECT ` + imageColumns + ` FROM images WHERE thumbnail_status = 'ready'`
	args := []any{}

	if q.Filter != "" {
		args = append(args, "%"+q.Filter+"%")
		n := len(args)
		sql += fmt.Sprintf(` AND (title ILIKE $%d OR filename ILIKE $%d
			OR EXISTS (SELECT 1 FROM unnest(tags) tag WHERE tag ILIKE $%d))`, n, n, n)
	}
	if !q.Before.IsZero() {
		args = append(args, q.Before)
		sql += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	args = append(args, q.Limit)
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	return scanImages(rows)
}

// SearchBySimilarity ranks ready images by cosine similarity of their tag
// embedding against vec, dropping weak matches.
func (d *DB) SearchBySimilarity(ctx context.Context, vec []float32, limit int) ([]models.Image, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+imageColumns+`
		FROM images
		WHERE thumbnail_status = 'ready'
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) > 0.3
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	return scanImages(rows)
}

func (d *DB) CountImages(ctx context.Context) (int64, error) {
	var count int64
	if err := d.pool.QueryRow(ctx, `SELECT COUNT(id) FROM images`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

func (d *DB) SetThumbnailStatus(ctx context.Context, imageID int64, status string) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE images SET thumbnail_status = $1 WHERE id = $2`, status, imageID)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// MarkImageReady flips the status and stores the tag embedding, if one was
// computed. Both happen in one statement so a ready image never loses its
// embedding to a crash in between.
func (d *DB) MarkImageReady(ctx context.Context, imageID int64, embedding []float32) error {
	var err error
	if embedding == nil {
		_, err = d.pool.Exec(ctx,
			`UPDATE images SET thumbnail_status = 'ready' WHERE id = $1`, imageID)
	} else {
		_, err = d.pool.Exec(ctx,
			`UPDATE images SET thumbnail_status = 'ready', embedding = $1 WHERE id = $2`,
			pgvector.NewVector(embedding), imageID)
	}
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	return nil
}

// PendingImages returns everything that still needs thumbnails, including
// images a previous run marked processing and never finished.
func (d *DB) PendingImages(ctx context.Context) ([]models.Image, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images
		 WHERE thumbnail_status IN ('pending', 'processing')`)
	if err != nil {
		return nil, fmt.Errorf("pending images: %w", err)
	}
	defer rows.Close()

	return scanImages(rows)
}

func (d *DB) CreateThumbnail(ctx context.Context, t *models.Thumbnail) error {
	err := d.pool.QueryRow(ctx, `
		INSERT INTO thumbnails (image_id, max_dim, width, height, storage_path)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (image_id, max_dim) DO UPDATE
			SET width = EXCLUDED.width,
			    height = EXCLUDED.height,
			    storage_path = EXCLUDED.storage_path
		RETURNING id, created_at
	`, t.ImageID, t.MaxDim, t.Width, t.Height, t.StoragePath,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert thumbnail: %w", err)
	}
	return nil
}

func (d *DB) ThumbnailByID(ctx context.Context, id int64) (*models.Thumbnail, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, image_id, max_dim, width, height, storage_path, created_at
		FROM thumbnails WHERE id = $1`, id)
	return scanThumbnail(row)
}

func (d *DB) ThumbnailsByImage(ctx context.Context, imageID int64) ([]models.Thumbnail, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, image_id, max_dim, width, height, storage_path, created_at
		FROM thumbnails WHERE image_id = $1 ORDER BY max_dim DESC`, imageID)
	if err != nil {
		return nil, fmt.Errorf("thumbnails by image: %w", err)
	}
	defer rows.Close()

	var thumbs []models.Thumbnail
	for rows.Next() {
		var t models.Thumbnail
		if err := rows.Scan(&t.ID, &t.ImageID, &t.MaxDim, &t.Width, &t.Height,
			&t.StoragePath, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		thumbs = append(thumbs, t)
	}
	return thumbs, rows.Err()
}

// ImageThumbnail picks the largest thumbnail of an image, the one the feed
// cards display.
func (d *DB) ImageThumbnail(ctx context.Context, imageID int64) (*models.Thumbnail, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, image_id, max_dim, width, height, storage_path, created_at
		FROM thumbnails WHERE image_id = $1
		ORDER BY max_dim DESC LIMIT 1`, imageID)
	return scanThumbnail(row)
}

func scanThumbnail(row pgx.Row) (*models.Thumbnail, error) {
	var t models.Thumbnail
	err := row.Scan(&t.ID, &t.ImageID, &t.MaxDim, &t.Width, &t.Height,
		&t.StoragePath, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan thumbnail: %w", err)
	}
	return &t, nil
}

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(&img.ID, &img.Title, &img.Tags, &img.Filename, &img.Size,
		&img.Mime, &img.Checksum, &img.StoragePath, &img.ThumbnailStatus,
		&img.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func scanImages(rows pgx.Rows) ([]models.Image, error) {
	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.Title, &img.Tags, &img.Filename,
			&img.Size, &img.Mime, &img.Checksum, &img.StoragePath,
			&img.ThumbnailStatus, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
