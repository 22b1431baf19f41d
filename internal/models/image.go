package models

import "time"

// Thumbnail generation states, kept on the parent image so the feed can
// filter out entries that are not ready to display yet.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

type Image struct {
	ID              int64     `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	Tags            []string  `db:"tags" json:"tags"`
	Filename        string    `db:"filename" json:"filename"`
	Size            int64     `db:"size" json:"size"`
	Mime            string    `db:"mime" json:"mime"`
	Checksum        string    `db:"checksum" json:"checksum"`
	StoragePath     string    `db:"storage_path" json:"-"`
	ThumbnailStatus string    `db:"thumbnail_status" json:"thumbnail_status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Thumbnail is a resized derivative of an Image. MaxDim is the bounding box
// the original was fitted into; Width and Height are the actual pixel
// dimensions after aspect-preserving scaling.
type Thumbnail struct {
	ID          int64     `db:"id" json:"id"`
	ImageID     int64     `db:"image_id" json:"image_id"`
	MaxDim      int       `db:"max_dim" json:"max_dim"`
	Width       int       `db:"width" json:"width"`
	Height      int       `db:"height" json:"height"`
	StoragePath string    `db:"storage_path" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
