package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/vibast-solutions/ms-go-bakong/config"
)

// Storage persists rendered QR images addressed by a relative path.
type Storage interface {
	Save(ctx context.Context, path string, reader io.Reader, contentType string) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// GetURL returns the public reference stored on the transaction.
	GetURL(ctx context.Context, path string) (string, error)
}

func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg)
	case "s3", "cloudflare_r2":
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// QRImagePath is the object key of the image rendered for a payload hash.
func QRImagePath(md5Hash string) string {
	return "qr-codes/" + md5Hash + ".png"
}
