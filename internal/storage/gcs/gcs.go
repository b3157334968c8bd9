// Package gcs implements the artifact store on Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to address a bucket.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name, typically the
	// deployment environment.
	Prefix string
}

// Provider writes artifacts to a configured GCS bucket.
type Provider struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed artifact store over an existing client.
func New(client *storage.Client, cfg Config) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Provider{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Save uploads data to the configured bucket.
func (p *Provider) Save(ctx context.Context, objectName string, data []byte) error {
	if strings.TrimSpace(objectName) == "" {
		return fmt.Errorf("object name is required")
	}
	path := objectName
	if p.prefix != "" {
		path = p.prefix + "/" + objectName
	}
	writer := p.client.Bucket(p.bucket).Object(path).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", path, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", path, err)
	}
	return nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}
