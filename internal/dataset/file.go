// Package dataset implements the input-record providers. The file
// provider reads a JSON array of records and can write resolved values
// back; the postgres subpackage serves the same interfaces from a
// database table.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/swatchlab/swatchsync/internal/recovery"
	"github.com/swatchlab/swatchsync/internal/swatch"
)

// FileProvider loads records from a JSON file on disk. It implements
// both swatch.DatasetProvider and swatch.DatasetWriter.
type FileProvider struct {
	path   string
	hasher swatch.Hasher
	logger *zap.Logger
}

// NewFileProvider constructs a provider over path.
func NewFileProvider(path string, hasher swatch.Hasher, logger *zap.Logger) *FileProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileProvider{path: path, hasher: hasher, logger: logger.Named("dataset")}
}

// Load reads the full dataset and returns it with a content digest.
// Records missing an id are dropped with a warning rather than failing
// the run.
func (p *FileProvider) Load(_ context.Context) ([]swatch.Record, string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", recovery.WithKind(
				fmt.Errorf("dataset file %s: %w", p.path, err), recovery.KindFileNotFound)
		}
		if os.IsPermission(err) {
			return nil, "", recovery.WithKind(
				fmt.Errorf("dataset file %s: %w", p.path, err), recovery.KindFilePermission)
		}
		return nil, "", fmt.Errorf("read dataset %s: %w", p.path, err)
	}

	var records []swatch.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, "", recovery.WithKind(
			fmt.Errorf("parse dataset %s: %w", p.path, err), recovery.KindDataParse)
	}

	kept := records[:0]
	for _, rec := range records {
		if rec.ID == "" {
			p.logger.Warn("dropping record without id",
				zap.String("displayName", rec.DisplayName))
			continue
		}
		kept = append(kept, rec)
	}

	digest := ""
	if p.hasher != nil {
		digest, err = p.hasher.Hash(data)
		if err != nil {
			return nil, "", fmt.Errorf("digest dataset %s: %w", p.path, err)
		}
	}
	p.logger.Info("dataset loaded",
		zap.String("path", p.path),
		zap.Int("records", len(kept)),
		zap.String("digest", digest))
	return kept, digest, nil
}

// SaveValues merges resolved values into the dataset file. The write
// is atomic so a crash mid-save never truncates the source.
func (p *FileProvider) SaveValues(ctx context.Context, records []swatch.Record) error {
	existing, _, err := p.Load(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]swatch.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	for i, rec := range existing {
		if update, ok := byID[rec.ID]; ok && update.Value() != "" {
			existing[i] = existing[i].WithValue(update.Value())
		}
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".dataset-*.json")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp dataset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	p.logger.Info("dataset values written back",
		zap.String("path", p.path), zap.Int("updates", len(records)))
	return nil
}

// Close implements the DatasetProvider interface; it performs no action.
func (p *FileProvider) Close() error {
	return nil
}
