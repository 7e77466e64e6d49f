// Package archive copies a run's state files to a blob store once the run
// ends, keyed by run ID.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlobStore is implemented by the GCS and local blob stores.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	Close() error
}

// Archiver uploads files under prefix/<run_id>/<file>.
type Archiver struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// New builds an Archiver.
func New(store BlobStore, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Archive uploads every existing file in paths and returns their URIs.
// Files that do not exist yet are skipped; the first upload error stops the
// archive.
func (a *Archiver) Archive(ctx context.Context, runID uuid.UUID, paths []string) ([]string, error) {
	uris := make([]string, 0, len(paths))
	for _, p := range paths {
		uri, err := a.upload(ctx, runID, p)
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Debug("archive skipped missing file", zap.String("path", p))
			continue
		}
		if err != nil {
			return uris, err
		}
		uris = append(uris, uri)
	}
	a.logger.Info("run archived", zap.String("run_id", runID.String()), zap.Strings("objects", uris))
	return uris, nil
}

func (a *Archiver) upload(ctx context.Context, runID uuid.UUID, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	object := path.Join(a.prefix, runID.String(), filepath.Base(p))
	uri, err := a.store.PutObject(ctx, object, "text/csv", f)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", p, err)
	}
	return uri, nil
}

// Close releases the blob store.
func (a *Archiver) Close() error {
	return a.store.Close()
}
