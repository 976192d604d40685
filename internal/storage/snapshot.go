package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"kestrel/internal/domain"
)

// Writer persists one run's complete result set as an immutable artifact.
type Writer struct {
	store  Store
	prefix string
}

func NewWriter(store Store, prefix string) *Writer {
	return &Writer{store: store, prefix: prefix}
}

// Write serializes, compresses and uploads the snapshot. An error here is
// fatal to the crawl run: with no artifact, the run never happened as far as
// the importer is concerned.
func (w *Writer) Write(ctx context.Context, capturedAt time.Time, results []domain.ProbeResult) (string, error) {
	body, err := EncodeSnapshot(domain.Snapshot{Servers: results})
	if err != nil {
		return "", err
	}

	key := SnapshotKey(w.prefix, capturedAt)
	if err := w.store.Put(ctx, key, body); err != nil {
		return "", err
	}
	return key, nil
}

func EncodeSnapshot(snapshot domain.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(snapshot); err != nil {
		return nil, fmt.Errorf("storage: encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("storage: compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeSnapshot(body []byte) (domain.Snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage: decompress snapshot: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage: decompress snapshot: %w", err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("storage: decode snapshot: %w", err)
	}
	return snapshot, nil
}
