// Package importer ingests crawl snapshots into downstream storage behind a
// monotonic checkpoint. One snapshot per iteration, strictly oldest-first;
// the checkpoint only moves once a snapshot's writes have fully landed.
package importer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"kestrel/internal/database"
	"kestrel/internal/domain"
	"kestrel/internal/storage"
)

// CurrentStateStore merges per-address outcomes into the registry.
type CurrentStateStore interface {
	UpsertCurrentState(ctx context.Context, updates []database.CurrentStateUpdate) error
}

type Config struct {
	SnapshotPrefix string
	Loop           bool
	IdleDelay      time.Duration
}

type Importer struct {
	cfg     Config
	store   storage.Store
	facts   FactStore
	current CurrentStateStore
}

func New(cfg Config, store storage.Store, facts FactStore, current CurrentStateStore) *Importer {
	return &Importer{cfg: cfg, store: store, facts: facts, current: current}
}

// Run ingests at most one snapshot. It reports whether a snapshot was
// consumed so loop mode knows when to idle. Errors abort without advancing
// the checkpoint; a rerun reprocesses the same snapshot safely because the
// current-state merge is idempotent and the fact batch is guarded.
func (im *Importer) Run(ctx context.Context) (bool, error) {
	checkpoint, err := im.facts.MaxIngestedAt(ctx)
	if err != nil {
		return false, err
	}

	key, capturedAt, found, err := im.nextSnapshot(ctx, checkpoint)
	if err != nil {
		return false, err
	}
	if !found {
		log.Info("no new snapshot found", "checkpoint", checkpoint)
		return false, nil
	}

	exists, err := im.facts.ExistsForCaptureTime(ctx, capturedAt)
	if err != nil {
		return false, err
	}
	if exists {
		// A concurrent importer (or a crash between the fact batch and the
		// checkpoint) beat us to this capture time. Re-inserting would
		// double-count; recording the checkpoint moves selection past it.
		log.Warn("snapshot already ingested, recording checkpoint", "key", key, "capturedAt", capturedAt)
		if err := im.facts.RecordCheckpoint(ctx, capturedAt); err != nil {
			return false, fmt.Errorf("record checkpoint for %q: %w", key, err)
		}
		return true, nil
	}

	body, err := im.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("download snapshot %q: %w", key, err)
	}

	snapshot, err := storage.DecodeSnapshot(body)
	if err != nil {
		// A corrupt artifact blocks the checkpoint on purpose: silently
		// skipping would desynchronize it from the available data.
		return false, fmt.Errorf("snapshot %q is unreadable, refusing to advance past it: %w", key, err)
	}

	log.Info("ingesting snapshot", "key", key, "capturedAt", capturedAt, "servers", len(snapshot.Servers))

	if err := im.current.UpsertCurrentState(ctx, stateUpdates(snapshot.Servers, capturedAt)); err != nil {
		return false, fmt.Errorf("upsert current state for %q: %w", key, err)
	}

	rows := make([]FactRow, 0, len(snapshot.Servers))
	for _, result := range snapshot.Servers {
		rows = append(rows, factFromResult(result, capturedAt))
	}
	if err := im.facts.InsertFacts(ctx, rows); err != nil {
		return false, fmt.Errorf("insert facts for %q: %w", key, err)
	}

	// The checkpoint write comes last and stands on its own: a snapshot with
	// zero results still moves selection forward.
	if err := im.facts.RecordCheckpoint(ctx, capturedAt); err != nil {
		return false, fmt.Errorf("record checkpoint for %q: %w", key, err)
	}

	log.Info("ingested snapshot", "key", key, "facts", len(rows), "checkpoint", capturedAt)
	return true, nil
}

// RunLoop runs once, or continuously with an idle delay when loop mode is
// configured.
func (im *Importer) RunLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := im.Run(ctx)
		if err != nil {
			return err
		}
		if processed {
			continue
		}
		if !im.cfg.Loop {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(im.cfg.IdleDelay):
		}
	}
}

// nextSnapshot returns the earliest snapshot strictly newer than the
// checkpoint. Keys that do not parse as snapshots are ignored; they are not
// artifacts of this pipeline.
func (im *Importer) nextSnapshot(ctx context.Context, since time.Time) (string, time.Time, bool, error) {
	keys, err := im.store.List(ctx, im.cfg.SnapshotPrefix)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("list snapshots: %w", err)
	}

	type entry struct {
		key string
		at  time.Time
	}
	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		at, err := storage.ParseSnapshotTime(key)
		if err != nil {
			log.Debug("ignoring non-snapshot key", "key", key)
			continue
		}
		if at.After(since) {
			entries = append(entries, entry{key: key, at: at})
		}
	}
	if len(entries) == 0 {
		return "", time.Time{}, false, nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	return entries[0].key, entries[0].at, true, nil
}

func stateUpdates(results []domain.ProbeResult, capturedAt time.Time) []database.CurrentStateUpdate {
	updates := make([]database.CurrentStateUpdate, 0, len(results))
	for _, result := range results {
		updates = append(updates, database.CurrentStateUpdate{
			Address:    result.Hostname,
			IP:         result.IP.Address,
			Port:       result.Port,
			Origin:     result.Origin,
			Online:     result.Payload != nil,
			CapturedAt: capturedAt,
		})
	}
	return updates
}
