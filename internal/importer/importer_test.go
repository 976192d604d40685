package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"kestrel/internal/database"
	"kestrel/internal/domain"
	"kestrel/internal/storage"
)

type memoryStore struct {
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, body []byte) error {
	m.objects[key] = body
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	body, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return body, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// memoryFactStore mirrors the real store: the checkpoint is the newest of
// the recorded watermarks and the inserted rows.
type memoryFactStore struct {
	rows        []FactRow
	checkpoints []time.Time
	insertErr   error
}

func (m *memoryFactStore) MaxIngestedAt(context.Context) (time.Time, error) {
	var max time.Time
	for _, row := range m.rows {
		if row.PingedAt.After(max) {
			max = row.PingedAt
		}
	}
	for _, at := range m.checkpoints {
		if at.After(max) {
			max = at
		}
	}
	return max, nil
}

func (m *memoryFactStore) RecordCheckpoint(_ context.Context, at time.Time) error {
	m.checkpoints = append(m.checkpoints, at)
	return nil
}

func (m *memoryFactStore) ExistsForCaptureTime(_ context.Context, at time.Time) (bool, error) {
	for _, row := range m.rows {
		if row.PingedAt.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryFactStore) InsertFacts(_ context.Context, rows []FactRow) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows = append(m.rows, rows...)
	return nil
}

type memoryCurrentState struct {
	upserts [][]database.CurrentStateUpdate
	err     error
}

func (m *memoryCurrentState) UpsertCurrentState(_ context.Context, updates []database.CurrentStateUpdate) error {
	if m.err != nil {
		return m.err
	}
	m.upserts = append(m.upserts, updates)
	return nil
}

func putSnapshot(t *testing.T, store *memoryStore, at time.Time, results []domain.ProbeResult) string {
	t.Helper()
	body, err := storage.EncodeSnapshot(domain.Snapshot{Servers: results})
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	key := storage.SnapshotKey("crawls", at)
	store.objects[key] = body
	return key
}

func sampleResults(online bool) []domain.ProbeResult {
	result := domain.ProbeResult{
		Hostname: "10.0.0.1:7777",
		Port:     7777,
		Origin:   "hosted",
		IP:       domain.IPInfo{Address: "10.0.0.1", Country: "DE"},
	}
	if online {
		result.Payload = &domain.QueryPayload{
			Hostname:   "test",
			Online:     3,
			MaxPlayers: 50,
			Ping:       20,
			Rules:      map[string]string{"version": "0.3.7"},
		}
	}
	return []domain.ProbeResult{result}
}

func newTestImporter(store *memoryStore, facts FactStore, current CurrentStateStore) *Importer {
	return New(Config{SnapshotPrefix: "crawls"}, store, facts, current)
}

func TestRunIngestsOldestUnprocessedFirst(t *testing.T) {
	store := newMemoryStore()
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)
	putSnapshot(t, store, t1, sampleResults(true))
	putSnapshot(t, store, t2, sampleResults(false))

	facts := &memoryFactStore{}
	current := &memoryCurrentState{}
	im := newTestImporter(store, facts, current)

	processed, err := im.Run(context.Background())
	if err != nil || !processed {
		t.Fatalf("first run = (%v, %v)", processed, err)
	}
	if len(facts.rows) != 1 || !facts.rows[0].PingedAt.Equal(t1) {
		t.Fatalf("first run did not ingest the oldest snapshot: %+v", facts.rows)
	}
	if !facts.rows[0].Online || facts.rows[0].Version != "0.3.7" {
		t.Fatalf("fact row lost payload fields: %+v", facts.rows[0])
	}

	processed, err = im.Run(context.Background())
	if err != nil || !processed {
		t.Fatalf("second run = (%v, %v)", processed, err)
	}
	if len(facts.rows) != 2 || !facts.rows[1].PingedAt.Equal(t2) {
		t.Fatalf("second run did not advance to t2: %+v", facts.rows)
	}
	if facts.rows[1].Online {
		t.Fatal("failed probe ingested as online")
	}
	if facts.rows[1].Version != "unknown" {
		t.Fatalf("failed probe version = %q", facts.rows[1].Version)
	}

	processed, err = im.Run(context.Background())
	if err != nil {
		t.Fatalf("drained run: %v", err)
	}
	if processed {
		t.Fatal("run processed with nothing left to ingest")
	}

	if len(current.upserts) != 2 {
		t.Fatalf("expected 2 current-state merges, got %d", len(current.upserts))
	}
	if current.upserts[1][0].Online {
		t.Fatal("failed probe merged as online")
	}
}

// staleCheckpointStore reports a checkpoint older than its newest batch, the
// shape a concurrent importer leaves behind between its insert and our
// checkpoint read.
type staleCheckpointStore struct {
	memoryFactStore
	checkpoint time.Time
}

func (s *staleCheckpointStore) MaxIngestedAt(context.Context) (time.Time, error) {
	return s.checkpoint, nil
}

func TestRunSkipsAlreadyIngestedSnapshots(t *testing.T) {
	store := newMemoryStore()
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)
	putSnapshot(t, store, t1, sampleResults(true))
	putSnapshot(t, store, t2, sampleResults(true))

	// t2's batch already exists but the checkpoint still reads t1, so t2 is
	// selected again. The existence guard must refuse to double-count it.
	facts := &staleCheckpointStore{
		memoryFactStore: memoryFactStore{rows: []FactRow{{PingedAt: t1}, {PingedAt: t2}}},
		checkpoint:      t1,
	}
	im := newTestImporter(store, facts, &memoryCurrentState{})

	processed, err := im.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !processed {
		t.Fatal("guarded skip should still report progress")
	}
	if len(facts.rows) != 2 {
		t.Fatalf("guard failed, rows = %d", len(facts.rows))
	}
	// The skip must still move the checkpoint, or the same snapshot would be
	// selected forever.
	if len(facts.checkpoints) != 1 || !facts.checkpoints[0].Equal(t2) {
		t.Fatalf("skip did not record checkpoint: %v", facts.checkpoints)
	}
}

func TestRunAdvancesPastEmptySnapshot(t *testing.T) {
	store := newMemoryStore()
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)
	putSnapshot(t, store, t1, nil)
	putSnapshot(t, store, t2, sampleResults(true))

	facts := &memoryFactStore{}
	im := newTestImporter(store, facts, &memoryCurrentState{})

	// The empty snapshot carries zero facts; only the checkpoint moves.
	processed, err := im.Run(context.Background())
	if err != nil || !processed {
		t.Fatalf("empty snapshot run = (%v, %v)", processed, err)
	}
	if len(facts.rows) != 0 {
		t.Fatalf("empty snapshot produced %d facts", len(facts.rows))
	}
	checkpoint, _ := facts.MaxIngestedAt(context.Background())
	if !checkpoint.Equal(t1) {
		t.Fatalf("checkpoint = %v, want %v", checkpoint, t1)
	}

	// The next run selects t2, not t1 again.
	processed, err = im.Run(context.Background())
	if err != nil || !processed {
		t.Fatalf("second run = (%v, %v)", processed, err)
	}
	if len(facts.rows) != 1 || !facts.rows[0].PingedAt.Equal(t2) {
		t.Fatalf("second run ingested the wrong snapshot: %+v", facts.rows)
	}

	// Drained: one-shot mode can terminate.
	processed, err = im.Run(context.Background())
	if err != nil {
		t.Fatalf("drained run: %v", err)
	}
	if processed {
		t.Fatal("empty snapshot re-selected after its checkpoint landed")
	}
}

func TestRunLoopStopsOnCancellation(t *testing.T) {
	store := newMemoryStore()
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	putSnapshot(t, store, t1, sampleResults(true))

	im := newTestImporter(store, &memoryFactStore{}, &memoryCurrentState{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := im.RunLoop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled loop returned %v", err)
	}
}

func TestRunFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	store := newMemoryStore()
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	putSnapshot(t, store, t1, sampleResults(true))

	facts := &memoryFactStore{insertErr: errors.New("clickhouse down")}
	current := &memoryCurrentState{}
	im := newTestImporter(store, facts, current)

	if _, err := im.Run(context.Background()); err == nil {
		t.Fatal("run succeeded despite fact insert failure")
	}
	if len(facts.rows) != 0 {
		t.Fatal("failed run left facts behind")
	}

	// Recovery: the insert works now, and the same snapshot is picked up
	// again. State converges to exactly one batch.
	facts.insertErr = nil
	processed, err := im.Run(context.Background())
	if err != nil || !processed {
		t.Fatalf("recovery run = (%v, %v)", processed, err)
	}
	if len(facts.rows) != 1 || !facts.rows[0].PingedAt.Equal(t1) {
		t.Fatalf("recovery did not converge: %+v", facts.rows)
	}
}

func TestRunRefusesToAdvancePastCorruptSnapshot(t *testing.T) {
	store := newMemoryStore()
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)
	store.objects[storage.SnapshotKey("crawls", t1)] = []byte("not gzip at all")
	putSnapshot(t, store, t2, sampleResults(true))

	facts := &memoryFactStore{}
	im := newTestImporter(store, facts, &memoryCurrentState{})

	if _, err := im.Run(context.Background()); err == nil {
		t.Fatal("corrupt snapshot did not abort the run")
	}
	if len(facts.rows) != 0 {
		t.Fatal("corrupt snapshot produced facts")
	}

	// And a rerun hits the same wall instead of silently skipping to t2.
	if _, err := im.Run(context.Background()); err == nil {
		t.Fatal("rerun skipped past the corrupt snapshot")
	}
}

func TestRunIgnoresForeignKeys(t *testing.T) {
	store := newMemoryStore()
	store.objects["crawls/notes.txt"] = []byte("hello")
	t1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	putSnapshot(t, store, t1, sampleResults(true))

	facts := &memoryFactStore{}
	im := newTestImporter(store, facts, &memoryCurrentState{})

	processed, err := im.Run(context.Background())
	if err != nil || !processed {
		t.Fatalf("run = (%v, %v)", processed, err)
	}
	if len(facts.rows) != 1 {
		t.Fatalf("expected the real snapshot only, got %d rows", len(facts.rows))
	}
}

func TestFactFromResultFailureShape(t *testing.T) {
	at := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	row := factFromResult(domain.ProbeResult{
		Hostname: "10.0.0.9:7777",
		Port:     7777,
		Origin:   "internet",
		IP:       domain.IPInfo{Address: "10.0.0.9"},
	}, at)

	if row.Online {
		t.Fatal("failure marked online")
	}
	if row.ICMPPing != -1 {
		t.Fatalf("missing icmp ping should be -1, got %v", row.ICMPPing)
	}
	if row.ASN != -1 {
		t.Fatalf("missing asn should be -1, got %d", row.ASN)
	}
	if row.Version != "unknown" || row.Country != "unknown" {
		t.Fatalf("empty enrichment not defaulted: %+v", row)
	}
	if !row.PingedAt.Equal(at) {
		t.Fatalf("pinged_at = %v", row.PingedAt)
	}

	known := factFromResult(domain.ProbeResult{
		IP: domain.IPInfo{ASN: domain.ASNInfo{Number: 64496}},
	}, at)
	if known.ASN != 64496 {
		t.Fatalf("resolved asn mangled: %d", known.ASN)
	}
}
