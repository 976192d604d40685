package storage

import (
	"testing"
	"time"

	"kestrel/internal/domain"
)

func TestSnapshotKeyLayout(t *testing.T) {
	at := time.Date(2026, 3, 7, 14, 30, 5, 0, time.UTC)

	key := SnapshotKey("crawls", at)
	want := "crawls/2026/3/7/2026-03-07T14:30:05Z.json.gz"
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}

	// Trailing slash on the prefix must not double up.
	if got := SnapshotKey("crawls/", at); got != want {
		t.Fatalf("key with trailing slash = %q", got)
	}
}

func TestSnapshotKeyNormalizesToUTC(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	local := time.Date(2026, 3, 7, 15, 30, 5, 0, zone)
	utc := local.UTC()

	if got, want := SnapshotKey("crawls", local), SnapshotKey("crawls", utc); got != want {
		t.Fatalf("local key %q != utc key %q", got, want)
	}
}

func TestParseSnapshotTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 29, 3, 0, 17, 0, time.UTC)

	parsed, err := ParseSnapshotTime(SnapshotKey("crawls", at))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(at) {
		t.Fatalf("parsed %v, want %v", parsed, at)
	}
}

func TestParseSnapshotTimeRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{
		"crawls/2026/3/7/notes.txt",
		"crawls/2026/3/7/2026-03-07.json.gz",
		"backups/db.sql",
	} {
		if _, err := ParseSnapshotTime(key); err == nil {
			t.Fatalf("key %q parsed as a snapshot", key)
		}
	}
}

func TestSnapshotKeysOrderByCaptureTime(t *testing.T) {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	earlier := SnapshotKey("crawls", base)
	later := SnapshotKey("crawls", base.Add(5*time.Minute))

	if !(earlier < later) {
		t.Fatalf("keys do not sort by time: %q vs %q", earlier, later)
	}
}

func TestSnapshotEncodeDecode(t *testing.T) {
	ping := 42.0
	snapshot := domain.Snapshot{Servers: []domain.ProbeResult{{
		Hostname: "10.0.0.1:7777",
		Port:     7777,
		Origin:   "hosted",
		Payload: &domain.QueryPayload{
			Hostname:   "test server",
			Online:     3,
			MaxPlayers: 50,
			Rules:      map[string]string{"weburl": "example.com"},
		},
		IP: domain.IPInfo{Address: "10.0.0.1", Country: "DE", Ping: &ping},
	}}}

	body, err := EncodeSnapshot(snapshot)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeSnapshot(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Servers) != 1 {
		t.Fatalf("decoded %d servers", len(decoded.Servers))
	}
	got := decoded.Servers[0]
	if got.Hostname != "10.0.0.1:7777" || got.Payload == nil || got.Payload.Online != 3 {
		t.Fatalf("round trip mangled the result: %+v", got)
	}

	if _, err := DecodeSnapshot([]byte("not gzip")); err == nil {
		t.Fatal("corrupt body decoded without error")
	}
}
