package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const serverStatsDDL = `
CREATE TABLE IF NOT EXISTS server_stats (
	address     String,
	port        UInt16,
	online      UInt8,
	origin      LowCardinality(String),
	hostname    String,
	gamemode    String,
	language    String,
	passworded  UInt8,
	players     Int32,
	max_players Int32,
	query_ping  Int64,
	icmp_ping   Float64,
	country     LowCardinality(String),
	city        String,
	asn         Int32,
	asn_name    String,
	version     LowCardinality(String),
	pinged_at   DateTime
)
ENGINE = MergeTree()
PARTITION BY toYYYYMM(pinged_at)
ORDER BY (pinged_at, address, port)`

const importCheckpointsDDL = `
CREATE TABLE IF NOT EXISTS import_checkpoints (
	pinged_at DateTime
)
ENGINE = MergeTree()
ORDER BY pinged_at`

type ClickhouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickhouseFactStore writes fact rows into the server_stats table, one
// batch per snapshot, and tracks the ingestion watermark in the
// import_checkpoints table. The watermark row is written only after the
// batch lands, so an empty snapshot still leaves a watermark behind.
type ClickhouseFactStore struct {
	conn driver.Conn
}

func NewClickhouseFactStore(ctx context.Context, cfg ClickhouseConfig) (*ClickhouseFactStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	store := &ClickhouseFactStore{conn: conn}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ClickhouseFactStore) ensureSchema(ctx context.Context) error {
	for _, ddl := range []string{serverStatsDDL, importCheckpointsDDL} {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("clickhouse: ensure schema: %w", err)
		}
	}
	return nil
}

// MaxIngestedAt reads the checkpoint. The fact table is folded in so data
// ingested before the watermark table existed still counts.
func (s *ClickhouseFactStore) MaxIngestedAt(ctx context.Context) (time.Time, error) {
	var max time.Time
	err := s.conn.QueryRow(ctx, `
		SELECT greatest(
			(SELECT max(pinged_at) FROM import_checkpoints),
			(SELECT max(pinged_at) FROM server_stats))`).Scan(&max)
	if err != nil {
		return time.Time{}, fmt.Errorf("clickhouse: read checkpoint: %w", err)
	}
	// Empty tables yield the zero DateTime, which compares below every real
	// capture time, matching the epoch default.
	return max.UTC(), nil
}

func (s *ClickhouseFactStore) RecordCheckpoint(ctx context.Context, at time.Time) error {
	err := s.conn.Exec(ctx, "INSERT INTO import_checkpoints (pinged_at) VALUES (?)", at.UTC())
	if err != nil {
		return fmt.Errorf("clickhouse: record checkpoint: %w", err)
	}
	return nil
}

func (s *ClickhouseFactStore) ExistsForCaptureTime(ctx context.Context, at time.Time) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		"SELECT count() FROM server_stats WHERE pinged_at = ?", at.UTC()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("clickhouse: existence check: %w", err)
	}
	return count > 0, nil
}

func (s *ClickhouseFactStore) InsertFacts(ctx context.Context, rows []FactRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO server_stats")
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for _, row := range rows {
		err := batch.Append(
			row.Address,
			row.Port,
			boolToUInt8(row.Online),
			row.Origin,
			row.Hostname,
			row.Gamemode,
			row.Language,
			boolToUInt8(row.Passworded),
			row.Players,
			row.MaxPlayers,
			row.QueryPing,
			row.ICMPPing,
			row.Country,
			row.City,
			row.ASN,
			row.ASNName,
			row.Version,
			row.PingedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("clickhouse: append fact: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}

func (s *ClickhouseFactStore) Close() error {
	return s.conn.Close()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
