package importer

import (
	"context"
	"time"

	"kestrel/internal/domain"
)

// FactRow is one time-series observation derived from a ProbeResult. Failures
// are recorded too, with Online=false and zeroed gameplay fields, so the fact
// stream accounts for every candidate of every run.
type FactRow struct {
	Address    string
	Port       uint16
	Online     bool
	Origin     string
	Hostname   string
	Gamemode   string
	Language   string
	Passworded bool
	Players    int32
	MaxPlayers int32
	QueryPing  int64
	ICMPPing   float64
	Country    string
	City       string
	ASN        int32
	ASNName    string
	Version    string
	PingedAt   time.Time
}

// FactStore is the downstream analytical store. The checkpoint is the newest
// capture time whose ingestion fully completed. RecordCheckpoint is the last
// write of an ingestion; a crash before it leaves the snapshot selectable
// again, and the existence guard keeps the rerun from double-counting its
// facts. Recording the checkpoint separately from the facts is what lets a
// snapshot with zero results advance past itself.
type FactStore interface {
	MaxIngestedAt(ctx context.Context) (time.Time, error)
	ExistsForCaptureTime(ctx context.Context, at time.Time) (bool, error)
	InsertFacts(ctx context.Context, rows []FactRow) error
	RecordCheckpoint(ctx context.Context, at time.Time) error
}

func factFromResult(result domain.ProbeResult, capturedAt time.Time) FactRow {
	row := FactRow{
		Address:  result.IP.Address,
		Port:     result.Port,
		Origin:   result.Origin,
		Country:  orUnknown(result.IP.Country),
		City:     orUnknown(result.IP.City),
		ASN:      asnOrUnknown(result.IP.ASN.Number),
		ASNName:  orUnknown(result.IP.ASN.OrgName),
		PingedAt: capturedAt,
	}
	if result.IP.Ping != nil {
		row.ICMPPing = *result.IP.Ping
	} else {
		row.ICMPPing = -1
	}

	payload := result.Payload
	if payload == nil {
		row.Version = "unknown"
		return row
	}

	row.Online = true
	row.Hostname = payload.Hostname
	row.Gamemode = payload.Gamemode
	row.Language = payload.Language
	row.Passworded = payload.Passworded
	row.Players = int32(payload.Online)
	row.MaxPlayers = int32(payload.MaxPlayers)
	row.QueryPing = payload.Ping
	row.Version = orUnknown(payload.Rules["version"])
	return row
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// asnOrUnknown maps a missing ASN to -1. AS0 is reserved, so zero always
// means the lookup found nothing.
func asnOrUnknown(number uint) int32 {
	if number == 0 {
		return -1
	}
	return int32(number)
}
