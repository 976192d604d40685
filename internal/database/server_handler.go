package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kestrel/internal/domain"
)

const serverInsertBatchSize = 500

// ServerStore wraps the persisted address registry and the current-state rows
// derived from ingested snapshots.
type ServerStore struct {
	db *gorm.DB
}

func NewServerStore(db *gorm.DB) *ServerStore {
	return &ServerStore{db: db}
}

// KnownAddresses returns every host:port the registry has ever recorded.
func (s *ServerStore) KnownAddresses(ctx context.Context) ([]string, error) {
	var addresses []string
	err := s.db.WithContext(ctx).
		Model(&domain.GameServer{}).
		Pluck("address", &addresses).Error
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

// NonOpenMPAddresses returns the addresses already classified with an origin
// other than openmp. The aggregator uses this to keep origin attribution
// stable run-to-run.
func (s *ServerStore) NonOpenMPAddresses(ctx context.Context) ([]string, error) {
	var addresses []string
	err := s.db.WithContext(ctx).
		Model(&domain.GameServer{}).
		Where("origin <> ?", domain.OriginOpenMP.String()).
		Pluck("address", &addresses).Error
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

// RegisterServers records addresses discovered during a crawl. Existing rows
// are left untouched; this only fills registry gaps so the next run queries
// newly seen hosts even when the master lists drop them.
func (s *ServerStore) RegisterServers(ctx context.Context, servers []domain.GameServer) error {
	if len(servers) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).CreateInBatches(servers, serverInsertBatchSize).Error
}

// CurrentStateUpdate carries the per-address fields the importer is allowed
// to touch. Everything else on an existing row is preserved.
type CurrentStateUpdate struct {
	Address    string
	IP         string
	Port       uint16
	Origin     string
	Online     bool
	CapturedAt time.Time
}

// UpsertCurrentState merges probe outcomes into the registry: last-success or
// last-failure timestamps plus origin, never overwriting unrelated fields.
// The merge is idempotent, so the importer can safely replay a snapshot.
func (s *ServerStore) UpsertCurrentState(ctx context.Context, updates []CurrentStateUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	rows := make([]domain.GameServer, 0, len(updates))
	for _, u := range updates {
		row := domain.GameServer{
			Address: u.Address,
			IP:      u.IP,
			Port:    u.Port,
			Origin:  u.Origin,
		}
		at := u.CapturedAt
		if u.Online {
			row.LastSuccessfulPing = &at
		} else {
			row.LastFailedPing = &at
		}
		rows = append(rows, row)
	}

	tx := s.db.WithContext(ctx)
	for _, row := range rows {
		assignments := map[string]any{"origin": row.Origin}
		if row.LastSuccessfulPing != nil {
			assignments["last_successful_ping"] = *row.LastSuccessfulPing
		} else {
			assignments["last_failed_ping"] = *row.LastFailedPing
		}

		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(assignments),
		}).Create(&row).Error
		if err != nil {
			return err
		}
	}
	return nil
}
