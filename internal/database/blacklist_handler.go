package database

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"

	"kestrel/internal/domain"
)

// BlacklistStore is the time-bounded exclusion ledger. Exclusion is a
// best-effort backoff optimisation: insert failures are logged and counted,
// never propagated.
type BlacklistStore struct {
	db *gorm.DB

	// InsertFailures counts swallowed insert errors so tests and operators
	// can observe the fire-and-forget path.
	insertFailures atomic.Int64
}

func NewBlacklistStore(db *gorm.DB) *BlacklistStore {
	return &BlacklistStore{db: db}
}

// Exclude quarantines an address for base plus a uniformly random jitter in
// [0, base). The jitter keeps a batch of simultaneous failures from
// re-entering the candidate set as one synchronized wave.
func (s *BlacklistStore) Exclude(ctx context.Context, address string, base time.Duration) {
	jitter := time.Duration(rand.Int64N(int64(base)))
	entry := domain.GameServerBlacklist{
		Address:   address,
		ExpiresAt: time.Now().Add(base + jitter),
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.insertFailures.Add(1)
		log.Warn("failed to record blacklist entry", "address", address, "error", err)
	}
}

// ActiveExclusions returns the addresses whose exclusion has not yet lapsed.
// Expired entries are simply filtered out; nothing is deleted.
func (s *BlacklistStore) ActiveExclusions(ctx context.Context, now time.Time) (map[string]struct{}, error) {
	var addresses []string
	err := s.db.WithContext(ctx).
		Model(&domain.GameServerBlacklist{}).
		Where("expires_at > ?", now).
		Pluck("address", &addresses).Error
	if err != nil {
		return nil, err
	}

	active := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		active[address] = struct{}{}
	}
	return active, nil
}

func (s *BlacklistStore) InsertFailures() int64 {
	return s.insertFailures.Load()
}
