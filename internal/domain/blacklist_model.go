package domain

import "time"

// GameServerBlacklist is a time-bounded exclusion entry. Entries are never
// deleted; expiry is evaluated lazily when the candidate set is built.
type GameServerBlacklist struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Address   string    `gorm:"size:64;index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
