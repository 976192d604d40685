package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// GameServer is the persisted registry of every address the crawler has ever
// seen, along with its current-state fields maintained by the importer.
type GameServer struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Address string `gorm:"uniqueIndex;size:64;not null"` // host:port identity
	IP      string `gorm:"size:45;index"`
	Port    uint16 `gorm:"not null"`
	Origin  string `gorm:"size:16;default:'registry'"`

	LastSuccessfulPing *time.Time
	LastFailedPing     *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// SplitAddress breaks a host:port identity into its parts.
func SplitAddress(address string) (string, uint16, error) {
	host, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("split address %q: %w", address, err)
	}
	port, err := strconv.ParseUint(rawPort, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("parse port in %q: %w", address, err)
	}
	return host, uint16(port), nil
}

// NormalizeAddress trims list artifacts and validates the host:port shape.
// Master lists occasionally carry blank lines or trailing whitespace.
func NormalizeAddress(raw string) (string, bool) {
	address := strings.TrimSpace(raw)
	if address == "" {
		return "", false
	}
	if !strings.Contains(address, ":") {
		address += ":7777"
	}
	if _, _, err := SplitAddress(address); err != nil {
		return "", false
	}
	return address, true
}
