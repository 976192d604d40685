package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const keySuffix = ".json.gz"

// SnapshotKey derives the object key for a capture time. Keys sort
// lexicographically by capture time within a day, which is what the importer's
// sequential scan relies on.
func SnapshotKey(prefix string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%d/%d/%d/%s%s",
		strings.TrimSuffix(prefix, "/"),
		at.Year(), int(at.Month()), at.Day(),
		at.Format(time.RFC3339), keySuffix)
}

// ParseSnapshotTime recovers the capture time embedded in an object key.
func ParseSnapshotTime(key string) (time.Time, error) {
	name := path.Base(key)
	raw, ok := strings.CutSuffix(name, keySuffix)
	if !ok {
		return time.Time{}, fmt.Errorf("storage: key %q is not a snapshot", key)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse capture time in %q: %w", key, err)
	}
	return at.UTC(), nil
}
