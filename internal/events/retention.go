package events

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DeleteOlderThan removes events past the retention horizon from the
// relational store. A zero or negative day count disables retention.
// The columnar store keeps its own TTL; this never touches it.
func DeleteOlderThan(db *gorm.DB, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res := db.Where("timestamp < ?", cutoff).Delete(&Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete events before %s: %w", cutoff, res.Error)
	}
	return res.RowsAffected, nil
}
