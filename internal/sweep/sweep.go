// Package sweep houses the housekeeping pass that force-closes sessions
// whose heartbeat went silent long ago. Correctness never depends on it:
// occupancy and claims evaluate grace lazily from stored timestamps. The
// sweep only reclaims stations from sessions nobody is coming back for.
package sweep

import (
	"errors"
	"time"

	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/models"
	"github.com/zulandar/floorline/internal/session"
	"gorm.io/gorm"
)

// DefaultIdleThreshold is how long a session may miss heartbeats before the
// sweep force-closes it. Kept well above the occupancy grace window so the
// sweep never races a worker mid-reconnect.
const DefaultIdleThreshold = 15 * time.Minute

// ForceCloseAbandoned force-closes every active session whose last heartbeat
// is older than idleFor. Returns the number of sessions closed. Each close
// goes through the regular transactional session close, so intervals are
// stamped and stations released exactly as on an administrative force-close.
func ForceCloseAbandoned(db *gorm.DB, idleFor time.Duration, asOf time.Time) (int, error) {
	if idleFor <= 0 {
		idleFor = DefaultIdleThreshold
	}
	cutoff := asOf.Add(-idleFor)

	var stale []models.Session
	err := db.Where("status = ? AND COALESCE(last_seen_at, started_at) < ?",
		models.SessionActive, cutoff).Find(&stale).Error
	if err != nil {
		return 0, fault.Storef("sweep: list stale sessions: %v", err)
	}

	closed := 0
	for _, s := range stale {
		if err := session.ForceClose(db, s.ID, asOf); err != nil {
			// A session that closed or resumed between the scan and the
			// close is fine to skip; anything else aborts the sweep.
			if errors.Is(err, fault.ErrInvariant) || errors.Is(err, fault.ErrNotFound) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}
