package dashboard

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/gorm"
)

// Change-detection and emission cadence. A status transition and a
// production report often land as two near-simultaneous writes; the debounce
// window coalesces them into one recompute instead of two.
const (
	pollInterval      = 500 * time.Millisecond
	debounceWindow    = 100 * time.Millisecond
	heartbeatInterval = 15 * time.Second
)

// changeToken fingerprints the mutable state the board is derived from.
// Heartbeats deliberately don't participate: they would retrigger every few
// seconds without changing anything the board shows.
type changeToken struct {
	LastEventID    uint
	OpenEvents     int64
	BalanceSum     int64
	QuantitySum    int64
	ActiveSessions int64
	ClosedSessions int64
}

// handleSSE streams board snapshots: one on connect, then one per detected
// change after the debounce window, plus periodic keepalive heartbeats.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		if db == nil {
			return
		}

		last, err := currentToken(db)
		if err == nil {
			emitBoard(c, db)
		}

		ctx := c.Request.Context()
		poll := time.NewTicker(pollInterval)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer poll.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-poll.C:
				token, err := currentToken(db)
				if err != nil || token == last {
					continue
				}
				// Let adjacent writes settle, then recompute once.
				time.Sleep(debounceWindow)
				if settled, err := currentToken(db); err == nil {
					token = settled
				}
				last = token
				emitBoard(c, db)
			}
		}
	}
}

// currentToken reads the board fingerprint from the store.
func currentToken(db *gorm.DB) (changeToken, error) {
	var t changeToken

	var lastID sql.NullInt64
	if err := db.Model(&models.StatusEvent{}).Select("MAX(id)").Scan(&lastID).Error; err != nil {
		return t, err
	}
	t.LastEventID = uint(lastID.Int64)
	if err := db.Model(&models.StatusEvent{}).Where("ended_at IS NULL").Count(&t.OpenEvents).Error; err != nil {
		return t, err
	}
	var balanceSum sql.NullInt64
	if err := db.Model(&models.WipBalance{}).Select("SUM(good_available)").Scan(&balanceSum).Error; err != nil {
		return t, err
	}
	t.BalanceSum = balanceSum.Int64
	// A mid-pipeline report moves units between two balances and leaves the
	// sum unchanged; the quantity counters still move.
	var quantitySum sql.NullInt64
	if err := db.Model(&models.StatusEvent{}).
		Select("SUM(quantity_good + quantity_scrap)").Scan(&quantitySum).Error; err != nil {
		return t, err
	}
	t.QuantitySum = quantitySum.Int64
	if err := db.Model(&models.Session{}).Where("status = ?", models.SessionActive).
		Count(&t.ActiveSessions).Error; err != nil {
		return t, err
	}
	if err := db.Model(&models.Session{}).Where("status != ?", models.SessionActive).
		Count(&t.ClosedSessions).Error; err != nil {
		return t, err
	}
	return t, nil
}

// emitBoard writes one full board snapshot as an SSE event.
func emitBoard(c *gin.Context, db *gorm.DB) {
	snap, err := BoardSnapshot(db)
	if err != nil {
		return
	}
	writeSSE(c.Writer, "board", snap)
	c.Writer.Flush()
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
