// Package dashboard serves the read-only live board: JSON snapshots of
// station occupancy, session durations and WIP balances, plus an SSE stream
// that re-derives the board when the underlying rows change. Rendering is a
// client concern; this layer only exposes the recomputed state.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB   *gorm.DB
	Port int
	Out  io.Writer
}

// Register mounts the dashboard routes on an existing router, so the board
// can share a listener with the operator API.
func Register(router *gin.Engine, db *gorm.DB) {
	router.GET("/board", handleBoard(db))
	router.GET("/board/events", handleSSE(db))
}

// Start launches a standalone dashboard HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	Register(router, opts.DB)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Board running at http://localhost:%d/board\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func handleBoard(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := BoardSnapshot(db)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}
