package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/gate"
	"github.com/zulandar/floorline/internal/occupancy"
	"github.com/zulandar/floorline/internal/pipeline"
	"github.com/zulandar/floorline/internal/session"
	"github.com/zulandar/floorline/internal/timecard"
	"gorm.io/gorm"
)

// parseID reads a numeric path parameter, aborting with 400 on garbage.
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// writeFault maps the core error taxonomy onto HTTP status codes.
func writeFault(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, fault.ErrInvariant):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, fault.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func claimStation(db *gorm.DB) gin.HandlerFunc {
	type claimRequest struct {
		WorkerID string `json:"worker_id" binding:"required"`
		JobID    uint   `json:"job_id" binding:"required"`
	}
	return func(c *gin.Context) {
		stationID, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req claimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := session.Open(db, req.WorkerID, stationID, req.JobID, time.Now())
		if err != nil {
			writeFault(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

func stationOccupancy(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stationID, ok := parseID(c, "id")
		if !ok {
			return
		}
		state, err := occupancy.Resolve(db, stationID, c.Query("worker_id"), time.Now())
		if err != nil {
			writeFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"is_occupied":     state.Occupied,
			"is_grace_period": state.GracePeriod,
			"occupied_by":     state.WorkerID,
			"session_id":      state.SessionID,
		})
	}
}

func stationItems(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stationID, ok := parseID(c, "id")
		if !ok {
			return
		}
		items, err := pipeline.AvailableItems(db, stationID)
		if err != nil {
			writeFault(c, err)
			return
		}
		type itemRow struct {
			JobItemID     uint   `json:"job_item_id"`
			Name          string `json:"name"`
			StepID        uint   `json:"step_id"`
			Position      int    `json:"position"`
			CompletedGood int    `json:"completed_good"`
			Remaining     int    `json:"remaining"`
		}
		rows := make([]itemRow, len(items))
		for i, a := range items {
			rows[i] = itemRow{
				JobItemID:     a.Item.ID,
				Name:          a.Item.Name,
				StepID:        a.Step.ID,
				Position:      a.Step.Position,
				CompletedGood: a.CompletedGood,
				Remaining:     a.Remaining,
			}
		}
		c.JSON(http.StatusOK, rows)
	}
}

func sessionHeartbeat(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := parseID(c, "id")
		if !ok {
			return
		}
		if err := occupancy.Heartbeat(db, sessionID, time.Now()); err != nil {
			writeFault(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func sessionStatus(db *gorm.DB) gin.HandlerFunc {
	type statusRequest struct {
		StatusDefinitionID uint  `json:"status_definition_id" binding:"required"`
		JobItemStepID      *uint `json:"job_item_step_id"`
	}
	return func(c *gin.Context) {
		sessionID, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		event, err := session.Transition(db, sessionID, req.StatusDefinitionID, req.JobItemStepID, time.Now())
		if err != nil {
			writeFault(c, err)
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

func sessionProduction(db *gorm.DB) gin.HandlerFunc {
	type productionRequest struct {
		StepID     uint `json:"step_id" binding:"required"`
		GoodDelta  int  `json:"good_delta"`
		ScrapDelta int  `json:"scrap_delta"`
	}
	return func(c *gin.Context) {
		sessionID, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req productionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		balance, err := pipeline.ReportProduction(db, sessionID, req.StepID, req.GoodDelta, req.ScrapDelta)
		if err != nil {
			writeFault(c, err)
			return
		}
		c.JSON(http.StatusOK, balance)
	}
}

func sessionClose(db *gorm.DB) gin.HandlerFunc {
	type closeRequest struct {
		Reason string `json:"reason"`
	}
	return func(c *gin.Context) {
		sessionID, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req closeRequest
		// An empty body means a plain operator completion.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Reason == "" {
			req.Reason = session.ReasonCompleted
		}
		if err := session.Close(db, sessionID, req.Reason, time.Now()); err != nil {
			writeFault(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func sessionSummary(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := parseID(c, "id")
		if !ok {
			return
		}
		sum, err := timecard.Summarize(db, sessionID, time.Now())
		if err != nil {
			writeFault(c, err)
			return
		}
		resp := gin.H{
			"setup_seconds":      sum.Setup.Seconds(),
			"production_seconds": sum.Production.Seconds(),
			"stoppage_seconds":   sum.Stoppage.Seconds(),
			"untracked_seconds":  sum.Untracked.Seconds(),
			"total_seconds":      sum.Total.Seconds(),
		}
		if sum.Current != nil {
			resp["current"] = gin.H{
				"label":           sum.Current.Label,
				"machine_state":   sum.Current.MachineState,
				"started_at":      sum.Current.StartedAt,
				"elapsed_seconds": sum.Current.Elapsed.Seconds(),
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func gateCheck(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stepID, ok := parseID(c, "id")
		if !ok {
			return
		}
		g, err := gate.Check(db, stepID)
		if err != nil {
			writeFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"required": g.Required, "status": g.Status})
	}
}

func gateSubmit(db *gorm.DB) gin.HandlerFunc {
	type submitRequest struct {
		SessionID uint   `json:"session_id" binding:"required"`
		Evidence  string `json:"evidence"`
	}
	return func(c *gin.Context) {
		stepID, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		approval, err := gate.Submit(db, stepID, req.SessionID, req.Evidence)
		if err != nil {
			writeFault(c, err)
			return
		}
		c.JSON(http.StatusCreated, approval)
	}
}

func gateApprove(db *gorm.DB) gin.HandlerFunc {
	type approveRequest struct {
		ApprovedBy string `json:"approved_by" binding:"required"`
	}
	return func(c *gin.Context) {
		stepID, ok := parseID(c, "id")
		if !ok {
			return
		}
		var req approveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := gate.Approve(db, stepID, req.ApprovedBy); err != nil {
			writeFault(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
