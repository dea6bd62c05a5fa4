package session

import (
	"errors"
	"testing"
	"time"

	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/gate"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSessionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Station{}, &models.Job{}, &models.JobItem{}, &models.JobItemStep{},
		&models.StatusDefinition{}, &models.Session{}, &models.StatusEvent{},
		&models.FirstProductApproval{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fixture is a station with one status definition per machine state and a
// single-step job item.
type fixture struct {
	station models.Station
	setup   models.StatusDefinition
	running models.StatusDefinition
	fault   models.StatusDefinition
	step    models.JobItemStep
}

func newFixture(t *testing.T, db *gorm.DB, gated bool) *fixture {
	t.Helper()
	f := &fixture{
		station: models.Station{Name: "CNC-01", Type: "cnc", Active: true},
		setup:   models.StatusDefinition{Label: "setup", MachineState: models.StateSetup, Active: true},
		running: models.StatusDefinition{Label: "running", MachineState: models.StateProduction, Active: true},
		fault:   models.StatusDefinition{Label: "fault", MachineState: models.StateStoppage, Active: true},
	}
	for _, rec := range []interface{}{&f.station, &f.setup, &f.running, &f.fault} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed fixture: %v", err)
		}
	}
	job := models.Job{Name: "order-1", Active: true}
	if err := db.Create(&job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	item := models.JobItem{JobID: job.ID, Name: "bracket", PlannedQuantity: 10, Active: true}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	f.step = models.JobItemStep{
		JobItemID: item.ID, StationID: f.station.ID, Position: 1,
		Terminal: true, RequiresFirstProduct: gated,
	}
	if err := db.Create(&f.step).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}
	return f
}

func openEvents(t *testing.T, db *gorm.DB, sessionID uint) []models.StatusEvent {
	t.Helper()
	var events []models.StatusEvent
	if err := db.Where("session_id = ? AND ended_at IS NULL", sessionID).
		Find(&events).Error; err != nil {
		t.Fatalf("load open events: %v", err)
	}
	return events
}

func TestOpen_StartsStatusless(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, false)

	sess, err := Open(db, "w-1", f.station.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.CurrentStatusEventID != nil {
		t.Error("new session should carry no status interval")
	}
	if len(openEvents(t, db, sess.ID)) != 0 {
		t.Error("new session should have zero open intervals")
	}
}

func TestTransition_ExactlyOneOpenInterval(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, false)
	t0 := time.Now()

	sess, err := Open(db, "w-1", f.station.ID, 1, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first, err := Transition(db, sess.ID, f.setup.ID, nil, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Transition to setup: %v", err)
	}
	if first.MachineState != models.StateSetup {
		t.Errorf("MachineState = %q, want setup", first.MachineState)
	}

	second, err := Transition(db, sess.ID, f.running.ID, &f.step.ID, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Transition to production: %v", err)
	}
	if second.JobItemStepID == nil || *second.JobItemStepID != f.step.ID {
		t.Errorf("production interval should bind step %d", f.step.ID)
	}

	open := openEvents(t, db, sess.ID)
	if len(open) != 1 {
		t.Fatalf("open intervals = %d, want exactly 1", len(open))
	}
	if open[0].ID != second.ID {
		t.Errorf("open interval = %d, want the latest (%d)", open[0].ID, second.ID)
	}

	var closed models.StatusEvent
	if err := db.First(&closed, first.ID).Error; err != nil {
		t.Fatalf("reload first interval: %v", err)
	}
	if closed.EndedAt == nil || !closed.EndedAt.Equal(second.StartedAt) {
		t.Error("previous interval should close exactly when the next opens")
	}

	var reloaded models.Session
	if err := db.First(&reloaded, sess.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.CurrentStatusEventID == nil || *reloaded.CurrentStatusEventID != second.ID {
		t.Errorf("CurrentStatusEventID = %v, want %d", reloaded.CurrentStatusEventID, second.ID)
	}
}

func TestTransition_ProductionRequiresStep(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, false)

	sess, err := Open(db, "w-1", f.station.ID, 1, time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = Transition(db, sess.ID, f.running.ID, nil, time.Now())
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestTransition_RejectsForeignStep(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, false)
	t0 := time.Now()

	other := models.Station{Name: "PRESS-01", Type: "press", Active: true}
	job2 := models.Job{Name: "order-2", Active: true}
	for _, rec := range []interface{}{&other, &job2} {
		if err := db.Create(rec).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	item2 := models.JobItem{JobID: job2.ID, Name: "panel", PlannedQuantity: 5, Active: true}
	if err := db.Create(&item2).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	otherStationStep := models.JobItemStep{JobItemID: item2.ID, StationID: other.ID, Position: 1, Terminal: true}
	if err := db.Create(&otherStationStep).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}

	sess, err := Open(db, "w-1", f.station.ID, 1, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Step bound to a different station.
	_, err = Transition(db, sess.ID, f.running.ID, &otherStationStep.ID, t0.Add(time.Minute))
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("foreign-station step = %v, want ErrValidation", err)
	}

	// Step at the session's station but under a different job.
	item3 := models.JobItem{JobID: job2.ID, Name: "lid", PlannedQuantity: 5, Active: true}
	if err := db.Create(&item3).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	otherJobStep := models.JobItemStep{JobItemID: item3.ID, StationID: f.station.ID, Position: 1, Terminal: true}
	if err := db.Create(&otherJobStep).Error; err != nil {
		t.Fatalf("seed step: %v", err)
	}
	_, err = Transition(db, sess.ID, f.running.ID, &otherJobStep.ID, t0.Add(time.Minute))
	if !errors.Is(err, fault.ErrValidation) {
		t.Errorf("foreign-job step = %v, want ErrValidation", err)
	}

	// Neither rejection opened an interval.
	if len(openEvents(t, db, sess.ID)) != 0 {
		t.Error("rejected transitions must not open intervals")
	}

	// The session's own step still works.
	if _, err := Transition(db, sess.ID, f.running.ID, &f.step.ID, t0.Add(2*time.Minute)); err != nil {
		t.Errorf("own step transition: %v", err)
	}
}

func TestTransition_GateRejectionKeepsPreviousInterval(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, true)
	t0 := time.Now()

	sess, err := Open(db, "w-1", f.station.ID, 1, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	setupEvent, err := Transition(db, sess.ID, f.setup.ID, nil, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Transition to setup: %v", err)
	}

	// Unapproved gate: the production transition fails and the setup
	// interval stays open untouched.
	_, err = Transition(db, sess.ID, f.running.ID, &f.step.ID, t0.Add(2*time.Minute))
	if !errors.Is(err, fault.ErrInvariant) {
		t.Fatalf("error = %v, want ErrInvariant", err)
	}
	open := openEvents(t, db, sess.ID)
	if len(open) != 1 || open[0].ID != setupEvent.ID {
		t.Fatalf("setup interval should remain the open one, got %+v", open)
	}

	// Approve and retry.
	if _, err := gate.Submit(db, f.step.ID, sess.ID, "first piece ok"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := gate.Approve(db, f.step.ID, "qa"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := Transition(db, sess.ID, f.running.ID, &f.step.ID, t0.Add(3*time.Minute)); err != nil {
		t.Fatalf("Transition after approval: %v", err)
	}
}

func TestClose_Completed(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, false)
	t0 := time.Now()

	sess, err := Open(db, "w-1", f.station.ID, 1, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Transition(db, sess.ID, f.setup.ID, nil, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	end := t0.Add(10 * time.Minute)
	if err := Close(db, sess.ID, ReasonCompleted, end); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var reloaded models.Session
	if err := db.First(&reloaded, sess.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Status != models.SessionCompleted {
		t.Errorf("Status = %q, want completed", reloaded.Status)
	}
	if reloaded.EndedAt == nil || !reloaded.EndedAt.Equal(end) {
		t.Errorf("EndedAt = %v, want %v", reloaded.EndedAt, end)
	}
	if reloaded.ActiveStationID != nil {
		t.Error("ActiveStationID should be cleared so the station frees up")
	}
	if len(openEvents(t, db, sess.ID)) != 0 {
		t.Error("close should end the open interval")
	}

	// A closed session rejects everything.
	if _, err := Transition(db, sess.ID, f.setup.ID, nil, end.Add(time.Minute)); !errors.Is(err, fault.ErrInvariant) {
		t.Errorf("transition after close = %v, want ErrInvariant", err)
	}
	if err := Close(db, sess.ID, ReasonCompleted, end.Add(time.Minute)); !errors.Is(err, fault.ErrInvariant) {
		t.Errorf("double close = %v, want ErrInvariant", err)
	}
}

func TestClose_StationFreesForNextWorker(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, false)
	t0 := time.Now()

	sess, err := Open(db, "w-1", f.station.ID, 1, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := Close(db, sess.ID, ReasonCompleted, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Close: %v", err)
	}

	next, err := Open(db, "w-2", f.station.ID, 1, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Open after close: %v", err)
	}
	if next.ID == sess.ID {
		t.Error("next worker should get a fresh session")
	}
}

func TestForceClose(t *testing.T) {
	db := openSessionTestDB(t)
	f := newFixture(t, db, false)
	t0 := time.Now()

	sess, err := Open(db, "w-1", f.station.ID, 1, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	end := t0.Add(time.Hour)
	if err := ForceClose(db, sess.ID, end); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}

	var reloaded models.Session
	if err := db.First(&reloaded, sess.ID).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.Status != models.SessionForcedClosed {
		t.Errorf("Status = %q, want forced_closed", reloaded.Status)
	}
	if reloaded.ForcedClosedAt == nil || !reloaded.ForcedClosedAt.Equal(end) {
		t.Errorf("ForcedClosedAt = %v, want %v", reloaded.ForcedClosedAt, end)
	}
}

func TestClose_UnknownReason(t *testing.T) {
	db := openSessionTestDB(t)
	if err := Close(db, 1, "abandoned", time.Now()); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}
