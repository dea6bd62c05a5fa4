package pipeline

import (
	"errors"
	"testing"

	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/gorm"
)

// wipFixture builds an n-step pipeline with an active session and an open
// production interval at every step.
type wipFixture struct {
	item     *models.JobItem
	sessions []*models.Session
}

func newWipFixture(t *testing.T, db *gorm.DB, n, planned int) *wipFixture {
	t.Helper()
	job, stations := seedLine(t, db, n)

	specs := make([]StepSpec, n)
	for i := range specs {
		specs[i] = StepSpec{StationID: stations[i]}
	}
	item, err := CreateItem(db, job.ID, "bracket", planned, specs)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	f := &wipFixture{item: item}
	for i := 0; i < n; i++ {
		sess := activeSession(t, db, stations[i])
		openProductionEvent(t, db, sess.ID, item.ID, item.Steps[i].ID, 0)
		f.sessions = append(f.sessions, sess)
	}
	return f
}

func (f *wipFixture) balance(t *testing.T, db *gorm.DB, pos int) int {
	t.Helper()
	var bal models.WipBalance
	if err := db.First(&bal, "job_item_step_id = ?", f.item.Steps[pos-1].ID).Error; err != nil {
		t.Fatalf("load balance at position %d: %v", pos, err)
	}
	return bal.GoodAvailable
}

func (f *wipFixture) report(db *gorm.DB, pos, good, scrap int) (*models.WipBalance, error) {
	return ReportProduction(db, f.sessions[pos-1].ID, f.item.Steps[pos-1].ID, good, scrap)
}

func TestReportProduction_ChainPropagation(t *testing.T) {
	db := openPipelineTestDB(t)
	f := newWipFixture(t, db, 3, 100)

	if _, err := f.report(db, 1, 10, 0); err != nil {
		t.Fatalf("report step 1: %v", err)
	}
	if got := f.balance(t, db, 1); got != 10 {
		t.Errorf("balance(1) = %d, want 10", got)
	}

	if _, err := f.report(db, 2, 4, 0); err != nil {
		t.Fatalf("report step 2: %v", err)
	}
	if got := f.balance(t, db, 1); got != 6 {
		t.Errorf("balance(1) = %d, want 6 after downstream consumed 4", got)
	}
	if got := f.balance(t, db, 2); got != 4 {
		t.Errorf("balance(2) = %d, want 4", got)
	}

	if _, err := f.report(db, 3, 2, 0); err != nil {
		t.Fatalf("report step 3: %v", err)
	}
	if got := f.balance(t, db, 2); got != 2 {
		t.Errorf("balance(2) = %d, want 2", got)
	}
	if got := f.balance(t, db, 3); got != 2 {
		t.Errorf("balance(3) = %d, want 2", got)
	}

	var progress models.JobItemProgress
	if err := db.First(&progress, "job_item_id = ?", f.item.ID).Error; err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if progress.CompletedGood != 2 {
		t.Errorf("progress = %d, want 2 (terminal step only)", progress.CompletedGood)
	}
}

func TestReportProduction_NegativeDeltaBlockedByDownstream(t *testing.T) {
	db := openPipelineTestDB(t)
	f := newWipFixture(t, db, 2, 200)

	if _, err := f.report(db, 1, 100, 0); err != nil {
		t.Fatalf("report step 1: %v", err)
	}
	if _, err := f.report(db, 2, 95, 0); err != nil {
		t.Fatalf("report step 2: %v", err)
	}

	// 100 completed, 95 pulled downstream: the correction floor is 95.
	if _, err := f.report(db, 1, -10, 0); !errors.Is(err, fault.ErrInvariant) {
		t.Errorf("report -10 = %v, want ErrInvariant", err)
	}
	if got := f.balance(t, db, 1); got != 5 {
		t.Errorf("balance(1) = %d, want 5 unchanged after rejected report", got)
	}

	if _, err := f.report(db, 1, -5, 0); err != nil {
		t.Fatalf("report -5: %v", err)
	}
	if got := f.balance(t, db, 1); got != 0 {
		t.Errorf("balance(1) = %d, want 0 after correction", got)
	}
}

func TestReportProduction_CorrectionAndConsumptionSerialize(t *testing.T) {
	// Two sessions on adjacent steps: with completed(1)=100 and
	// completed(2)=85, a -10 correction at step 1 and a +15 report at
	// step 2 cannot both stand. Reports serialize on the job item row,
	// so whichever lands second sees the other's write and fails the
	// flow check, in either order.
	t.Run("consumption lands first", func(t *testing.T) {
		db := openPipelineTestDB(t)
		f := newWipFixture(t, db, 2, 200)
		if _, err := f.report(db, 1, 100, 0); err != nil {
			t.Fatalf("seed step 1: %v", err)
		}
		if _, err := f.report(db, 2, 85, 0); err != nil {
			t.Fatalf("seed step 2: %v", err)
		}

		if _, err := f.report(db, 2, 15, 0); err != nil {
			t.Fatalf("report +15: %v", err)
		}
		if _, err := f.report(db, 1, -10, 0); !errors.Is(err, fault.ErrInvariant) {
			t.Errorf("report -10 after +15 = %v, want ErrInvariant", err)
		}
		if got := f.balance(t, db, 1); got != 0 {
			t.Errorf("balance(1) = %d, want 0", got)
		}
	})

	t.Run("correction lands first", func(t *testing.T) {
		db := openPipelineTestDB(t)
		f := newWipFixture(t, db, 2, 200)
		if _, err := f.report(db, 1, 100, 0); err != nil {
			t.Fatalf("seed step 1: %v", err)
		}
		if _, err := f.report(db, 2, 85, 0); err != nil {
			t.Fatalf("seed step 2: %v", err)
		}

		if _, err := f.report(db, 1, -10, 0); err != nil {
			t.Fatalf("report -10: %v", err)
		}
		if _, err := f.report(db, 2, 15, 0); !errors.Is(err, fault.ErrInvariant) {
			t.Errorf("report +15 after -10 = %v, want ErrInvariant", err)
		}
		if got := f.balance(t, db, 1); got != 5 {
			t.Errorf("balance(1) = %d, want 5", got)
		}
	})
}

func TestReportProduction_OverConsumptionBlockedByUpstream(t *testing.T) {
	db := openPipelineTestDB(t)
	f := newWipFixture(t, db, 2, 200)

	if _, err := f.report(db, 1, 5, 0); err != nil {
		t.Fatalf("report step 1: %v", err)
	}

	// Downstream cannot report more than upstream has produced.
	if _, err := f.report(db, 2, 6, 0); !errors.Is(err, fault.ErrInvariant) {
		t.Errorf("over-consumption = %v, want ErrInvariant", err)
	}
	if _, err := f.report(db, 2, 5, 0); err != nil {
		t.Fatalf("report step 2: %v", err)
	}
	if got := f.balance(t, db, 1); got != 0 {
		t.Errorf("balance(1) = %d, want 0", got)
	}
}

func TestReportProduction_ReturningUnitsRefillsUpstream(t *testing.T) {
	db := openPipelineTestDB(t)
	f := newWipFixture(t, db, 2, 200)

	if _, err := f.report(db, 1, 10, 0); err != nil {
		t.Fatalf("report step 1: %v", err)
	}
	if _, err := f.report(db, 2, 6, 0); err != nil {
		t.Fatalf("report step 2: %v", err)
	}
	if _, err := f.report(db, 2, -2, 0); err != nil {
		t.Fatalf("correct step 2: %v", err)
	}
	if got := f.balance(t, db, 1); got != 6 {
		t.Errorf("balance(1) = %d, want 6 after return", got)
	}
	if got := f.balance(t, db, 2); got != 4 {
		t.Errorf("balance(2) = %d, want 4", got)
	}
}

func TestReportProduction_ScrapOnlyLeavesBalances(t *testing.T) {
	db := openPipelineTestDB(t)
	f := newWipFixture(t, db, 2, 200)

	if _, err := f.report(db, 1, 0, 3); err != nil {
		t.Fatalf("scrap-only report: %v", err)
	}
	if got := f.balance(t, db, 1); got != 0 {
		t.Errorf("balance(1) = %d, want 0 (scrap never enters the flow)", got)
	}

	var event models.StatusEvent
	if err := db.Where("session_id = ? AND ended_at IS NULL", f.sessions[0].ID).
		First(&event).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.QuantityScrap != 3 {
		t.Errorf("QuantityScrap = %d, want 3", event.QuantityScrap)
	}
}

func TestReportProduction_Rejections(t *testing.T) {
	db := openPipelineTestDB(t)
	f := newWipFixture(t, db, 2, 200)

	if _, err := f.report(db, 1, 0, 0); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("zero deltas = %v, want ErrValidation", err)
	}
	if _, err := f.report(db, 1, -1, 0); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("counter below zero = %v, want ErrValidation", err)
	}
	if _, err := f.report(db, 1, 0, -1); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("scrap below zero = %v, want ErrValidation", err)
	}
	if _, err := ReportProduction(db, 9999, f.item.Steps[0].ID, 1, 0); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("unknown session = %v, want ErrNotFound", err)
	}
	if _, err := ReportProduction(db, f.sessions[0].ID, 9999, 1, 0); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("unknown step = %v, want ErrNotFound", err)
	}
}

func TestReportProduction_NoOpenProductionInterval(t *testing.T) {
	db := openPipelineTestDB(t)
	job, stations := seedLine(t, db, 1)
	item, err := CreateItem(db, job.ID, "bracket", 10, []StepSpec{{StationID: stations[0]}})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	sess := activeSession(t, db, stations[0])

	// Session exists but never entered production at this step.
	_, err = ReportProduction(db, sess.ID, item.Steps[0].ID, 1, 0)
	if !errors.Is(err, fault.ErrInvariant) {
		t.Errorf("error = %v, want ErrInvariant", err)
	}
}

func TestReportProduction_ClosedSession(t *testing.T) {
	db := openPipelineTestDB(t)
	f := newWipFixture(t, db, 1, 10)

	db.Model(f.sessions[0]).Updates(map[string]interface{}{
		"status":            models.SessionCompleted,
		"active_station_id": nil,
	})

	if _, err := f.report(db, 1, 1, 0); !errors.Is(err, fault.ErrInvariant) {
		t.Errorf("error = %v, want ErrInvariant", err)
	}
	if got := f.balance(t, db, 1); got != 0 {
		t.Errorf("balance(1) = %d, closed session must not mutate the ledger", got)
	}
}
