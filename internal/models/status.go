package models

// MachineState classifies a status definition for time accounting. Display
// labels are free configuration layered on top; only this tag drives the
// state machine and the duration buckets.
type MachineState string

const (
	StateProduction MachineState = "production"
	StateSetup      MachineState = "setup"
	StateStoppage   MachineState = "stoppage"
)

// Valid reports whether the state is one of the closed set.
func (s MachineState) Valid() bool {
	switch s {
	case StateProduction, StateSetup, StateStoppage:
		return true
	}
	return false
}

// StatusDefinition is a labeled operating mode, global or scoped to a
// station type. Stoppage variants (fault, stopped, waiting-client,
// plate-change) are distinct labels that all carry MachineState stoppage.
type StatusDefinition struct {
	ID           uint         `gorm:"primaryKey;autoIncrement"`
	Label        string       `gorm:"size:64;not null;uniqueIndex:idx_label_scope"`
	MachineState MachineState `gorm:"size:16;not null"`
	StationType  string       `gorm:"size:32;uniqueIndex:idx_label_scope"` // empty = global
	Active       bool         `gorm:"default:true"`
}
