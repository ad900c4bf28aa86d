package control

import "fmt"

// State is the activity state of the worker task group. It has exactly
// one writer, the control task; everyone else only reads it.
type State int32

const (
	// Active means every group member is running its periodic loop.
	Active State = iota
	// Suspended means every group member is held by the scheduler.
	Suspended
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Suspended:
		return "suspended"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
