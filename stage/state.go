package stage

// State is the lifecycle state of a Stage. Transitions only move forward:
// Idle → Running → Stopping → Stopped. A stop requested before Run moves an
// idle stage straight to Stopping.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}
