package supervisor

import "fmt"

// State is the lifecycle state of the supervised service.
//
//	Idle -> Starting -> Ready -> Running -> Stopping -> Stopped
//	           |
//	           +-> Failed (spawn error, readiness timeout, early exit)
type State int

const (
	Idle State = iota
	Starting
	Ready
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
