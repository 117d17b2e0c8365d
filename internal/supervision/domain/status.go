package supervision

import "fmt"

// Status is the supervision status of a process, equipment or sub-equipment.
type Status string

const (
	StatusDown         Status = "DOWN"
	StatusStartup      Status = "STARTUP"
	StatusRunning      Status = "RUNNING"
	StatusRunningLocal Status = "RUNNING_LOCAL"
	StatusStopped      Status = "STOPPED"
	StatusUncertain    Status = "UNCERTAIN"
)

// Statuses lists every supervision status.
func Statuses() []Status {
	return []Status{StatusDown, StatusStartup, StatusRunning, StatusRunningLocal, StatusStopped, StatusUncertain}
}

// Valid returns true for members of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusDown, StatusStartup, StatusRunning, StatusRunningLocal, StatusStopped, StatusUncertain:
		return true
	default:
		return false
	}
}

// Running classifies the status. Every status belongs to exactly one group;
// an unknown value is a programming error.
func (s Status) Running() bool {
	switch s {
	case StatusStartup, StatusRunning, StatusRunningLocal:
		return true
	case StatusDown, StatusStopped, StatusUncertain:
		return false
	default:
		panic(fmt.Sprintf("supervision: unclassified status %q", string(s)))
	}
}

// ParseStatus converts a wire value into a status.
func ParseStatus(value string) (Status, error) {
	status := Status(value)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return status, nil
}

// Kind identifies the supervised entity type.
type Kind string

const (
	KindProcess      Kind = "process"
	KindEquipment    Kind = "equipment"
	KindSubEquipment Kind = "subequipment"
)

// Valid returns true for known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProcess, KindEquipment, KindSubEquipment:
		return true
	default:
		return false
	}
}

// ChildKind returns the kind of directly owned children.
func (k Kind) ChildKind() (Kind, bool) {
	switch k {
	case KindProcess:
		return KindEquipment, true
	case KindEquipment:
		return KindSubEquipment, true
	default:
		return "", false
	}
}

// ParentKind returns the kind of the owning entity.
func (k Kind) ParentKind() (Kind, bool) {
	switch k {
	case KindEquipment:
		return KindProcess, true
	case KindSubEquipment:
		return KindEquipment, true
	default:
		return "", false
	}
}
