package model

// ConflictKind names the table a conflicting row came from.
type ConflictKind string

const (
	KindBlock       ConflictKind = "block"
	KindApplication ConflictKind = "application"
	KindAllocation  ConflictKind = "allocation"
	KindEvent       ConflictKind = "event"
	// KindTime marks a conflict with the clock rather than a stored row.
	KindTime ConflictKind = "time"
)

// Conflict is one reason a candidate interval is unavailable.
type Conflict struct {
	Kind          ConflictKind  `json:"kind"`
	ConflictingID uint64        `json:"conflicting_id,omitempty"`
	ResourceID    uint64        `json:"resource_id"`
	Interval      TimeInterval  `json:"interval"`
	Status        string        `json:"status,omitempty"`
	Reason        OverlapReason `json:"reason"`
	Type          OverlapType   `json:"type"`
}

// Message returns the user facing text for the conflict.
func (c Conflict) Message() string { return OverlapMessage(c.Reason) }
