package model

import (
	"errors"
	"time"
)

// ErrInvalidInterval is returned when an interval does not end after it starts.
var ErrInvalidInterval = errors.New("interval must end after it starts")

// TimeInterval is a half-open time range [From, To).  Two intervals that
// share only a boundary (one ends at 10:00, the next starts at 10:00) are
// adjacent and do not overlap.
type TimeInterval struct {
	From time.Time `json:"from_"` // inclusive start
	To   time.Time `json:"to_"`   // exclusive end
}

// NewInterval builds an interval and validates its ordering.
func NewInterval(from, to time.Time) (TimeInterval, error) {
	iv := TimeInterval{From: from, To: to}
	if err := iv.Validate(); err != nil {
		return TimeInterval{}, err
	}
	return iv, nil
}

// Validate reports ErrInvalidInterval unless From is strictly before To.
func (iv TimeInterval) Validate() error {
	if iv.From.IsZero() || iv.To.IsZero() || !iv.From.Before(iv.To) {
		return ErrInvalidInterval
	}
	return nil
}

// Duration returns the length of the interval.
func (iv TimeInterval) Duration() time.Duration { return iv.To.Sub(iv.From) }

// UTC returns a copy with both endpoints converted to UTC.
func (iv TimeInterval) UTC() TimeInterval {
	return TimeInterval{From: iv.From.UTC(), To: iv.To.UTC()}
}

// Overlaps reports whether a and b conflict: a.From < b.To && a.To > b.From.
// The SQL conflict queries in the repository package use the same predicate.
func Overlaps(a, b TimeInterval) bool {
	return a.From.Before(b.To) && a.To.After(b.From)
}

// Overlaps is the method form of the package level Overlaps.
func (iv TimeInterval) Overlaps(other TimeInterval) bool { return Overlaps(iv, other) }

// OverlapReason names how a candidate interval collides with existing occupancy.
type OverlapReason string

const (
	ReasonCompleteOverlap      OverlapReason = "complete_overlap"
	ReasonCompleteContainment  OverlapReason = "complete_containment"
	ReasonStartOverlap         OverlapReason = "start_overlap"
	ReasonEndOverlap           OverlapReason = "end_overlap"
	ReasonTimeInPast           OverlapReason = "time_in_past"
	ReasonBookingLimitExceeded OverlapReason = "booking_limit_exceeded"
)

// OverlapType is the coarse classification shown to users.
type OverlapType string

const (
	OverlapComplete OverlapType = "complete"
	OverlapPartial  OverlapType = "partial"
	OverlapDisabled OverlapType = "disabled"
)

// Classify describes how the candidate interval relates to an existing one.
// ok is false exactly when the two do not overlap, so the classification can
// never disagree with Overlaps.
//
//	complete_overlap:      candidate covers existing entirely
//	complete_containment:  candidate lies strictly inside existing
//	start_overlap:         candidate starts at or before existing and ends inside it
//	end_overlap:           candidate starts inside existing and ends at or after it
func Classify(candidate, existing TimeInterval) (OverlapReason, OverlapType, bool) {
	if !Overlaps(candidate, existing) {
		return "", "", false
	}
	switch {
	case !candidate.From.After(existing.From) && !candidate.To.Before(existing.To):
		return ReasonCompleteOverlap, OverlapComplete, true
	case candidate.From.After(existing.From) && candidate.To.Before(existing.To):
		return ReasonCompleteContainment, OverlapComplete, true
	case !candidate.From.After(existing.From):
		return ReasonStartOverlap, OverlapPartial, true
	default:
		return ReasonEndOverlap, OverlapPartial, true
	}
}

// InPast reports whether the interval starts before now plus the buffer.
func (iv TimeInterval) InPast(now time.Time, buffer time.Duration) bool {
	return !iv.From.After(now.Add(buffer))
}

// OverlapMessage returns the user facing text for a reason.
func OverlapMessage(reason OverlapReason) string {
	switch reason {
	case ReasonTimeInPast:
		return "Booking time is in the past"
	case ReasonCompleteOverlap:
		return "Timeslot is already booked"
	case ReasonCompleteContainment:
		return "Another booking exists within this timeslot"
	case ReasonStartOverlap:
		return "Timeslot overlaps with the start of another booking"
	case ReasonEndOverlap:
		return "Timeslot overlaps with the end of another booking"
	case ReasonBookingLimitExceeded:
		return "Booking limit exceeded for this period"
	default:
		return "Timeslot is not available"
	}
}

// Earliest returns the interval with the smallest start, or false for an empty slice.
func Earliest(ivs []TimeInterval) (TimeInterval, bool) {
	if len(ivs) == 0 {
		return TimeInterval{}, false
	}
	first := ivs[0]
	for _, iv := range ivs[1:] {
		if iv.From.Before(first.From) {
			first = iv
		}
	}
	return first, true
}
