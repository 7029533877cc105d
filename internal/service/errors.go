package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
)

// ErrSlotLockConflict is returned when another request is booking the same
// slot right now.  Clients may retry after a short delay.
var ErrSlotLockConflict = errors.New("slot is being booked by someone else")

// Re-exported repository sentinels so callers only import this package.
var (
	ErrNotFound  = repository.ErrNotFound
	ErrForbidden = repository.ErrForbidden
	ErrNotDraft  = repository.ErrNotDraft
)

// SlotOccupiedError reports a durable collision.  Conflicts holds every
// conflicting row; the first one drives the message.
type SlotOccupiedError struct {
	Conflicts []model.Conflict
}

func (e *SlotOccupiedError) Error() string {
	if len(e.Conflicts) == 0 {
		return "slot occupied"
	}
	c := e.Conflicts[0]
	if c.Kind == model.KindTime {
		return fmt.Sprintf("slot occupied: %s", c.Reason)
	}
	return fmt.Sprintf("slot occupied: %s by %s %d", c.Reason, c.Kind, c.ConflictingID)
}

// Reason returns the reason of the first conflict.
func (e *SlotOccupiedError) Reason() model.OverlapReason {
	if len(e.Conflicts) == 0 {
		return ""
	}
	return e.Conflicts[0].Reason
}

// BookingLimitError reports that the requester reached a resource's rolling
// booking limit.
type BookingLimitError struct {
	ResourceID   uint64 `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	Current      int    `json:"current"`
	Requested    int    `json:"requested"`
	Limit        int    `json:"limit"`
	HorizonDays  int    `json:"horizon_days"`
}

func (e *BookingLimitError) Error() string {
	return fmt.Sprintf("booking limit exceeded for resource %d: %d existing + %d requested > %d within %d days",
		e.ResourceID, e.Current, e.Requested, e.Limit, e.HorizonDays)
}

// ValidationError carries field level messages the client can fix.
type ValidationError struct {
	Fields map[string]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

func fieldError(field, msg string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

// PersistenceError wraps a database failure that aborted an operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// persistence wraps err unless it is nil or already a domain error.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		occupied *SlotOccupiedError
		limit    *BookingLimitError
		invalid  *ValidationError
		pe       *PersistenceError
	)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden), errors.Is(err, ErrNotDraft),
		errors.Is(err, ErrSlotLockConflict),
		errors.As(err, &occupied), errors.As(err, &limit), errors.As(err, &invalid), errors.As(err, &pe):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
