package model

import "time"

// Resource is a bookable room, field or hall inside a building.  The booking
// core only reads resources; they are never mutated during a transaction.
//
// Fields:
//
//	ID                    – primary key identifier.
//	BuildingID            – building the resource belongs to.
//	Name                  – display name.
//	ActivityID            – default activity used for simple bookings.
//	Active                – inactive resources cannot be booked.
//	SimpleBooking         – resource accepts single-slot cart bookings.
//	DirectBooking         – cutoff; slots starting at or after it may be auto-accepted.
//	BookingLimitNumber    – max bookings per person inside the horizon (0 = none).
//	BookingLimitHorizon   – rolling window in days for BookingLimitNumber.
//	ActivatePrepayment    – bookings must be paid before approval.
//	BookingBufferDeadline – minutes before start at which booking closes.
type Resource struct {
	ID                    uint64     // bb_resource.id
	BuildingID            uint64     // bb_building_resource.building_id
	Name                  string     // bb_resource.name
	ActivityID            *uint64    // bb_resource.activity_id (nullable)
	Active                bool       // bb_resource.active
	SimpleBooking         bool       // bb_resource.simple_booking
	DirectBooking         *time.Time // bb_resource.direct_booking (nullable)
	BookingLimitNumber    int        // bb_resource.booking_limit_number
	BookingLimitHorizon   int        // bb_resource.booking_limit_number_horizont
	ActivatePrepayment    bool       // bb_resource.activate_prepayment
	BookingBufferDeadline int        // bb_resource.booking_buffer_deadline
}

// HasBookingLimit reports whether a rolling per-person limit applies.
func (r Resource) HasBookingLimit() bool {
	return r.BookingLimitNumber > 0 && r.BookingLimitHorizon > 0
}

// HorizonStart returns the start of the rolling limit window ending at now.
func (r Resource) HorizonStart(now time.Time) time.Time {
	return now.AddDate(0, 0, -r.BookingLimitHorizon)
}

// BufferDuration converts BookingBufferDeadline to a duration.
func (r Resource) BufferDuration() time.Duration {
	return time.Duration(r.BookingBufferDeadline) * time.Minute
}
