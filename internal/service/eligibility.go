package service

import (
	"context"
	"time"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
)

// Eligibility explains a direct-booking decision.
type Eligibility struct {
	Eligible bool
	Reason   string
	Limit    *BookingLimitError
}

// EligibilityChecker decides whether an application may be accepted
// without staff review.
type EligibilityChecker struct {
	resources ResourceReader
	apps      ApplicationStore
	now       func() time.Time
}

// NewEligibilityChecker returns a checker reading from st.
func NewEligibilityChecker(st Stores) *EligibilityChecker {
	return &EligibilityChecker{resources: st.Resources, apps: st.Applications, now: time.Now}
}

// Check evaluates every resource of app.  Each one must have a direct
// booking cutoff at or before the application's earliest date, and when
// ssn is known and the resource has a rolling limit, the person's other
// bookings plus this one must stay within it.  Recurring applications are
// not special here; the checkout decision table routes them to review.
func (e *EligibilityChecker) Check(ctx context.Context, q repository.DBTX, app model.Application, ssn string) (Eligibility, error) {
	if len(app.Resources) == 0 {
		return Eligibility{Reason: "application has no resources"}, nil
	}
	earliest, ok := app.EarliestStart()
	if !ok {
		return Eligibility{Reason: "application has no dates"}, nil
	}
	resources, err := e.resources.ListByIDsTx(ctx, q, app.Resources)
	if err != nil {
		return Eligibility{}, err
	}
	if len(resources) != len(uniqueIDs(app.Resources)) {
		return Eligibility{Reason: "unknown resource"}, nil
	}
	now := e.now()
	for i := range resources {
		res := &resources[i]
		if res.DirectBooking == nil {
			return Eligibility{Reason: "direct booking is not enabled for " + res.Name}, nil
		}
		if earliest.Before(*res.DirectBooking) {
			return Eligibility{Reason: "direct booking opens later for " + res.Name}, nil
		}
		var exclude []uint64
		if app.ID != 0 {
			exclude = []uint64{app.ID}
		}
		limit, err := limitCheck(ctx, q, e.apps, res, ssn, now, 1, exclude)
		if err != nil {
			return Eligibility{}, err
		}
		if limit != nil {
			return Eligibility{Reason: "booking limit reached", Limit: limit}, nil
		}
	}
	return Eligibility{Eligible: true}, nil
}

func uniqueIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
