package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
)

// CheckoutInput is the contact and customer data submitted with a cart.
type CheckoutInput struct {
	Contact       model.ContactInfo
	OrganizerName string
	EventTitle    string
	// SSN is the authenticated requester's identity.  When empty the SSN in
	// Contact is used.
	SSN string
	// BuildingParentIDs picks the parent application per building.
	// ParentID is the older single-parent form, used when the map is empty.
	BuildingParentIDs map[uint64]uint64
	ParentID          *uint64
}

func (in CheckoutInput) ssn() string {
	if in.SSN != "" {
		return in.SSN
	}
	return in.Contact.CustomerSSN
}

// fields returns the columns merged into every draft.
func (in CheckoutInput) fields() map[string]any {
	c := in.Contact
	f := map[string]any{
		"contact_name":                 strings.TrimSpace(c.ContactName),
		"contact_email":                strings.TrimSpace(c.ContactEmail),
		"contact_phone":                strings.TrimSpace(c.ContactPhone),
		"responsible_street":           strings.TrimSpace(c.ResponsibleStreet),
		"responsible_zip_code":         strings.TrimSpace(c.ResponsibleZipCode),
		"responsible_city":             strings.TrimSpace(c.ResponsibleCity),
		"customer_identifier_type":     c.CustomerIdentifierType,
		"customer_organization_number": c.CustomerOrganizationNumber,
		"customer_organization_name":   c.CustomerOrganizationName,
		"customer_organization_id":     c.CustomerOrganizationID,
		"organizer":                    strings.TrimSpace(in.OrganizerName),
	}
	if ssn := in.ssn(); ssn != "" {
		f["customer_ssn"] = ssn
	}
	if title := strings.TrimSpace(in.EventTitle); title != "" {
		f["name"] = title
	}
	return f
}

// apply mirrors fields onto the in-memory application.
func (in CheckoutInput) apply(app *model.Application) {
	ssn := app.Contact.CustomerSSN
	app.Contact = in.Contact
	app.Contact.CustomerSSN = ssn
	if s := in.ssn(); s != "" {
		app.Contact.CustomerSSN = s
	}
	app.Organizer = strings.TrimSpace(in.OrganizerName)
	if title := strings.TrimSpace(in.EventTitle); title != "" {
		app.Name = title
	}
}

// resolveParents returns the parent application id per building.  Given
// parents must be part of the cart, non-recurring and in the building they
// are given for.  Buildings without one get their first non-recurring
// application.
func resolveParents(apps []model.Application, in CheckoutInput) (map[uint64]uint64, error) {
	byID := make(map[uint64]model.Application, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}
	parents := make(map[uint64]uint64, len(in.BuildingParentIDs))
	for b, p := range in.BuildingParentIDs {
		parents[b] = p
	}
	if len(parents) == 0 && in.ParentID != nil {
		a, ok := byID[*in.ParentID]
		if !ok {
			return nil, fieldError("parent_id", fmt.Sprintf("application %d is not part of this checkout", *in.ParentID))
		}
		parents[a.BuildingID] = a.ID
	}
	for b, p := range parents {
		a, ok := byID[p]
		switch {
		case !ok:
			return nil, fieldError("building_parent_ids", fmt.Sprintf("application %d is not part of this checkout", p))
		case a.BuildingID != b:
			return nil, fieldError("building_parent_ids",
				fmt.Sprintf("application %d belongs to building %d, not %d", p, a.BuildingID, b))
		case a.IsRecurring():
			return nil, fieldError("building_parent_ids", fmt.Sprintf("recurring application %d cannot be a parent", p))
		}
	}
	for _, a := range apps {
		if a.IsRecurring() {
			continue
		}
		if _, ok := parents[a.BuildingID]; !ok {
			parents[a.BuildingID] = a.ID
		}
	}
	return parents, nil
}

// decide runs the direct booking decision table for one application.
//
//	not eligible                    -> NEW
//	eligible, recurring             -> NEW
//	eligible, collision             -> REJECTED
//	eligible, no collision          -> ACCEPTED
func (s *ApplicationService) decide(ctx context.Context, q repository.DBTX, app model.Application, ssn, sessionID string, forUpdate bool) (model.ApplicationStatus, Eligibility, []model.Conflict, error) {
	e, err := s.elig.Check(ctx, q, app, ssn)
	if err != nil {
		return "", e, nil, err
	}
	if !e.Eligible || app.IsRecurring() {
		return model.StatusNew, e, nil, nil
	}
	conflicts, err := s.collisions(ctx, q, app, sessionID, forUpdate)
	if err != nil {
		return "", e, nil, err
	}
	if len(conflicts) > 0 {
		return model.StatusRejected, e, conflicts, nil
	}
	return model.StatusAccepted, e, nil, nil
}

// collisions re-runs the conflict query for every date of the application.
// Rows owned by the same cart do not count.
func (s *ApplicationService) collisions(ctx context.Context, q repository.DBTX, app model.Application, sessionID string, forUpdate bool) ([]model.Conflict, error) {
	var out []model.Conflict
	for _, iv := range app.Dates {
		cs, err := s.st.Conflicts.FindConflictsTx(ctx, q, repository.ConflictQuery{
			ResourceIDs:           app.Resources,
			Interval:              iv,
			ExcludeSessionID:      sessionID,
			ExcludeApplicationIDs: []uint64{app.ID},
			ForUpdate:             forUpdate,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, cs...)
	}
	return out, nil
}

// CheckoutResult splits the cart into submitted and rejected applications.
type CheckoutResult struct {
	Updated   []model.Application         `json:"updated"`
	Skipped   []model.Application         `json:"skipped"`
	Conflicts map[uint64][]model.Conflict `json:"conflicts,omitempty"`
	Events    []model.Event               `json:"-"`
}

// Checkout submits every draft in the session.  Each draft gets the contact
// data, a parent for notification grouping and its final status from the
// decision table.  Accepted applications get their events.  Applications
// that lost their slot since drafting are REJECTED and returned in Skipped;
// that is not an error.
func (s *ApplicationService) Checkout(ctx context.Context, sessionID string, in CheckoutInput) (*CheckoutResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fieldError("session_id", "session is required")
	}
	if v := ValidateCheckoutData(in); v != nil {
		return nil, v
	}

	var result *CheckoutResult
	err := withTx(ctx, s.db, "checkout", func(tx *sql.Tx) error {
		result = &CheckoutResult{Conflicts: make(map[uint64][]model.Conflict)}
		drafts, err := s.st.Applications.LockDraftsTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			return fieldError("applications", "no draft applications in this session")
		}
		parents, err := resolveParents(drafts, in)
		if err != nil {
			return err
		}

		for i := range drafts {
			app := &drafts[i]
			in.apply(app)
			status, _, conflicts, err := s.decide(ctx, tx, *app, in.ssn(), sessionID, true)
			if err != nil {
				return err
			}

			fields := in.fields()
			fields["status"] = string(status)
			fields["session_id"] = nil
			if app.IsRecurring() {
				fields["parent_id"] = nil
				app.ParentID = nil
			} else {
				parent := parents[app.BuildingID]
				fields["parent_id"] = parent
				app.ParentID = &parent
			}
			if err := s.st.Applications.PatchTx(ctx, tx, app.ID, fields); err != nil {
				return err
			}
			// the application row holds the slot from here on
			if _, err := releaseBlocks(ctx, tx, s.st.Blocks, app); err != nil {
				return err
			}
			app.Status, app.SessionID = status, nil

			switch status {
			case model.StatusAccepted:
				evs, err := materializeEvents(ctx, tx, s.st.Events, app)
				if err != nil {
					return err
				}
				result.Events = append(result.Events, evs...)
				result.Updated = append(result.Updated, *app)
			case model.StatusRejected:
				result.Conflicts[app.ID] = conflicts
				result.Skipped = append(result.Skipped, *app)
			default:
				result.Updated = append(result.Updated, *app)
			}
		}
		return nil
	})
	if err != nil {
		var invalid *ValidationError
		if !errors.As(err, &invalid) {
			s.log.Error("checkout failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, err
	}

	s.log.Info("checkout completed", zap.String("session_id", sessionID),
		zap.Int("updated", len(result.Updated)), zap.Int("skipped", len(result.Skipped)),
		zap.Int("events", len(result.Events)))
	notifyGrouped(ctx, s.notifier, s.log, result.Updated, true)
	return result, nil
}

// ApplicationCheck is the preflight verdict for one draft.
type ApplicationCheck struct {
	ApplicationID uint64           `json:"application_id"`
	DirectBooking bool             `json:"direct_booking"`
	Valid         bool             `json:"valid"`
	Reason        string           `json:"reason,omitempty"`
	Conflicts     []model.Conflict `json:"conflicts,omitempty"`
}

// CheckoutValidation is the result of a checkout dry run.
type CheckoutValidation struct {
	Valid        bool                `json:"valid"`
	Errors       map[string]string   `json:"errors,omitempty"`
	LimitErrors  []BookingLimitError `json:"limit_errors,omitempty"`
	Applications []ApplicationCheck  `json:"applications"`
}

func (v *CheckoutValidation) addError(field, msg string) {
	if v.Errors == nil {
		v.Errors = make(map[string]string)
	}
	v.Errors[field] = msg
	v.Valid = false
}

// ValidateCheckout runs the checkout checks without writing anything:
// contact data, parent selection, booking limits for the cart as a whole
// and collisions for every application that would be accepted directly.
func (s *ApplicationService) ValidateCheckout(ctx context.Context, sessionID string, in CheckoutInput) (*CheckoutValidation, error) {
	out := &CheckoutValidation{Valid: true}
	if v := ValidateCheckoutData(in); v != nil {
		for k, msg := range v.Fields {
			out.addError(k, msg)
		}
	}
	drafts, err := s.st.Applications.ListDraftsTx(ctx, s.db, sessionID)
	if err != nil {
		return nil, persistence("validate checkout", err)
	}
	if len(drafts) == 0 {
		out.addError("applications", "no draft applications in this session")
		return out, nil
	}
	if _, err := resolveParents(drafts, in); err != nil {
		var invalid *ValidationError
		if !errors.As(err, &invalid) {
			return nil, err
		}
		for k, msg := range invalid.Fields {
			out.addError(k, msg)
		}
	}

	limits, err := s.batchLimits(ctx, drafts, in.ssn())
	if err != nil {
		return nil, persistence("validate checkout", err)
	}
	if len(limits) > 0 {
		out.LimitErrors = limits
		out.Valid = false
	}

	for _, app := range drafts {
		in.apply(&app)
		status, e, conflicts, err := s.decide(ctx, s.db, app, in.ssn(), sessionID, false)
		if err != nil {
			return nil, persistence("validate checkout", err)
		}
		check := ApplicationCheck{
			ApplicationID: app.ID,
			DirectBooking: status == model.StatusAccepted,
			Valid:         status != model.StatusRejected,
			Reason:        e.Reason,
			Conflicts:     conflicts,
		}
		if !check.Valid {
			out.Valid = false
		}
		out.Applications = append(out.Applications, check)
	}
	return out, nil
}

// batchLimits checks each limited resource against the number of cart
// items that use it: existing + in cart > limit is an error.
func (s *ApplicationService) batchLimits(ctx context.Context, drafts []model.Application, ssn string) ([]BookingLimitError, error) {
	if ssn == "" {
		return nil, nil
	}
	counts := make(map[uint64]int)
	var resourceIDs, appIDs []uint64
	for _, app := range drafts {
		appIDs = append(appIDs, app.ID)
		for _, rid := range uniqueIDs(app.Resources) {
			if counts[rid] == 0 {
				resourceIDs = append(resourceIDs, rid)
			}
			counts[rid]++
		}
	}
	resources, err := s.st.Resources.ListByIDsTx(ctx, s.db, resourceIDs)
	if err != nil {
		return nil, err
	}
	var out []BookingLimitError
	now := s.now()
	for i := range resources {
		res := &resources[i]
		limit, err := limitCheck(ctx, s.db, s.st.Applications, res, ssn, now, counts[res.ID], appIDs)
		if err != nil {
			return nil, err
		}
		if limit != nil {
			out = append(out, *limit)
		}
	}
	return out, nil
}
