package repository

import (
	"context"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// EventRepo writes confirmed events.
type EventRepo struct{}

// NewEventRepo returns an EventRepo.
func NewEventRepo() *EventRepo { return &EventRepo{} }

// CreateTx inserts the event and its resource links and sets ev.ID.
func (r *EventRepo) CreateTx(ctx context.Context, q DBTX, ev *model.Event) error {
	c := ev.Contact
	res, err := q.ExecContext(ctx,
		`INSERT INTO bb_event (
    application_id, building_id, building_name, activity_id, name, organizer, from_, to_, active,
    contact_name, contact_email, contact_phone, customer_identifier_type,
    customer_organization_number, customer_ssn, secret, created
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP())`,
		nullUint64(ev.ApplicationID), ev.BuildingID, ev.BuildingName, nullUint64(ev.ActivityID),
		ev.Name, ev.Organizer, ev.Interval.From.UTC(), ev.Interval.To.UTC(),
		c.ContactName, c.ContactEmail, c.ContactPhone, c.CustomerIdentifierType,
		c.CustomerOrganizationNumber, c.CustomerSSN, ev.Secret,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	ev.Active = true
	for _, rid := range ev.Resources {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO bb_event_resource (event_id, resource_id) VALUES (?, ?)`, ev.ID, rid); err != nil {
			return err
		}
	}
	return nil
}

// CountForApplicationTx returns how many events the application produced.
func (r *EventRepo) CountForApplicationTx(ctx context.Context, q DBTX, appID uint64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bb_event WHERE application_id = ?`, appID).Scan(&n)
	return n, err
}
