package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// ResourceRepo reads bookable resources and their buildings.  Resources are
// read-only to the booking core.  The repository is stateless: every method
// takes the handle (database or transaction) it should run on.
type ResourceRepo struct{}

// NewResourceRepo returns a ResourceRepo.
func NewResourceRepo() *ResourceRepo { return &ResourceRepo{} }

const resourceColumns = `r.id, COALESCE(br.building_id, 0), r.name, r.activity_id, r.active,
       r.simple_booking, r.direct_booking, r.booking_limit_number,
       r.booking_limit_number_horizont, r.activate_prepayment, r.booking_buffer_deadline`

func scanResource(sc interface{ Scan(...any) error }) (model.Resource, error) {
	var (
		res        model.Resource
		activityID sql.NullInt64
		direct     sql.NullInt64
	)
	err := sc.Scan(&res.ID, &res.BuildingID, &res.Name, &activityID, &res.Active,
		&res.SimpleBooking, &direct, &res.BookingLimitNumber,
		&res.BookingLimitHorizon, &res.ActivatePrepayment, &res.BookingBufferDeadline)
	if err != nil {
		return model.Resource{}, err
	}
	res.ActivityID = uint64Ptr(activityID)
	// direct_booking is stored as a unix timestamp; 0 means unset.
	if direct.Valid && direct.Int64 > 0 {
		cutoff := time.Unix(direct.Int64, 0).UTC()
		res.DirectBooking = &cutoff
	}
	return res, nil
}

// GetByIDTx loads one resource.  ErrNotFound is returned when it does not exist.
func (r *ResourceRepo) GetByIDTx(ctx context.Context, q DBTX, id uint64) (*model.Resource, error) {
	query := `SELECT ` + resourceColumns + `
FROM bb_resource r
LEFT JOIN bb_building_resource br ON br.resource_id = r.id
WHERE r.id = ?
LIMIT 1`
	res, err := scanResource(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListByIDsTx loads the resources with the given ids.  Missing ids are
// silently skipped; callers compare lengths when they need all of them.
func (r *ResourceRepo) ListByIDsTx(ctx context.Context, q DBTX, ids []uint64) ([]model.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + resourceColumns + `
FROM bb_resource r
LEFT JOIN bb_building_resource br ON br.resource_id = r.id
WHERE r.id IN (` + placeholders(len(ids)) + `)
ORDER BY r.id`
	rows, err := q.QueryContext(ctx, query, uint64Args(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Resource
	seen := make(map[uint64]bool, len(ids))
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		// a resource linked to several buildings appears once per link
		if seen[res.ID] {
			continue
		}
		seen[res.ID] = true
		out = append(out, res)
	}
	return out, rows.Err()
}

// BuildingNameTx returns the name of an active building.
func (r *ResourceRepo) BuildingNameTx(ctx context.Context, q DBTX, buildingID uint64) (string, error) {
	var name string
	err := q.QueryRowContext(ctx,
		`SELECT name FROM bb_building WHERE id = ? AND active = 1`, buildingID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}
