package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// ErrFieldNotPatchable is returned by PatchTx for columns outside the
// allow-list.
var ErrFieldNotPatchable = errors.New("field cannot be patched")

// patchableFields lists the bb_application columns a partial update may touch.
// Dates, resources and articles are replaced through their own methods.
var patchableFields = map[string]bool{
	"status":                       true,
	"name":                         true,
	"contact_name":                 true,
	"contact_email":                true,
	"contact_phone":                true,
	"responsible_street":           true,
	"responsible_zip_code":         true,
	"responsible_city":             true,
	"customer_identifier_type":     true,
	"customer_organization_number": true,
	"customer_organization_name":   true,
	"customer_organization_id":     true,
	"description":                  true,
	"equipment":                    true,
	"organizer":                    true,
	"parent_id":                    true,
	"customer_ssn":                 true,
	"session_id":                   true,
	"recurring_info":               true,
}

// IsPatchable reports whether the column may be changed by PatchTx.
func IsPatchable(field string) bool { return patchableFields[field] }

// ApplicationRepo provides persistence for applications and the rows they
// own: dates, resource links, comments and purchase orders.
type ApplicationRepo struct{}

// NewApplicationRepo returns an ApplicationRepo.
func NewApplicationRepo() *ApplicationRepo { return &ApplicationRepo{} }

// CreateTx inserts the application row and sets app.ID.  Dates and
// resources are written separately with ReplaceDatesTx and
// ReplaceResourcesTx.
func (r *ApplicationRepo) CreateTx(ctx context.Context, q DBTX, app *model.Application) error {
	const ins = `INSERT INTO bb_application (
    status, session_id, active, building_id, building_name, activity_id, name, organizer,
    description, equipment, contact_name, contact_email, contact_phone,
    responsible_street, responsible_zip_code, responsible_city, customer_identifier_type,
    customer_organization_number, customer_organization_name, customer_organization_id,
    customer_ssn, parent_id, recurring_info, secret, created, modified
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`
	c := app.Contact
	res, err := q.ExecContext(ctx, ins,
		string(app.Status), nullString(app.SessionID), app.Active, app.BuildingID, app.BuildingName,
		nullUint64(app.ActivityID), app.Name, app.Organizer, app.Description, app.Equipment,
		c.ContactName, c.ContactEmail, c.ContactPhone, c.ResponsibleStreet, c.ResponsibleZipCode,
		c.ResponsibleCity, c.CustomerIdentifierType, c.CustomerOrganizationNumber,
		c.CustomerOrganizationName, nullUint64(c.CustomerOrganizationID), c.CustomerSSN,
		nullUint64(app.ParentID), nullString(app.RecurringInfo), app.Secret,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	app.ID = uint64(id)
	return nil
}

const applicationColumns = `id, status, session_id, active, building_id, building_name, activity_id,
       name, organizer, description, equipment, contact_name, contact_email, contact_phone,
       responsible_street, responsible_zip_code, responsible_city, customer_identifier_type,
       customer_organization_number, customer_organization_name, customer_organization_id,
       customer_ssn, parent_id, recurring_info, secret, created, modified`

// GetTx loads an application with its resources and dates.  ErrNotFound is
// returned when no row matches.
func (r *ApplicationRepo) GetTx(ctx context.Context, q DBTX, id uint64) (*model.Application, error) {
	var (
		app                         model.Application
		status                      string
		sessionID, recurring        sql.NullString
		description, equipment, ssn sql.NullString
		activityID, parentID, orgID sql.NullInt64
	)
	c := &app.Contact
	err := q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM bb_application WHERE id = ?`, id,
	).Scan(
		&app.ID, &status, &sessionID, &app.Active, &app.BuildingID, &app.BuildingName, &activityID,
		&app.Name, &app.Organizer, &description, &equipment, &c.ContactName, &c.ContactEmail, &c.ContactPhone,
		&c.ResponsibleStreet, &c.ResponsibleZipCode, &c.ResponsibleCity, &c.CustomerIdentifierType,
		&c.CustomerOrganizationNumber, &c.CustomerOrganizationName, &orgID,
		&ssn, &parentID, &recurring, &app.Secret, &app.Created, &app.Modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	app.Status = model.ApplicationStatus(status)
	app.SessionID = stringPtr(sessionID)
	app.RecurringInfo = stringPtr(recurring)
	app.Description = description.String
	app.Equipment = equipment.String
	c.CustomerSSN = ssn.String
	app.ActivityID = uint64Ptr(activityID)
	app.ParentID = uint64Ptr(parentID)
	c.CustomerOrganizationID = uint64Ptr(orgID)

	if app.Resources, err = r.resourceIDs(ctx, q, app.ID); err != nil {
		return nil, err
	}
	if app.Dates, err = r.dates(ctx, q, app.ID); err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *ApplicationRepo) resourceIDs(ctx context.Context, q DBTX, appID uint64) ([]uint64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT resource_id FROM bb_application_resource WHERE application_id = ? ORDER BY resource_id`, appID)
	if err != nil {
		return nil, err
	}
	return scanUint64s(rows)
}

func (r *ApplicationRepo) dates(ctx context.Context, q DBTX, appID uint64) ([]model.TimeInterval, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT from_, to_ FROM bb_application_date WHERE application_id = ? ORDER BY from_`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TimeInterval
	for rows.Next() {
		var iv model.TimeInterval
		if err := rows.Scan(&iv.From, &iv.To); err != nil {
			return nil, err
		}
		out = append(out, iv.UTC())
	}
	return out, rows.Err()
}

// ListDraftsTx returns the session's NEWPARTIAL1 applications ordered by id.
func (r *ApplicationRepo) ListDraftsTx(ctx context.Context, q DBTX, sessionID string) ([]model.Application, error) {
	return r.listDrafts(ctx, q, sessionID, "")
}

// LockDraftsTx is ListDraftsTx with FOR UPDATE on the application rows.
// A second checkout of the same session waits for the first and then finds
// no drafts left.
func (r *ApplicationRepo) LockDraftsTx(ctx context.Context, q DBTX, sessionID string) ([]model.Application, error) {
	return r.listDrafts(ctx, q, sessionID, " FOR UPDATE")
}

func (r *ApplicationRepo) listDrafts(ctx context.Context, q DBTX, sessionID, suffix string) ([]model.Application, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM bb_application WHERE session_id = ? AND status = ? AND active = 1 ORDER BY id`+suffix,
		sessionID, string(model.StatusDraft))
	if err != nil {
		return nil, err
	}
	ids, err := scanUint64s(rows)
	if err != nil {
		return nil, err
	}
	out := make([]model.Application, 0, len(ids))
	for _, id := range ids {
		app, err := r.GetTx(ctx, q, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *app)
	}
	return out, nil
}

// ReplaceDatesTx deletes every date of the application and inserts dates.
func (r *ApplicationRepo) ReplaceDatesTx(ctx context.Context, q DBTX, appID uint64, dates []model.TimeInterval) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM bb_application_date WHERE application_id = ?`, appID); err != nil {
		return err
	}
	if len(dates) == 0 {
		return nil
	}
	query := `INSERT INTO bb_application_date (application_id, from_, to_) VALUES `
	args := make([]any, 0, len(dates)*3)
	for i, iv := range dates {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?, ?)"
		args = append(args, appID, iv.From.UTC(), iv.To.UTC())
	}
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// ReplaceResourcesTx deletes every resource link and inserts resourceIDs.
func (r *ApplicationRepo) ReplaceResourcesTx(ctx context.Context, q DBTX, appID uint64, resourceIDs []uint64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM bb_application_resource WHERE application_id = ?`, appID); err != nil {
		return err
	}
	if len(resourceIDs) == 0 {
		return nil
	}
	query := `INSERT INTO bb_application_resource (application_id, resource_id) VALUES `
	args := make([]any, 0, len(resourceIDs)*2)
	for i, rid := range resourceIDs {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?)"
		args = append(args, appID, rid)
	}
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// PatchTx updates the given columns and bumps modified.  Keys outside the
// allow-list are rejected with ErrFieldNotPatchable before any SQL runs.
// Columns are written in sorted order so the statement is deterministic.
func (r *ApplicationRepo) PatchTx(ctx context.Context, q DBTX, appID uint64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !patchableFields[k] {
			return fmt.Errorf("%w: %s", ErrFieldNotPatchable, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		sets = append(sets, k+" = ?")
		args = append(args, fields[k])
	}
	sets = append(sets, "modified = NOW()")
	args = append(args, appID)
	_, err := q.ExecContext(ctx,
		`UPDATE bb_application SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return err
}

// cascadeDeletes lists the statements run by DeleteTx, children first.
var cascadeDeletes = []string{
	`DELETE FROM bb_purchase_order_line WHERE order_id IN (SELECT id FROM bb_purchase_order WHERE application_id = ?)`,
	`DELETE FROM bb_purchase_order WHERE application_id = ?`,
	`DELETE FROM bb_application_comment WHERE application_id = ?`,
	`DELETE FROM bb_application_date WHERE application_id = ?`,
	`DELETE FROM bb_application_resource WHERE application_id = ?`,
	`DELETE FROM bb_application_targetaudience WHERE application_id = ?`,
	`DELETE FROM bb_application_agegroup WHERE application_id = ?`,
	`DELETE FROM bb_application WHERE id = ?`,
}

// DeleteTx removes the application and every row it owns.  Document rows
// and files are handled by DocumentRepo and the document store.  Run it
// inside a transaction so the cascade is all or nothing.
func (r *ApplicationRepo) DeleteTx(ctx context.Context, q DBTX, appID uint64) error {
	for _, stmt := range cascadeDeletes {
		if _, err := q.ExecContext(ctx, stmt, appID); err != nil {
			return err
		}
	}
	return nil
}

// CountUserBookingsTx counts the person's active, non-rejected applications
// for the resource created at or after since, skipping excludeIDs.
func (r *ApplicationRepo) CountUserBookingsTx(ctx context.Context, q DBTX, resourceID uint64, ssn string, since time.Time, excludeIDs []uint64) (int, error) {
	query := `SELECT COUNT(DISTINCT a.id)
FROM bb_application a
JOIN bb_application_resource ar ON ar.application_id = a.id
WHERE ar.resource_id = ?
  AND a.customer_ssn = ?
  AND a.status <> ?
  AND a.active = 1
  AND a.created >= ?`
	args := []any{resourceID, ssn, string(model.StatusRejected), since.UTC()}
	if len(excludeIDs) > 0 {
		query += `
  AND a.id NOT IN (` + placeholders(len(excludeIDs)) + `)`
		args = append(args, uint64Args(excludeIDs)...)
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
