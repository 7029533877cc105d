package repository

import (
	"context"
	"time"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// ConflictQuery describes a candidate reservation to check against the four
// occupancy sources.
type ConflictQuery struct {
	ResourceIDs []uint64
	Interval    model.TimeInterval

	// ExcludeSessionID skips blocks and draft applications owned by this
	// session, so a cart never collides with itself.
	ExcludeSessionID string
	// ExcludeApplicationIDs skips these applications, used when an
	// application is re-validated at checkout.
	ExcludeApplicationIDs []uint64

	// ForUpdate adds FOR UPDATE to every query so competing booking
	// transactions serialize on the matched rows.
	ForUpdate bool

	// Now enables the time_in_past check when non-zero: a candidate that
	// starts at or before Now+Buffer is reported regardless of stored rows.
	Now    time.Time
	Buffer time.Duration
}

// ReservationStore finds rows that conflict with a candidate interval.
// Every path uses the same half-open predicate as model.Overlaps:
// existing.from_ < candidate.to AND existing.to_ > candidate.from.
type ReservationStore struct{}

// NewReservationStore returns a ReservationStore.
func NewReservationStore() *ReservationStore { return &ReservationStore{} }

// overlapClause renders the canonical overlap predicate for a table alias.
// Its two arguments are (candidate.To, candidate.From), see overlapArgs.
func overlapClause(alias string) string {
	return alias + ".from_ < ? AND " + alias + ".to_ > ?"
}

func overlapArgs(iv model.TimeInterval) []any {
	return []any{iv.To.UTC(), iv.From.UTC()}
}

type occupancyRow struct {
	kind       model.ConflictKind
	id         uint64
	resourceID uint64
	status     string
	iv         model.TimeInterval
}

// FindConflictsTx returns every conflict for the query, each classified by
// reason and type.  An empty result means the slot is free.
func (s *ReservationStore) FindConflictsTx(ctx context.Context, q DBTX, cq ConflictQuery) ([]model.Conflict, error) {
	if err := cq.Interval.Validate(); err != nil {
		return nil, err
	}
	var out []model.Conflict
	if !cq.Now.IsZero() && cq.Interval.InPast(cq.Now, cq.Buffer) {
		for _, rid := range cq.ResourceIDs {
			out = append(out, model.Conflict{
				Kind:       model.KindTime,
				ResourceID: rid,
				Interval:   cq.Interval,
				Reason:     model.ReasonTimeInPast,
				Type:       model.OverlapDisabled,
			})
		}
	}
	if len(cq.ResourceIDs) == 0 {
		return out, nil
	}

	for _, find := range []func(context.Context, DBTX, ConflictQuery) ([]occupancyRow, error){
		s.blocks, s.applications, s.allocations, s.events,
	} {
		rows, err := find(ctx, q, cq)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			reason, typ, ok := model.Classify(cq.Interval, row.iv)
			if !ok {
				// the SQL predicate and Classify agree; this only guards
				// against rows scanned with a different time zone
				continue
			}
			out = append(out, model.Conflict{
				Kind:          row.kind,
				ConflictingID: row.id,
				ResourceID:    row.resourceID,
				Interval:      row.iv,
				Status:        row.status,
				Reason:        reason,
				Type:          typ,
			})
		}
	}
	return out, nil
}

func lockSuffix(cq ConflictQuery) string {
	if cq.ForUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (s *ReservationStore) blocks(ctx context.Context, q DBTX, cq ConflictQuery) ([]occupancyRow, error) {
	query := `SELECT b.id, b.resource_id, b.from_, b.to_
FROM bb_block b
WHERE b.active = 1
  AND b.resource_id IN (` + placeholders(len(cq.ResourceIDs)) + `)
  AND ` + overlapClause("b")
	args := append(uint64Args(cq.ResourceIDs), overlapArgs(cq.Interval)...)
	if cq.ExcludeSessionID != "" {
		query += `
  AND b.session_id <> ?`
		args = append(args, cq.ExcludeSessionID)
	}
	return s.scan(ctx, q, model.KindBlock, query+lockSuffix(cq), args, false)
}

func (s *ReservationStore) applications(ctx context.Context, q DBTX, cq ConflictQuery) ([]occupancyRow, error) {
	query := `SELECT a.id, ar.resource_id, ad.from_, ad.to_, a.status
FROM bb_application a
JOIN bb_application_resource ar ON ar.application_id = a.id
JOIN bb_application_date ad ON ad.application_id = a.id
WHERE a.active = 1
  AND a.status <> ?
  AND ar.resource_id IN (` + placeholders(len(cq.ResourceIDs)) + `)
  AND ` + overlapClause("ad")
	args := []any{string(model.StatusRejected)}
	args = append(args, uint64Args(cq.ResourceIDs)...)
	args = append(args, overlapArgs(cq.Interval)...)
	if cq.ExcludeSessionID != "" {
		query += `
  AND NOT (a.status = ? AND a.session_id <=> ?)`
		args = append(args, string(model.StatusDraft), cq.ExcludeSessionID)
	}
	if len(cq.ExcludeApplicationIDs) > 0 {
		query += `
  AND a.id NOT IN (` + placeholders(len(cq.ExcludeApplicationIDs)) + `)`
		args = append(args, uint64Args(cq.ExcludeApplicationIDs)...)
	}
	return s.scan(ctx, q, model.KindApplication, query+lockSuffix(cq), args, true)
}

func (s *ReservationStore) allocations(ctx context.Context, q DBTX, cq ConflictQuery) ([]occupancyRow, error) {
	query := `SELECT al.id, alr.resource_id, al.from_, al.to_
FROM bb_allocation al
JOIN bb_allocation_resource alr ON alr.allocation_id = al.id
WHERE al.active = 1
  AND alr.resource_id IN (` + placeholders(len(cq.ResourceIDs)) + `)
  AND ` + overlapClause("al")
	args := append(uint64Args(cq.ResourceIDs), overlapArgs(cq.Interval)...)
	return s.scan(ctx, q, model.KindAllocation, query+lockSuffix(cq), args, false)
}

func (s *ReservationStore) events(ctx context.Context, q DBTX, cq ConflictQuery) ([]occupancyRow, error) {
	query := `SELECT e.id, er.resource_id, e.from_, e.to_
FROM bb_event e
JOIN bb_event_resource er ON er.event_id = e.id
WHERE e.active = 1
  AND er.resource_id IN (` + placeholders(len(cq.ResourceIDs)) + `)
  AND ` + overlapClause("e")
	args := append(uint64Args(cq.ResourceIDs), overlapArgs(cq.Interval)...)
	return s.scan(ctx, q, model.KindEvent, query+lockSuffix(cq), args, false)
}

func (s *ReservationStore) scan(ctx context.Context, q DBTX, kind model.ConflictKind, query string, args []any, withStatus bool) ([]occupancyRow, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []occupancyRow
	for rows.Next() {
		row := occupancyRow{kind: kind}
		dest := []any{&row.id, &row.resourceID, &row.iv.From, &row.iv.To}
		if withStatus {
			dest = append(dest, &row.status)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row.iv = row.iv.UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}
