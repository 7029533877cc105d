package repository

import (
	"context"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// BlockRepo manages bb_block rows, the per-session holds that keep a slot
// reserved while a cart is open.  All timestamps are stored in UTC.
type BlockRepo struct{}

// NewBlockRepo returns a BlockRepo.
func NewBlockRepo() *BlockRepo { return &BlockRepo{} }

// ExistsTx reports whether the session already holds an active block on
// exactly this resource and interval.  It has no side effects.
func (r *BlockRepo) ExistsTx(ctx context.Context, q DBTX, sessionID string, resourceID uint64, iv model.TimeInterval) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bb_block
WHERE session_id = ? AND resource_id = ? AND from_ = ? AND to_ = ? AND active = 1`,
		sessionID, resourceID, iv.From.UTC(), iv.To.UTC(),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateTx inserts an active block unless the session already holds one for
// the same resource and interval, in which case it is a no-op and created
// is false.  Callers serialize on the booking lock so the check and the
// insert cannot interleave with another attempt for the same slot.
func (r *BlockRepo) CreateTx(ctx context.Context, q DBTX, sessionID string, resourceID uint64, iv model.TimeInterval) (bool, error) {
	exists, err := r.ExistsTx(ctx, q, sessionID, resourceID, iv)
	if err != nil || exists {
		return false, err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO bb_block (session_id, resource_id, from_, to_, active, entry_date)
VALUES (?, ?, ?, ?, 1, UTC_TIMESTAMP())`,
		sessionID, resourceID, iv.From.UTC(), iv.To.UTC(),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeactivateTx marks the session's block on the resource and interval as
// inactive and returns the number of rows changed.
func (r *BlockRepo) DeactivateTx(ctx context.Context, q DBTX, sessionID string, resourceID uint64, iv model.TimeInterval) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE bb_block SET active = 0
WHERE session_id = ? AND resource_id = ? AND from_ = ? AND to_ = ? AND active = 1`,
		sessionID, resourceID, iv.From.UTC(), iv.To.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseTx deactivates every block the session holds for the cross
// product of resources and dates, as owned by one application.
func (r *BlockRepo) ReleaseTx(ctx context.Context, q DBTX, sessionID string, resourceIDs []uint64, dates []model.TimeInterval) (int64, error) {
	var total int64
	for _, rid := range resourceIDs {
		for _, iv := range dates {
			n, err := r.DeactivateTx(ctx, q, sessionID, rid, iv)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}
