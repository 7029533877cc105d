package repository

import (
	"context"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// OrderTotal is the unpaid amount of one purchase order.
type OrderTotal struct {
	OrderID       uint64
	ApplicationID uint64
	Amount        int64 // øre, tax included
}

// OrderRepo handles purchase orders and their lines.
type OrderRepo struct{}

// NewOrderRepo returns an OrderRepo.
func NewOrderRepo() *OrderRepo { return &OrderRepo{} }

// ReplaceTx drops the application's orders and writes a single new order
// holding lines.  An empty lines slice leaves the application without orders.
func (r *OrderRepo) ReplaceTx(ctx context.Context, q DBTX, appID uint64, lines []model.PurchaseOrderLine) (uint64, error) {
	for _, stmt := range cascadeDeletes[:2] {
		if _, err := q.ExecContext(ctx, stmt, appID); err != nil {
			return 0, err
		}
	}
	if len(lines) == 0 {
		return 0, nil
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO bb_purchase_order (application_id, status, timestamp) VALUES (?, 0, UTC_TIMESTAMP())`, appID)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	orderID := uint64(id)
	query := `INSERT INTO bb_purchase_order_line (order_id, article_mapping_id, quantity, unit_price, tax, amount) VALUES `
	args := make([]any, 0, len(lines)*6)
	for i, l := range lines {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?, ?, ?, ?, ?)"
		args = append(args, orderID, l.ArticleMappingID, l.Quantity, l.UnitPrice, l.Tax, l.Amount)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return 0, err
	}
	return orderID, nil
}

// UnpaidTx sums the lines of every order belonging to appIDs that has no
// completed payment yet.  Orders without lines are skipped.
func (r *OrderRepo) UnpaidTx(ctx context.Context, q DBTX, appIDs []uint64) ([]OrderTotal, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	query := `SELECT po.id, po.application_id, SUM(l.amount + l.tax)
FROM bb_purchase_order po
JOIN bb_purchase_order_line l ON l.order_id = po.id
WHERE po.application_id IN (` + placeholders(len(appIDs)) + `)
  AND NOT EXISTS (
      SELECT 1 FROM bb_payment p WHERE p.order_id = po.id AND p.status = ?
  )
GROUP BY po.id, po.application_id
ORDER BY po.id`
	args := append(uint64Args(appIDs), model.PaymentCompleted)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderTotal
	for rows.Next() {
		var t OrderTotal
		if err := rows.Scan(&t.OrderID, &t.ApplicationID, &t.Amount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
