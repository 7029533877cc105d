package repository

import (
	"context"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// PaymentRepo tracks gateway payments in bb_payment.  One remote order may
// cover several purchase orders, so several rows share a remote_id.
type PaymentRepo struct{}

// NewPaymentRepo returns a PaymentRepo.
func NewPaymentRepo() *PaymentRepo { return &PaymentRepo{} }

// CreateTx inserts one row per order total under remoteID.
func (r *PaymentRepo) CreateTx(ctx context.Context, q DBTX, remoteID, method string, orders []OrderTotal) error {
	for _, o := range orders {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO bb_payment (order_id, remote_id, payment_method, amount, status, created)
VALUES (?, ?, ?, ?, ?, UTC_TIMESTAMP())`,
			o.OrderID, remoteID, method, o.Amount, model.PaymentNew,
		); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationIDsTx returns the applications paid for by the remote order.
func (r *PaymentRepo) ApplicationIDsTx(ctx context.Context, q DBTX, remoteID string) ([]uint64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT po.application_id
FROM bb_payment p
JOIN bb_purchase_order po ON po.id = p.order_id
WHERE p.remote_id = ?
ORDER BY po.application_id`, remoteID)
	if err != nil {
		return nil, err
	}
	return scanUint64s(rows)
}

// UpdateStatusTx sets status and remote_state on every row of the remote order.
func (r *PaymentRepo) UpdateStatusTx(ctx context.Context, q DBTX, remoteID, status, remoteState string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE bb_payment SET status = ?, remote_state = ?, modified = UTC_TIMESTAMP() WHERE remote_id = ?`,
		status, remoteState, remoteID)
	return err
}

// DeleteTx removes every row of the remote order.
func (r *PaymentRepo) DeleteTx(ctx context.Context, q DBTX, remoteID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM bb_payment WHERE remote_id = ?`, remoteID)
	return err
}
