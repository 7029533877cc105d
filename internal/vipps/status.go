package vipps

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// State is the coarse outcome derived from a payment's latest transaction.
type State string

const (
	StateCaptured        State = "captured"
	StateReadyForCapture State = "ready_for_capture"
	StateFailed          State = "failed"
	StatePending         State = "pending"
)

// Status is what the booking core acts on.
type Status struct {
	OrderID   string
	State     State
	Operation string
	Amount    int64
}

var (
	captureOps = map[string]bool{"CAPTURE": true}
	cancelOps  = map[string]bool{"CANCEL": true, "VOID": true, "FAILED": true, "REJECTED": true}
	reserveOps = map[string]bool{"RESERVE": true, "RESERVED": true}
)

// Classify maps the newest transaction log entry to a State.  Cancelled or
// failed operations count as failed whether or not they report success.
func Classify(d *PaymentDetails) Status {
	st := Status{State: StatePending}
	if d == nil {
		return st
	}
	st.OrderID = d.OrderID
	if len(d.TransactionLogHistory) == 0 {
		return st
	}
	latest := d.TransactionLogHistory[0]
	op := strings.ToUpper(latest.Operation)
	st.Operation, st.Amount = op, latest.Amount
	switch {
	case captureOps[op] && latest.OperationSuccess:
		st.State = StateCaptured
	case cancelOps[op]:
		st.State = StateFailed
	case reserveOps[op] && latest.OperationSuccess:
		st.State = StateReadyForCapture
	}
	return st
}

// CheckPaymentStatus polls the details endpoint until the payment leaves
// the pending state or the configured attempts run out.  A pending status
// is returned when every attempt saw a pending payment; the last request
// error is returned when no attempt succeeded.
func (c *Client) CheckPaymentStatus(ctx context.Context, orderID string) (Status, error) {
	var (
		lastErr error
		seen    bool
	)
	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		d, err := c.GetPaymentDetails(ctx, orderID)
		if err != nil {
			lastErr = err
			c.log.Warn("vipps: payment details failed",
				zap.String("remote_order_id", orderID), zap.Int("attempt", attempt), zap.Error(err))
		} else {
			seen = true
			st := Classify(d)
			st.OrderID = orderID
			if st.State != StatePending {
				return st, nil
			}
		}
		if attempt < c.cfg.PollAttempts {
			if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
				return Status{OrderID: orderID, State: StatePending}, err
			}
		}
	}
	if !seen && lastErr != nil {
		return Status{OrderID: orderID, State: StatePending}, lastErr
	}
	return Status{OrderID: orderID, State: StatePending}, nil
}
