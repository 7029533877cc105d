package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/vipps"
)

// PaymentOutcome is the result of processing a payment status.
type PaymentOutcome string

const (
	OutcomeCompleted     PaymentOutcome = "completed"
	OutcomeCancelled     PaymentOutcome = "cancelled"
	OutcomePending       PaymentOutcome = "pending"
	OutcomeCaptureFailed PaymentOutcome = "capture_failed"
)

// paymentMethod is stored in bb_payment.payment_method.
const paymentMethod = "vipps"

// ErrPaymentUnavailable is returned when no gateway is configured.
var ErrPaymentUnavailable = errors.New("payment gateway is not configured")

// PaymentService ties gateway payments to draft applications.  A captured
// payment accepts the applications; a failed one deletes them.
type PaymentService struct {
	db       DB
	st       Stores
	gateway  PaymentGateway
	files    DocumentFiles
	notifier Notifier
	log      *zap.Logger
}

// NewPaymentService wires a PaymentService.  gateway may be nil, in which
// case InitiatePayment and ProcessPaymentStatus fail with
// ErrPaymentUnavailable.
func NewPaymentService(db DB, st Stores, gateway PaymentGateway, files DocumentFiles, notifier Notifier, log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{db: db, st: st, gateway: gateway, files: files, notifier: notifier, log: log}
}

// PaymentEligibility tells whether a cart may be paid through the gateway.
type PaymentEligibility struct {
	Eligible bool     `json:"eligible"`
	Reason   string   `json:"reason,omitempty"`
	Total    int64    `json:"total_amount"`
	Methods  []string `json:"payment_methods"`
}

// Eligibility reports whether the session's drafts can be paid externally.
// Recurring applications always go to review first, so a cart holding one
// is never eligible; nor is a cart with nothing to pay, one where no
// resource asks for prepayment, or any cart when no gateway is configured.
func (s *PaymentService) Eligibility(ctx context.Context, sessionID string) (*PaymentEligibility, error) {
	drafts, err := s.st.Applications.ListDraftsTx(ctx, s.db, sessionID)
	if err != nil {
		return nil, persistence("list drafts", err)
	}
	el, _, err := s.eligibility(ctx, s.db, drafts)
	if err != nil {
		return nil, persistence("payment eligibility", err)
	}
	return &el, nil
}

func (s *PaymentService) eligibility(ctx context.Context, q repository.DBTX, drafts []model.Application) (PaymentEligibility, []repository.OrderTotal, error) {
	el := PaymentEligibility{Methods: []string{}}
	if len(drafts) == 0 {
		el.Reason = "no draft applications"
		return el, nil, nil
	}
	ids := make([]uint64, 0, len(drafts))
	var resourceIDs []uint64
	for _, app := range drafts {
		if app.IsRecurring() {
			el.Reason = "recurring applications must be approved before payment"
			return el, nil, nil
		}
		ids = append(ids, app.ID)
		resourceIDs = append(resourceIDs, app.Resources...)
	}

	orders, err := s.st.Orders.UnpaidTx(ctx, q, ids)
	if err != nil {
		return el, nil, err
	}
	for _, o := range orders {
		el.Total += o.Amount
	}
	if el.Total <= 0 {
		el.Reason = "nothing to pay for"
		return el, nil, nil
	}

	resources, err := s.st.Resources.ListByIDsTx(ctx, q, uniqueIDs(resourceIDs))
	if err != nil {
		return el, nil, err
	}
	prepaid := false
	for _, r := range resources {
		if r.ActivatePrepayment {
			prepaid = true
			break
		}
	}
	switch {
	case !prepaid:
		el.Reason = "no resource requires prepayment"
	case s.gateway == nil:
		el.Reason = "payment gateway is not configured"
	default:
		el.Eligible = true
		el.Methods = []string{paymentMethod}
	}
	return el, orders, nil
}

// PaymentInitiation tells the client where to complete the payment.
type PaymentInitiation struct {
	RemoteOrderID string `json:"remote_order_id"`
	RedirectURL   string `json:"redirect_url"`
	Amount        int64  `json:"amount"`
}

// InitiatePayment creates payment rows for the unpaid orders of the
// session's draft applications and starts the payment at the gateway.  The
// cart must pass the same checks as Eligibility.  The rows are removed
// again when the gateway call fails.
func (s *PaymentService) InitiatePayment(ctx context.Context, sessionID string, applicationIDs []uint64, mobileNumber string) (*PaymentInitiation, error) {
	if s.gateway == nil {
		return nil, ErrPaymentUnavailable
	}
	if len(applicationIDs) == 0 {
		return nil, fieldError("application_ids", "at least one application is required")
	}
	remoteID := uuid.NewString()
	var total int64
	err := withTx(ctx, s.db, "initiate payment", func(tx *sql.Tx) error {
		drafts := make([]model.Application, 0, len(applicationIDs))
		for _, id := range applicationIDs {
			app, err := loadDraft(ctx, tx, s.st.Applications, id, sessionID)
			if err != nil {
				return err
			}
			drafts = append(drafts, *app)
		}
		el, orders, err := s.eligibility(ctx, tx, drafts)
		if err != nil {
			return err
		}
		if !el.Eligible {
			return fieldError("application_ids", el.Reason)
		}
		total = el.Total
		return s.st.Payments.CreateTx(ctx, tx, remoteID, paymentMethod, orders)
	})
	if err != nil {
		return nil, err
	}

	log := s.log.With(zap.String("remote_order_id", remoteID), zap.Int64("amount", total))
	resp, err := s.gateway.InitiatePayment(ctx, vipps.PaymentRequest{
		OrderID:      remoteID,
		Amount:       total,
		MobileNumber: mobileNumber,
		Text:         "Booking " + joinIDs(applicationIDs),
		AuthToken:    sessionID,
	})
	if err != nil {
		log.Error("initiate payment failed", zap.Error(err))
		if derr := s.st.Payments.DeleteTx(context.WithoutCancel(ctx), s.db, remoteID); derr != nil {
			log.Error("remove payment rows", zap.Error(derr))
		}
		return nil, fmt.Errorf("initiate payment: %w", err)
	}
	if err := s.st.Payments.UpdateStatusTx(ctx, s.db, remoteID, model.PaymentPending, "INITIATE"); err != nil {
		log.Warn("mark payment pending", zap.Error(err))
	}
	log.Info("payment initiated")
	return &PaymentInitiation{RemoteOrderID: remoteID, RedirectURL: resp.URL, Amount: total}, nil
}

// OnPaymentCaptured accepts every application paid by the remote order:
// blocks are released, status becomes ACCEPTED, events are created and one
// grouped notification is sent.  Applications that are already accepted
// are left alone, so a repeated callback is harmless.
func (s *PaymentService) OnPaymentCaptured(ctx context.Context, remoteOrderID string, amount int64) ([]model.Application, error) {
	log := s.log.With(zap.String("remote_order_id", remoteOrderID))
	var approved []model.Application
	err := withTx(ctx, s.db, "approve payment", func(tx *sql.Tx) error {
		approved = nil
		ids, err := s.st.Payments.ApplicationIDsTx(ctx, tx, remoteOrderID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("payment %s: %w", remoteOrderID, ErrNotFound)
		}
		for _, id := range ids {
			app, err := s.st.Applications.GetTx(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				log.Warn("paid application no longer exists", zap.Uint64("application_id", id))
				continue
			}
			if err != nil {
				return err
			}
			if app.Status == model.StatusAccepted {
				continue
			}
			if _, err := releaseBlocks(ctx, tx, s.st.Blocks, app); err != nil {
				return err
			}
			if err := s.st.Applications.PatchTx(ctx, tx, id, map[string]any{
				"status":     string(model.StatusAccepted),
				"session_id": nil,
			}); err != nil {
				return err
			}
			app.Status, app.SessionID = model.StatusAccepted, nil
			if _, err := materializeEvents(ctx, tx, s.st.Events, app); err != nil {
				return err
			}
			approved = append(approved, *app)
		}
		return s.st.Payments.UpdateStatusTx(ctx, tx, remoteOrderID, model.PaymentCompleted, "CAPTURE")
	})
	if err != nil {
		log.Error("approve payment failed", zap.Error(err))
		return nil, err
	}
	log.Info("payment captured", zap.Int64("amount", amount), zap.Int("approved", len(approved)))
	notifyGrouped(ctx, s.notifier, s.log, approved, true)
	return approved, nil
}

// OnPaymentFailed deletes the draft applications of the remote order with
// their blocks, orders and documents; no REJECTED record is kept.  The
// payment rows are marked voided with the gateway operation.  Applications
// that are no longer drafts are left untouched.
func (s *PaymentService) OnPaymentFailed(ctx context.Context, remoteOrderID, operation string) ([]uint64, error) {
	log := s.log.With(zap.String("remote_order_id", remoteOrderID), zap.String("operation", operation))
	var (
		deleted []uint64
		docs    []model.Document
	)
	err := withTx(ctx, s.db, "cancel payment", func(tx *sql.Tx) error {
		deleted, docs = nil, nil
		ids, err := s.st.Payments.ApplicationIDsTx(ctx, tx, remoteOrderID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("payment %s: %w", remoteOrderID, ErrNotFound)
		}
		for _, id := range ids {
			app, err := s.st.Applications.GetTx(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !app.IsDraft() {
				log.Warn("payment failed for a submitted application", zap.Uint64("application_id", id),
					zap.String("status", string(app.Status)))
				continue
			}
			d, err := deleteDraftTx(ctx, tx, s.st, app)
			if err != nil {
				return err
			}
			docs = append(docs, d...)
			deleted = append(deleted, id)
		}
		return s.st.Payments.UpdateStatusTx(ctx, tx, remoteOrderID, model.PaymentVoided, operation)
	})
	if err != nil {
		log.Error("cancel payment failed", zap.Error(err))
		return nil, err
	}
	removeFiles(s.files, s.log, docs)
	log.Info("payment failed, applications removed", zap.Int("deleted", len(deleted)))
	return deleted, nil
}

// ProcessPaymentStatus asks the gateway for the current state of the
// payment and acts on it.  A reserved payment is captured first.
func (s *PaymentService) ProcessPaymentStatus(ctx context.Context, remoteOrderID string) (PaymentOutcome, error) {
	if s.gateway == nil {
		return OutcomePending, ErrPaymentUnavailable
	}
	log := s.log.With(zap.String("remote_order_id", remoteOrderID))
	st, err := s.gateway.CheckPaymentStatus(ctx, remoteOrderID)
	if err != nil {
		return OutcomePending, fmt.Errorf("check payment status: %w", err)
	}
	log.Info("payment status", zap.String("state", string(st.State)), zap.String("operation", st.Operation))

	switch st.State {
	case vipps.StateCaptured:
		if _, err := s.OnPaymentCaptured(ctx, remoteOrderID, st.Amount); err != nil {
			return OutcomePending, err
		}
		return OutcomeCompleted, nil
	case vipps.StateFailed:
		if _, err := s.OnPaymentFailed(ctx, remoteOrderID, st.Operation); err != nil {
			return OutcomePending, err
		}
		return OutcomeCancelled, nil
	case vipps.StateReadyForCapture:
		if err := s.st.Payments.UpdateStatusTx(ctx, s.db, remoteOrderID, model.PaymentPending, st.Operation); err != nil {
			return OutcomePending, persistence("mark payment reserved", err)
		}
		tr, err := s.gateway.CapturePayment(ctx, remoteOrderID, st.Amount)
		if err != nil {
			log.Error("capture failed", zap.Error(err))
			return OutcomeCaptureFailed, fmt.Errorf("capture payment: %w", err)
		}
		amount := st.Amount
		if tr != nil && tr.TransactionInfo.Amount > 0 {
			amount = tr.TransactionInfo.Amount
		}
		if _, err := s.OnPaymentCaptured(ctx, remoteOrderID, amount); err != nil {
			return OutcomePending, err
		}
		return OutcomeCompleted, nil
	default:
		return OutcomePending, nil
	}
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "#" + strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ", ")
}
