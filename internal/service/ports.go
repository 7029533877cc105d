package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/vipps"
)

// DB is the handle services open transactions on and run reads against.
type DB interface {
	repository.DBTX
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type ResourceReader interface {
	GetByIDTx(ctx context.Context, q repository.DBTX, id uint64) (*model.Resource, error)
	ListByIDsTx(ctx context.Context, q repository.DBTX, ids []uint64) ([]model.Resource, error)
	BuildingNameTx(ctx context.Context, q repository.DBTX, buildingID uint64) (string, error)
}

type ConflictFinder interface {
	FindConflictsTx(ctx context.Context, q repository.DBTX, cq repository.ConflictQuery) ([]model.Conflict, error)
}

type BlockStore interface {
	ExistsTx(ctx context.Context, q repository.DBTX, sessionID string, resourceID uint64, iv model.TimeInterval) (bool, error)
	CreateTx(ctx context.Context, q repository.DBTX, sessionID string, resourceID uint64, iv model.TimeInterval) (bool, error)
	DeactivateTx(ctx context.Context, q repository.DBTX, sessionID string, resourceID uint64, iv model.TimeInterval) (int64, error)
	ReleaseTx(ctx context.Context, q repository.DBTX, sessionID string, resourceIDs []uint64, dates []model.TimeInterval) (int64, error)
}

type ApplicationStore interface {
	CreateTx(ctx context.Context, q repository.DBTX, app *model.Application) error
	GetTx(ctx context.Context, q repository.DBTX, id uint64) (*model.Application, error)
	ListDraftsTx(ctx context.Context, q repository.DBTX, sessionID string) ([]model.Application, error)
	LockDraftsTx(ctx context.Context, q repository.DBTX, sessionID string) ([]model.Application, error)
	ReplaceDatesTx(ctx context.Context, q repository.DBTX, appID uint64, dates []model.TimeInterval) error
	ReplaceResourcesTx(ctx context.Context, q repository.DBTX, appID uint64, resourceIDs []uint64) error
	PatchTx(ctx context.Context, q repository.DBTX, appID uint64, fields map[string]any) error
	DeleteTx(ctx context.Context, q repository.DBTX, appID uint64) error
	CountUserBookingsTx(ctx context.Context, q repository.DBTX, resourceID uint64, ssn string, since time.Time, excludeIDs []uint64) (int, error)
}

type OrderStore interface {
	ReplaceTx(ctx context.Context, q repository.DBTX, appID uint64, lines []model.PurchaseOrderLine) (uint64, error)
	UnpaidTx(ctx context.Context, q repository.DBTX, appIDs []uint64) ([]repository.OrderTotal, error)
}

type EventStore interface {
	CreateTx(ctx context.Context, q repository.DBTX, ev *model.Event) error
}

type DocumentIndex interface {
	ListForApplicationTx(ctx context.Context, q repository.DBTX, appID uint64) ([]model.Document, error)
	DeleteTx(ctx context.Context, q repository.DBTX, id uint64) error
}

type PaymentStore interface {
	CreateTx(ctx context.Context, q repository.DBTX, remoteID, method string, orders []repository.OrderTotal) error
	ApplicationIDsTx(ctx context.Context, q repository.DBTX, remoteID string) ([]uint64, error)
	UpdateStatusTx(ctx context.Context, q repository.DBTX, remoteID, status, remoteState string) error
	DeleteTx(ctx context.Context, q repository.DBTX, remoteID string) error
}

// Stores bundles the repositories the services read and write.
type Stores struct {
	Resources    ResourceReader
	Conflicts    ConflictFinder
	Blocks       BlockStore
	Applications ApplicationStore
	Orders       OrderStore
	Events       EventStore
	Documents    DocumentIndex
	Payments     PaymentStore
}

// NewStores wires the MySQL repositories.
func NewStores() Stores {
	return Stores{
		Resources:    repository.NewResourceRepo(),
		Conflicts:    repository.NewReservationStore(),
		Blocks:       repository.NewBlockRepo(),
		Applications: repository.NewApplicationRepo(),
		Orders:       repository.NewOrderRepo(),
		Events:       repository.NewEventRepo(),
		Documents:    repository.NewDocumentRepo(),
		Payments:     repository.NewPaymentRepo(),
	}
}

// SlotLock is the cross-process lock taken around a booking attempt.
type SlotLock interface {
	Acquire(ctx context.Context, resourceID uint64, iv model.TimeInterval, sessionID string) (bool, error)
	Release(ctx context.Context, resourceID uint64, iv model.TimeInterval, sessionID string) error
}

// Notifier delivers application confirmations to the applicant.
type Notifier interface {
	NotifyApplication(ctx context.Context, app model.Application, isNew bool) error
	NotifyApplicationGroup(ctx context.Context, apps []model.Application, isNew bool) error
}

// DocumentFiles removes the stored file behind a document row.
type DocumentFiles interface {
	Delete(doc model.Document) error
}

// PaymentGateway is the subset of the Vipps client used here.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req vipps.PaymentRequest) (*vipps.InitiateResponse, error)
	CheckPaymentStatus(ctx context.Context, orderID string) (vipps.Status, error)
	CapturePayment(ctx context.Context, orderID string, amount int64) (*vipps.TransactionResponse, error)
}

// withTx runs fn in a transaction, committing when it returns nil.
func withTx(ctx context.Context, db DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: op + ": begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return persistence(op, err)
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: op + ": commit", Err: err}
	}
	committed = true
	return nil
}
