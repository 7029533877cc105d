package model

import "time"

// PurchaseOrder is the bill attached to an application.
type PurchaseOrder struct {
	ID            uint64              // bb_purchase_order.id
	ApplicationID uint64              // bb_purchase_order.application_id
	Status        int                 // bb_purchase_order.status
	Created       time.Time           // bb_purchase_order.timestamp
	Lines         []PurchaseOrderLine // bb_purchase_order_line rows
}

// PurchaseOrderLine is one priced article on an order.  Amounts are in øre.
type PurchaseOrderLine struct {
	ArticleMappingID uint64 `json:"article_mapping_id"`
	Quantity         int    `json:"quantity"`
	UnitPrice        int64  `json:"unit_price"`
	Tax              int64  `json:"tax"`
	Amount           int64  `json:"amount"`
}

// Total returns amount plus tax for the line.
func (l PurchaseOrderLine) Total() int64 { return l.Amount + l.Tax }

// Payment states stored in bb_payment.status.
const (
	PaymentNew       = "new"
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentVoided    = "voided"
)

// Payment links a remote (gateway) order to one local purchase order.
type Payment struct {
	ID          uint64    // bb_payment.id
	OrderID     uint64    // bb_payment.order_id
	RemoteID    string    // bb_payment.remote_id
	Method      string    // bb_payment.payment_method
	Amount      int64     // bb_payment.amount
	Status      string    // bb_payment.status
	RemoteState string    // bb_payment.remote_state
	Created     time.Time // bb_payment.created
}

// Document is an uploaded attachment owned by an application.
type Document struct {
	ID       uint64 // bb_document_application.id
	OwnerID  uint64 // bb_document_application.owner_id
	Name     string // bb_document_application.name
	Category string // bb_document_application.category
}
