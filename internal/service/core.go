package service

import "go.uber.org/zap"

// Core is the booking core as one value: the cart services used by the
// front end and the payment flow driven by Vipps.
type Core struct {
	Booking      *BookingService
	Applications *ApplicationService
	Payments     *PaymentService
}

// NewCore builds every service over the same stores.  gateway may be nil
// when payments are disabled.
func NewCore(db DB, st Stores, lock SlotLock, gateway PaymentGateway, files DocumentFiles, notifier Notifier, log *zap.Logger) *Core {
	return &Core{
		Booking:      NewBookingService(db, st, lock, log),
		Applications: NewApplicationService(db, st, files, notifier, log),
		Payments:     NewPaymentService(db, st, gateway, files, notifier, log),
	}
}
