package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
)

// SlotRequest identifies one resource interval requested by a session.
type SlotRequest struct {
	SessionID  string
	BuildingID uint64
	ResourceID uint64
	Interval   model.TimeInterval
	// SSN is the requester's identity, used for booking limits.  Optional.
	SSN string
}

func (r SlotRequest) validate() error {
	v := &ValidationError{}
	if strings.TrimSpace(r.SessionID) == "" {
		v.Add("session_id", "session is required")
	}
	if r.ResourceID == 0 {
		v.Add("resource_id", "resource is required")
	}
	if err := r.Interval.Validate(); err != nil {
		v.Add("interval", err.Error())
	}
	if v.Empty() {
		return nil
	}
	return v
}

// Availability is the answer of a preflight slot check.
type Availability struct {
	Available bool                `json:"available"`
	Reason    model.OverlapReason `json:"reason,omitempty"`
	Type      model.OverlapType   `json:"type,omitempty"`
	Message   string              `json:"message"`
	Conflict  *model.Conflict     `json:"conflict,omitempty"`
	OwnBlock  bool                `json:"own_block,omitempty"`
	Limit     *BookingLimitError  `json:"limit,omitempty"`
}

// BookingService runs the lock and block protocol for single-slot bookings.
type BookingService struct {
	db   DB
	st   Stores
	lock SlotLock
	log  *zap.Logger
	now  func() time.Time
}

// NewBookingService wires a BookingService.
func NewBookingService(db DB, st Stores, lock SlotLock, log *zap.Logger) *BookingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingService{db: db, st: st, lock: lock, log: log, now: time.Now}
}

func (s *BookingService) bookableResource(ctx context.Context, q repository.DBTX, id uint64) (*model.Resource, error) {
	res, err := s.st.Resources.GetByIDTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if !res.Active || !res.SimpleBooking {
		return nil, fieldError("resource_id", "resource does not accept simple bookings")
	}
	return res, nil
}

func (s *BookingService) conflictQuery(req SlotRequest, res *model.Resource, forUpdate bool) repository.ConflictQuery {
	return repository.ConflictQuery{
		ResourceIDs:      []uint64{req.ResourceID},
		Interval:         req.Interval,
		ExcludeSessionID: req.SessionID,
		ForUpdate:        forUpdate,
		Now:              s.now(),
		Buffer:           res.BufferDuration(),
	}
}

// limitCheck returns a BookingLimitError when requested more bookings by ssn on
// the resource would exceed its rolling limit.
func limitCheck(ctx context.Context, q repository.DBTX, apps ApplicationStore, res *model.Resource, ssn string, now time.Time, requested int, exclude []uint64) (*BookingLimitError, error) {
	if ssn == "" || !res.HasBookingLimit() {
		return nil, nil
	}
	existing, err := apps.CountUserBookingsTx(ctx, q, res.ID, ssn, res.HorizonStart(now), exclude)
	if err != nil {
		return nil, err
	}
	if existing+requested <= res.BookingLimitNumber {
		return nil, nil
	}
	return &BookingLimitError{
		ResourceID:   res.ID,
		ResourceName: res.Name,
		Current:      existing,
		Requested:    requested,
		Limit:        res.BookingLimitNumber,
		HorizonDays:  res.BookingLimitHorizon,
	}, nil
}

// CheckAvailability reports whether the slot could be booked right now.
// It runs the same conflict query as CreateDraft without locking anything.
func (s *BookingService) CheckAvailability(ctx context.Context, req SlotRequest) (*Availability, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	res, err := s.bookableResource(ctx, s.db, req.ResourceID)
	if err != nil {
		return nil, err
	}
	own, err := s.st.Blocks.ExistsTx(ctx, s.db, req.SessionID, req.ResourceID, req.Interval)
	if err != nil {
		return nil, persistence("check availability", err)
	}
	if own {
		return &Availability{Available: true, OwnBlock: true, Message: "Already blocked for your session"}, nil
	}
	conflicts, err := s.st.Conflicts.FindConflictsTx(ctx, s.db, s.conflictQuery(req, res, false))
	if err != nil {
		return nil, persistence("check availability", err)
	}
	if len(conflicts) > 0 {
		c := conflicts[0]
		return &Availability{Reason: c.Reason, Type: c.Type, Message: c.Message(), Conflict: &c}, nil
	}
	limit, err := limitCheck(ctx, s.db, s.st.Applications, res, req.SSN, s.now(), 1, nil)
	if err != nil {
		return nil, persistence("check availability", err)
	}
	if limit != nil {
		return &Availability{
			Reason:  model.ReasonBookingLimitExceeded,
			Type:    model.OverlapDisabled,
			Message: model.OverlapMessage(model.ReasonBookingLimitExceeded),
			Limit:   limit,
		}, nil
	}
	return &Availability{Available: true, Message: "Timeslot is available"}, nil
}

// CreateDraft reserves the slot for the session and creates a NEWPARTIAL1
// application for it.
//
// The slot lock is taken first and released on every return path.  Inside
// one transaction the conflict query locks matching rows, then the block
// and the application rows are written.  On any failure the transaction is
// rolled back and a block created by this attempt is deactivated.
func (s *BookingService) CreateDraft(ctx context.Context, req SlotRequest) (*model.Application, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	res, err := s.bookableResource(ctx, s.db, req.ResourceID)
	if err != nil {
		return nil, err
	}
	buildingID := req.BuildingID
	if buildingID == 0 {
		buildingID = res.BuildingID
	}
	buildingName, err := s.st.Resources.BuildingNameTx(ctx, s.db, buildingID)
	if err != nil {
		return nil, err
	}

	log := s.log.With(zap.String("session_id", req.SessionID), zap.Uint64("resource_id", req.ResourceID),
		zap.Time("from", req.Interval.From), zap.Time("to", req.Interval.To))

	ok, err := s.lock.Acquire(ctx, req.ResourceID, req.Interval, req.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "acquire booking lock", Err: err}
	}
	if !ok {
		return nil, ErrSlotLockConflict
	}
	defer func() {
		// the lock must not outlive the request even if ctx was cancelled
		if err := s.lock.Release(context.WithoutCancel(ctx), req.ResourceID, req.Interval, req.SessionID); err != nil {
			log.Warn("release booking lock", zap.Error(err))
		}
	}()

	var (
		app         *model.Application
		blockedByUs bool
	)
	err = withTx(ctx, s.db, "create draft", func(tx *sql.Tx) error {
		conflicts, err := s.st.Conflicts.FindConflictsTx(ctx, tx, s.conflictQuery(req, res, true))
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &SlotOccupiedError{Conflicts: conflicts}
		}
		limit, err := limitCheck(ctx, tx, s.st.Applications, res, req.SSN, s.now(), 1, nil)
		if err != nil {
			return err
		}
		if limit != nil {
			return limit
		}
		if blockedByUs, err = s.st.Blocks.CreateTx(ctx, tx, req.SessionID, req.ResourceID, req.Interval); err != nil {
			return err
		}

		sessionID := req.SessionID
		app = &model.Application{
			Status:       model.StatusDraft,
			SessionID:    &sessionID,
			Active:       true,
			BuildingID:   buildingID,
			BuildingName: buildingName,
			ActivityID:   res.ActivityID,
			Name:         res.Name,
			Secret:       newSecret(),
			Resources:    []uint64{req.ResourceID},
			Dates:        []model.TimeInterval{req.Interval.UTC()},
		}
		if req.SSN != "" {
			app.Contact.CustomerIdentifierType = model.CustomerSSN
			app.Contact.CustomerSSN = req.SSN
		}
		if err := s.st.Applications.CreateTx(ctx, tx, app); err != nil {
			return err
		}
		if err := s.st.Applications.ReplaceResourcesTx(ctx, tx, app.ID, app.Resources); err != nil {
			return err
		}
		return s.st.Applications.ReplaceDatesTx(ctx, tx, app.ID, app.Dates)
	})
	if err != nil {
		if blockedByUs {
			// the rollback already undid the insert; this also covers a
			// commit that failed after the row reached the server
			if _, derr := s.st.Blocks.DeactivateTx(context.WithoutCancel(ctx), s.db, req.SessionID, req.ResourceID, req.Interval); derr != nil {
				log.Error("deactivate block after failed draft", zap.Error(derr))
			}
		}
		var occupied *SlotOccupiedError
		if errors.As(err, &occupied) {
			log.Info("slot occupied", zap.String("reason", string(occupied.Reason())))
		} else {
			log.Warn("create draft failed", zap.Error(err))
		}
		return nil, err
	}
	log.Info("draft application created", zap.Uint64("application_id", app.ID), zap.Bool("new_block", blockedByUs))
	return app, nil
}

// ClearBlocksAndLock deactivates the session's block on the slot and drops
// the slot lock.  It returns the number of blocks deactivated.
func (s *BookingService) ClearBlocksAndLock(ctx context.Context, req SlotRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	n, err := s.st.Blocks.DeactivateTx(ctx, s.db, req.SessionID, req.ResourceID, req.Interval)
	if err != nil {
		return 0, persistence("clear blocks", err)
	}
	if err := s.lock.Release(ctx, req.ResourceID, req.Interval, req.SessionID); err != nil {
		return n, &PersistenceError{Op: "release booking lock", Err: err}
	}
	return n, nil
}

// CancelBlocksForApplication deactivates every block the application's
// session holds for its resources and dates.
func (s *BookingService) CancelBlocksForApplication(ctx context.Context, applicationID uint64) (int64, error) {
	app, err := s.st.Applications.GetTx(ctx, s.db, applicationID)
	if err != nil {
		return 0, err
	}
	return releaseBlocks(ctx, s.db, s.st.Blocks, app)
}

// releaseBlocks deactivates the blocks held for app by its session.  An
// application without a session holds no blocks.
func releaseBlocks(ctx context.Context, q repository.DBTX, blocks BlockStore, app *model.Application) (int64, error) {
	if app.SessionID == nil || *app.SessionID == "" {
		return 0, nil
	}
	n, err := blocks.ReleaseTx(ctx, q, *app.SessionID, app.Resources, app.Dates)
	return n, persistence("release blocks", err)
}

func newSecret() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
