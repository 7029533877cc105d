package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
)

// ApplicationService manages the session-scoped cart of draft applications
// and its checkout.
type ApplicationService struct {
	db       DB
	st       Stores
	elig     *EligibilityChecker
	files    DocumentFiles
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewApplicationService wires an ApplicationService.
func NewApplicationService(db DB, st Stores, files DocumentFiles, notifier Notifier, log *zap.Logger) *ApplicationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ApplicationService{
		db:       db,
		st:       st,
		elig:     NewEligibilityChecker(st),
		files:    files,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// setClock replaces the clock of the service and its eligibility checker.
func (s *ApplicationService) setClock(now func() time.Time) {
	s.now = now
	s.elig.now = now
}

// Partials returns the session's draft applications.
func (s *ApplicationService) Partials(ctx context.Context, sessionID string) ([]model.Application, error) {
	apps, err := s.st.Applications.ListDraftsTx(ctx, s.db, sessionID)
	return apps, persistence("list partials", err)
}

// Get returns one application.
func (s *ApplicationService) Get(ctx context.Context, id uint64) (*model.Application, error) {
	app, err := s.st.Applications.GetTx(ctx, s.db, id)
	return app, persistence("get application", err)
}

// IsEligible reports whether the application qualifies for direct booking.
func (s *ApplicationService) IsEligible(ctx context.Context, app model.Application, ssn string) (bool, error) {
	e, err := s.elig.Check(ctx, s.db, app, ssn)
	return e.Eligible, persistence("check eligibility", err)
}

// loadDraft fetches an application and checks that sessionID owns it and
// that it is still a draft.  An empty sessionID skips the owner check.
func loadDraft(ctx context.Context, q repository.DBTX, apps ApplicationStore, id uint64, sessionID string) (*model.Application, error) {
	app, err := apps.GetTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if sessionID != "" && (app.SessionID == nil || *app.SessionID != sessionID) {
		return nil, ErrForbidden
	}
	if !app.IsDraft() {
		return nil, ErrNotDraft
	}
	return app, nil
}

// ApplicationPatch is a partial update.  Fields go through the column
// allow-list; a non-nil Dates, Resources or Articles replaces the whole set.
type ApplicationPatch struct {
	Fields    map[string]any
	Dates     *[]model.TimeInterval
	Resources *[]uint64
	Articles  *[]model.PurchaseOrderLine
}

func (p ApplicationPatch) validate() error {
	v := &ValidationError{}
	for k, val := range p.Fields {
		if !repository.IsPatchable(k) {
			v.Add(k, "cannot be changed")
			continue
		}
		// status leaves NEWPARTIAL1 only through checkout
		if k == "status" {
			if s, ok := val.(string); !ok || model.ApplicationStatus(s) != model.StatusDraft {
				v.Add(k, "can only change at checkout")
			}
		}
	}
	if p.Dates != nil {
		for _, iv := range *p.Dates {
			if err := iv.Validate(); err != nil {
				v.Add("dates", err.Error())
				break
			}
		}
	}
	if v.Empty() {
		return nil
	}
	return v
}

// Patch applies p to a draft owned by sessionID and returns the result.
// Replacing dates or resources releases the session's blocks on the old
// slots.
func (s *ApplicationService) Patch(ctx context.Context, sessionID string, id uint64, p ApplicationPatch) (*model.Application, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	err := withTx(ctx, s.db, "patch application", func(tx *sql.Tx) error {
		app, err := loadDraft(ctx, tx, s.st.Applications, id, sessionID)
		if err != nil {
			return err
		}
		// the blocks cover the old resources x dates; an edited draft holds
		// no block and its new slots are checked again at checkout
		if p.Dates != nil || p.Resources != nil {
			if _, err := releaseBlocks(ctx, tx, s.st.Blocks, app); err != nil {
				return err
			}
		}
		if err := s.st.Applications.PatchTx(ctx, tx, id, p.Fields); err != nil {
			return err
		}
		if p.Dates != nil {
			if err := s.st.Applications.ReplaceDatesTx(ctx, tx, id, *p.Dates); err != nil {
				return err
			}
		}
		if p.Resources != nil {
			if err := s.st.Applications.ReplaceResourcesTx(ctx, tx, id, uniqueIDs(*p.Resources)); err != nil {
				return err
			}
		}
		if p.Articles != nil {
			if _, err := s.st.Orders.ReplaceTx(ctx, tx, id, *p.Articles); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// DeleteDraft removes a draft application with its dates, resource links,
// orders, comments and documents in one transaction, and releases the
// session's blocks for it.  Document files are removed once the rows are
// gone; a file that cannot be removed is logged, not fatal.
func (s *ApplicationService) DeleteDraft(ctx context.Context, sessionID string, id uint64) error {
	var docs []model.Document
	err := withTx(ctx, s.db, "delete draft", func(tx *sql.Tx) error {
		app, err := loadDraft(ctx, tx, s.st.Applications, id, sessionID)
		if err != nil {
			return err
		}
		docs, err = deleteDraftTx(ctx, tx, s.st, app)
		return err
	})
	if err != nil {
		return err
	}
	removeFiles(s.files, s.log, docs)
	s.log.Info("draft application deleted", zap.Uint64("application_id", id), zap.Int("documents", len(docs)))
	return nil
}

// deleteDraftTx releases the application's blocks and deletes it with
// every row it owns.  It returns the deleted documents so the caller can
// remove their files after commit.
func deleteDraftTx(ctx context.Context, q repository.DBTX, st Stores, app *model.Application) ([]model.Document, error) {
	if _, err := releaseBlocks(ctx, q, st.Blocks, app); err != nil {
		return nil, err
	}
	docs, err := st.Documents.ListForApplicationTx(ctx, q, app.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := st.Documents.DeleteTx(ctx, q, d.ID); err != nil {
			return nil, err
		}
	}
	if err := st.Applications.DeleteTx(ctx, q, app.ID); err != nil {
		return nil, err
	}
	return docs, nil
}

func removeFiles(files DocumentFiles, log *zap.Logger, docs []model.Document) {
	if files == nil {
		return
	}
	for _, d := range docs {
		if err := files.Delete(d); err != nil {
			log.Warn("delete document file", zap.Uint64("document_id", d.ID), zap.Error(err))
		}
	}
}
