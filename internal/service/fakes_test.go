package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/repository"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/vipps"
)

// testNow is the fixed clock used by the service tests.
var testNow = time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)

func slot(dayOffset, hour int) model.TimeInterval {
	from := time.Date(2026, time.June, 10+dayOffset, hour, 0, 0, 0, time.UTC)
	return model.TimeInterval{From: from, To: from.Add(time.Hour)}
}

func strPtr(s string) *string { return &s }

// newMockDB returns a sqlmock handle.  The fake stores ignore the handle, so
// only transaction boundaries are ever seen by the mock.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

type fakePayment struct {
	remoteID    string
	method      string
	orderID     uint64
	appID       uint64
	amount      int64
	status      string
	remoteState string
}

// memStore is an in-memory implementation of every store port.
type memStore struct {
	mu sync.Mutex

	clock     time.Time
	resources map[uint64]model.Resource
	buildings map[uint64]string
	blocks    []model.Block
	apps      map[uint64]*model.Application
	nextApp   uint64
	orders    map[uint64]repository.OrderTotal // keyed by application id
	nextOrder uint64
	events    []model.Event
	docs      map[uint64]model.Document
	payments  []fakePayment
	allocs    []model.Allocation

	draftLocks int // LockDraftsTx calls
}

func newMemStore() *memStore {
	return &memStore{
		clock:     testNow,
		resources: make(map[uint64]model.Resource),
		buildings: map[uint64]string{1: "Idrettshallen", 2: "Kulturhuset"},
		apps:      make(map[uint64]*model.Application),
		orders:    make(map[uint64]repository.OrderTotal),
		docs:      make(map[uint64]model.Document),
	}
}

func (m *memStore) stores() Stores {
	return Stores{
		Resources:    (*fakeResources)(m),
		Conflicts:    (*fakeConflicts)(m),
		Blocks:       (*fakeBlocks)(m),
		Applications: (*fakeApps)(m),
		Orders:       (*fakeOrders)(m),
		Events:       (*fakeEvents)(m),
		Documents:    (*fakeDocs)(m),
		Payments:     (*fakePayments)(m),
	}
}

func (m *memStore) addResource(r model.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
}

// addApp stores a copy of app and returns its id.
func (m *memStore) addApp(app model.Application) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextApp++
	app.ID = m.nextApp
	if app.Created.IsZero() {
		app.Created = m.clock
	}
	app.Active = true
	m.apps[app.ID] = &app
	return app.ID
}

func (m *memStore) app(id uint64) (model.Application, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return model.Application{}, false
	}
	return *a, true
}

func (m *memStore) mustApp(id uint64) model.Application {
	a, _ := m.app(id)
	return a
}

func (m *memStore) activeBlocks() []model.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Block
	for _, b := range m.blocks {
		if b.Active {
			out = append(out, b)
		}
	}
	return out
}

func (m *memStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func contains(ids []uint64, id uint64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

type fakeResources memStore

func (f *fakeResources) GetByIDTx(_ context.Context, _ repository.DBTX, id uint64) (*model.Resource, error) {
	m := (*memStore)(f)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (f *fakeResources) ListByIDsTx(_ context.Context, _ repository.DBTX, ids []uint64) ([]model.Resource, error) {
	m := (*memStore)(f)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Resource
	for _, id := range uniqueIDs(ids) {
		if r, ok := m.resources[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeResources) BuildingNameTx(_ context.Context, _ repository.DBTX, id uint64) (string, error) {
	m := (*memStore)(f)
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.buildings[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return name, nil
}

type fakeConflicts memStore

func (f *fakeConflicts) FindConflictsTx(_ context.Context, _ repository.DBTX, cq repository.ConflictQuery) ([]model.Conflict, error) {
	m := (*memStore)(f)
	m.mu.Lock()
	defer m.mu.Unlock()
	cand := cq.Interval
	var out []model.Conflict
	add := func(kind model.ConflictKind, id, rid uint64, iv model.TimeInterval, status string) {
		reason, typ, ok := model.Classify(cand, iv)
		if ok {
			out = append(out, model.Conflict{Kind: kind, ConflictingID: id, ResourceID: rid,
				Interval: iv, Status: status, Reason: reason, Type: typ})
		}
	}
	if !cq.Now.IsZero() && cand.InPast(cq.Now, cq.Buffer) {
		for _, rid := range cq.ResourceIDs {
			out = append(out, model.Conflict{Kind: model.KindTime, ResourceID: rid, Interval: cand,
				Reason: model.ReasonTimeInPast, Type: model.OverlapDisabled})
		}
	}
	for _, b := range m.blocks {
		if b.Active && contains(cq.ResourceIDs, b.ResourceID) && b.SessionID != cq.ExcludeSessionID {
			add(model.KindBlock, b.ID, b.ResourceID, b.Interval, "")
		}
	}
	for _, a := range m.apps {
		if !a.Active || a.Status == model.StatusRejected || contains(cq.ExcludeApplicationIDs, a.ID) {
			continue
		}
		if a.IsDraft() && a.SessionID != nil && *a.SessionID == cq.ExcludeSessionID {
			continue
		}
		for _, rid := range a.Resources {
			if !contains(cq.ResourceIDs, rid) {
				continue
			}
			for _, iv := range a.Dates {
				add(model.KindApplication, a.ID, rid, iv, string(a.Status))
			}
		}
	}
	for _, al := range m.allocs {
		for _, rid := range al.Resources {
			if contains(cq.ResourceIDs, rid) {
				add(model.KindAllocation, al.ID, rid, al.Interval, "")
			}
		}
	}
	for _, ev := range m.events {
		for _, rid := range ev.Resources {
			if contains(cq.ResourceIDs, rid) {
				add(model.KindEvent, ev.ID, rid, ev.Interval, "")
			}
		}
	}
	return out, nil
}

type fakeBlocks memStore

func (f *fakeBlocks) find(sessionID string, rid uint64, iv model.TimeInterval) int {
	for i, b := range f.blocks {
		if b.Active && b.SessionID == sessionID && b.ResourceID == rid &&
			b.Interval.From.Equal(iv.From) && b.Interval.To.Equal(iv.To) {
			return i
		}
	}
	return -1
}

func (f *fakeBlocks) ExistsTx(_ context.Context, _ repository.DBTX, sessionID string, rid uint64, iv model.TimeInterval) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(sessionID, rid, iv) >= 0, nil
}

func (f *fakeBlocks) CreateTx(_ context.Context, _ repository.DBTX, sessionID string, rid uint64, iv model.TimeInterval) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(sessionID, rid, iv) >= 0 {
		return false, nil
	}
	f.blocks = append(f.blocks, model.Block{ID: uint64(len(f.blocks) + 1), SessionID: sessionID,
		ResourceID: rid, Interval: iv, Active: true, EntryDate: f.clock})
	return true, nil
}

func (f *fakeBlocks) DeactivateTx(_ context.Context, _ repository.DBTX, sessionID string, rid uint64, iv model.TimeInterval) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.find(sessionID, rid, iv); i >= 0 {
		f.blocks[i].Active = false
		return 1, nil
	}
	return 0, nil
}

func (f *fakeBlocks) ReleaseTx(_ context.Context, _ repository.DBTX, sessionID string, rids []uint64, dates []model.TimeInterval) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rid := range rids {
		for _, iv := range dates {
			if i := f.find(sessionID, rid, iv); i >= 0 {
				f.blocks[i].Active = false
				n++
			}
		}
	}
	return n, nil
}

type fakeApps memStore

func (f *fakeApps) CreateTx(_ context.Context, _ repository.DBTX, app *model.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextApp++
	app.ID = f.nextApp
	app.Created = f.clock
	cp := *app
	f.apps[app.ID] = &cp
	return nil
}

func (f *fakeApps) GetTx(_ context.Context, _ repository.DBTX, id uint64) (*model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeApps) ListDraftsTx(_ context.Context, _ repository.DBTX, sessionID string) ([]model.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Application
	for id := uint64(1); id <= f.nextApp; id++ {
		a, ok := f.apps[id]
		if ok && a.IsDraft() && a.SessionID != nil && *a.SessionID == sessionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeApps) LockDraftsTx(ctx context.Context, q repository.DBTX, sessionID string) ([]model.Application, error) {
	f.mu.Lock()
	f.draftLocks++
	f.mu.Unlock()
	return f.ListDraftsTx(ctx, q, sessionID)
}

func (f *fakeApps) ReplaceDatesTx(_ context.Context, _ repository.DBTX, id uint64, dates []model.TimeInterval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Dates = append([]model.TimeInterval(nil), dates...)
	return nil
}

func (f *fakeApps) ReplaceResourcesTx(_ context.Context, _ repository.DBTX, id uint64, rids []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Resources = append([]uint64(nil), rids...)
	return nil
}

func (f *fakeApps) PatchTx(_ context.Context, _ repository.DBTX, id uint64, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	for k, v := range fields {
		if !repository.IsPatchable(k) {
			return repository.ErrFieldNotPatchable
		}
		switch k {
		case "status":
			a.Status = model.ApplicationStatus(v.(string))
		case "session_id":
			switch s := v.(type) {
			case nil:
				a.SessionID = nil
			case string:
				a.SessionID = &s
			}
		case "parent_id":
			switch p := v.(type) {
			case nil:
				a.ParentID = nil
			case uint64:
				a.ParentID = &p
			}
		case "name":
			a.Name = v.(string)
		case "organizer":
			a.Organizer = v.(string)
		case "contact_email":
			a.Contact.ContactEmail = v.(string)
		case "customer_ssn":
			a.Contact.CustomerSSN = v.(string)
		}
	}
	return nil
}

func (f *fakeApps) DeleteTx(_ context.Context, _ repository.DBTX, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.apps, id)
	delete(f.orders, id)
	return nil
}

func (f *fakeApps) CountUserBookingsTx(_ context.Context, _ repository.DBTX, rid uint64, ssn string, since time.Time, exclude []uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.apps {
		if a.Active && a.Status != model.StatusRejected && a.Contact.CustomerSSN == ssn &&
			contains(a.Resources, rid) && !a.Created.Before(since) && !contains(exclude, a.ID) {
			n++
		}
	}
	return n, nil
}

type fakeOrders memStore

func (f *fakeOrders) ReplaceTx(_ context.Context, _ repository.DBTX, appID uint64, lines []model.PurchaseOrderLine) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextOrder++
	var total int64
	for _, l := range lines {
		total += l.Total()
	}
	f.orders[appID] = repository.OrderTotal{OrderID: f.nextOrder, ApplicationID: appID, Amount: total}
	return f.nextOrder, nil
}

func (f *fakeOrders) UnpaidTx(_ context.Context, _ repository.DBTX, appIDs []uint64) ([]repository.OrderTotal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.OrderTotal
	for _, id := range appIDs {
		o, ok := f.orders[id]
		if !ok {
			continue
		}
		paid := false
		for _, p := range f.payments {
			if p.orderID == o.OrderID && p.status == model.PaymentCompleted {
				paid = true
			}
		}
		if !paid {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeEvents memStore

func (f *fakeEvents) CreateTx(_ context.Context, _ repository.DBTX, ev *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = uint64(len(f.events) + 1)
	ev.Active = true
	f.events = append(f.events, *ev)
	return nil
}

type fakeDocs memStore

func (f *fakeDocs) ListForApplicationTx(_ context.Context, _ repository.DBTX, appID uint64) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Document
	for _, d := range f.docs {
		if d.OwnerID == appID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocs) DeleteTx(_ context.Context, _ repository.DBTX, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

type fakePayments memStore

func (f *fakePayments) CreateTx(_ context.Context, _ repository.DBTX, remoteID, method string, orders []repository.OrderTotal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range orders {
		f.payments = append(f.payments, fakePayment{remoteID: remoteID, method: method, orderID: o.OrderID,
			appID: o.ApplicationID, amount: o.Amount, status: model.PaymentNew})
	}
	return nil
}

func (f *fakePayments) ApplicationIDsTx(_ context.Context, _ repository.DBTX, remoteID string) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint64
	for _, p := range f.payments {
		if p.remoteID == remoteID && !contains(out, p.appID) {
			out = append(out, p.appID)
		}
	}
	return out, nil
}

func (f *fakePayments) UpdateStatusTx(_ context.Context, _ repository.DBTX, remoteID, status, remoteState string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.payments {
		if f.payments[i].remoteID == remoteID {
			f.payments[i].status, f.payments[i].remoteState = status, remoteState
		}
	}
	return nil
}

func (f *fakePayments) DeleteTx(_ context.Context, _ repository.DBTX, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.payments[:0]
	for _, p := range f.payments {
		if p.remoteID != remoteID {
			kept = append(kept, p)
		}
	}
	f.payments = kept
	return nil
}

// stubLock grants or refuses every acquisition.
type stubLock struct {
	mu       sync.Mutex
	deny     bool
	acquired int
	released int
}

func (l *stubLock) Acquire(context.Context, uint64, model.TimeInterval, string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *stubLock) Release(context.Context, uint64, model.TimeInterval, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

// recordingNotifier keeps the ids of every notification it was asked to send.
type recordingNotifier struct {
	mu     sync.Mutex
	single []uint64
	groups [][]uint64
}

func (n *recordingNotifier) NotifyApplication(_ context.Context, app model.Application, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.single = append(n.single, app.ID)
	return nil
}

func (n *recordingNotifier) NotifyApplicationGroup(_ context.Context, apps []model.Application, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]uint64, len(apps))
	for i, a := range apps {
		ids[i] = a.ID
	}
	n.groups = append(n.groups, ids)
	return nil
}

// recordingFiles remembers which document files were removed.
type recordingFiles struct {
	deleted []uint64
}

func (f *recordingFiles) Delete(doc model.Document) error {
	f.deleted = append(f.deleted, doc.ID)
	return nil
}

// stubGateway answers payment calls from canned values.
type stubGateway struct {
	status      vipps.Status
	initiateErr error
	captureErr  error
	initiated   []vipps.PaymentRequest
	captured    []int64
}

func (g *stubGateway) InitiatePayment(_ context.Context, req vipps.PaymentRequest) (*vipps.InitiateResponse, error) {
	g.initiated = append(g.initiated, req)
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &vipps.InitiateResponse{OrderID: req.OrderID, URL: "https://pay.example/" + req.OrderID}, nil
}

func (g *stubGateway) CheckPaymentStatus(_ context.Context, orderID string) (vipps.Status, error) {
	st := g.status
	st.OrderID = orderID
	return st, nil
}

func (g *stubGateway) CapturePayment(_ context.Context, _ string, amount int64) (*vipps.TransactionResponse, error) {
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	g.captured = append(g.captured, amount)
	tr := &vipps.TransactionResponse{}
	tr.TransactionInfo.Amount = amount
	tr.TransactionInfo.Status = "Captured"
	return tr, nil
}
