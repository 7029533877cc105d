package service

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

const validSSN = "01019012480"

type appFixture struct {
	db       *sql.DB
	svc      *ApplicationService
	store    *memStore
	mock     sqlmock.Sqlmock
	notifier *recordingNotifier
	files    *recordingFiles
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	m := newMemStore()
	cutoff := testNow.Add(-time.Hour)
	m.addResource(model.Resource{ID: hallA, BuildingID: 1, Name: "Hall A", Active: true, SimpleBooking: true, DirectBooking: &cutoff})
	db, mock := newMockDB(t)
	n := &recordingNotifier{}
	files := &recordingFiles{}
	svc := NewApplicationService(db, m.stores(), files, n, zap.NewNop())
	svc.setClock(func() time.Time { return testNow })
	return &appFixture{db: db, svc: svc, store: m, mock: mock, notifier: n, files: files}
}

// draft adds a cart item for session with a block per date.
func (f *appFixture) draft(session string, building uint64, dates ...model.TimeInterval) uint64 {
	id := f.store.addApp(model.Application{
		Status:     model.StatusDraft,
		SessionID:  strPtr(session),
		BuildingID: building,
		Name:       "Trening",
		Resources:  []uint64{hallA},
		Dates:      dates,
	})
	for _, iv := range dates {
		_, _ = (*fakeBlocks)(f.store).CreateTx(context.Background(), nil, session, hallA, iv)
	}
	return id
}

func checkoutInput() CheckoutInput {
	return CheckoutInput{
		Contact: model.ContactInfo{
			ContactName:            "Kari Nordmann",
			ContactEmail:           "kari@example.no",
			ContactPhone:           "98765432",
			ResponsibleStreet:      "Storgata 1",
			ResponsibleZipCode:     "5003",
			ResponsibleCity:        "Bergen",
			CustomerIdentifierType: model.CustomerSSN,
		},
		OrganizerName: "Kari Nordmann",
		SSN:           validSSN,
	}
}

func ids(apps []model.Application) []uint64 {
	out := make([]uint64, len(apps))
	for i, a := range apps {
		out[i] = a.ID
	}
	return out
}

func TestCheckoutPartialSuccess(t *testing.T) {
	f := newAppFixture(t)
	first := f.draft("sess-a", 1, slot(0, 18), slot(7, 18))
	second := f.draft("sess-a", 1, slot(1, 18))
	third := f.draft("sess-a", 1, slot(2, 18))
	// someone else's event took the second slot after it was drafted
	f.store.events = append(f.store.events, model.Event{ID: 99, Resources: []uint64{hallA}, Interval: slot(1, 18), Active: true})

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	res, err := f.svc.Checkout(context.Background(), "sess-a", checkoutInput())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if got := ids(res.Updated); !reflect.DeepEqual(got, []uint64{first, third}) {
		t.Fatalf("updated = %v", got)
	}
	if got := ids(res.Skipped); !reflect.DeepEqual(got, []uint64{second}) {
		t.Fatalf("skipped = %v", got)
	}
	if cs := res.Conflicts[second]; len(cs) != 1 || cs[0].Kind != model.KindEvent {
		t.Fatalf("conflicts for rejected application = %+v", cs)
	}

	a1, _ := f.store.app(first)
	a2, _ := f.store.app(second)
	if a1.Status != model.StatusAccepted || a2.Status != model.StatusRejected {
		t.Fatalf("statuses = %s, %s", a1.Status, a2.Status)
	}
	if a1.SessionID != nil || a1.ParentID == nil || *a1.ParentID != first {
		t.Fatalf("accepted application not finalized: %+v", a1)
	}
	if a1.Contact.ContactEmail != "kari@example.no" || a1.Contact.CustomerSSN != validSSN {
		t.Fatalf("contact not merged: %+v", a1.Contact)
	}
	// two dates on the first, one on the third, plus the pre-existing event
	if len(res.Events) != 3 || f.store.eventCount() != 4 {
		t.Fatalf("events = %d (store %d)", len(res.Events), f.store.eventCount())
	}
	if len(f.store.activeBlocks()) != 0 {
		t.Fatal("checkout must release every block of the session")
	}
	if !reflect.DeepEqual(f.notifier.groups, [][]uint64{{first, third}}) || len(f.notifier.single) != 0 {
		t.Fatalf("notifications: groups %v single %v", f.notifier.groups, f.notifier.single)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCheckoutTwiceKeepsAcceptedApplication(t *testing.T) {
	f := newAppFixture(t)
	id := f.draft("sess-a", 1, slot(0, 18))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	if _, err := f.svc.Checkout(context.Background(), "sess-a", checkoutInput()); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Checkout(context.Background(), "sess-a", checkoutInput())
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("second checkout: err = %v, want ValidationError", err)
	}
	if f.store.draftLocks != 2 {
		t.Fatalf("draft rows locked %d times, want 2", f.store.draftLocks)
	}
	if app := f.store.mustApp(id); app.Status != model.StatusAccepted {
		t.Fatalf("status after second checkout = %s", app.Status)
	}
	if f.store.eventCount() != 1 {
		t.Fatalf("events = %d", f.store.eventCount())
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCheckoutDecisionTable(t *testing.T) {
	cases := []struct {
		name      string
		recurring bool
		noCutoff  bool
		want      model.ApplicationStatus
		events    int
	}{
		{name: "eligible", want: model.StatusAccepted, events: 1},
		{name: "recurring", recurring: true, want: model.StatusNew},
		{name: "no direct booking", noCutoff: true, want: model.StatusNew},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAppFixture(t)
			if tc.noCutoff {
				res := f.store.resources[hallA]
				res.DirectBooking = nil
				f.store.addResource(res)
			}
			id := f.draft("sess-a", 1, slot(0, 18))
			if tc.recurring {
				f.store.apps[id].RecurringInfo = strPtr(`{"field_interval":1}`)
			}
			f.mock.ExpectBegin()
			f.mock.ExpectCommit()

			res, err := f.svc.Checkout(context.Background(), "sess-a", checkoutInput())
			if err != nil {
				t.Fatalf("Checkout: %v", err)
			}
			app, _ := f.store.app(id)
			if app.Status != tc.want {
				t.Fatalf("status = %s, want %s", app.Status, tc.want)
			}
			if len(res.Events) != tc.events {
				t.Fatalf("events = %d, want %d", len(res.Events), tc.events)
			}
			if tc.recurring && app.ParentID != nil {
				t.Fatal("recurring applications never get a parent")
			}
			if len(res.Updated) != 1 || len(f.notifier.single) != 1 {
				t.Fatalf("updated %d, notified %v", len(res.Updated), f.notifier.single)
			}
		})
	}
}

func TestCheckoutCutoffAfterStartIsNotDirect(t *testing.T) {
	f := newAppFixture(t)
	cutoff := slot(5, 0).From
	res := f.store.resources[hallA]
	res.DirectBooking = &cutoff
	f.store.addResource(res)
	id := f.draft("sess-a", 1, slot(0, 18))

	ok, err := f.svc.IsEligible(context.Background(), f.store.mustApp(id), validSSN)
	if err != nil || ok {
		t.Fatalf("IsEligible = %v, %v; want false", ok, err)
	}
}

func TestEligibilityLimitBoundary(t *testing.T) {
	for _, tc := range []struct {
		existing int
		want     bool
	}{{2, true}, {3, false}} {
		f := newAppFixture(t)
		res := f.store.resources[hallA]
		res.BookingLimitNumber, res.BookingLimitHorizon = 3, 30
		f.store.addResource(res)
		for i := 0; i < tc.existing; i++ {
			f.store.addApp(model.Application{Status: model.StatusAccepted, Resources: []uint64{hallA},
				Dates: []model.TimeInterval{slot(i+10, 8)}, Contact: model.ContactInfo{CustomerSSN: validSSN}})
		}
		id := f.draft("sess-a", 1, slot(0, 18))

		ok, err := f.svc.IsEligible(context.Background(), f.store.mustApp(id), validSSN)
		if err != nil {
			t.Fatal(err)
		}
		if ok != tc.want {
			t.Fatalf("existing %d: eligible = %v, want %v", tc.existing, ok, tc.want)
		}
	}
}

func TestCheckoutRejectsInvalidContact(t *testing.T) {
	f := newAppFixture(t)
	f.draft("sess-a", 1, slot(0, 18))
	in := checkoutInput()
	in.Contact.ContactEmail = "not-an-email"
	in.Contact.ResponsibleZipCode = "50"

	_, err := f.svc.Checkout(context.Background(), "sess-a", in)
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if _, ok := invalid.Fields["contactEmail"]; !ok {
		t.Fatalf("fields = %v", invalid.Fields)
	}
	if _, ok := invalid.Fields["zipCode"]; !ok {
		t.Fatalf("fields = %v", invalid.Fields)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateCheckoutReportsBatchLimit(t *testing.T) {
	f := newAppFixture(t)
	res := f.store.resources[hallA]
	res.BookingLimitNumber, res.BookingLimitHorizon = 2, 30
	f.store.addResource(res)
	f.store.addApp(model.Application{Status: model.StatusAccepted, Resources: []uint64{hallA},
		Dates: []model.TimeInterval{slot(10, 8)}, Contact: model.ContactInfo{CustomerSSN: validSSN}})
	f.draft("sess-a", 1, slot(0, 18))
	f.draft("sess-a", 1, slot(1, 18))

	v, err := f.svc.ValidateCheckout(context.Background(), "sess-a", checkoutInput())
	if err != nil {
		t.Fatalf("ValidateCheckout: %v", err)
	}
	if v.Valid || len(v.LimitErrors) != 1 {
		t.Fatalf("validation = %+v", v)
	}
	if le := v.LimitErrors[0]; le.Current != 1 || le.Requested != 2 || le.Limit != 2 {
		t.Fatalf("limit error = %+v", le)
	}
	if len(v.Applications) != 2 {
		t.Fatalf("applications = %+v", v.Applications)
	}
}

func TestDeleteDraftCascades(t *testing.T) {
	f := newAppFixture(t)
	id := f.draft("sess-a", 1, slot(0, 18))
	other := f.draft("sess-a", 1, slot(1, 18))
	f.store.docs[5] = model.Document{ID: 5, OwnerID: id, Name: "plan.pdf"}
	f.store.docs[6] = model.Document{ID: 6, OwnerID: other, Name: "keep.pdf"}
	if _, err := (*fakeOrders)(f.store).ReplaceTx(context.Background(), nil, id,
		[]model.PurchaseOrderLine{{Quantity: 1, UnitPrice: 40000, Amount: 40000, Tax: 10000}}); err != nil {
		t.Fatal(err)
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	if err := f.svc.DeleteDraft(context.Background(), "sess-a", id); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	if _, ok := f.store.app(id); ok {
		t.Fatal("application still present")
	}
	if _, ok := f.store.orders[id]; ok {
		t.Fatal("purchase order still present")
	}
	if _, ok := f.store.docs[5]; ok {
		t.Fatal("document row still present")
	}
	if _, ok := f.store.docs[6]; !ok {
		t.Fatal("documents of other applications must stay")
	}
	if !reflect.DeepEqual(f.files.deleted, []uint64{5}) {
		t.Fatalf("deleted files = %v", f.files.deleted)
	}
	blocks := f.store.activeBlocks()
	if len(blocks) != 1 || !blocks[0].Interval.From.Equal(slot(1, 18).From) {
		t.Fatalf("remaining blocks = %+v", blocks)
	}
}

func TestDeleteDraftChecksOwnerAndStatus(t *testing.T) {
	f := newAppFixture(t)
	id := f.draft("sess-a", 1, slot(0, 18))
	accepted := f.store.addApp(model.Application{Status: model.StatusAccepted, SessionID: strPtr("sess-a")})

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	if err := f.svc.DeleteDraft(context.Background(), "sess-b", id); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other session: err = %v", err)
	}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	if err := f.svc.DeleteDraft(context.Background(), "sess-a", accepted); !errors.Is(err, ErrNotDraft) {
		t.Fatalf("accepted application: err = %v", err)
	}
	if _, ok := f.store.app(id); !ok {
		t.Fatal("draft deleted by another session")
	}
}

func TestPatchValidation(t *testing.T) {
	f := newAppFixture(t)
	id := f.draft("sess-a", 1, slot(0, 18))
	ctx := context.Background()

	_, err := f.svc.Patch(ctx, "sess-a", id, ApplicationPatch{Fields: map[string]any{"status": "ACCEPTED"}})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("status change: err = %v", err)
	}
	_, err = f.svc.Patch(ctx, "sess-a", id, ApplicationPatch{Fields: map[string]any{"secret": "x"}})
	if !errors.As(err, &invalid) {
		t.Fatalf("unknown field: err = %v", err)
	}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	dates := []model.TimeInterval{slot(3, 9), slot(4, 9)}
	app, err := f.svc.Patch(ctx, "sess-a", id, ApplicationPatch{
		Fields: map[string]any{"name": "Korps"},
		Dates:  &dates,
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if app.Name != "Korps" || len(app.Dates) != 2 {
		t.Fatalf("patched application = %+v", app)
	}
	if got := f.store.activeBlocks(); len(got) != 0 {
		t.Fatalf("block on the old slot still active: %+v", got)
	}
}

func TestPatchedDraftFreesOldSlot(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	id := f.draft("sess-a", 1, slot(0, 18))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	moved := []model.TimeInterval{slot(0, 20)}
	if _, err := f.svc.Patch(ctx, "sess-a", id, ApplicationPatch{Dates: &moved}); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	if _, err := f.svc.Checkout(ctx, "sess-a", checkoutInput()); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if app := f.store.mustApp(id); app.Status != model.StatusAccepted {
		t.Fatalf("status = %s", app.Status)
	}
	if got := f.store.activeBlocks(); len(got) != 0 {
		t.Fatalf("blocks left after checkout: %+v", got)
	}

	// another session can now take the vacated 18:00 slot
	bs := NewBookingService(f.db, f.store.stores(), &stubLock{}, zap.NewNop())
	bs.now = func() time.Time { return testNow }
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	req := SlotRequest{SessionID: "sess-b", BuildingID: 1, ResourceID: hallA, Interval: slot(0, 18)}
	if _, err := bs.CreateDraft(ctx, req); err != nil {
		t.Fatalf("CreateDraft on vacated slot: %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveParents(t *testing.T) {
	apps := []model.Application{
		{ID: 1, BuildingID: 1},
		{ID: 2, BuildingID: 2, RecurringInfo: strPtr("weekly")},
		{ID: 3, BuildingID: 2},
		{ID: 4, BuildingID: 1},
	}

	parents, err := resolveParents(apps, CheckoutInput{BuildingParentIDs: map[uint64]uint64{1: 4}})
	if err != nil {
		t.Fatal(err)
	}
	if want := map[uint64]uint64{1: 4, 2: 3}; !reflect.DeepEqual(parents, want) {
		t.Fatalf("parents = %v, want %v", parents, want)
	}

	_, err = resolveParents(apps, CheckoutInput{BuildingParentIDs: map[uint64]uint64{1: 3}})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("cross building parent: err = %v", err)
	}
	_, err = resolveParents(apps, CheckoutInput{BuildingParentIDs: map[uint64]uint64{2: 2}})
	if !errors.As(err, &invalid) {
		t.Fatalf("recurring parent: err = %v", err)
	}
	legacy := uint64(3)
	parents, err = resolveParents(apps, CheckoutInput{ParentID: &legacy})
	if err != nil || parents[2] != 3 || parents[1] != 1 {
		t.Fatalf("legacy parent: %v, %v", parents, err)
	}
}

func TestGroupByParent(t *testing.T) {
	p1, p5 := uint64(1), uint64(5)
	apps := []model.Application{
		{ID: 1, ParentID: &p1},
		{ID: 5, ParentID: &p5},
		{ID: 2, ParentID: &p1},
		{ID: 9},
	}
	groups := groupByParent(apps)
	var got [][]uint64
	for _, g := range groups {
		got = append(got, ids(g))
	}
	if want := [][]uint64{{1, 2}, {5}, {9}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("groups = %v, want %v", got, want)
	}
}
