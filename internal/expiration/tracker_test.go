package expiration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-docflow/internal/audit"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/models"
	"rental-docflow/internal/store/memory"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := base.AddDate(0, 0, days)
	return &t
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		expiration *time.Time
		now        time.Time
		want       ValidityStatus
		days       int
	}{
		{"no expiration", nil, base, StatusNoExpiration, 0},
		{"far future", at(90), base, StatusValid, 90},
		{"just outside window", at(31), base, StatusValid, 31},
		{"window boundary", at(30), base, StatusExpiringSoon, 30},
		{"partial day rounds up", at(1), base.Add(time.Hour), StatusExpiringSoon, 1},
		{"exact instant", at(0), base, StatusExpired, 0},
		{"one second past", at(0), base.Add(time.Second), StatusExpired, -1},
		{"long expired", at(-10), base, StatusExpired, -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(tt.expiration, tt.now, 30)
			assert.Equal(t, tt.want, ev.Status)
			assert.Equal(t, tt.days, ev.DaysRemaining)
			if tt.expiration == nil {
				assert.Nil(t, ev.RenewalWindowStart)
				return
			}
			require.NotNil(t, ev.RenewalWindowStart)
			assert.Equal(t, tt.expiration.AddDate(0, 0, -30), *ev.RenewalWindowStart)
		})
	}
}

func TestEvaluate_DefaultWindow(t *testing.T) {
	ev := Evaluate(at(25), base, 0)
	assert.Equal(t, StatusExpiringSoon, ev.Status)
}

type recorder struct {
	mu     sync.Mutex
	notes  []models.Notification
	events []models.DocumentEvent
}

func (r *recorder) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) Publish(_ context.Context, e models.DocumentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	store   *memory.Store
	tracker *Tracker
	out     *recorder
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	f := &fixture{store: st, out: &recorder{}, now: base}
	f.tracker = NewTracker(st, audit.NewRecorder(st, nil, logger.NewNoOpLogger()), f.out, f.out,
		Config{ExpiringSoonDays: 30, RenewalPeriodDays: 365}, logger.NewTestLogger(t))
	f.tracker.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) document(t *testing.T, status models.DocumentStatus, expiration *time.Time) *models.Document {
	t.Helper()
	doc := &models.Document{
		PropertyID:     "prop-1",
		TenantID:       "tenant-1",
		Type:           models.DocumentTypeLease,
		StorageURL:     "leases/a.pdf",
		Jurisdiction:   "NY",
		Status:         status,
		ExpirationDate: expiration,
	}
	require.NoError(t, f.store.CreateDocument(context.Background(), doc))
	return doc
}

func TestRenew_ExtendsFromPreviousBoundary(t *testing.T) {
	f := newFixture(t)
	doc := f.document(t, models.DocumentStatusApproved, at(-40))

	first, err := f.tracker.Renew(context.Background(), doc.ID, "landlord-1", 30)
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, -10), *first.ExpirationDate)

	second, err := f.tracker.Renew(context.Background(), doc.ID, "landlord-1", 30)
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, 20), *second.ExpirationDate, "old + 2 periods, not now + period")

	entries, err := f.store.ListAudit(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.AuditRenew, e.Action)
		assert.Equal(t, 30, e.Details["periodDays"])
	}
}

func TestRenew_DefaultPeriod(t *testing.T) {
	f := newFixture(t)
	doc := f.document(t, models.DocumentStatusApproved, at(10))

	got, err := f.tracker.Renew(context.Background(), doc.ID, "landlord-1", 0)
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, 10).AddDate(0, 0, 365), *got.ExpirationDate)
}

func TestRenew_RestoresApproved(t *testing.T) {
	f := newFixture(t)
	doc := f.document(t, models.DocumentStatusExpired, at(-5))

	got, err := f.tracker.Renew(context.Background(), doc.ID, "landlord-1", 365)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, got.Status)

	stored, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, stored.Status)

	var types []models.EventType
	for _, e := range f.out.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []models.EventType{models.EventDocumentRenewed, models.EventDocumentStatus}, types)
	assert.Len(t, f.out.notes, 2)
}

func TestRenew_Errors(t *testing.T) {
	f := newFixture(t)
	none := f.document(t, models.DocumentStatusApproved, nil)
	rejected := f.document(t, models.DocumentStatusRejected, at(10))

	_, err := f.tracker.Renew(context.Background(), none.ID, "landlord-1", 30)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.tracker.Renew(context.Background(), rejected.ID, "landlord-1", 30)
	assert.ErrorIs(t, err, apperr.ErrAlreadyTerminal)

	_, err = f.tracker.Renew(context.Background(), none.ID, "", 30)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.tracker.Renew(context.Background(), "missing", "landlord-1", 30)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Empty(t, f.out.notes)
}

func TestRenew_ConcurrentRenewalsEachExtendOnce(t *testing.T) {
	f := newFixture(t)
	doc := f.document(t, models.DocumentStatusApproved, at(5))

	const callers = 5
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tracker.Renew(context.Background(), doc.ID, "landlord-1", 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, 5+callers*10), *stored.ExpirationDate)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	approved := f.document(t, models.DocumentStatusApproved, at(-1))
	pending := f.document(t, models.DocumentStatusPendingSignature, at(-1))
	valid := f.document(t, models.DocumentStatusApproved, at(100))

	ev, err := f.tracker.Refresh(context.Background(), approved.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, ev.Status)
	stored, _ := f.store.GetDocument(context.Background(), approved.ID)
	assert.Equal(t, models.DocumentStatusExpired, stored.Status)

	entries, err := f.store.ListAudit(context.Background(), approved.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, systemActor, entries[0].ActorID)

	// only approved documents lapse into expired
	_, err = f.tracker.Refresh(context.Background(), pending.ID, "")
	require.NoError(t, err)
	stored, _ = f.store.GetDocument(context.Background(), pending.ID)
	assert.Equal(t, models.DocumentStatusPendingSignature, stored.Status)

	ev, err = f.tracker.Refresh(context.Background(), valid.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusValid, ev.Status)

	// a second refresh is a no-op
	_, err = f.tracker.Refresh(context.Background(), approved.ID, "")
	require.NoError(t, err)
	entries, _ = f.store.ListAudit(context.Background(), approved.ID)
	assert.Len(t, entries, 1)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	f.document(t, models.DocumentStatusApproved, at(-3))
	soon := f.document(t, models.DocumentStatusApproved, at(12))
	f.document(t, models.DocumentStatusApproved, at(200))
	f.document(t, models.DocumentStatusApproved, nil)

	res, err := f.tracker.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Checked: 2, Expired: 1, ExpiringSoon: 1}, res)

	var reminders []models.Notification
	for _, n := range f.out.notes {
		if n.Type == models.NotificationExpiringSoon {
			reminders = append(reminders, n)
		}
	}
	require.Len(t, reminders, 2)
	assert.Equal(t, soon.ID, reminders[0].DocumentID)
	assert.Contains(t, reminders[0].Message, "12 days")
}

func TestCheck(t *testing.T) {
	f := newFixture(t)
	doc := f.document(t, models.DocumentStatusApproved, at(-1))

	ev, err := f.tracker.Check(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, ev.Status)
	assert.Equal(t, doc.ID, ev.DocumentID)

	stored, _ := f.store.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.DocumentStatusApproved, stored.Status, "check does not write")
}
