package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"casewatch/internal/notify"
	"casewatch/internal/storage"
	logx "casewatch/pkg/logx"
)

// fakeStore implements SettingsSource, CaseSource and Ledger in memory.
type fakeStore struct {
	mu sync.Mutex

	settings    storage.NotifySettings
	settingsErr error

	cases   []storage.CaseRecord
	listErr error

	markers    map[storage.MarkerKey]storage.Marker
	hasErr     error
	reserveErr error

	listCalls  int
	pruneCalls int
	pruneAt    time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings: storage.NotifySettings{
			Enabled:   true,
			Recipient: "registry@example.com",
			Sender:    "noreply@example.com",
		},
		markers: map[storage.MarkerKey]storage.Marker{},
	}
}

func (f *fakeStore) Settings(ctx context.Context) (storage.NotifySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, f.settingsErr
}

func (f *fakeStore) ListCases(ctx context.Context) ([]storage.CaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.cases, f.listErr
}

func (f *fakeStore) HasMarker(ctx context.Context, k storage.MarkerKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasErr != nil {
		return false, f.hasErr
	}
	_, ok := f.markers[k]
	return ok, nil
}

func (f *fakeStore) ReserveMarker(ctx context.Context, k storage.MarkerKey, m storage.Marker) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return false, f.reserveErr
	}
	if _, ok := f.markers[k]; ok {
		return false, nil
	}
	f.markers[k] = m
	return true, nil
}

func (f *fakeStore) ReleaseMarker(ctx context.Context, k storage.MarkerKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.markers, k)
	return nil
}

func (f *fakeStore) PruneMarkers(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	f.pruneAt = before
	var n int64
	for k, m := range f.markers {
		if m.SentAt.Before(before) {
			delete(f.markers, k)
			n++
		}
	}
	return n, nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []notify.Notice
	fail  func(n notify.Notice) error
	calls int
}

func (f *fakeSender) Send(ctx context.Context, to, from string, n notify.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(n); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var testNow = time.Date(2025, 8, 22, 10, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, store *fakeStore, sender *fakeSender, now time.Time) *Service {
	t.Helper()
	svc, err := New(Config{
		Interval: time.Hour,
		Lead:     24 * time.Hour,
		Window:   time.Hour,
		Location: time.UTC,
	}, Deps{
		Settings: store,
		Cases:    store,
		Ledger:   store,
		Sender:   sender,
		Log:      logx.Nop(),
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestTickSendsOncePerHearingDate(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	// 23.5h ahead of testNow, inside [23h, 24h].
	store.cases = []storage.CaseRecord{{
		ID:                   7,
		Plaintiff:            "Hoxha",
		Defendant:            "Bashkia Durres",
		FirstInstanceHearing: "2025-08-23T10:00",
	}}
	sender := &fakeSender{}
	svc := newTestService(t, store, sender, testNow)

	ctx := context.Background()
	svc.tick(ctx)
	svc.tick(ctx)
	svc.tick(ctx)

	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d reminders across three passes, want 1", got)
	}
	if sender.sent[0].Hearing != "first_instance" || sender.sent[0].CaseID != 7 {
		t.Fatalf("unexpected notice: %+v", sender.sent[0])
	}
}

func TestTickEvaluatesBothHearingSlots(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.cases = []storage.CaseRecord{{
		ID:                   3,
		FirstInstanceHearing: "2025-08-23T10:00",
		AppealHearing:        "23-08-2025 10:15",
	}}
	sender := &fakeSender{}
	svc := newTestService(t, store, sender, testNow)

	svc.tick(context.Background())

	if got := sender.sentCount(); got != 2 {
		t.Fatalf("sent %d reminders, want one per slot", got)
	}
}

func TestUnconfiguredSettingsShortCircuit(t *testing.T) {
	t.Parallel()
	for name, settings := range map[string]storage.NotifySettings{
		"disabled":     {Enabled: false, Recipient: "a@b", Sender: "c@d"},
		"no recipient": {Enabled: true, Sender: "c@d"},
		"no sender":    {Enabled: true, Recipient: "a@b"},
	} {
		store := newFakeStore()
		store.settings = settings
		store.cases = []storage.CaseRecord{{ID: 1, FirstInstanceHearing: "2025-08-23T10:00"}}
		sender := &fakeSender{}
		svc := newTestService(t, store, sender, testNow)

		svc.tick(context.Background())

		if store.listCalls != 0 {
			t.Fatalf("%s: case list read despite unconfigured settings", name)
		}
		if sender.calls != 0 {
			t.Fatalf("%s: sender called despite unconfigured settings", name)
		}
	}
}

func TestSendFailureReleasesMarkerForRetry(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.cases = []storage.CaseRecord{{ID: 9, FirstInstanceHearing: "2025-08-23T10:00"}}
	sender := &fakeSender{}
	smtpDown := errors.New("smtp down")
	sender.fail = func(n notify.Notice) error { return smtpDown }
	svc := newTestService(t, store, sender, testNow)

	svc.tick(context.Background())
	if len(store.markers) != 0 {
		t.Fatalf("marker kept after send failure: %v", store.markers)
	}

	// SMTP recovers; the same pass window retries the candidate.
	sender.fail = nil
	svc.tick(context.Background())
	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d after recovery, want 1", got)
	}
	if len(store.markers) != 1 {
		t.Fatalf("marker count = %d after successful send, want 1", len(store.markers))
	}
}

func TestOneFailingCandidateDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.cases = []storage.CaseRecord{
		{ID: 1, FirstInstanceHearing: "2025-08-23T10:00"},
		{ID: 2, FirstInstanceHearing: "2025-08-23T10:15"},
		{ID: 3, FirstInstanceHearing: "2025-08-23T10:30"},
	}
	sender := &fakeSender{}
	sender.fail = func(n notify.Notice) error {
		if n.CaseID == 2 {
			return errors.New("mailbox full")
		}
		return nil
	}
	svc := newTestService(t, store, sender, testNow)

	svc.tick(context.Background())

	if got := sender.sentCount(); got != 2 {
		t.Fatalf("sent %d, want the two healthy candidates", got)
	}
	for _, n := range sender.sent {
		if n.CaseID == 2 {
			t.Fatal("failing candidate recorded as sent")
		}
	}
}

func TestLedgerReadFailureSkipsCandidateOnly(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.cases = []storage.CaseRecord{{ID: 1, FirstInstanceHearing: "2025-08-23T10:00"}}
	store.hasErr = errors.New("database is locked")
	sender := &fakeSender{}
	svc := newTestService(t, store, sender, testNow)

	svc.tick(context.Background())
	if sender.calls != 0 {
		t.Fatal("sender called despite marker lookup failure")
	}

	// Ledger recovers; the candidate is picked up again.
	store.mu.Lock()
	store.hasErr = nil
	store.mu.Unlock()
	svc.tick(context.Background())
	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d after ledger recovery, want 1", got)
	}
}

func TestEditedHearingDateIsANewTarget(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.cases = []storage.CaseRecord{{ID: 5, FirstInstanceHearing: "2025-08-23T10:00"}}
	sender := &fakeSender{}
	svc := newTestService(t, store, sender, testNow)

	svc.tick(context.Background())

	// Operator moves the hearing within the same window.
	store.mu.Lock()
	store.cases[0].FirstInstanceHearing = "2025-08-23T09:45"
	store.mu.Unlock()
	svc.tick(context.Background())

	if got := sender.sentCount(); got != 2 {
		t.Fatalf("sent %d, want a fresh reminder for the edited date", got)
	}
	if len(store.markers) != 2 {
		t.Fatalf("marker count = %d, want old marker orphaned alongside new", len(store.markers))
	}
}

func TestOverlapGuardSkipsConcurrentPass(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.cases = []storage.CaseRecord{{ID: 1, FirstInstanceHearing: "2025-08-23T10:00"}}
	sender := &fakeSender{}
	svc := newTestService(t, store, sender, testNow)

	svc.inTick.Store(true)
	svc.tick(context.Background())
	if sender.calls != 0 {
		t.Fatal("pass ran while another was marked in progress")
	}

	svc.inTick.Store(false)
	svc.tick(context.Background())
	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d once the guard cleared, want 1", got)
	}
}

func TestRetentionPruneRunsAfterPass(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	stale := storage.MarkerKey{CaseID: 99, Hearing: "appeal", Timestamp: "2024-01-01T10:00"}
	store.markers[stale] = storage.Marker{SentAt: testNow.Add(-60 * 24 * time.Hour)}
	sender := &fakeSender{}

	svc, err := New(Config{
		Interval:        time.Hour,
		MarkerRetention: 30 * 24 * time.Hour,
		Location:        time.UTC,
	}, Deps{
		Settings: store, Cases: store, Ledger: store, Sender: sender,
		Log: logx.Nop(),
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	svc.tick(context.Background())
	if store.pruneCalls != 1 {
		t.Fatalf("prune called %d times, want 1", store.pruneCalls)
	}
	if _, ok := store.markers[stale]; ok {
		t.Fatal("stale marker survived retention prune")
	}
}

func TestNoPruneWithoutRetention(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	sender := &fakeSender{}
	svc := newTestService(t, store, sender, testNow)

	svc.tick(context.Background())
	if store.pruneCalls != 0 {
		t.Fatal("prune ran with zero retention")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	sender := &fakeSender{}
	svc := newTestService(t, store, sender, testNow)

	// Stop before Start is a no-op.
	svc.Stop()

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !svc.Running() {
		t.Fatal("service not running after Start")
	}

	svc.Stop()
	svc.Stop()
	if svc.Running() {
		t.Fatal("service still running after Stop")
	}

	// Restart works.
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	svc.Stop()
}
