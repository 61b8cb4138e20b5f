package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caltrigger-io/caltrigger/internal/domain"
	"github.com/caltrigger-io/caltrigger/internal/testutil"
)

type fakeTriggerStore struct {
	triggers []domain.Trigger
	err      error
}

func (f *fakeTriggerStore) ListActiveTriggers(ctx context.Context) ([]domain.Trigger, error) {
	return f.triggers, f.err
}

type fakeResolver struct {
	mu       sync.Mutex
	bookings map[uuid.UUID][]domain.Booking
	errs     map[uuid.UUID]error
}

func (f *fakeResolver) ResolveForTrigger(ctx context.Context, trigger domain.Trigger, statusFilter string, now time.Time) ([]domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[trigger.ID]; err != nil {
		return nil, err
	}
	return f.bookings[trigger.ID], nil
}

// memLogStore is an in-memory LogStore with the same duplicate-success
// semantics as the Postgres store.
type memLogStore struct {
	mu      sync.Mutex
	entries []domain.ExecutionLog
}

func logKey(triggerID uuid.UUID, bookingUID string, scheduledFor time.Time) string {
	return triggerID.String() + "|" + bookingUID + "|" + scheduledFor.UTC().Format(time.RFC3339Nano)
}

func (m *memLogStore) RecordAttempt(ctx context.Context, entry domain.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Success {
		for _, e := range m.entries {
			if e.Success && logKey(e.TriggerID, e.BookingUID, e.ScheduledFor) == logKey(entry.TriggerID, entry.BookingUID, entry.ScheduledFor) {
				return ErrDuplicateLog
			}
		}
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLogStore) HasSucceeded(ctx context.Context, triggerID uuid.UUID, bookingUID string, scheduledFor time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Success && logKey(e.TriggerID, e.BookingUID, e.ScheduledFor) == logKey(triggerID, bookingUID, scheduledFor) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLogStore) FailureInfo(ctx context.Context, triggerID uuid.UUID, bookingUID string, scheduledFor time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var attempts int
	var last time.Time
	for _, e := range m.entries {
		if !e.Success && logKey(e.TriggerID, e.BookingUID, e.ScheduledFor) == logKey(triggerID, bookingUID, scheduledFor) {
			attempts++
			if e.ExecutedAt.After(last) {
				last = e.ExecutedAt
			}
		}
	}
	return attempts, last, nil
}

func (m *memLogStore) all() []domain.ExecutionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ExecutionLog, len(m.entries))
	copy(out, m.entries)
	return out
}

type fakeWhatsApp struct {
	mu    sync.Mutex
	sends []struct{ destination, text string }
	err   error
}

func (f *fakeWhatsApp) Send(ctx context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, struct{ destination, text string }{destination, text})
	return f.err
}

func futureBooking(uid string, start time.Time) domain.Booking {
	return domain.Booking{
		UID:      uid,
		Start:    &start,
		StartRaw: start.Format(time.RFC3339),
		Status:   "ACCEPTED",
	}
}

func webhookTrigger(url string, offsetMinutes int) domain.Trigger {
	return domain.Trigger{
		ID:           uuid.New(),
		AgentID:      uuid.New(),
		ScopeType:    domain.ScopeTypeAgent,
		TimingType:   domain.TimingBeforeEventStart,
		OffsetAmount: offsetMinutes,
		OffsetUnit:   domain.OffsetUnitMinutes,
		ActionType:   domain.ActionTypeWebhook,
		WebhookURL:   url,
		IsActive:     true,
	}
}

func newTestDispatcher(triggers *fakeTriggerStore, logs *memLogStore, resolver *fakeResolver, wa WhatsAppSender) *Dispatcher {
	cfg := Config{BatchSize: 5, BatchPause: time.Millisecond, ActionTimeout: 2 * time.Second}
	return New(cfg, triggers, logs, resolver, NewHTTPWebhookSender(), wa)
}

func TestDispatchDue_EndToEndTwoRuns(t *testing.T) {
	var hookCalls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hookCalls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	trigger := webhookTrigger(server.URL, 60)
	booking := futureBooking("bk-1", now.Add(61*time.Minute))

	logs := &memLogStore{}
	d := newTestDispatcher(
		&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
		logs,
		&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: {booking}}},
		nil,
	)

	ctx := testutil.TestContext(t)

	// First run: fire time is now+1m, not yet due.
	res, err := d.DispatchDue(ctx, now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.Due != 0 || res.Sent != 0 {
		t.Errorf("first run: due=%d sent=%d, want 0/0", res.Due, res.Sent)
	}

	// Second run 62 minutes later: fire time has passed.
	res, err = d.DispatchDue(ctx, now.Add(62*time.Minute))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Due != 1 || res.Sent != 1 || res.Failed != 0 {
		t.Errorf("second run: %+v, want due=1 sent=1", res)
	}
	if hookCalls != 1 {
		t.Errorf("webhook calls = %d, want 1", hookCalls)
	}

	entries := logs.all()
	if len(entries) != 1 || !entries[0].Success {
		t.Fatalf("expected one successful log, got %+v", entries)
	}
	wantFire := now.Add(time.Minute)
	if !entries[0].ScheduledFor.Equal(wantFire) {
		t.Errorf("ScheduledFor = %s, want %s", entries[0].ScheduledFor, wantFire)
	}
	if entries[0].WebhookStatus == nil || *entries[0].WebhookStatus != 200 {
		t.Errorf("WebhookStatus = %v, want 200", entries[0].WebhookStatus)
	}
}

func TestDispatchDue_IdempotentSkip(t *testing.T) {
	var hookCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	trigger := webhookTrigger(server.URL, 30)
	booking := futureBooking("bk-1", now.Add(10*time.Minute))
	fireTime := now.Add(-20 * time.Minute)

	logs := &memLogStore{}
	// A previous run already delivered this pair.
	if err := logs.RecordAttempt(context.Background(), domain.ExecutionLog{
		ID: uuid.New(), TriggerID: trigger.ID, BookingUID: booking.UID,
		ScheduledFor: fireTime, ExecutedAt: now.Add(-19 * time.Minute), Success: true,
	}); err != nil {
		t.Fatal(err)
	}

	d := newTestDispatcher(
		&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
		logs,
		&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: {booking}}},
		nil,
	)

	res, err := d.DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 {
		t.Errorf("result = %+v, want sent=0 skipped=1", res)
	}
	if hookCalls != 0 {
		t.Errorf("webhook called %d times for an already-sent pair", hookCalls)
	}

	var successes int
	for _, e := range logs.all() {
		if e.Success {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("successful logs = %d, want exactly 1", successes)
	}
}

func TestDispatchDue_FailureIsolation(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badServer.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	bad := webhookTrigger(badServer.URL, 30)
	good := webhookTrigger(okServer.URL, 30)
	booking := futureBooking("bk-1", now.Add(10*time.Minute))

	logs := &memLogStore{}
	d := newTestDispatcher(
		&fakeTriggerStore{triggers: []domain.Trigger{bad, good}},
		logs,
		&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{
			bad.ID:  {booking},
			good.ID: {booking},
		}},
		nil,
	)

	res, err := d.DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want sent=1 failed=1", res)
	}
	if len(logs.all()) != 2 {
		t.Errorf("expected both pairs logged, got %d entries", len(logs.all()))
	}
}

func TestDispatchDue_ResolverFailureSkipsTriggerOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.Now().UTC()
	broken := webhookTrigger(server.URL, 30)
	healthy := webhookTrigger(server.URL, 30)
	booking := futureBooking("bk-1", now.Add(10*time.Minute))

	d := newTestDispatcher(
		&fakeTriggerStore{triggers: []domain.Trigger{broken, healthy}},
		&memLogStore{},
		&fakeResolver{
			bookings: map[uuid.UUID][]domain.Booking{healthy.ID: {booking}},
			errs:     map[uuid.UUID]error{broken.ID: errors.New("provider 500")},
		},
		nil,
	)

	res, err := d.DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatalf("resolver failure must not abort the run: %v", err)
	}
	if res.TriggersProcessed != 2 || res.Sent != 1 {
		t.Errorf("result = %+v, want triggers=2 sent=1", res)
	}
}

func TestDispatchDue_RetryPolicyNone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	trigger := webhookTrigger(server.URL, 30)
	booking := futureBooking("bk-1", now.Add(10*time.Minute))
	fireTime := now.Add(-20 * time.Minute)

	logs := &memLogStore{}
	logs.RecordAttempt(context.Background(), domain.ExecutionLog{
		ID: uuid.New(), TriggerID: trigger.ID, BookingUID: booking.UID,
		ScheduledFor: fireTime, ExecutedAt: now.Add(-19 * time.Minute),
		Success: false, ErrorMessage: "boom",
	})

	cfg := Config{RetryPolicy: RetryPolicyNone, BatchPause: time.Millisecond}
	d := New(cfg,
		&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
		logs,
		&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: {booking}}},
		NewHTTPWebhookSender(), nil)

	res, err := d.DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 || res.Sent != 0 {
		t.Errorf("result = %+v, want skipped=1 under policy none", res)
	}
}

func TestDispatchDue_RetryPolicyBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	trigger := webhookTrigger(server.URL, 30)
	booking := futureBooking("bk-1", now.Add(10*time.Minute))
	fireTime := now.Add(-20 * time.Minute)

	newDispatcher := func(logs *memLogStore) *Dispatcher {
		cfg := Config{
			RetryPolicy: RetryPolicyBackoff,
			BackoffBase: 5 * time.Minute,
			BatchPause:  time.Millisecond,
		}
		return New(cfg,
			&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
			logs,
			&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: {booking}}},
			NewHTTPWebhookSender(), nil)
	}

	seed := func(failedAt time.Time) *memLogStore {
		logs := &memLogStore{}
		logs.RecordAttempt(context.Background(), domain.ExecutionLog{
			ID: uuid.New(), TriggerID: trigger.ID, BookingUID: booking.UID,
			ScheduledFor: fireTime, ExecutedAt: failedAt, Success: false, ErrorMessage: "boom",
		})
		return logs
	}

	// Failed one minute ago: still inside the 5m backoff window.
	logs := seed(now.Add(-time.Minute))
	res, err := newDispatcher(logs).DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Sent != 0 {
		t.Errorf("inside backoff window: %+v, want skipped=1", res)
	}

	// Failed six minutes ago: window elapsed, retry happens.
	logs = seed(now.Add(-6 * time.Minute))
	res, err = newDispatcher(logs).DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 {
		t.Errorf("after backoff window: %+v, want sent=1", res)
	}
}

func TestDispatchDue_WhatsAppDestination(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	base := domain.Trigger{
		ID:           uuid.New(),
		AgentID:      uuid.New(),
		ScopeType:    domain.ScopeTypeAgent,
		TimingType:   domain.TimingBeforeEventStart,
		OffsetAmount: 30,
		OffsetUnit:   domain.OffsetUnitMinutes,
		ActionType:   domain.ActionTypeWhatsApp,
		IsActive:     true,
	}

	tests := []struct {
		name         string
		channel      domain.MessageChannel
		customNumber string
		attendee     string
		wantDest     string
		wantFailed   bool
	}{
		{"participant channel", domain.MessageChannelParticipant, "", "5511988887777", "5511988887777", false},
		{"custom channel", domain.MessageChannelCustom, "5511900000000", "5511988887777", "5511900000000", false},
		{"no destination", domain.MessageChannelParticipant, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := base
			trigger.ID = uuid.New()
			trigger.Message = domain.MessageConfig{
				Channel:      tt.channel,
				CustomNumber: tt.customNumber,
				TemplateText: "Hi {name}, reminder for {title}",
			}

			booking := futureBooking("bk-1", now.Add(10*time.Minute))
			booking.AttendeePhone = tt.attendee
			booking.AttendeeName = "Ana"
			booking.Title = "Intro call"

			wa := &fakeWhatsApp{}
			logs := &memLogStore{}
			d := newTestDispatcher(
				&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
				logs,
				&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: {booking}}},
				wa,
			)

			res, err := d.DispatchDue(testutil.TestContext(t), now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.wantFailed {
				if res.Failed != 1 {
					t.Errorf("result = %+v, want failed=1", res)
				}
				return
			}
			if res.Sent != 1 {
				t.Fatalf("result = %+v, want sent=1", res)
			}
			if len(wa.sends) != 1 || wa.sends[0].destination != tt.wantDest {
				t.Errorf("sends = %+v, want destination %q", wa.sends, tt.wantDest)
			}
			if wa.sends[0].text != "Hi Ana, reminder for Intro call" {
				t.Errorf("rendered text = %q", wa.sends[0].text)
			}
		})
	}
}

func TestDispatchDue_DryRunPerformsNothing(t *testing.T) {
	var hookCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.Now().UTC()
	trigger := webhookTrigger(server.URL, 30)
	booking := futureBooking("bk-1", now.Add(10*time.Minute))

	logs := &memLogStore{}
	cfg := Config{DryRun: true, BatchPause: time.Millisecond}
	d := New(cfg,
		&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
		logs,
		&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: {booking}}},
		NewHTTPWebhookSender(), nil)

	res, err := d.DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Due != 1 || res.Sent != 0 {
		t.Errorf("result = %+v, want due=1 sent=0", res)
	}
	if hookCalls != 0 {
		t.Errorf("dry run performed %d webhook calls", hookCalls)
	}
	if len(logs.all()) != 0 {
		t.Errorf("dry run wrote %d log entries", len(logs.all()))
	}
}

func TestDispatchDue_BatchesProcessEverything(t *testing.T) {
	var mu sync.Mutex
	var hookCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hookCalls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.Now().UTC()
	trigger := webhookTrigger(server.URL, 30)

	var bookings []domain.Booking
	for i := 0; i < 12; i++ {
		bookings = append(bookings, futureBooking(uuid.NewString(), now.Add(10*time.Minute)))
	}

	logs := &memLogStore{}
	d := newTestDispatcher(
		&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
		logs,
		&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: bookings}},
		nil,
	)

	res, err := d.DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Due != 12 || res.Sent != 12 {
		t.Errorf("result = %+v, want due=12 sent=12", res)
	}
	if hookCalls != 12 {
		t.Errorf("webhook calls = %d, want 12", hookCalls)
	}
}

func TestDispatchDue_UnparseableStartNeverDue(t *testing.T) {
	now := time.Now().UTC()
	trigger := webhookTrigger("http://unused.invalid", 30)
	booking := domain.Booking{UID: "bk-1", StartRaw: "soonish", Status: "ACCEPTED"}

	d := newTestDispatcher(
		&fakeTriggerStore{triggers: []domain.Trigger{trigger}},
		&memLogStore{},
		&fakeResolver{bookings: map[uuid.UUID][]domain.Booking{trigger.ID: {booking}}},
		nil,
	)

	res, err := d.DispatchDue(testutil.TestContext(t), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Due != 0 {
		t.Errorf("booking without resolvable start must never be due: %+v", res)
	}
}
