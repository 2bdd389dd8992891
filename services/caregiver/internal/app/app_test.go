package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"remora/internal/util"
	"remora/pkg/domain"
	"remora/pkg/store"
)

type publishedEvent struct {
	channel string
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, channel, event string, payload any) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{channel: channel, event: event, payload: payload})
	if p.err != nil {
		return 0, p.err
	}
	return 1, nil
}

func (p *recordingPublisher) on(channel string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, ev := range p.events {
		if ev.channel == channel {
			out = append(out, ev)
		}
	}
	return out
}

// faultyStore injects failures into selected calls of an in-memory store.
type faultyStore struct {
	*store.MemoryStore
	failNotificationFor string
	failLinks           bool
	failLocation        bool
}

var errInjected = errors.New("injected store failure")

func (s *faultyStore) InsertNotification(ctx context.Context, n domain.Notification) error {
	if n.UserID == s.failNotificationFor {
		return errInjected
	}
	return s.MemoryStore.InsertNotification(ctx, n)
}

func (s *faultyStore) ListLinksByPatient(ctx context.Context, patientID string) ([]domain.PatientCaregiverLink, error) {
	if s.failLinks {
		return nil, errInjected
	}
	return s.MemoryStore.ListLinksByPatient(ctx, patientID)
}

func (s *faultyStore) GetLocation(ctx context.Context, patientID string) (domain.PatientLocation, bool, error) {
	if s.failLocation {
		return domain.PatientLocation{}, false, errInjected
	}
	return s.MemoryStore.GetLocation(ctx, patientID)
}

func newTestAppWithStore(t *testing.T, s store.Store) (*App, *recordingPublisher) {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("test-secret-0123456789abcdef", time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	pub := &recordingPublisher{}
	a, err := New(Config{
		Store:     s,
		Sessions:  sessions,
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, pub
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *recordingPublisher) {
	t.Helper()
	mem := store.NewMemoryStore()
	a, pub := newTestAppWithStore(t, mem)
	return a, mem, pub
}

func seedUser(t *testing.T, s store.Store, role domain.UserRole, name, email string) domain.User {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{
		ID:        util.NewID(),
		Email:     email,
		Name:      name,
		Role:      role,
		Status:    domain.StatusNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedDevice(t *testing.T, s store.Store, userID, token string) {
	t.Helper()
	err := s.AddDeviceCredential(context.Background(), domain.DeviceCredential{
		UserID:       userID,
		Token:        token,
		DeviceName:   "ESP8266",
		DeviceType:   "esp8266",
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("add device: %v", err)
	}
}

func mustLink(t *testing.T, a *App, patientID, caregiverID string) {
	t.Helper()
	if _, err := a.LinkPatientToCaregiver(context.Background(), patientID, caregiverID); err != nil {
		t.Fatalf("link: %v", err)
	}
}

func TestNewRequiresPublisher(t *testing.T) {
	if _, err := New(Config{Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without publisher")
	}
}

func TestCloseCancelsBackgroundPublishes(t *testing.T) {
	block := &blockingPublisher{started: make(chan struct{})}
	sessions, err := store.NewJWTSessionStore("test-secret-0123456789abcdef", time.Hour, nil, store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	a, err := New(Config{
		Store:     store.NewMemoryStore(),
		Sessions:  sessions,
		Publisher: block,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.publishAsync("recipient:p", "alert:new", struct{}{})
	<-block.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !errors.Is(block.err, context.Canceled) {
		t.Fatalf("publish ctx err = %v, want context.Canceled", block.err)
	}
}

type blockingPublisher struct {
	started chan struct{}
	err     error
}

func (p *blockingPublisher) Publish(ctx context.Context, _, _ string, _ any) (int, error) {
	close(p.started)
	<-ctx.Done()
	p.err = ctx.Err()
	return 0, p.err
}
