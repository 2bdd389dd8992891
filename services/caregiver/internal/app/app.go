package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"remora/pkg/store"
)

// Publisher delivers realtime events to channel subscribers.
// *realtime.Hub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) (int, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL       string
	DatabaseDriver    string
	RedisAddr         string
	RedisPassword     string
	JWTSecret         string
	JWTIssuer         string
	JWTAudience       string
	JWTLeeway         time.Duration
	SessionTTL        time.Duration
	StoreTimeout      time.Duration
	NotifyConcurrency int

	Store     store.Store
	Sessions  store.SessionStore
	Publisher Publisher
	Logger    *slog.Logger
}

// App wires storage, sessions, identity resolution and the fan-out engine.
type App struct {
	store             store.Store
	sessions          store.SessionStore
	publisher         Publisher
	resolver          *Resolver
	logger            *slog.Logger
	storeTimeout      time.Duration
	notifyConcurrency int
	now               func() time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	closers  []io.Closer
}

// New constructs the application. Store and Sessions are built from the
// connection settings when not injected; Publisher is required.
func New(cfg Config) (*App, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("realtime publisher required")
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.NotifyConcurrency <= 0 {
		cfg.NotifyConcurrency = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var closers []io.Closer
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithDriver(cfg.DatabaseDriver))
		if err != nil {
			return nil, fmt.Errorf("init %s store: %w", cfg.DatabaseDriver, err)
		}
		closers = append(closers, gormStore)
		dataStore = gormStore
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		var revoker store.TokenRevoker
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			redisRevoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
			closers = append(closers, redisRevoker)
			revoker = redisRevoker
		} else {
			logger.Warn("redisAddr not set; token revocation is process-local")
			revoker = store.NewMemoryTokenRevoker()
		}
		jwtStore, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL, revoker, store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		sessionStore = jwtStore
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &App{
		store:     dataStore,
		sessions:  sessionStore,
		publisher: cfg.Publisher,
		resolver: NewResolver(
			DeviceTokenStrategy(dataStore, cfg.StoreTimeout),
			UserIDStrategy(dataStore, cfg.StoreTimeout),
		),
		logger:            logger,
		storeTimeout:      cfg.StoreTimeout,
		notifyConcurrency: cfg.NotifyConcurrency,
		now:               func() time.Time { return time.Now().UTC() },
		bgCtx:             bgCtx,
		bgCancel:          bgCancel,
		closers:           closers,
	}, nil
}

// Close cancels in-flight realtime publishes, waits for them to return, and
// releases owned connections.
func (a *App) Close(ctx context.Context) error {
	a.bgCancel()
	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for background publishes: %w", ctx.Err()))
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.storeTimeout)
}

// publishAsync emits an event off the request path. Failures are logged only.
func (a *App) publishAsync(channel, event string, payload any) {
	if a.bgCtx.Err() != nil {
		a.logger.Warn("realtime publish dropped during shutdown", "channel", channel, "event", event)
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		delivered, err := a.publisher.Publish(a.bgCtx, channel, event, payload)
		if err != nil {
			a.logger.Warn("realtime publish failed", "channel", channel, "event", event, "err", err)
			return
		}
		a.logger.Debug("realtime publish", "channel", channel, "event", event, "delivered", delivered)
	}()
}
