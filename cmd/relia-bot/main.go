package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/davidahmann/relia-bot/internal/api"
	"github.com/davidahmann/relia-bot/internal/approval"
	"github.com/davidahmann/relia-bot/internal/auth"
	"github.com/davidahmann/relia-bot/internal/bot"
	"github.com/davidahmann/relia-bot/internal/config"
	"github.com/davidahmann/relia-bot/internal/identity"
	"github.com/davidahmann/relia-bot/internal/ledger"
	"github.com/davidahmann/relia-bot/internal/ledger/pgstore"
	"github.com/davidahmann/relia-bot/internal/ledger/sqlstore"
	"github.com/davidahmann/relia-bot/internal/notify"
	"github.com/davidahmann/relia-bot/internal/router"
	"github.com/davidahmann/relia-bot/internal/session"
	"github.com/davidahmann/relia-bot/internal/session/redisstore"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe, newApp); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

const shutdownTimeout = 10 * time.Second

// app is everything run needs to serve: the HTTP server, the background
// notice worker and a cleanup for the stores it opened.
type app struct {
	server *http.Server
	worker func(ctx context.Context)
	close  func()
}

type envFn func(string) string
type listenFn func(*http.Server) error
type appFactory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error)

func run(args []string, getenv envFn, listen listenFn, factory appFactory) error {
	fs := flag.NewFlagSet("relia-bot", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to relia-bot config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("RELIA_BOT_CONFIG_PATH")
	}

	var cfg config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyEnv(&cfg, getenv)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	a, err := factory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if a.close != nil {
		defer a.close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		logger.Info("relia-bot listening", slog.String("addr", a.server.Addr))
		if err := listen(a.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.worker != nil {
		g.Go(func() error {
			a.worker(gctx)
			return nil
		})
	}
	return g.Wait()
}

func applyEnv(cfg *config.Config, getenv envFn) {
	cfg.ListenAddr = firstNonEmpty(getenv("RELIA_BOT_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	cfg.DB.Driver = firstNonEmpty(getenv("RELIA_BOT_DB_DRIVER"), cfg.DB.Driver)
	cfg.DB.DSN = firstNonEmpty(getenv("RELIA_BOT_DB_DSN"), cfg.DB.DSN)
	cfg.Redis.Addr = firstNonEmpty(getenv("RELIA_BOT_REDIS_ADDR"), cfg.Redis.Addr)
	cfg.RosterPath = firstNonEmpty(getenv("RELIA_BOT_ROSTER_PATH"), cfg.RosterPath)
	cfg.Notify.WebhookURL = firstNonEmpty(getenv("RELIA_BOT_WEBHOOK_URL"), cfg.Notify.WebhookURL)
	cfg.Auth.DevToken = firstNonEmpty(getenv("RELIA_BOT_DEV_TOKEN"), cfg.Auth.DevToken)
	cfg.LogLevel = firstNonEmpty(getenv("RELIA_BOT_LOG_LEVEL"), cfg.LogLevel)
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, closeStore, err := openLedger(cfg.DB)
	if err != nil {
		return nil, err
	}
	closers := []func(){closeStore}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var sessionStore session.Store = session.NewLedgerStore(store)
	var locker bot.Locker = bot.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		sessionStore = redisstore.New(rdb, cfg.SessionTTL())
		locker = redisstore.NewLocker(rdb, 0)
	}

	var people identity.Resolver = identity.Anonymous{}
	if cfg.RosterPath != "" {
		roster, err := identity.LoadRoster(cfg.RosterPath)
		if err != nil {
			cleanup()
			return nil, err
		}
		logger.Info("roster loaded", slog.Int("members", roster.Len()))
		people = roster
	}

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if ttl := cfg.SessionTTL(); ttl > 0 {
		sessionOpts = append(sessionOpts, session.WithTTL(ttl))
	}
	sessions := session.NewManager(sessionStore, sessionOpts...)
	engine := approval.NewEngine(store, approval.WithLogger(logger))
	svc := bot.New(sessions, router.New(engine, people, logger), bot.WithLocker(locker), bot.WithLogger(logger))

	var limiter *rate.Limiter
	if cfg.RateLimit.PerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst)
	}

	h := &api.Handler{
		Auth:      auth.NewTokenAuthenticator(cfg.Auth.DevToken, cfg.Auth.Tokens),
		Bot:       svc,
		Approvals: engine,
		Sessions:  sessions,
		Limiter:   limiter,
		Logger:    logger,
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken)
	}
	poll := cfg.NotifyPollInterval()

	return &app{
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewRouter(h),
			ReadHeaderTimeout: 5 * time.Second,
		},
		worker: func(ctx context.Context) {
			notify.RunWorker(ctx, store, sender, poll, logger)
		},
		close: cleanup,
	}, nil
}

func openLedger(db config.DBConfig) (ledger.Store, func(), error) {
	switch db.Driver {
	case "":
		return ledger.NewInMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := sqlstore.OpenSQLite(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := ledger.Migrate(store.DB(), ledger.DBSQLite); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := pgstore.OpenPostgres(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := ledger.Migrate(store.DB(), ledger.DBPostgres); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", db.Driver)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
