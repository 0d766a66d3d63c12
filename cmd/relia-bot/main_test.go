package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/davidahmann/relia-bot/internal/config"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func stubApp(addr string) *app {
	return &app{server: &http.Server{Addr: addr}}
}

func TestNewApp(t *testing.T) {
	a, err := newApp(context.Background(), config.Config{ListenAddr: "127.0.0.1:9999"}, quiet)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.close()
	if a.server.Addr != "127.0.0.1:9999" {
		t.Fatalf("expected addr 127.0.0.1:9999, got %s", a.server.Addr)
	}
	if a.server.Handler == nil || a.worker == nil {
		t.Fatalf("expected handler and worker to be set")
	}

	res := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", res.Code)
	}
}

func TestNewAppSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		ListenAddr: ":0",
		DB:         config.DBConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(dir, "relia-bot.db")},
		Session:    config.SessionConfig{TTLMinutes: 10},
		RateLimit:  config.RateLimit{PerSecond: 5, Burst: 5},
	}
	a, err := newApp(context.Background(), cfg, quiet)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.close()
}

func TestNewAppRoster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	if err := os.WriteFile(path, []byte("members:\n  - name: Dana\n    phone: \"972502222222\"\n"), 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	a, err := newApp(context.Background(), config.Config{ListenAddr: ":0", RosterPath: path}, quiet)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.close()

	if _, err := newApp(context.Background(), config.Config{ListenAddr: ":0", RosterPath: filepath.Join(dir, "missing.yaml")}, quiet); err == nil {
		t.Fatalf("expected missing roster error")
	}
}

func TestOpenLedgerUnsupportedDriver(t *testing.T) {
	if _, _, err := openLedger(config.DBConfig{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunDefaults(t *testing.T) {
	factory := func(_ context.Context, cfg config.Config, _ *slog.Logger) (*app, error) {
		if cfg.ListenAddr != ":8080" {
			t.Fatalf("expected default addr, got %s", cfg.ListenAddr)
		}
		if cfg.DB.Driver != "" {
			t.Fatalf("expected in-memory store by default, got %q", cfg.DB.Driver)
		}
		return stubApp(cfg.ListenAddr), nil
	}

	listen := func(_ *http.Server) error {
		return http.ErrServerClosed
	}

	getenv := func(string) string { return "" }
	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunError(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(_ *http.Server) error {
		return listenErr
	}

	factory := func(_ context.Context, cfg config.Config, _ *slog.Logger) (*app, error) {
		if cfg.ListenAddr != "127.0.0.1:1234" {
			t.Fatalf("expected addr from env, got %s", cfg.ListenAddr)
		}
		return stubApp(cfg.ListenAddr), nil
	}

	getenv := func(key string) string {
		if key == "RELIA_BOT_LISTEN_ADDR" {
			return "127.0.0.1:1234"
		}
		return ""
	}

	if err := run(nil, getenv, listen, factory); !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestRunFactoryError(t *testing.T) {
	factory := func(context.Context, config.Config, *slog.Logger) (*app, error) {
		return nil, errors.New("boom")
	}
	listen := func(_ *http.Server) error {
		t.Fatalf("listen must not be called")
		return nil
	}
	if err := run(nil, func(string) string { return "" }, listen, factory); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	factory := func(context.Context, config.Config, *slog.Logger) (*app, error) {
		t.Fatalf("factory must not be called")
		return nil, nil
	}
	getenv := func(key string) string {
		if key == "RELIA_BOT_DB_DRIVER" {
			return "mysql"
		}
		return ""
	}
	if err := run(nil, getenv, nil, factory); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relia-bot.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9999\"\nroster_path: \"./roster.yaml\"\nsession:\n  ttl_minutes: 15\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	factory := func(_ context.Context, cfg config.Config, _ *slog.Logger) (*app, error) {
		if cfg.ListenAddr != ":9999" {
			t.Fatalf("expected addr from config, got %s", cfg.ListenAddr)
		}
		if cfg.RosterPath != "./roster.yaml" || cfg.Session.TTLMinutes != 15 {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		return stubApp(cfg.ListenAddr), nil
	}

	listen := func(_ *http.Server) error { return http.ErrServerClosed }
	getenv := func(key string) string {
		if key == "RELIA_BOT_CONFIG_PATH" {
			return path
		}
		return ""
	}

	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunStopsWorkerWhenServerExits(t *testing.T) {
	var stopped atomic.Bool
	var closed atomic.Bool
	factory := func(_ context.Context, cfg config.Config, _ *slog.Logger) (*app, error) {
		a := stubApp(cfg.ListenAddr)
		a.worker = func(ctx context.Context) {
			<-ctx.Done()
			stopped.Store(true)
		}
		a.close = func() { closed.Store(true) }
		return a, nil
	}
	listen := func(_ *http.Server) error { return http.ErrServerClosed }

	if err := run(nil, func(string) string { return "" }, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stopped.Load() || !closed.Load() {
		t.Fatalf("expected worker stopped and app closed")
	}
}

func TestRunBadFlag(t *testing.T) {
	if err := run([]string{"-nope"}, func(string) string { return "" }, nil, nil); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "a", "b"); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	if newLogger("debug").Enabled(context.Background(), slog.LevelDebug) != true {
		t.Fatalf("expected debug enabled")
	}
	if newLogger("").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected debug disabled by default")
	}
	if newLogger("error").Enabled(context.Background(), slog.LevelWarn) {
		t.Fatalf("expected warn disabled at error level")
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	err := listenAndServe(&http.Server{Addr: "127.0.0.1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMainNoError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, getenv envFn, listen listenFn, factory appFactory) error {
		return nil
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if called {
		t.Fatalf("unexpected fatal call")
	}
}

func TestMainError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, getenv envFn, listen listenFn, factory appFactory) error {
		return errors.New("boom")
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if !called {
		t.Fatalf("expected fatal call")
	}
}
