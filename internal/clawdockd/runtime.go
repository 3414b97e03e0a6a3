// Package clawdockd runs the launcher as a long-lived local daemon. It
// serves a loopback HTTP API, fans state snapshots out over websockets,
// and hosts the embedded status page.
package clawdockd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/openclaw/clawdock/internal/configstore"
	"github.com/openclaw/clawdock/internal/httpserver"
	"github.com/openclaw/clawdock/internal/launcher"
	"github.com/openclaw/clawdock/internal/messages"
	"github.com/openclaw/clawdock/internal/openflag"
	"github.com/openclaw/clawdock/internal/statedir"
	"github.com/openclaw/clawdock/internal/telemetry/otel"
	"github.com/openclaw/clawdock/internal/telemetry/usage"
	"github.com/openclaw/clawdock/internal/ui"
	"github.com/openclaw/clawdock/internal/websocket"
)

// defaultBind sits one above the default gateway port so both can coexist
// with their defaults.
const defaultBind = "127.0.0.1:18790"

type stringFlag struct {
	value string
	set   bool
}

func (s *stringFlag) String() string {
	return s.value
}

func (s *stringFlag) Set(value string) error {
	s.value = value
	s.set = true
	return nil
}

// Main runs the daemon using the provided argv slice. When args is empty,
// os.Args is used.
func Main(args []string) error {
	if len(args) == 0 {
		args = os.Args
	}

	cfg, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	rt, err := initRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.Run()
}

// logEvent emits compact structured event logs: event=<name> key=value ...
func logEvent(event string, fields map[string]any) {
	buf := "event=" + event
	for k, v := range fields {
		buf += " " + k + "=" + fmt.Sprint(v)
	}
	log.Print(buf)
}

type runtimeConfig struct {
	StateDir  string
	Bind      string
	Autostart bool
	Telemetry otel.Config
}

type runtimeState struct {
	cfg        *runtimeConfig
	launcher   *launcher.Launcher
	hub        *websocket.Hub
	dispatch   *dispatcher
	server     *http.Server
	reporter   *usage.Reporter
	telemetry  *otel.Provider
	lock       *statedir.Lock
	containerN string
	cancelHub  context.CancelFunc
	closeOnce  sync.Once
}

// parseConfig reads CLI flags and environment hints to build the daemon
// configuration.
func parseConfig(args []string) (*runtimeConfig, error) {
	name := commandName(args)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	defaultStateDir := strings.TrimSpace(os.Getenv("CLAWDOCK_STATE_DIR"))
	stateDir := fs.String("state-dir", defaultStateDir, "Launcher state directory (blank selects the per-user default)")

	listenFlag := &stringFlag{}
	fs.Var(listenFlag, "listen", "Serve the API and status page on this loopback address (e.g. 127.0.0.1:18790, :18790)")
	fs.Var(listenFlag, "l", "Alias for --listen")

	autostart := fs.Bool("autostart", false, "Begin gateway bring-up as soon as the daemon is ready")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags]\n\n", name)
		fmt.Fprintf(fs.Output(), "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), "\nEnvironment:\n  CLAWDOCK_STATE_DIR     Default value for --state-dir\n  CLAWDOCK_LISTEN        Default value for --listen\n  CLAWDOCK_OTEL_METRICS  Enable OpenTelemetry metrics (default off)\n  CLAWDOCK_OTEL_TRACES   Enable OpenTelemetry traces (default off)\n")
	}

	var flagArgs []string
	if len(args) > 1 {
		flagArgs = args[1:]
	}
	if err := fs.Parse(flagArgs); err != nil {
		return nil, err
	}
	if len(fs.Args()) > 0 {
		return nil, fmt.Errorf("unexpected extra arguments: %v", fs.Args())
	}

	bind := defaultBind
	if listenFlag.set {
		normalized, err := normalizeBind(listenFlag.value)
		if err != nil {
			return nil, fmt.Errorf("parse --listen: %w", err)
		}
		bind = normalized
	} else if raw, ok := os.LookupEnv("CLAWDOCK_LISTEN"); ok && strings.TrimSpace(raw) != "" {
		normalized, err := normalizeBind(raw)
		if err != nil {
			return nil, fmt.Errorf("parse CLAWDOCK_LISTEN: %w", err)
		}
		bind = normalized
	}

	return &runtimeConfig{
		StateDir:  strings.TrimSpace(*stateDir),
		Bind:      bind,
		Autostart: *autostart,
		Telemetry: otel.LoadConfigFromEnv(),
	}, nil
}

// normalizeBind validates a listen address and pins it to loopback. The
// daemon drives credentials and lifecycle commands, so it is never exposed
// beyond the local machine.
func normalizeBind(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("listen address required")
	}

	host, port := "", ""
	switch {
	case strings.HasPrefix(value, ":"):
		port = value[1:]
	case !strings.Contains(value, ":"):
		port = value
	default:
		h, p, err := net.SplitHostPort(value)
		if err != nil {
			return "", fmt.Errorf("invalid listen address %q: %w", value, err)
		}
		host, port = h, p
	}

	if port == "" {
		return "", fmt.Errorf("invalid listen address %q: port required", value)
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid listen port %q", port)
		}
	}

	switch host {
	case "", "localhost":
		host = "127.0.0.1"
	case "127.0.0.1", "::1":
	default:
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			return "", fmt.Errorf("listen address %q is not loopback; the daemon only serves the local machine", value)
		}
	}
	return net.JoinHostPort(host, port), nil
}

func initRuntime(cfg *runtimeConfig) (*runtimeState, error) {
	stateDir := cfg.StateDir
	if stateDir == "" {
		root, err := statedir.DefaultRoot()
		if err != nil {
			return nil, err
		}
		stateDir = root
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock, err := statedir.AcquireLock(statedir.LockPath(stateDir))
	if err != nil {
		return nil, fmt.Errorf("another clawdockd may be running: %w", err)
	}

	settings, err := configstore.Load(stateDir)
	if err != nil {
		lock.Release()
		return nil, err
	}
	if !openflag.BrowserEnabled(os.Getenv) {
		settings.Browser.Open = false
	}

	telemetry, err := otel.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	var reporter *usage.Reporter
	var sink launcher.UsageSink
	if settings.Telemetry.Enabled {
		reporter = usage.NewReporter(usage.Config{Version: launcher.Version()})
		sink = reporter
	}

	l := launcher.New(launcher.Options{
		StateDir: stateDir,
		Settings: settings,
		Usage:    sink,
	})

	rt := &runtimeState{
		cfg:        cfg,
		launcher:   l,
		hub:        websocket.NewHub(),
		reporter:   reporter,
		telemetry:  telemetry,
		lock:       lock,
		containerN: settings.ContainerName,
	}
	rt.dispatch = &dispatcher{launcher: l, instruments: telemetry.Commands()}
	return rt, nil
}

// Run serves until the process receives SIGINT or SIGTERM.
func (rt *runtimeState) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubCtx, cancelHub := context.WithCancel(context.Background())
	rt.cancelHub = cancelHub
	go rt.hub.Run(hubCtx)

	if err := rt.startFrontend(ctx); err != nil {
		return err
	}

	go rt.forwardState(ctx)
	go rt.consumeCommands(ctx)

	if rt.cfg.Autostart {
		go func() {
			if err := rt.launcher.Start(ctx); err != nil && !errors.Is(err, launcher.ErrBusy) {
				logEvent("autostart_failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	logEvent("daemon_ready", map[string]any{"addr": rt.cfg.Bind})
	<-ctx.Done()
	logEvent("daemon_shutdown", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rt.server != nil {
		_ = rt.server.Shutdown(shutdownCtx)
	}
	return nil
}

// startFrontend builds the mux and begins serving. The listener is opened
// synchronously so a bind conflict fails daemon startup instead of being
// logged from a goroutine.
func (rt *runtimeState) startFrontend(ctx context.Context) error {
	uiFS, err := fs.Sub(ui.Dir, "dist")
	if err != nil {
		return fmt.Errorf("load embedded status page: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api", rt.hub.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/health/gateway", func(w http.ResponseWriter, r *http.Request) {
		snap := rt.launcher.Snapshot()
		if snap.Status != launcher.StatusRunning || !snap.Health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/", ui.NewHandlerWithTitle(http.FS(uiFS), ui.ComposeTitle(rt.containerN)))

	api := newCommandAPI(ctx, rt.launcher, rt.dispatch)
	api.register(mux)

	rt.server = httpserver.NewLocalServer(rt.cfg.Bind, mux)

	ln, err := net.Listen("tcp", rt.cfg.Bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rt.cfg.Bind, err)
	}

	go func() {
		logEvent("frontend_start", map[string]any{"addr": rt.cfg.Bind})
		if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("web server failed: %v", err)
		}
	}()
	return nil
}

// forwardState wraps every launcher snapshot in an envelope and broadcasts
// it. The hub keeps the latest frame for clients that connect later.
func (rt *runtimeState) forwardState(ctx context.Context) {
	snaps, cancel := rt.launcher.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			env, err := messages.Wrap(messages.TypeStateSnapshot, snap)
			if err != nil {
				continue
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			rt.hub.BroadcastSnapshot(data)
		}
	}
}

func (rt *runtimeState) Close() {
	rt.closeOnce.Do(func() {
		if rt.telemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = rt.telemetry.Shutdown(ctx)
		}
		if rt.reporter != nil {
			rt.reporter.Close()
		}
		if rt.launcher != nil {
			rt.launcher.Close()
		}
		if rt.cancelHub != nil {
			rt.cancelHub()
		}
		if rt.lock != nil {
			rt.lock.Release()
		}
	})
}

func commandName(args []string) string {
	if len(args) == 0 {
		return "clawdockd"
	}
	base := filepath.Base(args[0])
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "clawdockd"
	}
	return base
}
