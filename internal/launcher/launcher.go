// Package launcher drives the OpenClaw gateway lifecycle: container engine
// discovery, first-run state initialization, credential flows, hardened
// container bring-up, and runtime supervision. Every observable change flows
// through a snapshot store that front ends subscribe to, and lifecycle
// operations are mutually exclusive; a call that arrives while another is in
// flight is rejected, never queued.
package launcher

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openclaw/clawdock/internal/configstore"
	"github.com/openclaw/clawdock/internal/engine"
	"github.com/openclaw/clawdock/internal/listen"
	"github.com/openclaw/clawdock/internal/oauth"
	"github.com/openclaw/clawdock/internal/statedir"
)

// Paths inside the gateway container.
const (
	containerConfigDir    = "/home/node/.openclaw"
	containerWorkspaceDir = "/workspace"
)

// UsageSink receives anonymous product usage events. A nil sink disables
// reporting.
type UsageSink interface {
	Event(name string, meta map[string]string)
}

// Options wires the launcher's collaborators. Zero fields get production
// defaults from New; tests inject fakes.
type Options struct {
	// StateDir is the root of the persistent launcher state.
	StateDir string

	// Settings is the operator configuration loaded from settings.toml.
	Settings configstore.Settings

	// Runner executes engine commands. Defaults to an ExecRunner with the
	// augmented search path and an isolated engine config dir.
	Runner engine.Runner

	// Discover locates an installed container engine.
	Discover func() engine.Install

	// OAuth performs the sign-in exchanges.
	OAuth *oauth.Client

	// OpenBrowser opens a URL in the user's browser. Best effort.
	OpenBrowser func(url string) error

	// HTTPClient probes gateway readiness and health.
	HTTPClient *http.Client

	// Usage receives product usage events.
	Usage UsageSink

	// Logf is the destination for operational log lines.
	Logf func(format string, args ...any)
}

// timings collects every retry and supervision interval so tests can shrink
// them.
type timings struct {
	daemonAttempts int
	daemonDelay    time.Duration
	readyAttempts  int
	readyDelay     time.Duration
	healthInterval time.Duration
	healthTimeout  time.Duration
	uptimeInterval time.Duration
}

func defaultTimings() timings {
	return timings{
		daemonAttempts: 30,
		daemonDelay:    2 * time.Second,
		readyAttempts:  30,
		readyDelay:     time.Second,
		healthInterval: 10 * time.Second,
		healthTimeout:  3 * time.Second,
		uptimeInterval: time.Second,
	}
}

// healthFailureThreshold is how many consecutive probe failures it takes
// before the supervisor asks the engine whether the container is gone.
const healthFailureThreshold = 3

// Launcher owns one gateway's lifecycle.
type Launcher struct {
	opts    Options
	t       timings
	store   *stateStore
	files   *statedir.Store
	runner  engine.Runner
	oauthc  *oauth.Client
	httpc   *http.Client
	browser func(string) error
	logf    func(string, ...any)

	inFlight atomic.Bool

	mu      sync.Mutex
	install engine.Install
	client  *engine.Client
	token   string
	port    int
	pkce    *oauth.PKCE
	health  *repeatingTask
	uptime  *repeatingTask
}

// New builds a launcher. Options.StateDir is required; everything else has a
// production default.
func New(opts Options) *Launcher {
	l := &Launcher{
		opts:    opts,
		t:       defaultTimings(),
		store:   newStateStore(),
		files:   statedir.New(opts.StateDir),
		runner:  opts.Runner,
		oauthc:  opts.OAuth,
		httpc:   opts.HTTPClient,
		browser: opts.OpenBrowser,
		logf:    opts.Logf,
	}
	if l.runner == nil {
		l.runner = engine.NewExecRunner(opts.StateDir)
	}
	if l.oauthc == nil {
		l.oauthc = oauth.NewClient()
	}
	if l.httpc == nil {
		l.httpc = &http.Client{Timeout: l.t.healthTimeout}
	}
	if l.browser == nil {
		l.browser = listen.OpenURL
	}
	if l.logf == nil {
		l.logf = log.Printf
	}
	if l.opts.Discover == nil {
		l.opts.Discover = engine.Discover
	}
	return l
}

// Snapshot returns the current observable state.
func (l *Launcher) Snapshot() Snapshot {
	return l.store.Snapshot()
}

// Subscribe returns a feed of state snapshots plus a cancel func.
func (l *Launcher) Subscribe() (<-chan Snapshot, func()) {
	return l.store.Subscribe()
}

// StateFiles exposes the persistent state layer for diagnostics.
func (l *Launcher) StateFiles() *statedir.Store {
	return l.files
}

// Start brings the gateway up. The pipeline recovers an already-running
// container, verifies the engine, initializes or loads persistent state,
// silently refreshes credentials, and either parks at the authentication
// gate or continues straight through bring-up. Legal from idle, running,
// stopped, and error; a start during a transient state is ignored.
func (l *Launcher) Start(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.logf("event=start_rejected reason=busy")
		return ErrBusy
	}
	defer l.inFlight.Store(false)

	switch st := l.store.Status(); st {
	case StatusWorking, StatusNeedsAuth, StatusWaitingForAuthInput:
		l.logf("event=start_ignored state=%s", st)
		return nil
	}

	l.store.beginAttempt()
	l.usageEvent("launcher_start", nil)

	// Recovery: a gateway container left running by a previous process is
	// adopted as-is, not torn down and recreated.
	if l.files.Initialized() {
		if client, err := l.engineClient(); err == nil && client.DaemonReady(ctx) {
			running, err := client.ContainerRunning(ctx, l.containerName())
			if err == nil && running {
				boot, err := l.files.LoadOrInit(listen.DefaultGatewayPort)
				if err == nil {
					l.setBoot(boot)
					l.store.addStep(StepDone, "Recovered the running gateway container")
					l.store.setRunning(boot.Port, l.gatewayURL(boot.Port))
					l.startSupervision()
					l.logf("event=gateway_recovered port=%d", boot.Port)
					return nil
				}
				l.logf("event=recovery_state_load_failed err=%v", err)
			}
		}
	}

	client, err := l.engineClient()
	if err != nil {
		l.store.fail(err.Error())
		l.usageEvent("launcher_error", map[string]string{"reason": "engine_missing"})
		return err
	}
	if !client.DaemonReady(ctx) {
		l.store.addStep(StepRunning, "Starting the container engine")
		if err := engine.LaunchDesktopApp(ctx, l.runner, l.installInfo()); err != nil {
			l.logf("event=engine_launch_failed err=%v", err)
		}
		if err := client.WaitForDaemon(ctx, l.t.daemonAttempts, l.t.daemonDelay); err != nil {
			l.store.fail(ErrEngineNotRunning.Error())
			l.usageEvent("launcher_error", map[string]string{"reason": "engine_not_ready"})
			return ErrEngineNotRunning
		}
		l.store.addStep(StepDone, "Container engine is ready")
	}

	desired, err := l.desiredPort()
	if err != nil {
		l.store.fail("port allocation failed: " + err.Error())
		return err
	}
	boot, err := l.files.LoadOrInit(desired)
	if err != nil {
		l.store.fail("state initialization failed: " + err.Error())
		return err
	}
	l.setBoot(boot)
	if boot.FirstRun {
		l.store.addStep(StepDone, "Initialized local gateway state")
	}

	if err := l.refreshCredentialsIfNeeded(ctx); err != nil {
		// An expired or rejected refresh token is recoverable: surface the
		// auth gate instead of a terminal error.
		l.logf("event=auth_refresh_failed err=%v", err)
		l.store.addStep(StepWarning, "Stored session expired; sign in again")
		l.store.setStatus(StatusNeedsAuth)
		l.usageEvent("auth_refresh_failed", nil)
		return nil
	}

	if !l.files.HasCredentials() {
		l.store.addStep(StepPending, "Waiting for authentication")
		l.store.setStatus(StatusNeedsAuth)
		return nil
	}

	return l.continueAfterSetup(ctx)
}

// ContinueAfterSetup resumes bring-up after the authentication gate.
func (l *Launcher) ContinueAfterSetup(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.inFlight.Store(false)

	switch st := l.store.Status(); st {
	case StatusNeedsAuth, StatusWaitingForAuthInput:
	default:
		l.logf("event=continue_ignored state=%s", st)
		return nil
	}
	return l.continueAfterSetup(ctx)
}

// continueAfterSetup runs the pull / start / readiness tail of the pipeline.
// The caller holds the in-flight guard.
func (l *Launcher) continueAfterSetup(ctx context.Context) error {
	l.store.setStatus(StatusWorking)

	client, err := l.engineClient()
	if err != nil {
		l.store.fail(err.Error())
		return err
	}
	token, port := l.boot()
	if token == "" {
		l.store.fail(ErrNoSecret.Error())
		return ErrNoSecret
	}

	image := l.opts.Settings.Image
	l.store.addStep(StepRunning, "Pulling "+image)
	if err := client.PullImage(ctx, image); err != nil {
		cached, cacheErr := client.ImageExists(ctx, image)
		if cacheErr != nil || !cached {
			pullErr := &ImagePullError{Detail: truncateDetail(err.Error())}
			l.store.fail(pullErr.Error())
			l.usageEvent("launcher_error", map[string]string{"reason": "image_pull"})
			return pullErr
		}
		l.store.addStep(StepWarning, "Pull failed; using the cached image")
	} else {
		l.store.addStep(StepDone, "Image up to date")
	}

	name := l.containerName()
	running, err := client.ContainerRunning(ctx, name)
	if err != nil {
		l.store.fail("engine query failed: " + truncateDetail(err.Error()))
		return err
	}
	if running {
		l.store.addStep(StepDone, "Container already running")
	} else {
		if exists, _ := client.ContainerExists(ctx, name); exists {
			// A stale stopped container holds the name.
			if err := client.RemoveContainer(ctx, name); err != nil {
				l.logf("event=stale_container_remove_failed err=%v", err)
			}
		}
		l.store.addStep(StepRunning, "Starting the gateway container")
		if err := client.StartContainer(ctx, l.runSpec(port)); err != nil {
			startErr := &ContainerStartError{Detail: truncateDetail(err.Error())}
			l.store.fail(startErr.Error())
			l.usageEvent("launcher_error", map[string]string{"reason": "container_start"})
			return startErr
		}
		l.store.addStep(StepDone, "Container started")
	}

	l.store.addStep(StepRunning, "Waiting for the gateway to respond")
	if l.waitForGateway(ctx, port) {
		l.store.addStep(StepDone, "Gateway is ready")
	} else {
		// Slow first boot is not fatal; supervision keeps watching.
		l.store.addStep(StepWarning, "Gateway has not responded yet; it may still be warming up")
	}

	url := l.gatewayURL(port)
	l.store.setRunning(port, url)
	l.startSupervision()
	l.maybeOpenBrowser(url)
	l.usageEvent("launcher_running", map[string]string{"port": strconv.Itoa(port)})
	l.logf("event=gateway_running port=%d url=%s", port, url)
	return nil
}

// StopContainer stops the gateway container and supervision.
func (l *Launcher) StopContainer(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.inFlight.Store(false)

	l.stopSupervision()
	client, err := l.engineClient()
	if err != nil {
		l.store.fail(err.Error())
		return err
	}
	if err := client.StopContainer(ctx, l.containerName()); err != nil {
		l.store.fail("container stop failed: " + truncateDetail(err.Error()))
		return err
	}
	l.store.setStopped()
	l.usageEvent("launcher_stop", nil)
	l.logf("event=gateway_stopped")
	return nil
}

// RestartContainer restarts the container in place and resumes supervision
// with a fresh uptime baseline. A fresh process may restart a container the
// engine still runs from an earlier session.
func (l *Launcher) RestartContainer(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.inFlight.Store(false)

	client, err := l.engineClient()
	if err != nil {
		return err
	}
	if l.store.Status() != StatusRunning {
		if !l.files.Initialized() {
			return ErrNotRunning
		}
		running, err := client.ContainerRunning(ctx, l.containerName())
		if err != nil {
			return err
		}
		if !running {
			return ErrNotRunning
		}
		boot, err := l.files.LoadOrInit(listen.DefaultGatewayPort)
		if err != nil {
			return err
		}
		l.setBoot(boot)
	}

	l.stopSupervision()
	l.store.addStep(StepRunning, "Restarting the gateway container")
	if err := client.RestartContainer(ctx, l.containerName()); err != nil {
		l.store.fail("container restart failed: " + truncateDetail(err.Error()))
		return err
	}
	_, port := l.boot()
	if l.waitForGateway(ctx, port) {
		l.store.addStep(StepDone, "Gateway is ready")
	} else {
		l.store.addStep(StepWarning, "Gateway has not responded yet; it may still be warming up")
	}
	l.store.setRunning(port, l.gatewayURL(port))
	l.startSupervision()
	l.usageEvent("launcher_restart", nil)
	l.logf("event=gateway_restarted")
	return nil
}

// ResetEverything deletes all local launcher state, credentials and the
// gateway secret included, and removes the container. This is the only
// operation that destroys the secret.
func (l *Launcher) ResetEverything(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.inFlight.Store(false)

	l.stopSupervision()
	// Container teardown is best effort; a broken engine must not block the
	// local wipe.
	if client, err := l.engineClient(); err == nil {
		name := l.containerName()
		if err := client.StopContainer(ctx, name); err != nil {
			l.logf("event=reset_container_stop_failed err=%v", err)
		}
		if err := client.RemoveContainer(ctx, name); err != nil {
			l.logf("event=reset_container_remove_failed err=%v", err)
		}
	}
	if err := l.files.Reset(); err != nil {
		l.store.fail("reset failed: " + err.Error())
		return err
	}
	l.clearBoot()
	l.store.resetAll()
	l.usageEvent("launcher_reset", nil)
	l.logf("event=reset_complete")
	return nil
}

// ReAuthenticate discards stored credentials, keeps the gateway secret, and
// parks at the authentication gate. The container is stopped first so the
// gateway never runs with credentials the user asked to revoke.
func (l *Launcher) ReAuthenticate(ctx context.Context) error {
	if !l.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.inFlight.Store(false)

	l.stopSupervision()
	if client, err := l.engineClient(); err == nil {
		name := l.containerName()
		if running, err := client.ContainerRunning(ctx, name); err == nil && running {
			if err := client.StopContainer(ctx, name); err != nil {
				l.logf("event=reauth_container_stop_failed err=%v", err)
			}
		}
	}
	if err := l.files.RemoveCredentials(); err != nil {
		l.store.fail("credential removal failed: " + err.Error())
		return err
	}
	l.store.beginAttempt()
	l.store.addStep(StepPending, "Waiting for authentication")
	l.store.setStatus(StatusNeedsAuth)
	l.usageEvent("auth_restart", nil)
	l.logf("event=reauthenticate")
	return nil
}

// engineClient discovers the engine once and caches the CLI client.
func (l *Launcher) engineClient() (*engine.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}
	install := l.opts.Discover()
	if !install.Installed() {
		return nil, ErrEngineNotInstalled
	}
	bin := install.Binary
	if bin == "" {
		// Desktop app without a linked CLI; the augmented search path
		// resolves the binary once the app has started.
		bin = "docker"
	}
	l.install = install
	l.client = engine.NewClient(l.runner, bin)
	return l.client, nil
}

func (l *Launcher) installInfo() engine.Install {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.install
}

func (l *Launcher) setBoot(boot statedir.Boot) {
	l.mu.Lock()
	l.token = boot.Token
	l.port = boot.Port
	l.mu.Unlock()
	l.store.setPort(boot.Port)
}

func (l *Launcher) boot() (token string, port int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token, l.port
}

func (l *Launcher) clearBoot() {
	l.mu.Lock()
	l.token = ""
	l.port = 0
	l.pkce = nil
	l.mu.Unlock()
}

func (l *Launcher) containerName() string {
	return l.opts.Settings.ContainerName
}

// desiredPort resolves the configured port policy. It only matters on first
// run; afterwards the persisted allocation wins.
func (l *Launcher) desiredPort() (int, error) {
	if l.opts.Settings.Port.Mode == configstore.PortModeRandom {
		return listen.RandomFreePort()
	}
	if n := l.opts.Settings.Port.Number; n != 0 {
		return n, nil
	}
	return listen.DefaultGatewayPort, nil
}

func (l *Launcher) gatewayURL(port int) string {
	return listen.Gateway(port).DisplayURL()
}

// runSpec renders the container run request. The security posture is fixed;
// settings only pick names, the image, resource ceilings, and mounts.
func (l *Launcher) runSpec(port int) engine.RunSpec {
	volumes := []string{l.files.ConfigDir() + ":" + containerConfigDir}
	if ws := l.opts.Settings.Workspace; ws != "" {
		volumes = append(volumes, ws+":"+containerWorkspaceDir)
	}
	return engine.RunSpec{
		Name:    l.containerName(),
		Image:   l.opts.Settings.Image,
		Publish: listen.Gateway(port).DockerPublish(),
		EnvFile: l.files.EnvPath(),
		Volumes: volumes,
		Limits:  l.opts.Settings.EngineLimits(),
	}
}

func (l *Launcher) maybeOpenBrowser(url string) {
	if !l.opts.Settings.Browser.Open || url == "" {
		return
	}
	if err := l.browser(url); err != nil {
		l.logf("event=browser_open_failed err=%v", err)
	}
}

func (l *Launcher) usageEvent(name string, meta map[string]string) {
	if l.opts.Usage == nil {
		return
	}
	l.opts.Usage.Event(name, meta)
}
