package launcher

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openclaw/clawdock/internal/configstore"
	"github.com/openclaw/clawdock/internal/openflag"
	"github.com/openclaw/clawdock/internal/statedir"
	"github.com/openclaw/clawdock/internal/telemetry/usage"
)

// ExitCodeError carries a specific process exit status to the cmd wrapper.
type ExitCodeError struct {
	code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *ExitCodeError) ExitCode() int {
	return e.code
}

type cliOptions struct {
	subcommand string
	stateDir   string
	plain      bool
	watch      bool
	noOpen     bool
	yes        bool
}

var subcommands = []string{"start", "stop", "restart", "status", "reset", "reauth", "diag", "version"}

// Main is the CLI entry point. args is the full os.Args slice.
func Main(args []string) error {
	return mainWithIO(args, os.Stdin, os.Stdout)
}

func mainWithIO(args []string, in io.Reader, out io.Writer) error {
	opts, err := parseArgs(args, out)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.subcommand == "version" {
		fmt.Fprintln(out, "clawdock "+versionTag())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := buildLauncher(opts)
	if err != nil {
		return err
	}
	defer l.stopSupervision()

	switch opts.subcommand {
	case "start", "stop", "restart", "reset", "reauth":
		// Two supervisors racing one container corrupt nothing but confuse
		// everything. Read-only commands stay allowed.
		if statedir.LockHeld(statedir.LockPath(l.opts.StateDir)) {
			return errors.New("a clawdock daemon is managing this state directory; stop it first or use its API")
		}
	}

	switch opts.subcommand {
	case "start":
		return runStart(ctx, l, opts, in, out)
	case "stop":
		return runStop(ctx, l, out)
	case "restart":
		return runRestart(ctx, l, out)
	case "status":
		return runStatus(ctx, l, out)
	case "reset":
		return runReset(ctx, l, opts, in, out)
	case "reauth":
		return runReauth(ctx, l, in, out)
	case "diag":
		return runDiag(ctx, l, out)
	default:
		return fmt.Errorf("unknown command %q (expected one of %s)", opts.subcommand, strings.Join(subcommands, ", "))
	}
}

func parseArgs(args []string, out io.Writer) (cliOptions, error) {
	opts := cliOptions{subcommand: "start"}
	rest := args
	if len(rest) > 0 {
		rest = rest[1:]
	}
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		opts.subcommand = rest[0]
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("clawdock "+opts.subcommand, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.stateDir, "state-dir", "", "override the launcher state directory")
	fs.BoolVar(&opts.plain, "plain", false, "plain output without colors or the dashboard")
	switch opts.subcommand {
	case "start":
		fs.BoolVar(&opts.watch, "watch", false, "keep a live dashboard open after the gateway is up")
		fs.BoolVar(&opts.noOpen, "no-open", false, "do not open the browser")
	case "reset":
		fs.BoolVar(&opts.yes, "yes", false, "skip the confirmation prompt")
	}
	if err := fs.Parse(rest); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return opts, nil
}

func buildLauncher(opts cliOptions) (*Launcher, error) {
	root := opts.stateDir
	if root == "" {
		var err error
		root, err = statedir.DefaultRoot()
		if err != nil {
			return nil, err
		}
	}

	settings, err := configstore.Load(root)
	if err != nil {
		return nil, err
	}
	if opts.noOpen || !openflag.BrowserEnabled(os.Getenv) {
		settings.Browser.Open = false
	}

	var sink UsageSink
	if settings.Telemetry.Enabled {
		sink = usage.NewReporter(usage.Config{Version: versionTag()})
	}

	return New(Options{
		StateDir: root,
		Settings: settings,
		Usage:    sink,
	}), nil
}

func runStart(ctx context.Context, l *Launcher, opts cliOptions, in io.Reader, out io.Writer) error {
	prompt := newTerminalPrompter(in, out)

	snapshots, cancel := l.Subscribe()
	defer cancel()
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		streamSteps(out, prompt, snapshots)
	}()

	if err := l.Start(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch snap := l.Snapshot(); snap.Status {
		case StatusNeedsAuth, StatusWaitingForAuthInput:
			if err := promptForAuth(ctx, l, prompt, out); err != nil {
				return err
			}
		case StatusRunning:
			fmt.Fprintf(out, "\n%s Gateway running at %s\n", prompt.stepGlyph(StepDone), snap.GatewayURL)
			if !l.files.HasCredentials() {
				fmt.Fprintf(out, "%s Running without credentials; run %s to sign in later.\n", prompt.muted("•"), prompt.bold("clawdock reauth"))
			}
			if opts.watch && !opts.plain && canUseBubbleTea(in, out) {
				return watchDashboard(ctx, l, in, out)
			}
			if opts.watch {
				return watchPlain(ctx, l, out)
			}
			return nil
		case StatusError:
			cancel()
			<-printerDone
			return errors.New(snap.LastError)
		default:
			// Transient; the pipeline settles between operations.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

// streamSteps prints each new audit trail entry as it lands. A shrinking
// trail means a fresh attempt started, so the cursor rewinds.
func streamSteps(out io.Writer, prompt *terminalPrompter, snapshots <-chan Snapshot) {
	seen := 0
	for snap := range snapshots {
		if len(snap.Steps) < seen {
			seen = 0
		}
		for _, step := range snap.Steps[seen:] {
			fmt.Fprintf(out, "  %s\n", prompt.StepLine(step))
		}
		seen = len(snap.Steps)
	}
}

func promptForAuth(ctx context.Context, l *Launcher, prompt *terminalPrompter, out io.Writer) error {
	choice, err := prompt.ChooseAuthMethod(ctx)
	if err != nil {
		return err
	}
	switch choice {
	case authChoiceOAuth:
		url, err := l.BeginOAuth()
		if err != nil {
			return err
		}
		if err := prompt.AnnounceAuthURL(url); err != nil {
			return err
		}
		for {
			code, err := prompt.ReadAuthCode(ctx)
			if err != nil {
				return err
			}
			if err := l.SubmitAuthCode(ctx, code); err != nil {
				if l.Snapshot().Status != StatusWaitingForAuthInput {
					return err
				}
				fmt.Fprintf(out, "  %s That code did not work; paste a fresh one or press Ctrl+C.\n", prompt.muted("•"))
				continue
			}
			return nil
		}
	case authChoiceAPIKey:
		key, err := prompt.ReadAPIKey(ctx)
		if err != nil {
			return err
		}
		return l.SubmitAPIKey(ctx, key)
	default:
		return l.SkipAuth(ctx)
	}
}

// watchPlain is the dashboard fallback for dumb terminals: it prints status
// transitions until interrupted.
func watchPlain(ctx context.Context, l *Launcher, out io.Writer) error {
	snapshots, cancel := l.Subscribe()
	defer cancel()

	last := Status("")
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if snap.Status != last {
				last = snap.Status
				fmt.Fprintf(out, "status=%s", snap.Status)
				if snap.LastError != "" {
					fmt.Fprintf(out, " error=%q", snap.LastError)
				}
				fmt.Fprintln(out)
			}
		}
	}
}

func runStop(ctx context.Context, l *Launcher, out io.Writer) error {
	if err := l.StopContainer(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Gateway container stopped.")
	return nil
}

func runRestart(ctx context.Context, l *Launcher, out io.Writer) error {
	if err := l.RestartContainer(ctx); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return errors.New("gateway is not running; use clawdock start")
		}
		return err
	}
	snap := l.Snapshot()
	fmt.Fprintf(out, "Gateway restarted at %s\n", snap.GatewayURL)
	return nil
}

func runReset(ctx context.Context, l *Launcher, opts cliOptions, in io.Reader, out io.Writer) error {
	if !opts.yes {
		prompt := newTerminalPrompter(in, out)
		confirmed, err := prompt.ConfirmReset(ctx)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(out, "Reset aborted.")
			return nil
		}
	}
	if err := l.ResetEverything(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "All local state removed. The next start sets up from scratch.")
	return nil
}

func runReauth(ctx context.Context, l *Launcher, in io.Reader, out io.Writer) error {
	if err := l.ReAuthenticate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Stored credentials removed.")
	// Walk straight into the auth gate so the user does not need a second
	// command.
	prompt := newTerminalPrompter(in, out)
	if err := promptForAuth(ctx, l, prompt, out); err != nil {
		return err
	}
	snap := l.Snapshot()
	if snap.Status == StatusRunning {
		fmt.Fprintf(out, "\nGateway running at %s\n", snap.GatewayURL)
	}
	return nil
}

func runStatus(ctx context.Context, l *Launcher, out io.Writer) error {
	report := l.StatusReport(ctx)
	fmt.Fprintf(out, "Engine      : %s\n", report.Engine)
	fmt.Fprintf(out, "Container   : %s\n", report.Container)
	fmt.Fprintf(out, "Gateway     : %s\n", report.Gateway)
	fmt.Fprintf(out, "Credentials : %s\n", report.Credentials)
	fmt.Fprintf(out, "State dir   : %s\n", report.StateDir)
	if !report.Healthy {
		return &ExitCodeError{code: 1}
	}
	return nil
}

func runDiag(ctx context.Context, l *Launcher, out io.Writer) error {
	path, err := l.WriteDiagnostics(ctx, ".")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Diagnostics bundle written to %s\n", path)
	return nil
}
