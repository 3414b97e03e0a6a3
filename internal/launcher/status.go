package launcher

import (
	"context"
	"fmt"
)

// StatusReport is a point-in-time summary of the stack for the status
// subcommand. Every field is already rendered for display.
type StatusReport struct {
	Engine      string
	Container   string
	Gateway     string
	Credentials string
	StateDir    string
	Healthy     bool
}

// StatusReport inspects the engine, the container, the gateway endpoint, and
// the stored credentials without changing any of them. Healthy means the
// container runs and the gateway answers.
func (l *Launcher) StatusReport(ctx context.Context) StatusReport {
	report := StatusReport{
		StateDir:    l.opts.StateDir,
		Container:   "not created",
		Gateway:     "not reachable",
		Credentials: l.credentialSummary(),
	}

	client, err := l.engineClient()
	if err != nil {
		report.Engine = "not installed"
		return report
	}
	if !client.DaemonReady(ctx) {
		report.Engine = "installed, daemon not running"
		return report
	}
	report.Engine = "ready"

	status := client.ContainerStatus(ctx, l.containerName())
	if status != "missing" {
		report.Container = status
	}

	port := l.statusPort()
	if port == 0 {
		return report
	}
	url := l.gatewayURL(port)
	if l.probeGateway(ctx, port) {
		report.Gateway = "responding at " + url
		report.Healthy = status == "running"
	} else {
		report.Gateway = fmt.Sprintf("no answer at %s", url)
	}
	return report
}

func (l *Launcher) credentialSummary() string {
	switch {
	case l.files.HasOAuthCredentials():
		return "OAuth session stored"
	case l.files.HasAPIKeyProfile():
		return "API key stored"
	default:
		return "none"
	}
}

// statusPort resolves the port to probe: the live one when this process
// started the gateway, otherwise the persisted allocation. Zero means there
// is nothing to probe yet.
func (l *Launcher) statusPort() int {
	if _, port := l.boot(); port != 0 {
		return port
	}
	if !l.files.Initialized() {
		return 0
	}
	boot, err := l.files.LoadOrInit(0)
	if err != nil {
		return 0
	}
	return boot.Port
}
