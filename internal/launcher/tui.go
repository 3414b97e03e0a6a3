package launcher

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// watchStepWindow is how many trailing steps the dashboard shows.
const watchStepWindow = 12

type watchTheme struct {
	color       bool
	title       lipgloss.Style
	statusGood  lipgloss.Style
	statusWarn  lipgloss.Style
	statusBad   lipgloss.Style
	label       lipgloss.Style
	value       lipgloss.Style
	stepDone    lipgloss.Style
	stepError   lipgloss.Style
	stepWarning lipgloss.Style
	stepRunning lipgloss.Style
	stepPending lipgloss.Style
	help        lipgloss.Style
}

func newWatchTheme(color bool) watchTheme {
	if !color {
		return watchTheme{
			color:       false,
			title:       lipgloss.NewStyle().Bold(true),
			statusGood:  lipgloss.NewStyle().Bold(true),
			statusWarn:  lipgloss.NewStyle().Bold(true),
			statusBad:   lipgloss.NewStyle().Bold(true),
			label:       lipgloss.NewStyle().Faint(true),
			value:       lipgloss.NewStyle(),
			stepDone:    lipgloss.NewStyle(),
			stepError:   lipgloss.NewStyle().Bold(true),
			stepWarning: lipgloss.NewStyle(),
			stepRunning: lipgloss.NewStyle(),
			stepPending: lipgloss.NewStyle().Faint(true),
			help:        lipgloss.NewStyle().Faint(true),
		}
	}

	accent := lipgloss.Color("#ff9f43")
	good := lipgloss.Color("#2ecc71")
	warn := lipgloss.Color("#f1c40f")
	bad := lipgloss.Color("#e74c3c")
	muted := lipgloss.Color("#9fb3c8")

	return watchTheme{
		color:       true,
		title:       lipgloss.NewStyle().Foreground(accent).Bold(true),
		statusGood:  lipgloss.NewStyle().Foreground(good).Bold(true),
		statusWarn:  lipgloss.NewStyle().Foreground(warn).Bold(true),
		statusBad:   lipgloss.NewStyle().Foreground(bad).Bold(true),
		label:       lipgloss.NewStyle().Foreground(muted),
		value:       lipgloss.NewStyle().Foreground(accent),
		stepDone:    lipgloss.NewStyle().Foreground(good),
		stepError:   lipgloss.NewStyle().Foreground(bad).Bold(true),
		stepWarning: lipgloss.NewStyle().Foreground(warn),
		stepRunning: lipgloss.NewStyle().Foreground(accent),
		stepPending: lipgloss.NewStyle().Foreground(muted),
		help:        lipgloss.NewStyle().Faint(true),
	}
}

type snapshotMsg Snapshot

type watchModel struct {
	theme watchTheme
	snap  Snapshot
}

func newWatchModel(snap Snapshot, theme watchTheme) *watchModel {
	return &watchModel{theme: theme, snap: snap}
}

func (m *watchModel) Init() tea.Cmd {
	return nil
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch strings.ToLower(msg.String()) {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case snapshotMsg:
		m.snap = Snapshot(msg)
	}
	return m, nil
}

func (m *watchModel) View() string {
	snap := m.snap

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + m.theme.title.Render("OpenClaw Gateway") + "  " + m.renderStatus(snap) + "\n\n")

	if snap.GatewayURL != "" {
		b.WriteString(fmt.Sprintf("  %s %s\n", m.theme.label.Render("URL    :"), m.theme.value.Render(snap.GatewayURL)))
	}
	if snap.Status == StatusRunning {
		b.WriteString(fmt.Sprintf("  %s %s\n", m.theme.label.Render("Uptime :"), m.theme.value.Render(formatUptime(snap.UptimeSeconds))))
		b.WriteString(fmt.Sprintf("  %s %s\n", m.theme.label.Render("Health :"), m.renderHealth(snap.Health)))
	}
	if snap.LastError != "" {
		b.WriteString(fmt.Sprintf("  %s %s\n", m.theme.label.Render("Error  :"), m.theme.stepError.Render(snap.LastError)))
	}

	steps := snap.Steps
	if len(steps) > watchStepWindow {
		steps = steps[len(steps)-watchStepWindow:]
	}
	if len(steps) > 0 {
		b.WriteString("\n")
		for _, step := range steps {
			b.WriteString("  " + m.renderStep(step) + "\n")
		}
	}

	b.WriteString("\n  " + m.theme.help.Render("q quits the dashboard; the gateway keeps running.") + "\n")
	return b.String()
}

func (m *watchModel) renderStatus(snap Snapshot) string {
	switch snap.Status {
	case StatusRunning:
		if snap.Health.Healthy || snap.Health.ConsecutiveFailures == 0 {
			return m.theme.statusGood.Render("running")
		}
		return m.theme.statusWarn.Render("running (degraded)")
	case StatusError:
		return m.theme.statusBad.Render("error")
	case StatusStopped:
		return m.theme.statusWarn.Render("stopped")
	default:
		return m.theme.label.Render(string(snap.Status))
	}
}

func (m *watchModel) renderHealth(h Health) string {
	if h.Healthy || h.ConsecutiveFailures == 0 {
		return m.theme.statusGood.Render("ok")
	}
	return m.theme.statusWarn.Render(fmt.Sprintf("%d consecutive probe failures", h.ConsecutiveFailures))
}

func (m *watchModel) renderStep(step Step) string {
	switch step.Status {
	case StepDone:
		return m.theme.stepDone.Render("✓") + " " + step.Message
	case StepError:
		return m.theme.stepError.Render("✗") + " " + step.Message
	case StepWarning:
		return m.theme.stepWarning.Render("!") + " " + step.Message
	case StepRunning:
		return m.theme.stepRunning.Render("›") + " " + step.Message
	default:
		return m.theme.stepPending.Render("•") + " " + step.Message
	}
}

// formatUptime renders whole seconds as 1h02m03s.
func formatUptime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// watchDashboard runs the live dashboard until the user quits or ctx ends.
func watchDashboard(ctx context.Context, l *Launcher, in io.Reader, out io.Writer) error {
	snapshots, cancel := l.Subscribe()
	defer cancel()

	model := newWatchModel(l.Snapshot(), newWatchTheme(supportsColor(out)))
	prog := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out), tea.WithContext(ctx))

	go func() {
		for snap := range snapshots {
			prog.Send(snapshotMsg(snap))
		}
	}()

	_, err := prog.Run()
	if err != nil && ctx.Err() != nil {
		// Interrupt during watch is a normal exit.
		return nil
	}
	return err
}

func canUseBubbleTea(in io.Reader, out io.Writer) bool {
	type fd interface {
		Fd() uintptr
	}
	_, okIn := in.(fd)
	_, okOut := out.(fd)
	return okIn && okOut
}
