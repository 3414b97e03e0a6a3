package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

type authChoice int

const (
	authChoiceOAuth authChoice = iota + 1
	authChoiceAPIKey
	authChoiceSkip
)

// terminalPrompter renders the interactive bits of the CLI: the auth gate
// menu, code and key input, and colored step lines.
type terminalPrompter struct {
	in          *bufio.Reader
	out         io.Writer
	color       bool
	accentColor string
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{
		in:          bufio.NewReader(in),
		out:         out,
		color:       supportsColor(out),
		accentColor: "\033[38;5;208m",
	}
}

// ChooseAuthMethod renders the authentication menu and waits for a choice.
func (p *terminalPrompter) ChooseAuthMethod(ctx context.Context) (authChoice, error) {
	lines := []string{
		"",
		fmt.Sprintf("%s %s", p.accent("╭"), p.bold("Sign in to OpenClaw")),
		fmt.Sprintf("│ %s", p.muted("The gateway needs credentials before it can serve requests.")),
		p.accent("╰──────────────────────────────────────"),
		fmt.Sprintf("  %s %s %s", p.number("1"), p.bold("Browser sign-in"), p.muted("Opens your browser; paste the code back here")),
		fmt.Sprintf("  %s %s %s", p.number("2"), p.bold("API key"), p.muted("Paste an existing key")),
		fmt.Sprintf("  %s %s %s", p.number("3"), p.bold("Skip for now"), p.muted("Start without credentials; asked again next launch")),
		"",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(p.out, line); err != nil {
			return 0, err
		}
	}

	prompt := fmt.Sprintf("%s Select an option [1-3]: ", p.promptArrow())
	for {
		if _, err := fmt.Fprint(p.out, prompt); err != nil {
			return 0, err
		}
		line, err := p.readLine()
		if err != nil {
			return 0, err
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		switch strings.TrimSpace(line) {
		case "1":
			return authChoiceOAuth, nil
		case "2":
			return authChoiceAPIKey, nil
		case "3":
			return authChoiceSkip, nil
		default:
			if _, err := fmt.Fprintf(p.out, "%s Please enter %s, %s, or %s.\n", p.muted("•"), p.bold("1"), p.bold("2"), p.bold("3")); err != nil {
				return 0, err
			}
		}
	}
}

// AnnounceAuthURL prints the authorization URL for manual opening.
func (p *terminalPrompter) AnnounceAuthURL(url string) error {
	if _, err := fmt.Fprintf(p.out, "\n%s Open this URL to sign in:\n  %s\n\n", p.muted("•"), p.accent(url)); err != nil {
		return err
	}
	return nil
}

// ReadAuthCode prompts until the user pastes a non-empty authorization code.
func (p *terminalPrompter) ReadAuthCode(ctx context.Context) (string, error) {
	return p.readNonEmpty(ctx, fmt.Sprintf("%s Paste the authorization code: ", p.promptArrow()))
}

// ReadAPIKey prompts until the user pastes a non-empty API key.
func (p *terminalPrompter) ReadAPIKey(ctx context.Context) (string, error) {
	return p.readNonEmpty(ctx, fmt.Sprintf("%s Paste your API key: ", p.promptArrow()))
}

func (p *terminalPrompter) readNonEmpty(ctx context.Context, prompt string) (string, error) {
	for {
		if _, err := fmt.Fprint(p.out, prompt); err != nil {
			return "", err
		}
		line, err := p.readLine()
		if err != nil {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if value := strings.TrimSpace(line); value != "" {
			return value, nil
		}
	}
}

// ConfirmReset asks before destroying all local state. Defaults to no.
func (p *terminalPrompter) ConfirmReset(ctx context.Context) (bool, error) {
	question := fmt.Sprintf("%s %s %s ", p.promptArrow(),
		p.bold("Delete all local OpenClaw state, including credentials and the gateway secret?"),
		p.muted("[y/N]"))
	for {
		if _, err := fmt.Fprint(p.out, question); err != nil {
			return false, err
		}
		line, err := p.readLine()
		if err != nil {
			return false, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		default:
			if _, err := fmt.Fprintf(p.out, "%s Please respond with %s or %s.\n", p.muted("•"), p.bold("y"), p.bold("n")); err != nil {
				return false, err
			}
		}
	}
}

// StepLine renders one audit trail entry for streaming output.
func (p *terminalPrompter) StepLine(step Step) string {
	return fmt.Sprintf("%s %s", p.stepGlyph(step.Status), step.Message)
}

func (p *terminalPrompter) stepGlyph(status StepStatus) string {
	switch status {
	case StepDone:
		return p.wrap("\033[32m", "✓")
	case StepError:
		return p.wrap("\033[31m", "✗")
	case StepWarning:
		return p.wrap("\033[33m", "!")
	case StepRunning:
		return p.accent("›")
	default:
		return p.muted("•")
	}
}

func (p *terminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	trimmed := strings.TrimRight(line, "\r\n")
	if err == io.EOF && trimmed == "" {
		// Closed stdin must not spin the prompt loops.
		return "", io.EOF
	}
	if err != nil && err != io.EOF {
		return "", err
	}
	return trimmed, nil
}

func (p *terminalPrompter) accent(text string) string {
	return p.wrap(p.accentColor, text)
}

func (p *terminalPrompter) bold(text string) string {
	return p.wrap("\033[1m", text)
}

func (p *terminalPrompter) muted(text string) string {
	return p.wrap("\033[2m", text)
}

func (p *terminalPrompter) number(n string) string {
	return p.accent(n + ".")
}

func (p *terminalPrompter) promptArrow() string {
	if p.color {
		return p.accent("›")
	}
	return ">"
}

func (p *terminalPrompter) wrap(code, text string) string {
	if !p.color || code == "" {
		return text
	}
	return code + text + "\033[0m"
}

func supportsColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	type fd interface {
		Fd() uintptr
	}
	f, ok := w.(fd)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
