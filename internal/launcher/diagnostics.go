package launcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/openclaw/clawdock/internal/diag"
)

// diagLogTail bounds how much container log the bundle carries.
const diagLogTail = 200

// WriteDiagnostics collects a support bundle into dir and returns its path.
// The gateway secret and credential file contents never enter the bundle;
// the state tree entry lists names and sizes only.
func (l *Launcher) WriteDiagnostics(ctx context.Context, dir string) (string, error) {
	snap := l.store.Snapshot()

	entries := []diag.Entry{
		{Name: "meta.txt", Data: l.metaEntry(snap)},
	}
	if data, err := toml.Marshal(l.opts.Settings); err == nil {
		entries = append(entries, diag.Entry{Name: "settings.toml", Data: data})
	}
	if data := l.redactedEnvEntry(); data != nil {
		entries = append(entries, diag.Entry{Name: "state/env.txt", Data: data})
	}
	entries = append(entries,
		diag.Entry{Name: "state/tree.txt", Data: l.stateTreeEntry()},
		diag.Entry{Name: "launcher/steps.txt", Data: stepsEntry(snap)},
	)

	if client, err := l.engineClient(); err == nil {
		if info := client.Info(ctx); info != "" {
			entries = append(entries, diag.Entry{Name: "engine/info.txt", Data: []byte(info + "\n")})
		}
		name := l.containerName()
		status := client.ContainerStatus(ctx, name)
		entries = append(entries, diag.Entry{Name: "container/status.txt", Data: []byte(status + "\n")})
		if logs := client.Logs(ctx, name, diagLogTail); logs != "" {
			entries = append(entries, diag.Entry{Name: "container/logs.txt", Data: []byte(logs + "\n")})
		}
	} else {
		entries = append(entries, diag.Entry{Name: "engine/info.txt", Data: []byte("engine not installed\n")})
	}

	name := "clawdock-diag-" + time.Now().UTC().Format("20060102T150405Z")
	return diag.WriteBundle(dir, name, entries)
}

func (l *Launcher) metaEntry(snap Snapshot) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %s\n", productVersion)
	fmt.Fprintf(&b, "platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "state_dir: %s\n", l.opts.StateDir)
	fmt.Fprintf(&b, "status: %s\n", snap.Status)
	if snap.Port != 0 {
		fmt.Fprintf(&b, "port: %d\n", snap.Port)
	}
	if snap.LastError != "" {
		fmt.Fprintf(&b, "last_error: %s\n", snap.LastError)
	}
	return []byte(b.String())
}

// redactedEnvEntry returns the env file with the secret value blanked, or
// nil when the file does not exist.
func (l *Launcher) redactedEnvEntry() []byte {
	data, err := os.ReadFile(l.files.EnvPath())
	if err != nil {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		key, _, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(key) == "GATEWAY_TOKEN" {
			lines[i] = key + "=<redacted>"
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

func (l *Launcher) stateTreeEntry() []byte {
	var b strings.Builder
	root := l.files.Root()
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if d.IsDir() {
			fmt.Fprintf(&b, "%s %s/\n", info.Mode(), rel)
			return nil
		}
		fmt.Fprintf(&b, "%s %6d %s\n", info.Mode(), info.Size(), rel)
		return nil
	})
	if walkErr != nil || b.Len() == 0 {
		return []byte("state directory absent\n")
	}
	return []byte(b.String())
}

func stepsEntry(snap Snapshot) []byte {
	if len(snap.Steps) == 0 {
		return []byte("no launch attempt in this process\n")
	}
	var b strings.Builder
	for _, step := range snap.Steps {
		fmt.Fprintf(&b, "%s %-7s %s\n", step.At.UTC().Format(time.RFC3339), step.Status, step.Message)
	}
	return []byte(b.String())
}
