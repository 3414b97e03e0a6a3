package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Install describes an engine installation found on disk.
type Install struct {
	// Binary is the absolute path of the engine CLI, empty when not found.
	Binary string
	// DesktopApp is the desktop companion (app bundle on macOS, install
	// root on Linux), empty when none is installed.
	DesktopApp string
}

// Installed reports whether any part of the engine is present.
func (i Install) Installed() bool {
	return i.Binary != "" || i.DesktopApp != ""
}

// Discover probes well-known filesystem locations for the engine CLI and its
// desktop companion. It never consults PATH: the launcher may have been
// started from a desktop session with a stripped environment, and a direct
// probe answers "is it installed" even when the binary is not reachable.
func Discover() Install {
	return discoverIn(binaryCandidates(), desktopCandidates())
}

func discoverIn(binaries, apps []string) Install {
	var install Install
	for _, candidate := range binaries {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			install.Binary = candidate
			break
		}
	}
	for _, candidate := range apps {
		if _, err := os.Stat(candidate); err == nil {
			install.DesktopApp = candidate
			break
		}
	}
	return install
}

func binaryCandidates() []string {
	var candidates []string
	for _, dir := range DefaultSearchPath() {
		candidates = append(candidates, filepath.Join(dir, "docker"))
	}
	return candidates
}

func desktopCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		apps := []string{
			"/Applications/Docker.app",
			"/Applications/Rancher Desktop.app",
			"/Applications/OrbStack.app",
		}
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			apps = append(apps, filepath.Join(home, "Applications", "Docker.app"))
		}
		return apps
	case "linux":
		return []string{"/opt/docker-desktop"}
	default:
		return nil
	}
}

// LaunchDesktopApp asks the OS to start the engine's desktop companion so the
// daemon comes up. The caller polls WaitForDaemon afterwards.
func LaunchDesktopApp(ctx context.Context, runner Runner, install Install) error {
	switch runtime.GOOS {
	case "darwin":
		app := install.DesktopApp
		if app == "" {
			app = "/Applications/Docker.app"
		}
		res, err := runner.Run(ctx, "open", "-g", "-a", app)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("open %s: %s", app, res.Output())
		}
		return nil
	case "linux":
		res, err := runner.Run(ctx, "systemctl", "--user", "start", "docker-desktop")
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("start docker-desktop: %s", res.Output())
		}
		return nil
	default:
		return fmt.Errorf("no desktop companion available on %s", runtime.GOOS)
	}
}
