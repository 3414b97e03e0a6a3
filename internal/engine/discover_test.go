package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverInFindsBinary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bin := filepath.Join(dir, "docker")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write stub binary: %v", err)
	}

	install := discoverIn([]string{filepath.Join(dir, "missing"), bin}, nil)
	if install.Binary != bin {
		t.Fatalf("binary = %q, want %q", install.Binary, bin)
	}
	if !install.Installed() {
		t.Fatal("install not reported as installed")
	}
}

func TestDiscoverInSkipsDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	install := discoverIn([]string{dir}, nil)
	if install.Binary != "" {
		t.Fatalf("binary = %q, want empty", install.Binary)
	}
}

func TestDiscoverInFindsDesktopApp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	app := filepath.Join(dir, "Docker.app")
	if err := os.MkdirAll(app, 0o755); err != nil {
		t.Fatalf("mkdir app: %v", err)
	}

	install := discoverIn(nil, []string{app})
	if install.DesktopApp != app {
		t.Fatalf("desktop app = %q, want %q", install.DesktopApp, app)
	}
}

func TestDiscoverInNothingFound(t *testing.T) {
	t.Parallel()

	install := discoverIn([]string{"/nonexistent/docker"}, []string{"/nonexistent/Docker.app"})
	if install.Installed() {
		t.Fatalf("unexpected install: %+v", install)
	}
}
