// Package diag assembles support bundles. A bundle is a zstd-compressed tar
// archive of small text entries, written atomically into a target directory.
package diag

import (
	"archive/tar"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry is one file inside a bundle.
type Entry struct {
	Name string
	Data []byte
}

// WriteBundle writes entries as <name>.tar.zst under dir and returns the
// final path. The archive appears atomically or not at all.
func WriteBundle(dir, name string, entries []Entry) (string, error) {
	target := filepath.Join(dir, name+".tar.zst")

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		cleanup()
		return "", fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	now := time.Now()
	for _, entry := range entries {
		hdr := &tar.Header{
			Name:     name + "/" + entry.Name,
			Mode:     0o600,
			Size:     int64(len(entry.Data)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			cleanup()
			return "", fmt.Errorf("write %s header: %w", entry.Name, err)
		}
		if _, err := tw.Write(entry.Data); err != nil {
			cleanup()
			return "", fmt.Errorf("write %s: %w", entry.Name, err)
		}
	}

	if err := tw.Close(); err != nil {
		cleanup()
		return "", err
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return "", err
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return target, nil
}
