// Package state owns the on-disk layout under the database path.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths is the runtime folder layout.
type Paths struct {
	Root      string
	Store     string
	State     string
	Logs      string
	Telemetry string
	Sweeper   string
}

func PathsFor(dbPath string) Paths {
	root := filepath.Clean(strings.TrimSpace(dbPath))
	st := filepath.Join(root, "state")
	return Paths{
		Root:      root,
		Store:     filepath.Join(root, "store"),
		State:     st,
		Logs:      filepath.Join(st, "logs"),
		Telemetry: filepath.Join(st, "telemetry"),
		Sweeper:   filepath.Join(st, "sweeper"),
	}
}

// Ensure creates every directory in p. Each must be a real, writable
// directory; symlinks are refused.
func Ensure(p Paths) error {
	for _, dir := range []string{p.Store, p.Logs, p.Telemetry, p.Sweeper} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func ensureDir(p string) error {
	if fi, err := os.Lstat(p); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("path is a symlink: %s", p)
		}
		if !fi.IsDir() {
			return fmt.Errorf("path exists and is not a directory: %s", p)
		}
	}
	if err := os.MkdirAll(p, 0o700); err != nil {
		return fmt.Errorf("cannot create path %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return fmt.Errorf("path not writable: %s: %w", p, err)
	}
	tmp.Close()
	_ = os.Remove(tmp.Name())
	return nil
}
