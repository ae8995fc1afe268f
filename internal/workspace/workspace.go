// Package workspace manages the transient directories monitor builds run
// in.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrWorkspace matches every *Error.
var ErrWorkspace = errors.New("workspace")

// Error reports a workspace that could not be created.
type Error struct {
	Dir string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("create workspace %s: %v", e.Dir, e.Err)
}

func (e *Error) Is(err error) bool { return err == ErrWorkspace }

func (e *Error) Unwrap() error { return e.Err }

// Workspace is a uniquely named directory removed by Close.
type Workspace struct {
	Dir string

	log    *slog.Logger
	closed bool
}

// New creates <root>/<prefix>-<uuid>. An empty root means os.TempDir().
func New(root, prefix string, log *slog.Logger) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Join(root, prefix+"-"+uuid.NewString())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Dir: dir, Err: err}
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, &Error{Dir: dir, Err: err}
	}
	log.Debug("workspace created", "dir", dir)
	return &Workspace{Dir: dir, log: log}, nil
}

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// Close removes the workspace recursively. Failures are logged and
// otherwise ignored, so Close is safe to defer on every path. Calling it
// more than once is a no-op.
func (w *Workspace) Close() {
	if w == nil || w.closed {
		return
	}
	w.closed = true
	if err := os.RemoveAll(w.Dir); err != nil {
		w.log.Warn("failed to remove workspace", "dir", w.Dir, "err", err)
		return
	}
	w.log.Debug("workspace removed", "dir", w.Dir)
}
