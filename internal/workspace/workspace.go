// Package workspace manages per-request scratch directories.
package workspace

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Workspace is one disposable directory owned by a single request until its
// tokens are handed to the registry.
type Workspace struct {
	ID        string
	Dir       string
	CreatedAt time.Time
}

// Manager creates and destroys workspaces under a fixed root directory.
type Manager struct {
	root string
}

// NewManager ensures the root directory exists and returns a manager for it.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "runbox")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.ResourceError, "create workspace root %s failed", root)
	}
	return &Manager{root: root}, nil
}

// Root returns the directory all workspaces live under.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a fresh uniquely named workspace directory.
func (m *Manager) Create(ctx context.Context) (*Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceCreate, "create workspace dir failed")
	}
	logger.Debug(ctx, "workspace created", zap.String("workspace_id", id))
	return &Workspace{ID: id, Dir: dir, CreatedAt: time.Now()}, nil
}

// WriteFile places content into the workspace under name, 0600.
func (m *Manager) WriteFile(ws *Workspace, name string, content io.Reader) (string, int64, error) {
	path := filepath.Join(ws.Dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, appErr.Wrapf(err, appErr.ScriptWriteFailed, "open %s failed", name)
	}
	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, appErr.Wrapf(err, appErr.ScriptWriteFailed, "write %s failed", name)
	}
	return path, n, nil
}

// Destroy removes the workspace directory tree. Idempotent: multiple cleanup
// paths (end-of-request, sweeper, error handler) may race to destroy the
// same workspace, and destroying an already-destroyed one is a no-op.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	dir := filepath.Join(m.root, filepath.Base(id))
	if err := os.RemoveAll(dir); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceDestroy, "remove workspace %s failed", id)
	}
	logger.Debug(ctx, "workspace destroyed", zap.String("workspace_id", id))
	return nil
}

// PruneEmpty removes the workspace directory only when nothing is left in it.
// Returns true when the directory is gone afterwards.
func (m *Manager) PruneEmpty(ctx context.Context, id string) (bool, error) {
	dir := filepath.Join(m.root, filepath.Base(id))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, appErr.Wrapf(err, appErr.ResourceError, "read workspace %s failed", id)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return false, appErr.Wrapf(err, appErr.WorkspaceDestroy, "remove empty workspace %s failed", id)
	}
	logger.Debug(ctx, "empty workspace pruned", zap.String("workspace_id", id))
	return true, nil
}
