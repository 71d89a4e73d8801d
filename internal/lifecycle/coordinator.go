// Package lifecycle orchestrates workspaces, the process runner, and the
// token registry for one request at a time.
package lifecycle

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"runbox/internal/archive"
	"runbox/internal/runner"
	"runbox/internal/token"
	"runbox/internal/workspace"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	// TokenTTL is a fixed operational constant: generated and hosted
	// artifacts stay downloadable for five minutes.
	TokenTTL = 5 * time.Minute

	// SweepInterval is how often the sweeper reclaims expired state.
	SweepInterval = 60 * time.Second

	// DefaultScriptName is the file the submitted code is written to.
	// It is never exposed as an artifact.
	DefaultScriptName = "main.py"
)

// ExecRequest is one code execution.
type ExecRequest struct {
	Code         string
	Timeout      time.Duration
	AllowNetwork bool
}

// Artifact describes one downloadable file left behind by a run or upload.
type Artifact struct {
	Filename  string
	Token     string
	ExpiresAt time.Time
	MIMEType  string
	Size      int64
}

// ExecResult is the transient outcome of one execution; it is never
// persisted.
type ExecResult struct {
	Output    string
	Artifacts []Artifact
	Duration  time.Duration
}

// Coordinator owns the per-request state machine and the shared reclaim
// path used by both end-of-request cleaning and the sweeper.
type Coordinator struct {
	workspaces *workspace.Manager
	run        runner.Runner
	registry   token.Registry
	store      archive.ObjectStorage // nil when archiving is disabled
	scriptName string
}

// New wires a coordinator. store may be nil.
func New(workspaces *workspace.Manager, run runner.Runner, registry token.Registry, store archive.ObjectStorage) *Coordinator {
	return &Coordinator{
		workspaces: workspaces,
		run:        run,
		registry:   registry,
		store:      store,
		scriptName: DefaultScriptName,
	}
}

// Registry exposes the injected registry for health reporting.
func (c *Coordinator) Registry() token.Registry {
	return c.registry
}

// Execute runs the request through CREATING, RUNNING, COLLECTING and always
// finishes with the cleaning step, whatever path got it there.
func (c *Coordinator) Execute(ctx context.Context, req ExecRequest) (res *ExecResult, err error) {
	// CREATING
	ws, err := c.workspaces.Create(ctx)
	if err != nil {
		return nil, err
	}
	// CLEANING is a guaranteed step: it runs on success and on every error
	// path, after tokens (if any) have been minted.
	defer c.clean(ctx, ws)

	scriptPath, _, err := c.workspaces.WriteFile(ws, c.scriptName, strings.NewReader(req.Code))
	if err != nil {
		return nil, err
	}

	// RUNNING. A runner failure still needs the workspace for cleaning, so
	// the deferred step handles it rather than an eager destroy here.
	out, err := c.run.Run(ctx, runner.Request{
		Argv:         c.run.ScriptArgv(scriptPath),
		Dir:          ws.Dir,
		Timeout:      req.Timeout,
		AllowNetwork: req.AllowNetwork,
	})
	if err != nil {
		return nil, err
	}

	// COLLECTING
	artifacts, err := c.collect(ctx, ws, scriptPath)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		Output:    out.Stdout,
		Artifacts: artifacts,
		Duration:  out.Duration,
	}, nil
}

// Host stores an uploaded file in its own workspace and mints its token.
func (c *Coordinator) Host(ctx context.Context, filename string, content io.Reader) (*Artifact, error) {
	ws, err := c.workspaces.Create(ctx)
	if err != nil {
		return nil, err
	}

	path, size, err := c.workspaces.WriteFile(ws, filename, content)
	if err != nil {
		c.Reclaim(ctx, ws.ID)
		return nil, appErr.Wrap(err, appErr.UploadFailed)
	}

	entry, err := c.registry.Mint(ctx, token.Entry{
		FilePath:    path,
		WorkspaceID: ws.ID,
		Filename:    filepath.Base(filename),
		Size:        size,
	}, TokenTTL)
	if err != nil {
		c.Reclaim(ctx, ws.ID)
		return nil, err
	}

	c.mirror(ctx, ws.ID, entry)

	return &Artifact{
		Filename:  entry.Filename,
		Token:     entry.Token,
		ExpiresAt: entry.ExpiresAt,
		MIMEType:  detectMIME(path),
		Size:      size,
	}, nil
}

// Reclaim revokes every token for the workspace and then removes its
// directory. The revoke runs first so no resolve can return a path that is
// mid-deletion; together the two form one logically atomic unit.
func (c *Coordinator) Reclaim(ctx context.Context, workspaceID string) {
	revoked, err := c.registry.RevokeWorkspace(ctx, workspaceID)
	if err != nil {
		logger.Warn(ctx, "revoke workspace tokens failed",
			zap.String("workspace_id", workspaceID), zap.Error(err))
	}
	if err := c.workspaces.Destroy(ctx, workspaceID); err != nil {
		logger.Warn(ctx, "destroy workspace failed",
			zap.String("workspace_id", workspaceID), zap.Error(err))
	}
	c.unmirror(ctx, workspaceID, revoked)
}

// collect enumerates non-script files left in the workspace and mints one
// token per artifact.
func (c *Coordinator) collect(ctx context.Context, ws *workspace.Workspace, scriptPath string) ([]Artifact, error) {
	entries, err := os.ReadDir(ws.Dir)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ArtifactScanFailed, "read workspace failed")
	}

	var artifacts []Artifact
	for _, dirEntry := range entries {
		if dirEntry.IsDir() {
			continue
		}
		path := filepath.Join(ws.Dir, dirEntry.Name())
		if path == scriptPath {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			logger.Warn(ctx, "stat artifact failed", zap.String("file", dirEntry.Name()), zap.Error(err))
			continue
		}
		entry, err := c.registry.Mint(ctx, token.Entry{
			FilePath:    path,
			WorkspaceID: ws.ID,
			Filename:    dirEntry.Name(),
			Size:        info.Size(),
		}, TokenTTL)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, Artifact{
			Filename:  entry.Filename,
			Token:     entry.Token,
			ExpiresAt: entry.ExpiresAt,
			MIMEType:  detectMIME(path),
			Size:      info.Size(),
		})
	}
	return artifacts, nil
}

// clean removes every file not referenced by a live token, then the
// directory itself if empty. Failures are logged and swallowed: the user
// already has their result, and the sweeper retries whatever is left.
func (c *Coordinator) clean(ctx context.Context, ws *workspace.Workspace) {
	live, err := c.registry.WorkspaceEntries(ctx, ws.ID)
	if err != nil {
		logger.Warn(ctx, "list live tokens failed", zap.String("workspace_id", ws.ID), zap.Error(err))
		return
	}
	referenced := make(map[string]struct{}, len(live))
	for _, entry := range live {
		referenced[entry.FilePath] = struct{}{}
	}

	entries, err := os.ReadDir(ws.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn(ctx, "read workspace for cleaning failed", zap.String("workspace_id", ws.ID), zap.Error(err))
		}
		return
	}
	for _, dirEntry := range entries {
		path := filepath.Join(ws.Dir, dirEntry.Name())
		if _, ok := referenced[path]; ok {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			logger.Warn(ctx, "remove unreferenced file failed", zap.String("file", path), zap.Error(err))
		}
	}

	// Leave non-empty workspaces for the sweeper to reclaim once the
	// remaining tokens expire.
	if _, err := c.workspaces.PruneEmpty(ctx, ws.ID); err != nil {
		logger.Warn(ctx, "prune workspace failed", zap.String("workspace_id", ws.ID), zap.Error(err))
	}
}

func (c *Coordinator) mirror(ctx context.Context, workspaceID string, entry token.Entry) {
	if c.store == nil {
		return
	}
	f, err := os.Open(entry.FilePath)
	if err != nil {
		logger.Warn(ctx, "open file for archive failed", zap.String("file", entry.FilePath), zap.Error(err))
		return
	}
	defer f.Close()
	key := workspaceID + "/" + entry.Filename
	if err := c.store.PutObject(ctx, key, f, entry.Size, detectMIME(entry.FilePath)); err != nil {
		// Archiving degrades to local-only hosting; never fail the response.
		logger.Warn(ctx, "archive hosted file failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Coordinator) unmirror(ctx context.Context, workspaceID string, revoked []token.Entry) {
	if c.store == nil {
		return
	}
	for _, entry := range revoked {
		key := workspaceID + "/" + entry.Filename
		if err := c.store.RemoveObject(ctx, key); err != nil {
			logger.Warn(ctx, "remove archived object failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func detectMIME(path string) string {
	detected, err := mimetype.DetectFile(path)
	if err == nil {
		return detected.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
