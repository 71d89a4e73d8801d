// Package token maps opaque download tokens to workspace files.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	appErr "runbox/pkg/errors"
)

const tokenBytes = 32

// Entry records what one download token points at.
type Entry struct {
	Token       string    `json:"token"`
	FilePath    string    `json:"file_path"`
	WorkspaceID string    `json:"workspace_id"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Registry is the only shared mutable structure in the service; every
// implementation must be safe for concurrent mint/resolve/revoke.
//
// Policy: tokens are multi-use until expiry. A successful download does not
// consume the token.
type Registry interface {
	// Mint fills in Token and ExpiresAt and records the entry.
	Mint(ctx context.Context, entry Entry, ttl time.Duration) (Entry, error)

	// Resolve returns the entry for a token. An entry whose expiry has
	// passed reports TokenExpired even before the sweeper removes it; a
	// token the registry has never seen (or already swept) reports
	// TokenNotFound.
	Resolve(ctx context.Context, tok string) (Entry, error)

	// RevokeWorkspace removes every entry referencing the workspace. Called
	// before the directory deletion so no resolve can return a path that is
	// mid-deletion.
	RevokeWorkspace(ctx context.Context, workspaceID string) ([]Entry, error)

	// WorkspaceEntries returns the live (unexpired) entries for a workspace.
	WorkspaceEntries(ctx context.Context, workspaceID string) ([]Entry, error)

	// Sweep removes entries expired at now and returns them.
	Sweep(ctx context.Context, now time.Time) ([]Entry, error)

	// Live returns the number of unexpired entries.
	Live(ctx context.Context) (int, error)
}

// NewToken returns a cryptographically unguessable opaque identifier.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", appErr.Wrapf(err, appErr.TokenMintFailed, "generate token failed")
	}
	return hex.EncodeToString(buf), nil
}

// MemoryRegistry keeps entries in process memory behind a mutex.
type MemoryRegistry struct {
	mu        sync.Mutex
	entries   map[string]Entry
	workspace map[string]map[string]struct{}
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries:   make(map[string]Entry),
		workspace: make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRegistry) Mint(ctx context.Context, entry Entry, ttl time.Duration) (Entry, error) {
	tok, err := NewToken()
	if err != nil {
		return Entry{}, err
	}
	entry.Token = tok
	entry.ExpiresAt = time.Now().Add(ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tok] = entry
	set, ok := r.workspace[entry.WorkspaceID]
	if !ok {
		set = make(map[string]struct{})
		r.workspace[entry.WorkspaceID] = set
	}
	set[tok] = struct{}{}
	return entry, nil
}

func (r *MemoryRegistry) Resolve(ctx context.Context, tok string) (Entry, error) {
	r.mu.Lock()
	entry, ok := r.entries[tok]
	r.mu.Unlock()
	if !ok {
		return Entry{}, appErr.New(appErr.TokenNotFound)
	}
	// Lazy expiry check closes the gap between expiry and the next sweep.
	if entry.Expired(time.Now()) {
		return Entry{}, appErr.New(appErr.TokenExpired)
	}
	return entry, nil
}

func (r *MemoryRegistry) RevokeWorkspace(ctx context.Context, workspaceID string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.workspace[workspaceID]
	if len(set) == 0 {
		delete(r.workspace, workspaceID)
		return nil, nil
	}
	revoked := make([]Entry, 0, len(set))
	for tok := range set {
		if entry, ok := r.entries[tok]; ok {
			revoked = append(revoked, entry)
			delete(r.entries, tok)
		}
	}
	delete(r.workspace, workspaceID)
	return revoked, nil
}

func (r *MemoryRegistry) WorkspaceEntries(ctx context.Context, workspaceID string) ([]Entry, error) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []Entry
	for tok := range r.workspace[workspaceID] {
		if entry, ok := r.entries[tok]; ok && !entry.Expired(now) {
			live = append(live, entry)
		}
	}
	return live, nil
}

func (r *MemoryRegistry) Sweep(ctx context.Context, now time.Time) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []Entry
	for tok, entry := range r.entries {
		if !entry.Expired(now) {
			continue
		}
		expired = append(expired, entry)
		delete(r.entries, tok)
		if set, ok := r.workspace[entry.WorkspaceID]; ok {
			delete(set, tok)
			if len(set) == 0 {
				delete(r.workspace, entry.WorkspaceID)
			}
		}
	}
	return expired, nil
}

func (r *MemoryRegistry) Live(ctx context.Context) (int, error) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, entry := range r.entries {
		if !entry.Expired(now) {
			n++
		}
	}
	return n, nil
}
