// Package workspace discovers engine-native session state on disk: listing
// session descriptors for a workspace and watching session roots so the
// registry cache learns about files deleted behind its back.
package workspace

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"switchboard/internal/history"
	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// Index lists engine-native session descriptors. Reads only; the engines own
// their directories.
type Index struct {
	caps map[types.Engine]types.EngineCaps
}

// NewIndex creates an index over the resolved engine capability table.
func NewIndex(caps map[types.Engine]types.EngineCaps) *Index {
	return &Index{caps: caps}
}

// ListSessions returns the session descriptors discoverable for a workspace,
// newest first. Engines are scanned concurrently; an unreadable root yields
// no descriptors, not an error.
func (ix *Index) ListSessions(ctx context.Context, workspacePath string) ([]types.SessionDescriptor, error) {
	timer := logging.StartTimer(logging.CategoryWorkspace, "ListSessions")
	defer timer.Stop()

	var mu sync.Mutex
	var all []types.SessionDescriptor

	g, ctx := errgroup.WithContext(ctx)
	for _, engine := range types.AllEngines() {
		caps := ix.caps[engine]
		if !caps.FileBacked || caps.SessionRoot == "" {
			continue
		}
		engine := engine
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			found := ix.scanEngine(engine, workspacePath)
			mu.Lock()
			all = append(all, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].ModTime.After(all[j].ModTime)
	})
	logging.WorkspaceDebug("Listed %d sessions for workspace %s", len(all), workspacePath)
	return all, nil
}

func (ix *Index) scanEngine(engine types.Engine, workspacePath string) []types.SessionDescriptor {
	caps := ix.caps[engine]
	switch engine {
	case types.EngineClaude:
		dir := filepath.Join(caps.SessionRoot, history.WorkspaceDirName(workspacePath))
		return scanClaudeDir(dir)
	case types.EngineCodex:
		// Codex files carry no workspace marker in their path; list them all.
		return scanCodexTree(caps.SessionRoot)
	}
	return nil
}

func scanClaudeDir(dir string) []types.SessionDescriptor {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// Absent directory is a normal state: no sessions yet.
		return nil
	}

	var out []types.SessionDescriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, types.SessionDescriptor{
			Engine:    types.EngineClaude,
			SessionID: id,
			Path:      filepath.Join(dir, e.Name()),
			ModTime:   info.ModTime(),
			Size:      info.Size(),
		})
	}
	return out
}

func scanCodexTree(root string) []types.SessionDescriptor {
	var out []types.SessionDescriptor
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		id, ok := CodexSessionID(d.Name())
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, types.SessionDescriptor{
			Engine:    types.EngineCodex,
			SessionID: id,
			Path:      path,
			ModTime:   info.ModTime(),
			Size:      info.Size(),
		})
		return nil
	})
	return out
}

// CodexSessionID extracts the session uuid from a rollout filename
// (rollout-<ts>-<uuid>.jsonl).
func CodexSessionID(name string) (string, bool) {
	if !strings.HasPrefix(name, "rollout-") || !strings.HasSuffix(name, ".jsonl") {
		return "", false
	}
	base := strings.TrimSuffix(name, ".jsonl")
	if len(base) < 36 {
		return "", false
	}
	id := base[len(base)-36:]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
