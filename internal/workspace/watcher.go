package workspace

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"switchboard/internal/logging"
	"switchboard/internal/types"
)

// Evictor is what the watcher pokes when a transcript disappears. The
// registry satisfies it.
type Evictor interface {
	EvictSession(sessionID string)
}

// Watcher mirrors transcript deletions into cache evictions so a stale
// cached session id never survives its backing file for long. Liveness
// checks at resolve time remain the source of truth; the watcher just
// shortens the window.
type Watcher struct {
	fsw     *fsnotify.Watcher
	evictor Evictor
	done    chan struct{}
}

// NewWatcher starts watching every file-backed engine root.
// Roots that do not exist yet are skipped; the engines create them.
func NewWatcher(caps map[types.Engine]types.EngineCaps, evictor Evictor) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{fsw: fsw, evictor: evictor, done: make(chan struct{})}

	for _, engine := range types.AllEngines() {
		c := caps[engine]
		if !c.FileBacked || c.SessionRoot == "" {
			continue
		}
		w.addTree(c.SessionRoot)
	}

	go w.loop()
	return w, nil
}

// addTree registers the directory and all subdirectories. fsnotify watches
// are not recursive.
func (w *Watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				logging.WorkspaceDebug("Cannot watch %s: %v", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWorkspace).Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		// New dated subdirectory (codex) or project directory (claude).
		w.addTree(event.Name)
		return
	}
	if !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}

	id, ok := transcriptSessionID(filepath.Base(event.Name))
	if !ok {
		return
	}
	logging.Workspace("Transcript removed, evicting session %s (%s)", id, event.Name)
	w.evictor.EvictSession(id)
}

// transcriptSessionID recovers a session id from a transcript filename in
// either engine's naming scheme.
func transcriptSessionID(name string) (string, bool) {
	if id, ok := CodexSessionID(name); ok {
		return id, true
	}
	if strings.HasSuffix(name, ".jsonl") {
		id := strings.TrimSuffix(name, ".jsonl")
		if _, err := uuid.Parse(id); err == nil {
			return id, true
		}
	}
	return "", false
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
