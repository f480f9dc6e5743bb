package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Well-known workspace documents read into every system prompt.
const (
	DocIdentity    = "identity.md"
	DocUser        = "user.md"
	DocQuickMemory = "quick-memory.md"
	DocSkills      = "skills.md"
)

const (
	historyDirName   = "history"
	resumeMarkerName = ".resume-marker"
)

// Store is the workspace text store: small persistent documents at the
// workspace root plus one append-only turn log per session under history/.
//
// Documents are cached in memory; an fsnotify watcher invalidates cache
// entries when files change on disk, so external edits (a user editing
// identity.md mid-conversation) are picked up on the next read. Turn log
// writes are never cached and their failures always propagate.
type Store struct {
	root   string
	logger *slog.Logger

	cacheMu  sync.RWMutex
	docCache map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStore opens (creating if needed) a workspace rooted at dir.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, historyDirName), 0o755); err != nil {
		return nil, fmt.Errorf("workspace init: %w", err)
	}

	s := &Store{
		root:     dir,
		logger:   logger,
		docCache: make(map[string]string),
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Degrade to uncached-on-change semantics: reads still work, the
		// cache just never invalidates from external edits.
		logger.Warn("workspace watcher unavailable", "error", err)
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		logger.Warn("workspace watch failed", "dir", dir, "error", err)
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	s.wg.Add(1)
	go s.watch()
	return s, nil
}

// Root returns the workspace root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) watch() {
	defer s.wg.Done()
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate(filepath.Base(event.Name))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("workspace watcher error", "error", err)
		case <-s.done:
			return
		}
	}
}

func (s *Store) invalidate(name string) {
	s.cacheMu.Lock()
	delete(s.docCache, name)
	s.cacheMu.Unlock()
}

// ReadDoc returns the named document's text, or an empty string when the
// document does not exist.
func (s *Store) ReadDoc(name string) (string, error) {
	if err := validateDocName(name); err != nil {
		return "", err
	}

	s.cacheMu.RLock()
	cached, ok := s.docCache[name]
	s.cacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(filepath.Join(s.root, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read doc %s: %w", name, err)
	}

	text := string(data)
	s.cacheMu.Lock()
	s.docCache[name] = text
	s.cacheMu.Unlock()
	return text, nil
}

// WriteDoc writes a document and refreshes the cache entry.
func (s *Store) WriteDoc(name, text string) error {
	if err := validateDocName(name); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.root, name), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write doc %s: %w", name, err)
	}
	s.cacheMu.Lock()
	s.docCache[name] = text
	s.cacheMu.Unlock()
	return nil
}

// AppendDoc appends text to a document, creating it if needed. A newline is
// inserted between existing content and the appended text when the existing
// content does not already end with one.
func (s *Store) AppendDoc(name, text string) error {
	if err := validateDocName(name); err != nil {
		return err
	}
	existing, err := s.ReadDoc(name)
	if err != nil {
		return err
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return s.WriteDoc(name, existing+text)
}

// ListDocs returns the names of all documents at the workspace root, sorted.
// The history directory and dotfiles are not documents.
func (s *Store) ListDocs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// WriteResumeMarker records that a session ended with a restart request, so
// the next boot can resume the conversation.
func (s *Store) WriteResumeMarker(sessionID, note string) error {
	path := filepath.Join(s.root, historyDirName, sessionID+resumeMarkerName)
	if err := os.WriteFile(path, []byte(note), 0o644); err != nil {
		return fmt.Errorf("write resume marker: %w", err)
	}
	return nil
}

// ConsumeResumeMarker returns the resume note for a session, removing the
// marker. Returns "" when no marker exists.
func (s *Store) ConsumeResumeMarker(sessionID string) (string, error) {
	path := filepath.Join(s.root, historyDirName, sessionID+resumeMarkerName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read resume marker: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("clear resume marker: %w", err)
	}
	return string(data), nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	close(s.done)
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	return err
}

func validateDocName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}
