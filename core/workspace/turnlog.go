package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adalundhe/reverie/core/chat"
)

// turnLogPath returns the append-only log file for a session.
func (s *Store) turnLogPath(sessionID string) string {
	return filepath.Join(s.root, historyDirName, sessionID+".jsonl")
}

// AppendTurn appends one message to a session's turn log. Failures propagate:
// silent loss of conversation history is unacceptable.
func (s *Store) AppendTurn(sessionID string, msg chat.Message) error {
	line, err := msg.ToRecord().MarshalLine()
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	f, err := os.OpenFile(s.turnLogPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open turn log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RewriteAllTurns atomically replaces a session's turn log with the given
// messages. Used after the context window manager compresses or prunes
// history.
func (s *Store) RewriteAllTurns(sessionID string, messages []chat.Message) error {
	path := s.turnLogPath(sessionID)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open turn log rewrite: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		line, err := msg.ToRecord().MarshalLine()
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode turn: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("rewrite turn log: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush turn log: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close turn log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace turn log: %w", err)
	}
	return nil
}

// LoadAllTurns reads a session's full turn log in order. A missing log is an
// empty history, not an error. Unparsable lines are skipped so a single
// corrupt record cannot make a session unloadable.
func (s *Store) LoadAllTurns(sessionID string) ([]chat.Message, error) {
	f, err := os.Open(s.turnLogPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open turn log: %w", err)
	}
	defer f.Close()

	var messages []chat.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		record, err := chat.UnmarshalLine(line)
		if err != nil {
			s.logger.Warn("skipping corrupt turn record", "session", sessionID, "error", err)
			continue
		}
		messages = append(messages, record.ToMessage())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan turn log: %w", err)
	}
	return messages, nil
}

// ClearTurns removes a session's turn log.
func (s *Store) ClearTurns(sessionID string) error {
	err := os.Remove(s.turnLogPath(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear turn log: %w", err)
	}
	return nil
}

// ListSessions returns the IDs of all sessions with a turn log.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, historyDirName))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".jsonl" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".jsonl")])
	}
	return ids, nil
}
