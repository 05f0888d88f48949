// Package sessions persists each chat's last resume token per engine, so
// a follow-up message continues the conversation the chat was already
// having. Tokens are only valid for the working directory they were
// minted in; a startup directory change invalidates the whole store.
package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/littlebearapps/untether/engine"
	"github.com/littlebearapps/untether/logger"
	"github.com/littlebearapps/untether/paths"
)

const stateVersion = 1

type sessionState struct {
	Resume string `json:"resume"`
}

type chatState struct {
	Sessions map[string]sessionState `json:"sessions"`
}

type storeState struct {
	Version int                  `json:"version"`
	CWD     string               `json:"cwd,omitempty"`
	Chats   map[string]chatState `json:"chats"`
}

// Store is the on-disk chat session registry. All methods are safe for
// concurrent use.
type Store struct {
	mu    sync.Mutex
	path  string
	state storeState
	log   *slog.Logger
}

// Open loads the store at path, creating fresh state when the file does
// not exist. A file with a different state version is discarded.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		state: storeState{Version: stateVersion, Chats: make(map[string]chatState)},
		log:   logger.WithComponent("sessions"),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: read %s: %w", path, err)
	}

	var loaded storeState
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("discarding unreadable session state", "path", path, "error", err)
		return s, nil
	}
	if loaded.Version != stateVersion {
		s.log.Warn("discarding session state with unknown version", "version", loaded.Version)
		return s, nil
	}
	if loaded.Chats == nil {
		loaded.Chats = make(map[string]chatState)
	}
	s.state = loaded
	return s, nil
}

// OpenDefault opens the store at its standard location.
func OpenDefault() (*Store, error) {
	path, err := paths.SessionsFilePath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// ChatKey derives the registry key for a chat. ownerID 0 means the
// session belongs to the chat itself rather than one participant.
func ChatKey(chatID, ownerID int64) string {
	if ownerID == 0 {
		return fmt.Sprintf("%d:chat", chatID)
	}
	return fmt.Sprintf("%d:%d", chatID, ownerID)
}

// Resume returns the stored token for a chat and engine, if any.
func (s *Store) Resume(chatID, ownerID int64, engineID engine.ID) (engine.ResumeToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.state.Chats[ChatKey(chatID, ownerID)]
	if !ok {
		return engine.ResumeToken{}, false
	}
	entry, ok := chat.Sessions[string(engineID)]
	if !ok || entry.Resume == "" {
		return engine.ResumeToken{}, false
	}
	return engine.ResumeToken{Engine: engineID, Value: entry.Resume}, true
}

// SetResume stores token as the chat's session for the token's engine.
func (s *Store) SetResume(chatID, ownerID int64, token engine.ResumeToken) error {
	if token.IsZero() {
		return fmt.Errorf("sessions: refusing to store empty token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CWD == "" {
		if cwd, err := os.Getwd(); err == nil {
			s.state.CWD = normalizeCwd(cwd)
		}
	}
	key := ChatKey(chatID, ownerID)
	chat, ok := s.state.Chats[key]
	if !ok {
		chat = chatState{Sessions: make(map[string]sessionState)}
	}
	chat.Sessions[string(token.Engine)] = sessionState{Resume: token.Value}
	s.state.Chats[key] = chat

	if err := s.saveLocked(); err != nil {
		return err
	}
	s.log.Info("resume saved", "chat", key, "engine", token.Engine)
	return nil
}

// ResumeValues returns every stored resume value across all chats.
// Used to decide which running engine processes belong to live sessions.
func (s *Store) ResumeValues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var values []string
	for _, chat := range s.state.Chats {
		for _, entry := range chat.Sessions {
			if entry.Resume != "" {
				values = append(values, entry.Resume)
			}
		}
	}
	return values
}

// Clear drops every stored session for a chat.
func (s *Store) Clear(chatID, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ChatKey(chatID, ownerID)
	chat, ok := s.state.Chats[key]
	if !ok {
		return nil
	}
	count := len(chat.Sessions)
	delete(s.state.Chats, key)
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.log.Info("sessions cleared", "chat", key, "count", count)
	return nil
}

// SyncStartupCwd compares cwd to the directory the stored tokens were
// minted in. A change clears every chat, since resume tokens reference
// conversations rooted in the old directory. Reports whether anything
// was cleared.
func (s *Store) SyncStartupCwd(cwd string) (bool, error) {
	normalized := normalizeCwd(cwd)
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.state.CWD
	cleared := false
	if previous != "" && previous != normalized {
		s.log.Warn("working directory changed, clearing sessions",
			"previous", previous, "new", normalized, "chats", len(s.state.Chats))
		s.state.Chats = make(map[string]chatState)
		cleared = true
	}
	if previous != normalized {
		s.state.CWD = normalized
		if err := s.saveLocked(); err != nil {
			return cleared, err
		}
	}
	return cleared, nil
}

func normalizeCwd(cwd string) string {
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = resolved
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return cwd
	}
	return abs
}

// saveLocked writes the state atomically: temp file then rename. Caller
// must hold mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
