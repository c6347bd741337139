package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/seralia/guildmind/internal/platform/logger"
)

// Store resolves and updates per-conversation settings.
type Store interface {
	Resolve(ctx context.Context, conversationID string) (Settings, error)
	Update(ctx context.Context, conversationID string, o Overrides) (Settings, error)
	Reset(ctx context.Context, conversationID string) error
}

// FileStore keeps overrides in a single JSON file keyed by conversation id.
// Writes go through a temp file and rename so a crash mid-write cannot
// truncate the settings of every conversation at once.
type FileStore struct {
	path string
	mu   sync.RWMutex
	log  *logger.Logger
}

func NewFileStore(path string, log *logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	return &FileStore{path: path, log: log.With("service", "SettingsStore")}, nil
}

func (s *FileStore) Resolve(_ context.Context, conversationID string) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, err := s.load()
	if err != nil {
		return Settings{}, err
	}
	return all[conversationID].Apply(Defaults()), nil
}

func (s *FileStore) Update(_ context.Context, conversationID string, o Overrides) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return Settings{}, err
	}
	all[conversationID] = merge(all[conversationID], o)
	if err := s.save(all); err != nil {
		return Settings{}, err
	}
	s.log.Info("Updated conversation settings", "conversation_id", conversationID)
	return all[conversationID].Apply(Defaults()), nil
}

func (s *FileStore) Reset(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := all[conversationID]; !ok {
		return nil
	}
	delete(all, conversationID)
	return s.save(all)
}

func (s *FileStore) load() (map[string]Overrides, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Overrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	out := map[string]Overrides{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	return out, nil
}

func (s *FileStore) save(all map[string]Overrides) error {
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}
