// Package guildconfig persists per-community settings as one JSON file per
// community and serves the form operators edit them with.
package guildconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"bansync/pkg/platform/sentinel"
)

// Config is the per-community configuration.
type Config struct {
	RoleID       string `json:"roleId,omitempty"`
	LogToChannel bool   `json:"logToChannel"`
	LogChannelID string `json:"logChannelId,omitempty"`
}

// Validate checks that ids are snowflakes and that logging has a target.
func (c Config) Validate() error {
	if c.RoleID != "" && !snowflake.MatchString(c.RoleID) {
		return fmt.Errorf("%w: role id must be numeric", ErrInvalidConfig)
	}
	if c.LogChannelID != "" && !snowflake.MatchString(c.LogChannelID) {
		return fmt.Errorf("%w: log channel id must be numeric", ErrInvalidConfig)
	}
	if c.LogToChannel && c.LogChannelID == "" {
		return fmt.Errorf("%w: a log channel is required when logging is enabled", ErrInvalidConfig)
	}
	return nil
}

// Community is one entry of the community list file.
type Community struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Icon *string `json:"icon"`
}

var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrInvalidCommunity = errors.New("invalid community id")

	snowflake = regexp.MustCompile(`^[0-9]{1,20}$`)
)

// FileStore keeps <dir>/<communityID>.json plus the community list file.
type FileStore struct {
	dir        string
	guildsFile string
	mu         sync.RWMutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir, guildsFile string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("config dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &FileStore{dir: dir, guildsFile: guildsFile}, nil
}

func (s *FileStore) path(communityID string) (string, error) {
	if !snowflake.MatchString(communityID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommunity, communityID)
	}
	return filepath.Join(s.dir, communityID+".json"), nil
}

// Load returns the stored config. A community without a file reads as the
// zero Config.
func (s *FileStore) Load(communityID string) (Config, error) {
	p, err := s.path(communityID)
	if err != nil {
		return Config{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cfg Config
	if err := readJSON(p, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

// Save validates and replaces the stored config.
func (s *FileStore) Save(communityID string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := s.path(communityID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(p, cfg)
}

// Ensure writes an empty config for a community that has none.
func (s *FileStore) Ensure(communityID string) error {
	p, err := s.path(communityID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return writeJSON(p, Config{})
}

// SaveCommunities replaces the community list, sorted by id.
func (s *FileStore) SaveCommunities(communities []Community) error {
	if s.guildsFile == "" {
		return nil
	}
	sorted := append([]Community(nil), communities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.guildsFile, sorted)
}

// Communities reads the community list written by the bot.
func (s *FileStore) Communities() ([]Community, error) {
	if s.guildsFile == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Community
	if err := readJSON(s.guildsFile, &out); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// Community looks up one community in the list.
func (s *FileStore) Community(communityID string) (Community, error) {
	all, err := s.Communities()
	if err != nil {
		return Community{}, err
	}
	for _, c := range all {
		if c.ID == communityID {
			return c, nil
		}
	}
	return Community{}, fmt.Errorf("community %s: %w", communityID, sentinel.ErrNotFound)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON writes through a temp file and rename so readers never see a
// partial file.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
