// Package config stores per-user settings and the recently-opened-lists
// registry under the user config dir.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"

	// maxRecent caps the recent-lists registry; the oldest entries fall off.
	maxRecent = 10
)

// Config is everything koinonia remembers between runs.
type Config struct {
	// HubURL is the sync hub to connect to. Empty means offline-only.
	HubURL string `yaml:"hubUrl,omitempty"`

	// DisplayName is attached to items this user adds (the addedBy field).
	DisplayName string `yaml:"displayName,omitempty"`

	// ReplicaID is a stable per-install identifier used to break LWW ties.
	// Generated on first save when empty.
	ReplicaID string `yaml:"replicaId,omitempty"`

	// Recent is the most-recently-opened lists, newest first.
	Recent []RecentList `yaml:"recent,omitempty"`
}

// RecentList is one entry in the recent-lists registry.
type RecentList struct {
	RoomID       string `yaml:"roomId"`
	LastAccessed int64  `yaml:"lastAccessed"` // unix millis
	ItemCount    int    `yaml:"itemCount,omitempty"`
}

// Dir returns the koinonia config directory, honoring KOINONIA_CONFIG_DIR
// for tests and unusual setups.
func Dir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("KOINONIA_CONFIG_DIR")); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "koinonia"), nil
}

// Load reads the config, returning a zero config when none exists yet.
func Load() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}
	return loadFrom(filepath.Join(dir, configFileName))
}

func loadFrom(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config, creating the directory as needed.
func Save(cfg Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, configFileName), b, 0o644)
}

// TouchRecent moves roomID to the front of the recent registry, updating
// its timestamp and item count.
func (c *Config) TouchRecent(roomID string, itemCount int, now time.Time) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return
	}
	out := make([]RecentList, 0, len(c.Recent)+1)
	out = append(out, RecentList{
		RoomID:       roomID,
		LastAccessed: now.UnixMilli(),
		ItemCount:    itemCount,
	})
	for _, r := range c.Recent {
		if r.RoomID == roomID {
			continue
		}
		out = append(out, r)
	}
	if len(out) > maxRecent {
		out = out[:maxRecent]
	}
	c.Recent = out
}

// RemoveRecent drops roomID from the registry.
func (c *Config) RemoveRecent(roomID string) {
	roomID = strings.TrimSpace(roomID)
	out := c.Recent[:0]
	for _, r := range c.Recent {
		if r.RoomID != roomID {
			out = append(out, r)
		}
	}
	c.Recent = out
}

// SortedRecent returns the registry newest-first regardless of how the
// file on disk was edited.
func (c *Config) SortedRecent() []RecentList {
	out := append([]RecentList{}, c.Recent...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastAccessed > out[j].LastAccessed })
	return out
}
