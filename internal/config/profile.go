package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/live-sub-enricher/internal/enrich"
)

// AutoLanguage as a source language means "detect from the captions".
const AutoLanguage = "auto"

// ProfileEntry configures one enrichment kind.
type ProfileEntry struct {
	Source       string `yaml:"source" json:"source"`
	Target       string `yaml:"target" json:"target"`
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// Profiles is the content of the YAML profile file.
type Profiles struct {
	Translation    ProfileEntry `yaml:"translation" json:"translation"`
	Insight        ProfileEntry `yaml:"insight" json:"insight"`
	InsightEnabled bool         `yaml:"insight_enabled" json:"insightEnabled"`
}

func DefaultProfiles(source, target string) Profiles {
	return Profiles{
		Translation:    ProfileEntry{Source: source, Target: target},
		Insight:        ProfileEntry{Source: source, Target: target},
		InsightEnabled: true,
	}
}

func (p Profiles) Validate() error {
	for name, e := range map[string]ProfileEntry{"translation": p.Translation, "insight": p.Insight} {
		if err := validateLanguage(e.Source, true); err != nil {
			return fmt.Errorf("invalid %s source language %q: %w", name, e.Source, err)
		}
		if err := validateLanguage(e.Target, false); err != nil {
			return fmt.Errorf("invalid %s target language %q: %w", name, e.Target, err)
		}
	}
	return nil
}

func (p Profiles) entry(kind enrich.Kind) (ProfileEntry, error) {
	switch kind {
	case enrich.KindTranslation:
		return p.Translation, nil
	case enrich.KindInsight:
		return p.Insight, nil
	default:
		return ProfileEntry{}, fmt.Errorf("unknown enrichment kind %q", kind)
	}
}

func LoadProfilesFile(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profiles{}, err
	}
	var profiles Profiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return Profiles{}, fmt.Errorf("invalid profile file: %w", err)
	}
	return profiles, nil
}

func WriteProfilesFile(path string, profiles Profiles) error {
	if err := profiles.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := yaml.Marshal(profiles)
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ProfileStore serves enrichment profiles. When backed by a file, the file is
// re-read on every lookup so edits apply at the next session initialization.
// A missing file falls back to the in-memory profiles.
type ProfileStore struct {
	path string

	mu       sync.RWMutex
	current  Profiles
	detected language.Tag
}

func NewProfileStore(path string, initial Profiles) (*ProfileStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &ProfileStore{path: strings.TrimSpace(path), current: initial, detected: language.Und}
	if s.path != "" {
		if _, err := s.reload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

// NewProfileStoreFromConfig builds the store described by cfg.
func NewProfileStoreFromConfig(cfg *Config) (*ProfileStore, error) {
	initial := DefaultProfiles(cfg.Profile.SourceLanguage, cfg.Profile.TargetLanguage)
	initial.InsightEnabled = cfg.Prefetch.InsightEnabled
	return NewProfileStore(cfg.Profile.File, initial)
}

func (s *ProfileStore) reload() (Profiles, error) {
	profiles, err := LoadProfilesFile(s.path)
	if err != nil {
		return Profiles{}, err
	}
	if err := profiles.Validate(); err != nil {
		return Profiles{}, err
	}
	s.mu.Lock()
	s.current = profiles
	s.mu.Unlock()
	return profiles, nil
}

// Profiles returns the current profiles, re-reading the file if present.
func (s *ProfileStore) Profiles() Profiles {
	if s.path != "" {
		if profiles, err := s.reload(); err == nil {
			return profiles
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates next, persists it when file-backed and makes it current.
func (s *ProfileStore) Update(next Profiles) (Profiles, error) {
	if err := next.Validate(); err != nil {
		return Profiles{}, err
	}
	if s.path != "" {
		if err := WriteProfilesFile(s.path, next); err != nil {
			return Profiles{}, err
		}
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

// SetDetectedSource records the caption language used for "auto" sources.
func (s *ProfileStore) SetDetectedSource(tag language.Tag) {
	s.mu.Lock()
	s.detected = tag
	s.mu.Unlock()
}

// Profile implements enrich.ProfileProvider.
func (s *ProfileStore) Profile(kind enrich.Kind) (enrich.Profile, error) {
	e, err := s.Profiles().entry(kind)
	if err != nil {
		return enrich.Profile{}, err
	}

	s.mu.RLock()
	detected := s.detected
	s.mu.RUnlock()

	source := detected
	if !strings.EqualFold(strings.TrimSpace(e.Source), AutoLanguage) {
		if source, err = language.Parse(strings.TrimSpace(e.Source)); err != nil {
			return enrich.Profile{}, fmt.Errorf("invalid source language %q: %w", e.Source, err)
		}
	}
	target, err := language.Parse(strings.TrimSpace(e.Target))
	if err != nil {
		return enrich.Profile{}, fmt.Errorf("invalid target language %q: %w", e.Target, err)
	}

	return enrich.Profile{
		SourceLanguage:     source,
		TargetLanguage:     target,
		SystemInstructions: e.Instructions,
	}, nil
}
