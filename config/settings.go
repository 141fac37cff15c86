package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalSettingsName is the machine-local override looked up next to the
// default settings file.
const LocalSettingsName = "setting.local.json"

var ErrSettingsNotFound = errors.New("settings file not found")

// DefaultSearchPriority is used when the settings carry no priority list.
var DefaultSearchPriority = []string{"tavily", "google", "searxng"}

// Settings holds provider credentials and pacing overrides. JSON is a subset
// of YAML, so both setting.json and setting.yaml decode here.
type Settings struct {
	SearchPriority []string `yaml:"search_priority"`
	SearchSources  []string `yaml:"search_sources"`
	TavilyAPIKey   string   `yaml:"tavily_api_key"`
	GoogleAPIKey   string   `yaml:"google_api_key"`
	GoogleCSEID    string   `yaml:"google_cse_id"`
	SerpAPIKey     string   `yaml:"serpapi_api_key"`
	SearxngBaseURL string   `yaml:"searxng_base_url"`
	BrowserEnabled bool     `yaml:"browser_enabled"`

	// Extra keeps every other key, including the *_cooldown_seconds overrides.
	Extra map[string]any `yaml:",inline"`

	// Source is the file the settings were read from.
	Source string `yaml:"-"`
}

// ResolveSettingsPath prefers setting.local.json in the same directory.
func ResolveSettingsPath(path string) string {
	local := filepath.Join(filepath.Dir(path), LocalSettingsName)
	if local == filepath.Clean(path) {
		return path
	}
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local
	}
	return path
}

const defaultSearxngBaseURL = "http://localhost:8080"

// DefaultSettings is used when no settings file exists: only keyless
// providers are usable.
func DefaultSettings() *Settings {
	return &Settings{SearxngBaseURL: defaultSearxngBaseURL}
}

// LoadSettings resolves the local override and decodes the chosen file.
func LoadSettings(path string) (*Settings, error) {
	source := ResolveSettingsPath(path)
	data, err := os.ReadFile(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSettingsNotFound, source)
		}
		return nil, fmt.Errorf("read settings %s: %w", source, err)
	}

	s := &Settings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", source, err)
	}
	s.Source = source
	if s.SearxngBaseURL == "" {
		s.SearxngBaseURL = defaultSearxngBaseURL
	}
	return s, nil
}

// Priority returns the provider order, lower-cased.
func (s *Settings) Priority() []string {
	list := s.SearchPriority
	if len(list) == 0 {
		list = s.SearchSources
	}
	if len(list) == 0 {
		list = DefaultSearchPriority
	}
	out := make([]string, 0, len(list))
	for _, name := range list {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Cooldown reads "<provider>_cooldown_seconds". ok is false when the key is
// absent or not a number.
func (s *Settings) Cooldown(provider string) (time.Duration, bool) {
	raw, found := s.Extra[provider+"_cooldown_seconds"]
	if !found || raw == nil {
		return 0, false
	}
	var v float64
	switch n := raw.(type) {
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case float64:
		v = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}
	return SecondsToDuration(v), true
}
