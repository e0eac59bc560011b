package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"hermescore/internal/store"
)

const (
	keyIngestWindowDays = "ingest_window_days"
	keyIngestProfile    = "ingest_profile"
	keyTheme            = "theme"
	keyExportDir        = "export_dir"
)

const (
	DefaultIngestWindowDays = 7
	MinIngestWindowDays     = 1
	MaxIngestWindowDays     = 365

	DefaultMaxEventsPerSync = 2000
	MinMaxEventsPerSync     = 100
	MaxMaxEventsPerSync     = 20000
)

var defaultWindowsChannels = []string{"Application", "System", "Security"}

// emptiedChannelFallback is what an emptied channel set degrades to, as
// opposed to the fresh-profile default above.
var emptiedChannelFallback = []string{"Application"}

var ErrInvalidWindow = errors.New("ingest window must be between 1 and 365 days")

// IngestProfile is the persisted sync configuration.
type IngestProfile struct {
	AutoSyncOnStartup bool     `json:"autoSyncOnStartup"`
	MaxEventsPerSync  int      `json:"maxEventsPerSync"`
	WindowsChannels   []string `json:"windowsChannels"`
}

func DefaultIngestProfile() IngestProfile {
	return IngestProfile{
		AutoSyncOnStartup: false,
		MaxEventsPerSync:  DefaultMaxEventsPerSync,
		WindowsChannels:   append([]string(nil), defaultWindowsChannels...),
	}
}

// Service reads and writes the small persisted settings through the cache
// store's opaque KV surface. All validation happens here, server-side.
type Service struct {
	store *store.Store
}

func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

func (s *Service) IngestWindowDays() int {
	raw, ok, err := s.store.GetSetting(keyIngestWindowDays)
	if err != nil || !ok {
		return DefaultIngestWindowDays
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n < MinIngestWindowDays || n > MaxIngestWindowDays {
		return DefaultIngestWindowDays
	}
	return n
}

func (s *Service) SetIngestWindowDays(days int) (int, error) {
	if days < MinIngestWindowDays || days > MaxIngestWindowDays {
		return 0, ErrInvalidWindow
	}
	if err := s.store.PutSetting(keyIngestWindowDays, []byte(strconv.Itoa(days))); err != nil {
		return 0, err
	}
	return days, nil
}

func (s *Service) IngestProfile() IngestProfile {
	raw, ok, err := s.store.GetSetting(keyIngestProfile)
	if err != nil || !ok {
		return DefaultIngestProfile()
	}
	var p IngestProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return DefaultIngestProfile()
	}
	return SanitizeIngestProfile(p)
}

// SetIngestProfile sanitizes and persists p, returning the value actually
// stored.
func (s *Service) SetIngestProfile(p IngestProfile) (IngestProfile, error) {
	sanitized := SanitizeIngestProfile(p)
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return IngestProfile{}, fmt.Errorf("encode ingest profile: %w", err)
	}
	if err := s.store.PutSetting(keyIngestProfile, raw); err != nil {
		return IngestProfile{}, err
	}
	return sanitized, nil
}

// SanitizeIngestProfile clamps the sync budget and normalizes the channel
// set. Unknown channel names are dropped; an emptied set falls back to
// Application only.
func SanitizeIngestProfile(p IngestProfile) IngestProfile {
	var channels []string
	for _, raw := range p.WindowsChannels {
		normalized, ok := normalizeChannel(raw)
		if !ok {
			continue
		}
		dup := false
		for _, have := range channels {
			if have == normalized {
				dup = true
				break
			}
		}
		if !dup {
			channels = append(channels, normalized)
		}
	}
	if len(channels) == 0 {
		channels = append([]string(nil), emptiedChannelFallback...)
	}

	max := p.MaxEventsPerSync
	if max == 0 {
		max = DefaultMaxEventsPerSync
	}
	if max < MinMaxEventsPerSync {
		max = MinMaxEventsPerSync
	}
	if max > MaxMaxEventsPerSync {
		max = MaxMaxEventsPerSync
	}

	return IngestProfile{
		AutoSyncOnStartup: p.AutoSyncOnStartup,
		MaxEventsPerSync:  max,
		WindowsChannels:   channels,
	}
}

func normalizeChannel(v string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "application":
		return "Application", true
	case "system":
		return "System", true
	case "security":
		return "Security", true
	}
	return "", false
}

var validThemes = map[string]bool{"system": true, "light": true, "dark": true}

var ErrInvalidTheme = errors.New("invalid theme value")

func (s *Service) Theme() (string, bool) {
	raw, ok, err := s.store.GetSetting(keyTheme)
	if err != nil || !ok {
		return "", false
	}
	v := strings.TrimSpace(string(raw))
	if !validThemes[v] {
		return "", false
	}
	return v, true
}

func (s *Service) SetTheme(theme string) error {
	if !validThemes[theme] {
		return ErrInvalidTheme
	}
	return s.store.PutSetting(keyTheme, []byte(theme))
}

func (s *Service) ClearTheme() error {
	return s.store.DeleteSetting(keyTheme)
}

var (
	ErrExportDirMissing = errors.New("export directory does not exist")
	ErrExportDirNotDir  = errors.New("export path must be a directory")
)

func (s *Service) ExportDir() (string, bool) {
	raw, ok, err := s.store.GetSetting(keyExportDir)
	if err != nil || !ok {
		return "", false
	}
	v := strings.TrimSpace(string(raw))
	if v == "" {
		return "", false
	}
	info, err := os.Stat(v)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return v, true
}

func (s *Service) SetExportDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return s.store.DeleteSetting(keyExportDir)
	}
	info, err := os.Stat(path)
	if err != nil {
		return ErrExportDirMissing
	}
	if !info.IsDir() {
		return ErrExportDirNotDir
	}
	return s.store.PutSetting(keyExportDir, []byte(path))
}
