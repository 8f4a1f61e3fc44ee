package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpt/chatdesk/internal/infra"
	"github.com/fpt/chatdesk/internal/repository"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/client"
	pkgLogger "github.com/fpt/chatdesk/pkg/logger"
)

// Persistence backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const (
	DefaultCompletionTimeout   = 60
	DefaultProbeTimeout        = 10
	DefaultRestoreOfferTimeout = 30
)

// Settings represents the main application settings
type Settings struct {
	Provider    ProviderSettings    `json:"provider"`
	Generation  GenerationSettings  `json:"generation"`
	Timeouts    TimeoutSettings     `json:"timeouts"`
	Persistence PersistenceSettings `json:"persistence"`
	Export      ExportSettings      `json:"export"`
	LogLevel    string              `json:"log_level"`

	// Repository for persistence (nil for in-memory only)
	settingsRepository repository.SettingsRepository `json:"-"`
}

// ProviderSettings selects the backend used for new conversations
type ProviderSettings struct {
	Backend string `json:"backend"`            // openai, github, anthropic, gemini or ollama
	Model   string `json:"model"`              // model id
	BaseURL string `json:"base_url,omitempty"` // override for proxies, Azure-style gateways or a remote ollama
	// CredentialEnv names the environment variable holding the API key.
	// Empty means the provider's conventional variable.
	CredentialEnv string `json:"credential_env,omitempty"`
}

// GenerationSettings are the sampling defaults; nil means the built-in default
type GenerationSettings struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	ContextWindow    int      `json:"context_window,omitempty"`
}

// TimeoutSettings are in seconds
type TimeoutSettings struct {
	Completion int `json:"completion,omitempty"`
	Probe      int `json:"probe,omitempty"`
}

// PersistenceSettings controls where conversations are saved
type PersistenceSettings struct {
	Backend string `json:"backend"`        // file, sqlite or memory
	Path    string `json:"path,omitempty"` // empty means ~/.chatdesk/state.json or state.db
	// RestoreOfferTimeout is how long, in seconds, the startup restore offer waits
	RestoreOfferTimeout int `json:"restore_offer_timeout,omitempty"`
}

// ExportSettings controls exported file names
type ExportSettings struct {
	Prefix string `json:"prefix,omitempty"`
	Dir    string `json:"dir,omitempty"`
}

// NewSettings creates new settings with in-memory repository
func NewSettings() *Settings {
	return NewSettingsWithRepository(infra.NewInMemorySettingsRepository(nil))
}

// NewSettingsWithRepository creates new settings with injected repository
func NewSettingsWithRepository(settingsRepository repository.SettingsRepository) *Settings {
	settings := GetDefaultSettings()
	settings.settingsRepository = settingsRepository
	return settings
}

// NewSettingsWithPath creates new settings with file-based repository
func NewSettingsWithPath(configPath string) *Settings {
	return NewSettingsWithRepository(infra.NewFileSettingsRepository(configPath))
}

// Load loads settings from the repository
func (s *Settings) Load() error {
	if s.settingsRepository == nil {
		return fmt.Errorf("no settings repository configured")
	}

	data, err := s.settingsRepository.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}

	applyDefaults(s)
	return nil
}

// Save saves settings to the repository
func (s *Settings) Save() error {
	if s.settingsRepository == nil {
		return fmt.Errorf("no settings repository configured")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return s.settingsRepository.Save(data)
}

// LoadSettings loads settings from configPath, or searches ./.chatdesk and
// ~/.chatdesk when configPath is empty. A default file is created in
// ~/.chatdesk when none exists.
func LoadSettings(configPath string) (*Settings, error) {
	settings := NewSettingsWithPath(configPath)

	if configPath == "" {
		foundPath, _ := settings.settingsRepository.FindSettingsFile()
		if foundPath == "" {
			return createSettingsFileAtPath(filepath.Join(infra.DataDir(), "settings.json"))
		}
	}

	if err := settings.Load(); err != nil {
		if configPath != "" && errors.Is(err, os.ErrNotExist) {
			return createSettingsFileAtPath(configPath)
		}
		return nil, err
	}
	return settings, nil
}

// GetDefaultSettings returns default application settings
func GetDefaultSettings() *Settings {
	gen := domain.DefaultGenerationConfig()
	return &Settings{
		Provider: GetDefaultProviderSettings(string(domain.ProviderOpenAI)),
		Generation: GenerationSettings{
			Temperature:      gen.Temperature,
			MaxTokens:        gen.MaxOutputTokens,
			TopP:             gen.TopP,
			FrequencyPenalty: gen.FrequencyPenalty,
			PresencePenalty:  gen.PresencePenalty,
			ContextWindow:    gen.ContextWindow,
		},
		Timeouts: TimeoutSettings{
			Completion: DefaultCompletionTimeout,
			Probe:      DefaultProbeTimeout,
		},
		Persistence: PersistenceSettings{
			Backend:             BackendFile,
			RestoreOfferTimeout: DefaultRestoreOfferTimeout,
		},
		Export: ExportSettings{
			Prefix: "chat_history",
		},
		LogLevel: "info",
	}
}

// GetDefaultProviderSettings returns default provider settings for a backend
func GetDefaultProviderSettings(backend string) ProviderSettings {
	p, err := domain.ParseProvider(backend)
	if err != nil {
		p = domain.ProviderOpenAI
	}
	ps := ProviderSettings{Backend: string(p), Model: client.DefaultModel(p)}
	if p == domain.ProviderOllama {
		ps.BaseURL = "http://localhost:11434"
	}
	return ps
}

// applyDefaults fills in missing fields with default values
func applyDefaults(settings *Settings) {
	defaults := GetDefaultSettings()

	if settings.Provider.Backend == "" {
		settings.Provider.Backend = defaults.Provider.Backend
	}
	if p, err := domain.ParseProvider(settings.Provider.Backend); err == nil {
		settings.Provider.Backend = string(p)
	}
	if settings.Provider.Model == "" {
		settings.Provider.Model = GetDefaultProviderSettings(settings.Provider.Backend).Model
	}
	if settings.Provider.BaseURL == "" && settings.Provider.Backend == string(domain.ProviderOllama) {
		settings.Provider.BaseURL = GetDefaultProviderSettings(settings.Provider.Backend).BaseURL
	}

	g := &settings.Generation
	if g.Temperature == nil {
		g.Temperature = defaults.Generation.Temperature
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = defaults.Generation.MaxTokens
	}
	if g.TopP == nil {
		g.TopP = defaults.Generation.TopP
	}
	if g.FrequencyPenalty == nil {
		g.FrequencyPenalty = defaults.Generation.FrequencyPenalty
	}
	if g.PresencePenalty == nil {
		g.PresencePenalty = defaults.Generation.PresencePenalty
	}
	if g.ContextWindow == 0 {
		g.ContextWindow = defaults.Generation.ContextWindow
	}

	if settings.Timeouts.Completion == 0 {
		settings.Timeouts.Completion = defaults.Timeouts.Completion
	}
	if settings.Timeouts.Probe == 0 {
		settings.Timeouts.Probe = defaults.Timeouts.Probe
	}
	if settings.Persistence.Backend == "" {
		settings.Persistence.Backend = defaults.Persistence.Backend
	}
	if settings.Persistence.RestoreOfferTimeout == 0 {
		settings.Persistence.RestoreOfferTimeout = defaults.Persistence.RestoreOfferTimeout
	}
	if settings.Export.Prefix == "" {
		settings.Export.Prefix = defaults.Export.Prefix
	}
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
}

// ValidateSettings validates the settings configuration
func ValidateSettings(settings *Settings) error {
	if _, err := domain.ParseProvider(settings.Provider.Backend); err != nil {
		return fmt.Errorf("unsupported provider backend: %s (must be one of %s)", settings.Provider.Backend, providerNames())
	}
	if strings.TrimSpace(settings.Provider.Model) == "" {
		return fmt.Errorf("provider model is required")
	}
	if err := settings.GenerationConfig().Validate(); err != nil {
		return fmt.Errorf("invalid generation settings: %w", err)
	}
	if settings.Generation.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if settings.Generation.ContextWindow < 0 {
		return fmt.Errorf("context_window must not be negative")
	}
	if settings.Timeouts.Completion < 0 || settings.Timeouts.Probe < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	switch settings.Persistence.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unsupported persistence backend: %s (must be 'file', 'sqlite' or 'memory')", settings.Persistence.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(settings.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level: %s (must be 'debug', 'info', 'warn' or 'error')", settings.LogLevel)
	}
	return nil
}

func providerNames() string {
	var names []string
	for _, p := range domain.Providers() {
		names = append(names, "'"+string(p)+"'")
	}
	return strings.Join(names, ", ")
}

// GenerationConfig converts the generation section for the session layer
func (s *Settings) GenerationConfig() domain.GenerationConfig {
	g := s.Generation
	return domain.GenerationConfig{
		Temperature:      g.Temperature,
		MaxOutputTokens:  g.MaxTokens,
		TopP:             g.TopP,
		FrequencyPenalty: g.FrequencyPenalty,
		PresencePenalty:  g.PresencePenalty,
		ContextWindow:    g.ContextWindow,
	}
}

// ClientOptions converts the provider and timeout sections for the client factory
func (s *Settings) ClientOptions() client.Options {
	p, _ := domain.ParseProvider(s.Provider.Backend)
	return client.Options{
		Provider:     p,
		BaseURL:      s.Provider.BaseURL,
		Timeout:      time.Duration(s.Timeouts.Completion) * time.Second,
		ProbeTimeout: time.Duration(s.Timeouts.Probe) * time.Second,
	}
}

// RestoreOfferTimeout is the restore offer wait as a duration
func (s *Settings) RestoreOfferTimeout() time.Duration {
	return time.Duration(s.Persistence.RestoreOfferTimeout) * time.Second
}

// createSettingsFileAtPath creates a default settings file at the specified path
func createSettingsFileAtPath(settingsPath string) (*Settings, error) {
	settings := NewSettingsWithPath(settingsPath)

	if err := settings.Save(); err != nil {
		// run with defaults when the file cannot be written
		return GetDefaultSettings(), nil
	}

	log := pkgLogger.NewComponentLogger("settings")
	log.InfoWithIntention(pkgLogger.IntentionConfig, "Created default settings file", "path", settingsPath)
	log.InfoWithIntention(pkgLogger.IntentionStatus, "You can edit this file to customize your configuration")
	return settings, nil
}
