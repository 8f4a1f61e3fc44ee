package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fpt/chatdesk/internal/infra"
	"github.com/fpt/chatdesk/pkg/chat/domain"
)

func TestCreateDefaultSettingsFile(t *testing.T) {
	settingsPath := filepath.Join(t.TempDir(), ".chatdesk", "settings.json")
	settings, err := createSettingsFileAtPath(settingsPath)
	if err != nil {
		t.Fatalf("createSettingsFileAtPath failed: %v", err)
	}
	if settings.Provider.Backend != "openai" {
		t.Errorf("Expected backend 'openai', got '%s'", settings.Provider.Backend)
	}
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		t.Fatal("Settings file was not created")
	}

	loaded, err := LoadSettings(settingsPath)
	if err != nil {
		t.Fatalf("Failed to load created settings file: %v", err)
	}
	if loaded.Provider.Model != settings.Provider.Model {
		t.Errorf("Expected model '%s', got '%s'", settings.Provider.Model, loaded.Provider.Model)
	}
}

func TestLoadSettingsCreatesFileWhenNoneExists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	settings, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings == nil {
		t.Fatal("Expected non-nil settings")
	}
	if _, err := os.Stat(filepath.Join(home, ".chatdesk", "settings.json")); os.IsNotExist(err) {
		t.Fatal("Settings file was not created in home directory")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	repo := infra.NewInMemorySettingsRepository([]byte(`{"provider":{"backend":"claude"},"generation":{"temperature":0.2}}`))
	settings := NewSettingsWithRepository(repo)
	if err := settings.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if settings.Provider.Backend != "anthropic" {
		t.Errorf("alias not normalised: %s", settings.Provider.Backend)
	}
	if settings.Provider.Model == "" {
		t.Error("model default not applied")
	}
	cfg := settings.GenerationConfig()
	if *cfg.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", *cfg.Temperature)
	}
	if cfg.MaxOutputTokens != domain.DefaultMaxOutputTokens || cfg.ContextWindow != domain.DefaultContextWindow {
		t.Errorf("generation defaults not applied: %+v", cfg)
	}
	if settings.Persistence.Backend != BackendFile || settings.Export.Prefix != "chat_history" {
		t.Errorf("persistence/export defaults not applied: %+v %+v", settings.Persistence, settings.Export)
	}
	if err := ValidateSettings(settings); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"ollama", func(s *Settings) { s.Provider = GetDefaultProviderSettings("ollama") }, false},
		{"unknown backend", func(s *Settings) { s.Provider.Backend = "watson" }, true},
		{"empty model", func(s *Settings) { s.Provider.Model = " " }, true},
		{"temperature too high", func(s *Settings) { s.Generation.Temperature = domain.Float(2.5) }, true},
		{"top_p too high", func(s *Settings) { s.Generation.TopP = domain.Float(1.5) }, true},
		{"negative window", func(s *Settings) { s.Generation.ContextWindow = -1 }, true},
		{"bad persistence", func(s *Settings) { s.Persistence.Backend = "redis" }, true},
		{"bad log level", func(s *Settings) { s.LogLevel = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := GetDefaultSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateRepositorySelection(t *testing.T) {
	dirs := NewUserDirs(t.TempDir())
	for _, backend := range []string{BackendFile, BackendSQLite, BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			s := GetDefaultSettings()
			s.Persistence.Backend = backend
			repo, closeFn, err := s.NewStateRepository(dirs)
			if err != nil {
				t.Fatalf("NewStateRepository: %v", err)
			}
			defer closeFn()
			if repo.Location() == "" {
				t.Error("empty location")
			}
		})
	}
	if filepath.Base(func() string {
		s := GetDefaultSettings()
		s.Persistence.Backend = BackendSQLite
		return s.StatePath(dirs)
	}()) != "state.db" {
		t.Error("sqlite backend should default to state.db")
	}
}

func TestCredentialFromEnv(t *testing.T) {
	s := GetDefaultSettings()
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("MY_KEY", "sk-custom")

	if got := s.CredentialFromEnv(domain.ProviderOpenAI); got != "sk-env" {
		t.Errorf("got %q", got)
	}
	s.Provider.CredentialEnv = "MY_KEY"
	if got := s.CredentialFromEnv(domain.ProviderOpenAI); got != "sk-custom" {
		t.Errorf("got %q", got)
	}
	if got := s.CredentialEnvFor(domain.ProviderGemini); got != "GEMINI_API_KEY" {
		t.Errorf("got %q", got)
	}
}
