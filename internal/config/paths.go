package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpt/chatdesk/internal/infra"
	"github.com/fpt/chatdesk/internal/repository"
	"github.com/fpt/chatdesk/pkg/chat/domain"
)

// UserDirs are the per-user data locations under ~/.chatdesk
type UserDirs struct {
	BaseDir     string // ~/.chatdesk
	LogsDir     string // ~/.chatdesk/logs
	ExportsDir  string // ~/.chatdesk/exports
	HistoryFile string // readline history
	PresetsFile string // user presets overlay
}

// DefaultUserDirs resolves the user directories and creates them
func DefaultUserDirs() (*UserDirs, error) {
	dirs := NewUserDirs(infra.DataDir())
	if err := dirs.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create user directories: %w", err)
	}
	return dirs, nil
}

// NewUserDirs lays the user directories out under base without touching disk
func NewUserDirs(base string) *UserDirs {
	return &UserDirs{
		BaseDir:     base,
		LogsDir:     filepath.Join(base, "logs"),
		ExportsDir:  filepath.Join(base, "exports"),
		HistoryFile: filepath.Join(base, "history.txt"),
		PresetsFile: filepath.Join(base, "presets.yaml"),
	}
}

// EnsureDirectories creates the directories if they don't exist
func (d *UserDirs) EnsureDirectories() error {
	for _, dir := range []string{d.BaseDir, d.LogsDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StatePath returns the configured state location or the backend's default
func (s *Settings) StatePath(dirs *UserDirs) string {
	if s.Persistence.Path != "" {
		return s.Persistence.Path
	}
	name := "state.json"
	if s.Persistence.Backend == BackendSQLite {
		name = "state.db"
	}
	return filepath.Join(dirs.BaseDir, name)
}

// ExportDir returns the configured export directory or ~/.chatdesk/exports
func (s *Settings) ExportDir(dirs *UserDirs) string {
	if s.Export.Dir != "" {
		return s.Export.Dir
	}
	return dirs.ExportsDir
}

// NewStateRepository opens the configured persistence backend. The returned
// close function is never nil.
func (s *Settings) NewStateRepository(dirs *UserDirs) (repository.StateRepository, func() error, error) {
	noop := func() error { return nil }
	switch s.Persistence.Backend {
	case BackendMemory:
		return infra.NewInMemoryStateRepository(), noop, nil
	case BackendSQLite:
		repo, err := infra.NewSQLiteStateRepository(s.StatePath(dirs))
		if err != nil {
			return nil, noop, err
		}
		return repo, repo.Close, nil
	case BackendFile, "":
		return infra.NewFileStateRepository(s.StatePath(dirs)), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported persistence backend: %s", s.Persistence.Backend)
	}
}

// credentialEnv maps providers to their conventional API key variables
var credentialEnv = map[domain.ProviderID]string{
	domain.ProviderOpenAI:    "OPENAI_API_KEY",
	domain.ProviderGitHub:    "GITHUB_TOKEN",
	domain.ProviderAnthropic: "ANTHROPIC_API_KEY",
	domain.ProviderGemini:    "GEMINI_API_KEY",
	domain.ProviderOllama:    "OLLAMA_API_KEY",
}

// CredentialEnvFor returns the environment variable consulted for provider
func (s *Settings) CredentialEnvFor(provider domain.ProviderID) string {
	if s.Provider.CredentialEnv != "" && string(provider) == s.Provider.Backend {
		return s.Provider.CredentialEnv
	}
	return credentialEnv[provider]
}

// CredentialFromEnv reads the API key for provider from the environment
func (s *Settings) CredentialFromEnv(provider domain.ProviderID) string {
	name := s.CredentialEnvFor(provider)
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
