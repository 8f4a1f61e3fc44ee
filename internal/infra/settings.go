package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fpt/chatdesk/internal/repository"
)

const (
	settingsDir  = ".chatdesk"
	settingsFile = "settings.json"
)

// FileSettingsRepository reads settings.json from the project or home directory
type FileSettingsRepository struct {
	configPath string // empty means search
	homeDir    string
}

// InMemorySettingsRepository holds settings without touching disk
type InMemorySettingsRepository struct {
	mu   sync.Mutex
	data []byte
}

var (
	_ repository.SettingsRepository = (*FileSettingsRepository)(nil)
	_ repository.SettingsRepository = (*InMemorySettingsRepository)(nil)
)

// NewFileSettingsRepository creates a file-based settings repository
func NewFileSettingsRepository(configPath string) *FileSettingsRepository {
	home, _ := os.UserHomeDir()
	return &FileSettingsRepository{configPath: configPath, homeDir: home}
}

// NewInMemorySettingsRepository creates an in-memory settings repository
// pre-loaded with data, which may be nil.
func NewInMemorySettingsRepository(data []byte) *InMemorySettingsRepository {
	return &InMemorySettingsRepository{data: data}
}

// DataDir is ~/.chatdesk, the default home for state, logs and exports
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return settingsDir
	}
	return filepath.Join(home, settingsDir)
}

func (fr *FileSettingsRepository) Load() ([]byte, error) {
	configPath := fr.configPath
	if configPath == "" {
		found, err := fr.FindSettingsFile()
		if err != nil {
			return nil, err
		}
		if found == "" {
			return nil, os.ErrNotExist
		}
		configPath = found
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return data, nil
}

func (fr *FileSettingsRepository) Save(data []byte) error {
	configPath := fr.configPath
	if configPath == "" {
		found, _ := fr.FindSettingsFile()
		if found != "" {
			configPath = found
		} else {
			configPath = filepath.Join(settingsDir, settingsFile)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// FindSettingsFile checks ./.chatdesk then ~/.chatdesk. "" means none was found.
func (fr *FileSettingsRepository) FindSettingsFile() (string, error) {
	candidates := []string{filepath.Join(settingsDir, settingsFile)}
	if fr.homeDir != "" {
		candidates = append(candidates, filepath.Join(fr.homeDir, settingsDir, settingsFile))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func (mr *InMemorySettingsRepository) Load() ([]byte, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.data == nil {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), mr.data...), nil
}

func (mr *InMemorySettingsRepository) Save(data []byte) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.data = append([]byte(nil), data...)
	return nil
}

func (mr *InMemorySettingsRepository) FindSettingsFile() (string, error) {
	return "", nil
}
