package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpt/chatdesk/internal/repository"
)

// FileStateRepository keeps the state in a single JSON file
type FileStateRepository struct {
	filePath string
}

var _ repository.StateRepository = (*FileStateRepository)(nil)

// NewFileStateRepository creates a file-based state repository
func NewFileStateRepository(filePath string) *FileStateRepository {
	return &FileStateRepository{filePath: filePath}
}

func (fr *FileStateRepository) Location() string { return fr.filePath }

// Load implements repository.StateRepository
func (fr *FileStateRepository) Load(_ context.Context) ([]byte, error) {
	if fr.filePath == "" {
		return nil, fmt.Errorf("no file path specified")
	}
	data, err := os.ReadFile(fr.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repository.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", fr.filePath, err)
	}
	if len(data) == 0 {
		return nil, repository.ErrStateNotFound
	}
	return data, nil
}

// Save writes to a temporary file in the same directory and renames it over
// the old one, so readers see either the previous or the new state.
func (fr *FileStateRepository) Save(_ context.Context, data []byte) error {
	if fr.filePath == "" {
		return fmt.Errorf("no file path specified")
	}

	dir := filepath.Dir(fr.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fr.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close state file: %w", err)
	}
	// the file may hold a credential
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set state file mode: %w", err)
	}
	if err := os.Rename(tmpName, fr.filePath); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace state file %s: %w", fr.filePath, err)
	}
	return nil
}

// Clear implements repository.StateRepository
func (fr *FileStateRepository) Clear(_ context.Context) error {
	if fr.filePath == "" {
		return fmt.Errorf("no file path specified")
	}
	if err := os.Remove(fr.filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete state file %s: %w", fr.filePath, err)
	}
	return nil
}
