package infra

import (
	"context"
	"sync"

	"github.com/fpt/chatdesk/internal/repository"
)

// InMemoryStateRepository keeps the state for the lifetime of the process
type InMemoryStateRepository struct {
	mu   sync.Mutex
	data []byte
	// FailSave, when set, is returned by Save
	FailSave error
}

var _ repository.StateRepository = (*InMemoryStateRepository)(nil)

func NewInMemoryStateRepository() *InMemoryStateRepository {
	return &InMemoryStateRepository{}
}

func (mr *InMemoryStateRepository) Location() string { return "memory" }

func (mr *InMemoryStateRepository) Load(_ context.Context) ([]byte, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.data == nil {
		return nil, repository.ErrStateNotFound
	}
	return append([]byte(nil), mr.data...), nil
}

func (mr *InMemoryStateRepository) Save(_ context.Context, data []byte) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.FailSave != nil {
		return mr.FailSave
	}
	mr.data = append([]byte(nil), data...)
	return nil
}

func (mr *InMemoryStateRepository) Clear(_ context.Context) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.data = nil
	return nil
}
