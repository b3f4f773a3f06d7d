package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/thermo/internal/models"
)

// MockCredentialRepository is an in-memory CredentialRepository for testing.
// Func fields, when set, take precedence over the map.
type MockCredentialRepository struct {
	GetByUsernameFunc func(ctx context.Context, username string) (*models.Credential, error)
	CreateFunc        func(ctx context.Context, cred *models.Credential) error

	mu    sync.Mutex
	creds map[string]models.Credential
}

func (m *MockCredentialRepository) GetByUsername(ctx context.Context, username string) (*models.Credential, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[username]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &cred, nil
}

func (m *MockCredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, cred)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		m.creds = make(map[string]models.Credential)
	}
	if _, exists := m.creds[cred.Username]; exists {
		return models.ErrConflict
	}
	m.creds[cred.Username] = *cred
	return nil
}

// MockReadingRepository implements ReadingRepository for testing
type MockReadingRepository struct {
	AppendFunc func(ctx context.Context, reading models.Reading) error
	QueryFunc  func(ctx context.Context, from, to time.Time) ([]models.Reading, error)

	mu       sync.Mutex
	Appended []models.Reading
}

func (m *MockReadingRepository) Append(ctx context.Context, reading models.Reading) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, reading)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Appended = append(m.Appended, reading)
	return nil
}

func (m *MockReadingRepository) Query(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, from, to)
	}
	return []models.Reading{}, nil
}

// MockCommandQueue implements CommandQueue for testing
type MockCommandQueue struct {
	EnqueueFunc func(ctx context.Context, command string) (*models.Command, error)
}

func (m *MockCommandQueue) Enqueue(ctx context.Context, command string) (*models.Command, error) {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, command)
	}
	return &models.Command{
		ID:       "01HQZX3Y7N6V4W8K2J5M9P0RST",
		Command:  command,
		Status:   models.CommandStatusPending,
		QueuedAt: time.Now().UTC(),
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
