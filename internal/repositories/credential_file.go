package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BradenHooton/thermo/internal/models"
)

const credentialsFileName = "users.json"

// FileCredentialRepository keeps credentials in a single JSON document.
// Every write replaces the file atomically via a temp file and rename.
type FileCredentialRepository struct {
	path string

	mu    sync.RWMutex
	users map[string]models.Credential
	order []string
}

func NewFileCredentialRepository(dataDir string) (*FileCredentialRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &models.StorageError{Op: "open credentials", Err: err}
	}

	r := &FileCredentialRepository{
		path:  filepath.Join(dataDir, credentialsFileName),
		users: make(map[string]models.Credential),
	}

	raw, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, &models.StorageError{Op: "read credentials", Err: err}
	}
	if len(raw) == 0 {
		return r, nil
	}

	var stored []models.Credential
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, &models.StorageError{Op: "decode credentials", Err: err}
	}
	for _, c := range stored {
		if _, dup := r.users[c.Username]; dup || c.Username == "" {
			continue
		}
		r.users[c.Username] = c
		r.order = append(r.order, c.Username)
	}

	return r, nil
}

// GetByUsername is an exact, case-sensitive lookup.
func (r *FileCredentialRepository) GetByUsername(ctx context.Context, username string) (*models.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.users[username]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

// Create persists a new credential. It returns models.ErrConflict when the
// username is taken and leaves memory untouched if the write fails.
func (r *FileCredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[cred.Username]; exists {
		return models.ErrConflict
	}

	stored := make([]models.Credential, 0, len(r.order)+1)
	for _, name := range r.order {
		stored = append(stored, r.users[name])
	}
	stored = append(stored, *cred)

	if err := r.writeLocked(stored); err != nil {
		return &models.StorageError{Op: "write credentials", Err: err}
	}

	r.users[cred.Username] = *cred
	r.order = append(r.order, cred.Username)
	return nil
}

func (r *FileCredentialRepository) writeLocked(stored []models.Credential) error {
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), credentialsFileName+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, r.path)
}
