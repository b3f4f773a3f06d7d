package repositories

import (
	"context"

	"github.com/BradenHooton/thermo/internal/database"
	"github.com/BradenHooton/thermo/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCredentialRepository stores credentials in the credentials table.
// Uniqueness is enforced by the primary key.
type PostgresCredentialRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresCredentialRepository(db *database.DB) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{pool: db.Pool}
}

func (r *PostgresCredentialRepository) GetByUsername(ctx context.Context, username string) (*models.Credential, error) {
	query := `SELECT username, password_hash FROM credentials WHERE username = $1`

	var cred models.Credential
	err := r.pool.QueryRow(ctx, query, username).Scan(&cred.Username, &cred.PasswordHash)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &cred, nil
}

func (r *PostgresCredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `INSERT INTO credentials (username, password_hash) VALUES ($1, $2)`

	if _, err := r.pool.Exec(ctx, query, cred.Username, cred.PasswordHash); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}
