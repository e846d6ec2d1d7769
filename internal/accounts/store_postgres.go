// internal/accounts/store_postgres.go
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore keeps accounts and credentials in two tables written in one
// transaction. The unique index on LOWER(username) decides duplicate races.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*Account, *Credential, error) {
	const op = "accounts.PostgresStore.FindByUsername"
	query := `
		SELECT a.id, a.username, a.role, a.created_at,
		       c.password_hash, c.password_salt, c.pin_hash, c.pin_salt
		FROM accounts a
		JOIN credentials c ON c.account_id = a.id
		WHERE LOWER(a.username) = LOWER($1)
	`
	var (
		account Account
		cred    Credential
		role    string
	)
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&account.ID,
		&account.Username,
		&role,
		&account.CreatedAt,
		&cred.PasswordHash,
		&cred.PasswordSalt,
		&cred.PinHash,
		&cred.PinSalt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	account.Role = Role(role)
	account.CreatedAt = account.CreatedAt.UTC()
	cred.AccountID = account.ID
	return &account, &cred, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	const op = "accounts.PostgresStore.FindByID"
	var (
		account Account
		role    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, role, created_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(&account.ID, &account.Username, &role, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	account.Role = Role(role)
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

func (s *PostgresStore) Insert(ctx context.Context, account *Account, cred *Credential) error {
	const op = "accounts.PostgresStore.Insert"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin transaction: %w", op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, username, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, account.ID, account.Username, string(account.Role), account.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("%s: insert account: %w", op, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (account_id, password_hash, password_salt, pin_hash, pin_salt)
		VALUES ($1, $2, $3, $4, $5)
	`, account.ID, cred.PasswordHash, cred.PasswordSalt, cred.PinHash, cred.PinSalt)
	if err != nil {
		return fmt.Errorf("%s: insert credentials: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, id uuid.UUID, hash, salt string) error {
	const op = "accounts.PostgresStore.UpdatePassword"
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET password_hash = $1, password_salt = $2, updated_at = NOW()
		WHERE account_id = $3
	`, hash, salt, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
