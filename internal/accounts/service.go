// Package accounts provides user account lookup and credential checks.
package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cardshelf/cardshelf/internal/db"
)

// Sentinel errors surfaced by credential checks.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// Service reads and writes account rows.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates an account service on the given pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Login validates username/password and returns the account.
func (s *Service) Login(ctx context.Context, username, password string) (Account, error) {
	var (
		account Account
		hash    string
		email   pgtype.Text
		display pgtype.Text
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, role, display_name, is_active, created_at
		 FROM accounts WHERE username = $1`,
		strings.TrimSpace(username),
	).Scan(&account.ID, &account.Username, &email, &hash, &account.Role, &display, &account.IsActive, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	account.Email = db.TextToString(email)
	account.DisplayName = db.TextToString(display)

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}
	if !account.IsActive {
		return Account{}, ErrInactiveAccount
	}
	return account, nil
}

// Get returns the account with the given id.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Account{}, err
	}
	var (
		account Account
		email   pgtype.Text
		display pgtype.Text
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, username, email, role, display_name, is_active, created_at
		 FROM accounts WHERE id = $1`, pgID,
	).Scan(&account.ID, &account.Username, &email, &account.Role, &display, &account.IsActive, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	account.Email = db.TextToString(email)
	account.DisplayName = db.TextToString(display)
	return account, nil
}

// Count returns the number of accounts.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM accounts`).Scan(&count)
	return count, err
}

// Create inserts a new account with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, username, email, password, role string) (Account, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}
	emailValue := pgtype.Text{String: strings.TrimSpace(email), Valid: strings.TrimSpace(email) != ""}
	var account Account
	var emailOut, display pgtype.Text
	err = s.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, email, password_hash, role, display_name)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, username, email, role, display_name, is_active, created_at`,
		strings.TrimSpace(username), emailValue, string(hashed), role,
		pgtype.Text{String: strings.TrimSpace(username), Valid: true},
	).Scan(&account.ID, &account.Username, &emailOut, &account.Role, &display, &account.IsActive, &account.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	account.Email = db.TextToString(emailOut)
	account.DisplayName = db.TextToString(display)
	return account, nil
}
