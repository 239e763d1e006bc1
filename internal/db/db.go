package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/socialboost/panel/internal/models"
)

// Sentinel errors shared by all entity operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrUserExists    = errors.New("user already exists")
	ErrStateConflict = errors.New("order state conflict")
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, email, fullName, passwordHash, role string) (*models.User, error) {
	user := &models.User{}
	var balance string
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, email, full_name, password_hash, role, balance::text, created_at, updated_at`,
		email, fullName, passwordHash, role).Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.Role, &balance, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, "email = $1", email)
}

// GetUser retrieves a user by ID
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return db.getUser(ctx, "id = $1", id)
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	var balance string
	err := db.Pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, role, balance::text, created_at, updated_at
		 FROM users WHERE `+where, arg).Scan(
		&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.Role, &balance, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	return user, nil
}

// UserBalance reads a user's current balance.
func (db *DB) UserBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var balance string
	err := db.Pool.QueryRow(ctx, "SELECT balance::text FROM users WHERE id = $1", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return decimal.NewFromString(balance)
}

// AdjustBalance applies delta to a user's balance. The update only takes
// effect when the resulting balance stays non-negative; a refused debit
// returns false with the balance untouched, never clamped.
func (db *DB) AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE users SET balance = balance + $1::numeric, updated_at = now()
		 WHERE id = $2 AND balance + $1::numeric >= 0`,
		delta.String(), userID)
	if err != nil {
		return false, fmt.Errorf("failed to adjust balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil {
			return false, fmt.Errorf("failed to check user existence: %w", err)
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

// AppendTransaction records a ledger entry. Entries are append-only.
func (db *DB) AppendTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	out := &models.Transaction{}
	var amount string
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO transactions (user_id, type, amount, details, status, order_id)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6)
		 RETURNING id, user_id, type, amount::text, details, status, order_id, created_at`,
		txn.UserID, txn.Type, txn.Amount.String(), txn.Details, txn.Status, txn.OrderID).Scan(
		&out.ID, &out.UserID, &out.Type, &amount, &out.Details, &out.Status, &out.OrderID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append transaction: %w", err)
	}
	out.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	return out, nil
}

// ListTransactions retrieves a user's transactions, newest first.
func (db *DB) ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, type, amount::text, details, status, order_id, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var txn models.Transaction
		var amount string
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Type, &amount, &txn.Details, &txn.Status, &txn.OrderID, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
