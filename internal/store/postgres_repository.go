/**
 * @description
 * PostgreSQL implementation of the cache store, used when DATABASE_URL is set.
 * Bulk replaces run as DELETE + COPY inside a single transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS wallet_users (
	client_id TEXT PRIMARY KEY,
	user_id UUID NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS cached_accounts (
	user_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	account_id TEXT NOT NULL,
	currency TEXT NOT NULL,
	balance_minor BIGINT NOT NULL,
	available_minor BIGINT NOT NULL,
	blocked_minor BIGINT NOT NULL,
	pending_in_minor BIGINT NOT NULL,
	pending_out_minor BIGINT NOT NULL,
	is_default BOOLEAN NOT NULL,
	status TEXT NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, position)
);

CREATE TABLE IF NOT EXISTS cached_beneficiaries (
	user_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	beneficiary_id TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	account_number TEXT NOT NULL,
	currency TEXT NOT NULL,
	country TEXT NOT NULL,
	email TEXT NOT NULL,
	bank_details JSONB,
	is_verified BOOLEAN NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, position)
);

CREATE INDEX IF NOT EXISTS idx_cached_accounts_cached_at ON cached_accounts (cached_at);
CREATE INDEX IF NOT EXISTS idx_cached_beneficiaries_cached_at ON cached_beneficiaries (cached_at);
`

// PostgresCacheRepository is the PostgreSQL implementation of CacheRepository.
type PostgresCacheRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresCacheRepository creates a new instance of PostgresCacheRepository and
// ensures its tables exist.
func NewPostgresCacheRepository(ctx context.Context, db *pgxpool.Pool) (*PostgresCacheRepository, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate cache tables: %w", err)
	}
	return &PostgresCacheRepository{db: db, now: time.Now}, nil
}

// SaveAccounts replaces the cached accounts of userID.
func (r *PostgresCacheRepository) SaveAccounts(ctx context.Context, userID string, accounts []tropipay.Account) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	cachedAt := r.now().UTC()
	rows := make([][]any, 0, len(accounts))
	for i, a := range accounts {
		row := toAccountRow(a)
		rows = append(rows, []any{
			userID, int32(i), row.accountID, row.currency,
			row.balance, row.available, row.blocked, row.pendingIn, row.pendingOut,
			row.isDefault, row.status, cachedAt,
		})
	}
	return r.replace(ctx, "cached_accounts", []string{
		"user_id", "position", "account_id", "currency",
		"balance_minor", "available_minor", "blocked_minor", "pending_in_minor", "pending_out_minor",
		"is_default", "status", "cached_at",
	}, userID, rows)
}

// GetAccounts returns the last saved accounts of userID, or an empty list.
func (r *PostgresCacheRepository) GetAccounts(ctx context.Context, userID string) ([]tropipay.Account, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	rows, err := r.db.Query(ctx, `
		SELECT account_id, currency, balance_minor, available_minor, blocked_minor,
		       pending_in_minor, pending_out_minor, is_default, status
		FROM cached_accounts
		WHERE user_id = $1
		ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached accounts: %w", err)
	}
	defer rows.Close()

	accounts := []tropipay.Account{}
	for rows.Next() {
		var row accountRow
		if err := rows.Scan(&row.accountID, &row.currency, &row.balance, &row.available, &row.blocked,
			&row.pendingIn, &row.pendingOut, &row.isDefault, &row.status); err != nil {
			return nil, fmt.Errorf("failed to scan cached account: %w", err)
		}
		accounts = append(accounts, row.account())
	}
	return accounts, rows.Err()
}

// SaveBeneficiaries replaces the cached beneficiaries of userID.
func (r *PostgresCacheRepository) SaveBeneficiaries(ctx context.Context, userID string, beneficiaries []tropipay.Beneficiary) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	cachedAt := r.now().UTC()
	rows := make([][]any, 0, len(beneficiaries))
	for i, b := range beneficiaries {
		row, err := toBeneficiaryRow(b)
		if err != nil {
			return fmt.Errorf("failed to encode beneficiary %s: %w", b.ID, err)
		}
		var details any
		if row.bankDetails != nil {
			details = string(row.bankDetails)
		}
		rows = append(rows, []any{
			userID, int32(i), row.beneficiaryID, row.kind, row.name, row.accountNumber,
			row.currency, row.country, row.email, details, row.isVerified, cachedAt,
		})
	}
	return r.replace(ctx, "cached_beneficiaries", []string{
		"user_id", "position", "beneficiary_id", "type", "name", "account_number",
		"currency", "country", "email", "bank_details", "is_verified", "cached_at",
	}, userID, rows)
}

// GetBeneficiaries returns the last saved beneficiaries of userID, or an empty list.
func (r *PostgresCacheRepository) GetBeneficiaries(ctx context.Context, userID string) ([]tropipay.Beneficiary, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	rows, err := r.db.Query(ctx, `
		SELECT beneficiary_id, type, name, account_number, currency, country, email, bank_details::text, is_verified
		FROM cached_beneficiaries
		WHERE user_id = $1
		ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached beneficiaries: %w", err)
	}
	defer rows.Close()

	beneficiaries := []tropipay.Beneficiary{}
	for rows.Next() {
		var row beneficiaryRow
		var details *string
		if err := rows.Scan(&row.beneficiaryID, &row.kind, &row.name, &row.accountNumber,
			&row.currency, &row.country, &row.email, &details, &row.isVerified); err != nil {
			return nil, fmt.Errorf("failed to scan cached beneficiary: %w", err)
		}
		if details != nil {
			row.bankDetails = []byte(*details)
		}
		beneficiaries = append(beneficiaries, row.beneficiary())
	}
	return beneficiaries, rows.Err()
}

// ResolveUserID returns the internal user id bound to clientID.
func (r *PostgresCacheRepository) ResolveUserID(ctx context.Context, clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", fmt.Errorf("cache: client id is required")
	}

	var userID string
	err := r.db.QueryRow(ctx, `
		INSERT INTO wallet_users (client_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (client_id) DO NOTHING
		RETURNING user_id::text`, clientID, uuid.NewString()).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("failed to register client: %w", err)
	}

	if err := r.db.QueryRow(ctx, `SELECT user_id::text FROM wallet_users WHERE client_id = $1`, clientID).Scan(&userID); err != nil {
		return "", fmt.Errorf("failed to resolve user id: %w", err)
	}
	return userID, nil
}

// PruneBefore deletes cache rows written before cutoff.
func (r *PostgresCacheRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, table := range []string{"cached_accounts", "cached_beneficiaries"} {
		tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE cached_at < $1`, cutoff.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}

// Close releases the pool.
func (r *PostgresCacheRepository) Close() error {
	r.db.Close()
	return nil
}

func (r *PostgresCacheRepository) replace(ctx context.Context, table string, columns []string, userID string, rows [][]any) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to copy into %s: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}
