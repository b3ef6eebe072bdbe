package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tropiwallet/wallet-service/pkg/tropipay"
)

// sqliteBatchSize keeps multi-row inserts under SQLite's bound-parameter limit.
const sqliteBatchSize = 200

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS wallet_users (
	client_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_accounts (
	user_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	account_id TEXT NOT NULL,
	currency TEXT NOT NULL,
	balance_minor INTEGER NOT NULL,
	available_minor INTEGER NOT NULL,
	blocked_minor INTEGER NOT NULL,
	pending_in_minor INTEGER NOT NULL,
	pending_out_minor INTEGER NOT NULL,
	is_default INTEGER NOT NULL,
	status TEXT NOT NULL,
	cached_at INTEGER NOT NULL,
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
	bank_details TEXT,
	is_verified INTEGER NOT NULL,
	cached_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, position)
);

CREATE INDEX IF NOT EXISTS idx_cached_accounts_cached_at ON cached_accounts (cached_at);
CREATE INDEX IF NOT EXISTS idx_cached_beneficiaries_cached_at ON cached_beneficiaries (cached_at);
`

// SQLiteCacheRepository is the SQLite implementation of CacheRepository.
type SQLiteCacheRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCacheRepository opens (creating if needed) the cache database at path.
func NewSQLiteCacheRepository(ctx context.Context, path string) (*SQLiteCacheRepository, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database at %s: %w", path, err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	return &SQLiteCacheRepository{db: db, now: time.Now}, nil
}

// SaveAccounts replaces the cached accounts of userID.
func (r *SQLiteCacheRepository) SaveAccounts(ctx context.Context, userID string, accounts []tropipay.Account) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	cachedAt := r.now().UnixMilli()
	values := make([][]any, 0, len(accounts))
	for i, a := range accounts {
		row := toAccountRow(a)
		values = append(values, []any{
			userID, i, row.accountID, row.currency,
			row.balance, row.available, row.blocked, row.pendingIn, row.pendingOut,
			row.isDefault, row.status, cachedAt,
		})
	}
	return r.replace(ctx, "cached_accounts", []string{
		"user_id", "position", "account_id", "currency",
		"balance_minor", "available_minor", "blocked_minor", "pending_in_minor", "pending_out_minor",
		"is_default", "status", "cached_at",
	}, userID, values)
}

// GetAccounts returns the last saved accounts of userID, or an empty list.
func (r *SQLiteCacheRepository) GetAccounts(ctx context.Context, userID string) ([]tropipay.Account, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, currency, balance_minor, available_minor, blocked_minor,
		       pending_in_minor, pending_out_minor, is_default, status
		FROM cached_accounts
		WHERE user_id = ?
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
func (r *SQLiteCacheRepository) SaveBeneficiaries(ctx context.Context, userID string, beneficiaries []tropipay.Beneficiary) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	cachedAt := r.now().UnixMilli()
	values := make([][]any, 0, len(beneficiaries))
	for i, b := range beneficiaries {
		row, err := toBeneficiaryRow(b)
		if err != nil {
			return fmt.Errorf("failed to encode beneficiary %s: %w", b.ID, err)
		}
		var details any
		if row.bankDetails != nil {
			details = string(row.bankDetails)
		}
		values = append(values, []any{
			userID, i, row.beneficiaryID, row.kind, row.name, row.accountNumber,
			row.currency, row.country, row.email, details, row.isVerified, cachedAt,
		})
	}
	return r.replace(ctx, "cached_beneficiaries", []string{
		"user_id", "position", "beneficiary_id", "type", "name", "account_number",
		"currency", "country", "email", "bank_details", "is_verified", "cached_at",
	}, userID, values)
}

// GetBeneficiaries returns the last saved beneficiaries of userID, or an empty list.
func (r *SQLiteCacheRepository) GetBeneficiaries(ctx context.Context, userID string) ([]tropipay.Beneficiary, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT beneficiary_id, type, name, account_number, currency, country, email, bank_details, is_verified
		FROM cached_beneficiaries
		WHERE user_id = ?
		ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached beneficiaries: %w", err)
	}
	defer rows.Close()

	beneficiaries := []tropipay.Beneficiary{}
	for rows.Next() {
		var row beneficiaryRow
		var details sql.NullString
		if err := rows.Scan(&row.beneficiaryID, &row.kind, &row.name, &row.accountNumber,
			&row.currency, &row.country, &row.email, &details, &row.isVerified); err != nil {
			return nil, fmt.Errorf("failed to scan cached beneficiary: %w", err)
		}
		if details.Valid {
			row.bankDetails = []byte(details.String)
		}
		beneficiaries = append(beneficiaries, row.beneficiary())
	}
	return beneficiaries, rows.Err()
}

// ResolveUserID returns the internal user id bound to clientID.
func (r *SQLiteCacheRepository) ResolveUserID(ctx context.Context, clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", fmt.Errorf("cache: client id is required")
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO wallet_users (client_id, user_id, created_at) VALUES (?, ?, ?) ON CONFLICT(client_id) DO NOTHING`,
		clientID, uuid.NewString(), r.now().UnixMilli()); err != nil {
		return "", fmt.Errorf("failed to register client: %w", err)
	}
	var userID string
	if err := r.db.QueryRowContext(ctx, `SELECT user_id FROM wallet_users WHERE client_id = ?`, clientID).Scan(&userID); err != nil {
		return "", fmt.Errorf("failed to resolve user id: %w", err)
	}
	return userID, nil
}

// PruneBefore deletes cache rows written before cutoff.
func (r *SQLiteCacheRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"cached_accounts", "cached_beneficiaries"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE cached_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}

// Close closes the database.
func (r *SQLiteCacheRepository) Close() error {
	return r.db.Close()
}

// replace deletes the user's rows and inserts values in one transaction.
func (r *SQLiteCacheRepository) replace(ctx context.Context, table string, columns []string, userID string, values [][]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	for start := 0; start < len(values); start += sqliteBatchSize {
		end := start + sqliteBatchSize
		if end > len(values) {
			end = len(values)
		}
		batch := values[start:end]

		tuples := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*len(columns))
		for _, v := range batch {
			tuples = append(tuples, placeholder)
			args = append(args, v...)
		}
		query := `INSERT INTO ` + table + ` (` + strings.Join(columns, ", ") + `) VALUES ` + strings.Join(tuples, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}
