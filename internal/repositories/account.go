package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
)

const accountColumns = `id, sequence, username, password, is_active, challenge_pending, proxy_id,
	email, email_password, session_data, last_login, created_at, updated_at`

// AccountRepository implements [models.Repository] for [models.Account] persistence.
type AccountRepository struct {
	db *sqlx.DB
}

var _ models.Repository[*models.Account] = (*AccountRepository)(nil)

// NewAccountRepository creates a new [AccountRepository] with the given database connection
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// BulkFailure describes one rejected row of a bulk create.
type BulkFailure struct {
	Row      int    `json:"row"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// BulkResult partitions a bulk create into the rows that were stored and the rows that were not.
type BulkResult struct {
	Created []*models.Account `json:"created"`
	Failed  []BulkFailure     `json:"failed"`
}

// Create inserts a new account with generated ID and sequence.
//
// A username that already exists is rejected with [shared.ErrDuplicateUsername] and nothing is written.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return r.insert(ctx, tx, account)
	})
}

func (r *AccountRepository) insert(ctx context.Context, tx *sqlx.Tx, account *models.Account) error {
	var exists bool
	if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM accounts WHERE username = ?)", account.Username); err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateUsername, account.Username)
	}

	sequence, err := NextSequence(ctx, tx, "accounts")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	row := *account
	row.ID = shared.GenerateID()
	row.Sequence = sequence

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (:id, :sequence, :username, :password, :is_active, :challenge_pending, :proxy_id,
			:email, :email_password, :session_data, :last_login, :created_at, :updated_at)
	`
	if _, err := tx.NamedExecContext(ctx, query, &row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", shared.ErrDuplicateUsername, account.Username)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	account.ID = row.ID
	account.Sequence = row.Sequence
	return nil
}

// BulkCreate inserts each account in its own transaction.
//
// A failing row never rolls back the others; every input row appears in exactly one partition.
func (r *AccountRepository) BulkCreate(ctx context.Context, accounts []*models.Account) *BulkResult {
	result := &BulkResult{}
	for i, account := range accounts {
		if err := r.Create(ctx, account); err != nil {
			result.Failed = append(result.Failed, BulkFailure{
				Row:      i + 1,
				Username: account.Username,
				Reason:   err.Error(),
				Err:      err,
			})
			continue
		}
		result.Created = append(result.Created, account)
	}
	return result
}

// Get retrieves an account by ID
func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, id)
		}
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &account, nil
}

// GetByUsername retrieves an account by its unique username
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = ?`
	if err := r.db.GetContext(ctx, &account, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, username)
		}
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &account, nil
}

// Update modifies the editable fields of an existing account.
//
// Session data and last login are owned by [AccountRepository.UpdateSession] and are left untouched.
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	account.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE accounts
		SET username = :username, password = :password, is_active = :is_active,
			challenge_pending = :challenge_pending, proxy_id = :proxy_id,
			email = :email, email_password = :email_password, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, account)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", shared.ErrDuplicateUsername, account.Username)
		}
		return fmt.Errorf("failed to update account: %w", err)
	}

	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrAccountNotFound, account.ID)
	}
	return nil
}

// Delete removes an account together with its tasks.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	_, err := r.DeleteCascade(ctx, id)
	return err
}

// DeleteCascade removes the account's tasks and then the account in a single transaction,
// returning how many tasks were removed. Linked proxies are not affected.
func (r *AccountRepository) DeleteCascade(ctx context.Context, id string) (int64, error) {
	var removed int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE account_id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete account tasks: %w", err)
		}
		if removed, err = rowsAffected(res); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", shared.ErrAccountNotFound, id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// List retrieves all accounts matching the given criteria.
//
// Supported criteria: "active" (bool), "challenge" (bool), "proxy_id" (string).
func (r *AccountRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1 = 1`
	args := []any{}

	if active, ok := criteria["active"].(bool); ok {
		query += " AND is_active = ?"
		args = append(args, active)
	}
	if challenge, ok := criteria["challenge"].(bool); ok {
		query += " AND challenge_pending = ?"
		args = append(args, challenge)
	}
	if proxyID, ok := criteria["proxy_id"].(string); ok && proxyID != "" {
		query += " AND proxy_id = ?"
		args = append(args, proxyID)
	}

	query += " ORDER BY sequence ASC"

	var accounts []*models.Account
	if err := r.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	return accounts, nil
}

// UpdateSession mirrors a serialized session blob into the account row and records the login time.
func (r *AccountRepository) UpdateSession(ctx context.Context, id, blob string, lastLogin time.Time) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET session_data = ?, last_login = ?, updated_at = ? WHERE id = ?",
		blob, lastLogin.UTC(), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return expectOne(result, shared.ErrAccountNotFound, id)
}

// SetStatus writes the activity flags of an account.
func (r *AccountRepository) SetStatus(ctx context.Context, id string, active, challengePending bool) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET is_active = ?, challenge_pending = ?, updated_at = ? WHERE id = ?",
		active, challengePending, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	return expectOne(result, shared.ErrAccountNotFound, id)
}

// AssignProxy links the account to a proxy, or unlinks it when proxyID is empty.
func (r *AccountRepository) AssignProxy(ctx context.Context, id, proxyID string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var value any
		if proxyID != "" {
			var exists bool
			if err := tx.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM proxies WHERE id = ?)", proxyID); err != nil {
				return fmt.Errorf("failed to check proxy: %w", err)
			}
			if !exists {
				return fmt.Errorf("%w: %s", shared.ErrProxyNotFound, proxyID)
			}
			value = proxyID
		}

		result, err := tx.ExecContext(ctx,
			"UPDATE accounts SET proxy_id = ?, updated_at = ? WHERE id = ?",
			value, time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to assign proxy: %w", err)
		}
		return expectOne(result, shared.ErrAccountNotFound, id)
	})
}

// Count returns the number of stored accounts.
func (r *AccountRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM accounts"); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

func expectOne(result sql.Result, notFound error, id string) error {
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}
