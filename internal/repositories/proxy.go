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

const proxyColumns = `id, sequence, scheme, host, port, username, password, is_active, created_at, updated_at`

// ProxyRepository implements [models.Repository] for [models.Proxy] persistence.
type ProxyRepository struct {
	db *sqlx.DB
}

var _ models.Repository[*models.Proxy] = (*ProxyRepository)(nil)

// NewProxyRepository creates a new [ProxyRepository] with the given database connection
func NewProxyRepository(db *sqlx.DB) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// Create inserts a new proxy with generated ID and sequence
func (r *ProxyRepository) Create(ctx context.Context, proxy *models.Proxy) error {
	if err := proxy.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		sequence, err := NextSequence(ctx, tx, "proxies")
		if err != nil {
			return fmt.Errorf("failed to generate sequence: %w", err)
		}

		now := time.Now().UTC()
		if proxy.CreatedAt.IsZero() {
			proxy.CreatedAt = now
		}
		proxy.UpdatedAt = now

		row := *proxy
		row.ID = shared.GenerateID()
		row.Sequence = sequence

		query := `
			INSERT INTO proxies (` + proxyColumns + `)
			VALUES (:id, :sequence, :scheme, :host, :port, :username, :password, :is_active, :created_at, :updated_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, &row); err != nil {
			return fmt.Errorf("failed to insert proxy: %w", err)
		}

		proxy.ID = row.ID
		proxy.Sequence = row.Sequence
		return nil
	})
}

// Get retrieves a proxy by ID
func (r *ProxyRepository) Get(ctx context.Context, id string) (*models.Proxy, error) {
	var proxy models.Proxy
	query := `SELECT ` + proxyColumns + ` FROM proxies WHERE id = ?`
	if err := r.db.GetContext(ctx, &proxy, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", shared.ErrProxyNotFound, id)
		}
		return nil, fmt.Errorf("failed to query proxy: %w", err)
	}
	return &proxy, nil
}

// Update modifies an existing proxy in the database
func (r *ProxyRepository) Update(ctx context.Context, proxy *models.Proxy) error {
	if err := proxy.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	proxy.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE proxies
		SET scheme = :scheme, host = :host, port = :port, username = :username,
			password = :password, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, proxy)
	if err != nil {
		return fmt.Errorf("failed to update proxy: %w", err)
	}
	return expectOne(result, shared.ErrProxyNotFound, proxy.ID)
}

// Delete removes a proxy after unlinking every account that references it.
//
// Both statements run in one transaction; the accounts themselves survive.
func (r *ProxyRepository) Delete(ctx context.Context, id string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE accounts SET proxy_id = NULL, updated_at = ? WHERE proxy_id = ?",
			time.Now().UTC(), id,
		); err != nil {
			return fmt.Errorf("failed to unlink accounts: %w", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM proxies WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete proxy: %w", err)
		}
		return expectOne(result, shared.ErrProxyNotFound, id)
	})
}

// List retrieves all proxies matching the given criteria.
//
// Supported criteria: "active" (bool).
func (r *ProxyRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Proxy, error) {
	query := `SELECT ` + proxyColumns + ` FROM proxies WHERE 1 = 1`
	args := []any{}

	if active, ok := criteria["active"].(bool); ok {
		query += " AND is_active = ?"
		args = append(args, active)
	}

	query += " ORDER BY sequence ASC"

	var proxies []*models.Proxy
	if err := r.db.SelectContext(ctx, &proxies, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	return proxies, nil
}

// CountAccounts returns how many accounts reference the proxy.
func (r *ProxyRepository) CountAccounts(ctx context.Context, id string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM accounts WHERE proxy_id = ?", id); err != nil {
		return 0, fmt.Errorf("failed to count proxy accounts: %w", err)
	}
	return n, nil
}

// Usage returns the number of linked accounts for every proxy that has at least one.
func (r *ProxyRepository) Usage(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		ProxyID string `db:"proxy_id"`
		N       int    `db:"n"`
	}
	query := "SELECT proxy_id, COUNT(*) AS n FROM accounts WHERE proxy_id IS NOT NULL GROUP BY proxy_id"
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query proxy usage: %w", err)
	}

	usage := make(map[string]int, len(rows))
	for _, row := range rows {
		usage[row.ProxyID] = row.N
	}
	return usage, nil
}
