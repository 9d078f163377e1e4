// Package store persists the gateway's durable state: tenants, API keys,
// admin accounts, and the append-only usage log. It is backed by sqlx over
// SQLite (default), Postgres, or MySQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("already exists")

// Store is the durable SQL store.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured database and runs migrations. Supported
// drivers: "sqlite", "postgres", "mysql". For sqlite, dsn is a directory
// (empty for in-memory); for the others it is a full DSN.
func Open(driver, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		db, err = openSQLite(dsn)
	case "postgres":
		db, err = sqlx.Connect("pgx", dsn)
	case "mysql":
		db, err = sqlx.Connect("mysql", dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}
	return s, nil
}

func openSQLite(dataDir string) (*sqlx.DB, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "gatekeeper.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isDuplicateErr reports whether err is a uniqueness violation, across the
// three supported drivers.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "constraint failed")
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// CreateTenant inserts a new tenant. Returns ErrDuplicate when the name is
// taken.
func (s *Store) CreateTenant(ctx context.Context, name string) (*model.Tenant, error) {
	t := &model.Tenant{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	q := s.db.Rebind(`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, t.ID, t.Name, t.CreatedAt); err != nil {
		if isDuplicateErr(err) {
			return nil, fmt.Errorf("tenant %q: %w", name, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	return t, nil
}

// GetTenant fetches a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var t model.Tenant
	q := s.db.Rebind(`SELECT id, name, created_at FROM tenants WHERE id = ?`)
	if err := s.db.GetContext(ctx, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by creation time.
func (s *Store) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	if err := s.db.SelectContext(ctx, &tenants,
		`SELECT id, name, created_at FROM tenants ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

type apiKeyRow struct {
	ID         uuid.UUID    `db:"id"`
	TenantID   uuid.UUID    `db:"tenant_id"`
	KeyHash    string       `db:"key_hash"`
	KeyPrefix  string       `db:"key_prefix"`
	RateLimit  int          `db:"rate_limit"`
	RateWindow int          `db:"rate_window"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
	CreatedAt  time.Time    `db:"created_at"`
}

func (r apiKeyRow) toModel() *model.APIKey {
	k := &model.APIKey{
		ID:         r.ID,
		TenantID:   r.TenantID,
		KeyHash:    r.KeyHash,
		KeyPrefix:  r.KeyPrefix,
		RateLimit:  r.RateLimit,
		RateWindow: r.RateWindow,
		CreatedAt:  r.CreatedAt,
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		k.RevokedAt = &t
	}
	return k
}

// CreateAPIKey inserts a new key record. The caller supplies the hash and
// prefix; the raw key never reaches the store.
func (s *Store) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, keyHash, keyPrefix string, rateLimit, rateWindow int) (*model.APIKey, error) {
	k := &model.APIKey{
		ID:         uuid.New(),
		TenantID:   tenantID,
		KeyHash:    keyHash,
		KeyPrefix:  keyPrefix,
		RateLimit:  rateLimit,
		RateWindow: rateWindow,
		CreatedAt:  time.Now().UTC(),
	}

	q := s.db.Rebind(`INSERT INTO api_keys
		(id, tenant_id, key_hash, key_prefix, rate_limit, rate_window, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q,
		k.ID, k.TenantID, k.KeyHash, k.KeyPrefix, k.RateLimit, k.RateWindow, k.CreatedAt); err != nil {
		if isDuplicateErr(err) {
			return nil, fmt.Errorf("api key hash collision: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

// GetAPIKeyByHash looks up a key by its hash. This is the key directory
// lookup on the request path: it is never cached, so a revocation is
// observed on the very next call.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind(`SELECT id, tenant_id, key_hash, key_prefix, rate_limit, rate_window, revoked_at, created_at
		FROM api_keys WHERE key_hash = ?`)
	if err := s.db.GetContext(ctx, &row, q, keyHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return row.toModel(), nil
}

// GetAPIKey fetches a key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind(`SELECT id, tenant_id, key_hash, key_prefix, rate_limit, rate_window, revoked_at, created_at
		FROM api_keys WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return row.toModel(), nil
}

// ListAPIKeys returns all keys for a tenant.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*model.APIKey, error) {
	var rows []apiKeyRow
	q := s.db.Rebind(`SELECT id, tenant_id, key_hash, key_prefix, rate_limit, rate_window, revoked_at, created_at
		FROM api_keys WHERE tenant_id = ? ORDER BY created_at`)
	if err := s.db.SelectContext(ctx, &rows, q, tenantID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	out := make([]*model.APIKey, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// RevokeAPIKey marks a key revoked. Revoking an already-revoked key reports
// alreadyRevoked=true and changes nothing.
func (s *Store) RevokeAPIKey(ctx context.Context, id uuid.UUID) (alreadyRevoked bool, err error) {
	k, err := s.GetAPIKey(ctx, id)
	if err != nil {
		return false, err
	}
	if k.Revoked() {
		return true, nil
	}

	q := s.db.Rebind(`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`)
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id); err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

// Admin is an operator account for the admin surface. Passwords are stored
// as bcrypt hashes.
type Admin struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// CreateAdmin inserts an operator account.
func (s *Store) CreateAdmin(ctx context.Context, email, passwordHash string) (*Admin, error) {
	a := &Admin{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	q := s.db.Rebind(`INSERT INTO admins (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, a.ID, a.Email, a.PasswordHash, a.CreatedAt); err != nil {
		if isDuplicateErr(err) {
			return nil, fmt.Errorf("admin %q: %w", email, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert admin: %w", err)
	}
	return a, nil
}

// GetAdminByEmail fetches an operator account.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*Admin, error) {
	var a Admin
	q := s.db.Rebind(`SELECT id, email, password_hash, created_at FROM admins WHERE email = ?`)
	if err := s.db.GetContext(ctx, &a, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &a, nil
}

// ListAdmins returns all operator accounts ordered by creation time.
func (s *Store) ListAdmins(ctx context.Context) ([]Admin, error) {
	var admins []Admin
	if err := s.db.SelectContext(ctx, &admins,
		`SELECT id, email, password_hash, created_at FROM admins ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one operator account exists.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM admins`); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return n > 0, nil
}
