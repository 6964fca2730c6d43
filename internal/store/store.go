// Package store persists keygate's state: API keys, scope grants, the
// resource type catalog, usage log events, and admin accounts. It speaks to
// one of five SQL backends through sqlx; SQLite is the zero-config default.
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

	"github.com/jmoiron/sqlx"

	"github.com/ubiwhere/keygate/internal/model"
)

// Store manages keygate's database state.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// Open connects to the configured backend and runs migrations. An empty
// driver defaults to sqlite; for sqlite an empty DSN means in-memory.
func Open(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	if d.name == "sqlite" {
		if dsn == "" {
			dsn = ":memory:?_journal_mode=WAL"
		}
	}

	db, err := sqlx.Connect(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", d.name, err)
	}

	s := &Store{db: db, dialect: d}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate %s store: %w", d.name, err)
	}
	return s, nil
}

// OpenDefault opens the default SQLite store under dataDir. Pass empty
// string for in-memory.
func OpenDefault(dataDir string) (*Store, error) {
	if dataDir == "" {
		return Open("sqlite", "")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	return Open("sqlite", dsn)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database reachability, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// insertID runs an INSERT of the form "INSERT INTO t (cols) VALUES (?, ...)"
// and returns the assigned id using the backend's strategy.
func (s *Store) insertID(ctx context.Context, q string, args ...interface{}) (int64, error) {
	var id int64
	switch s.dialect.returning {
	case "returning":
		query := s.db.Rebind(q + " RETURNING id")
		if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	case "output":
		query := s.db.Rebind(strings.Replace(q, " VALUES", " OUTPUT INSERTED.id VALUES", 1))
		if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	case "returning_into":
		query := s.db.Rebind(q + " RETURNING id INTO :out")
		withOut := append(args, sql.Named("out", sql.Out{Dest: &id}))
		if _, err := s.db.ExecContext(ctx, query, withOut...); err != nil {
			return 0, err
		}
		return id, nil
	default:
		query := s.db.Rebind(q)
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The hashed_secret must already
// be set; the plaintext secret never reaches the store. The ID and CreatedAt
// fields are populated after insert. A public_id collision returns
// ErrDuplicate so the issuer can retry generation.
func (s *Store) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	k.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(name, prefix, public_id, hashed_secret, expires_at, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insertID(ctx, q,
		k.Name, k.Prefix, k.PublicID, k.HashedSecret, k.ExpiresAt, k.CreatedAt, k.LastSeen)
	if err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	k.ID = id
	return nil
}

// GetAPIKeyByPrefixAndPublicID looks up a key by the two non-secret parts of
// a presented credential. This is the verifier's single lookup.
func (s *Store) GetAPIKeyByPrefixAndPublicID(ctx context.Context, prefix, publicID string) (*model.APIKey, error) {
	var k model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE prefix = ? AND public_id = ?")
	if err := s.db.GetContext(ctx, &k, q, prefix, publicID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by public id: %w", err)
	}
	return &k, nil
}

// GetAPIKey returns a key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var k model.APIKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &k, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// DeleteAPIKey removes a key and, via cascade, its scope grants. This is an
// administrative operation; verification never deletes.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	q := s.db.Rebind("DELETE FROM api_keys WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastSeen sets the last_seen timestamp. Last-write-wins;
// concurrent verifications of the same key may race here and that is
// tolerated.
func (s *Store) UpdateAPIKeyLastSeen(ctx context.Context, id int64, t time.Time) error {
	q := s.db.Rebind("UPDATE api_keys SET last_seen = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, t.UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key last seen: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last seen rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Scope grants
// ---------------------------------------------------------------------------

// scopeGrantRow joins scope_grants with its resource type for scanning.
type scopeGrantRow struct {
	ID             int64  `db:"id"`
	APIKeyID       int64  `db:"api_key_id"`
	ResourceTypeID int64  `db:"resource_type_id"`
	ResourceType   string `db:"resource_type"`
}

// GetScopeGrants returns all grants for a key with their operations
// resolved. An empty result means the key is unrestricted.
func (s *Store) GetScopeGrants(ctx context.Context, apiKeyID int64) ([]model.ScopeGrant, error) {
	var rows []scopeGrantRow
	q := s.db.Rebind(`SELECT g.id, g.api_key_id, g.resource_type_id, r.name AS resource_type
		FROM scope_grants g
		JOIN resource_types r ON r.id = g.resource_type_id
		WHERE g.api_key_id = ?
		ORDER BY g.id`)
	if err := s.db.SelectContext(ctx, &rows, q, apiKeyID); err != nil {
		return nil, fmt.Errorf("list scope grants: %w", err)
	}

	grants := make([]model.ScopeGrant, 0, len(rows))
	for _, row := range rows {
		var ops []string
		oq := s.db.Rebind(`SELECT o.name FROM operations o
			JOIN scope_grant_operations sgo ON sgo.operation_id = o.id
			WHERE sgo.scope_grant_id = ?
			ORDER BY o.id`)
		if err := s.db.SelectContext(ctx, &ops, oq, row.ID); err != nil {
			return nil, fmt.Errorf("list grant operations: %w", err)
		}
		grant := model.ScopeGrant{
			ID:             row.ID,
			APIKeyID:       row.APIKeyID,
			ResourceTypeID: row.ResourceTypeID,
			ResourceType:   row.ResourceType,
		}
		for _, op := range ops {
			grant.Operations = append(grant.Operations, model.Operation(op))
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

// SetScopeGrants replaces all grants for a key in one transaction. Each
// grant names a resource type and the operations permitted on it.
func (s *Store) SetScopeGrants(ctx context.Context, apiKeyID int64, grants []model.ScopeGrant) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set scope grants: %w", err)
	}
	defer tx.Rollback()

	del := tx.Rebind("DELETE FROM scope_grants WHERE api_key_id = ?")
	if _, err := tx.ExecContext(ctx, del, apiKeyID); err != nil {
		return fmt.Errorf("clear scope grants: %w", err)
	}

	for _, g := range grants {
		resourceTypeID := g.ResourceTypeID
		if resourceTypeID == 0 && g.ResourceType != "" {
			rq := tx.Rebind("SELECT id FROM resource_types WHERE name = ?")
			if err := tx.GetContext(ctx, &resourceTypeID, rq, g.ResourceType); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("resource type %q: %w", g.ResourceType, ErrNotFound)
				}
				return fmt.Errorf("resolve resource type %q: %w", g.ResourceType, err)
			}
		}

		var grantID int64
		ins := "INSERT INTO scope_grants (api_key_id, resource_type_id) VALUES (?, ?)"
		grantID, err = s.insertIDTx(ctx, tx, ins, apiKeyID, resourceTypeID)
		if err != nil {
			return fmt.Errorf("insert scope grant: %w", err)
		}

		for _, op := range g.Operations {
			if _, ok := model.ParseOperation(string(op)); !ok {
				return fmt.Errorf("unknown operation %q", op)
			}
			oins := tx.Rebind(`INSERT INTO scope_grant_operations (scope_grant_id, operation_id)
				SELECT ?, id FROM operations WHERE name = ?`)
			if _, err := tx.ExecContext(ctx, oins, grantID, string(op)); err != nil {
				return fmt.Errorf("insert grant operation %q: %w", op, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scope grants: %w", err)
	}
	return nil
}

// insertIDTx is insertID within a transaction.
func (s *Store) insertIDTx(ctx context.Context, tx *sqlx.Tx, q string, args ...interface{}) (int64, error) {
	var id int64
	switch s.dialect.returning {
	case "returning":
		query := tx.Rebind(q + " RETURNING id")
		if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	case "output":
		query := tx.Rebind(strings.Replace(q, " VALUES", " OUTPUT INSERTED.id VALUES", 1))
		if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	case "returning_into":
		query := tx.Rebind(q + " RETURNING id INTO :out")
		withOut := append(args, sql.Named("out", sql.Out{Dest: &id}))
		if _, err := tx.ExecContext(ctx, query, withOut...); err != nil {
			return 0, err
		}
		return id, nil
	default:
		query := tx.Rebind(q)
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}
}

// ---------------------------------------------------------------------------
// Resource types
// ---------------------------------------------------------------------------

// CreateResourceType registers a resource kind in the catalog.
func (s *Store) CreateResourceType(ctx context.Context, rt *model.ResourceType) error {
	rt.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO resource_types (name, label, created_at) VALUES (?, ?, ?)`
	id, err := s.insertID(ctx, q, rt.Name, rt.Label, rt.CreatedAt)
	if err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert resource type: %w", err)
	}
	rt.ID = id
	return nil
}

// GetResourceTypeByName returns a catalog entry by its unique name.
func (s *Store) GetResourceTypeByName(ctx context.Context, name string) (*model.ResourceType, error) {
	var rt model.ResourceType
	q := s.db.Rebind("SELECT * FROM resource_types WHERE name = ?")
	if err := s.db.GetContext(ctx, &rt, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get resource type: %w", err)
	}
	return &rt, nil
}

// ListResourceTypes enumerates the catalog.
func (s *Store) ListResourceTypes(ctx context.Context) ([]model.ResourceType, error) {
	var types []model.ResourceType
	if err := s.db.SelectContext(ctx, &types, "SELECT * FROM resource_types ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list resource types: %w", err)
	}
	return types, nil
}

// DeleteResourceType removes a catalog entry and cascades to grants
// referencing it.
func (s *Store) DeleteResourceType(ctx context.Context, id int64) error {
	q := s.db.Rebind("DELETE FROM resource_types WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete resource type: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete resource type rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOperations returns the seeded CRUD operations.
func (s *Store) ListOperations(ctx context.Context) ([]model.Operation, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, "SELECT name FROM operations ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	ops := make([]model.Operation, len(names))
	for i, n := range names {
		ops[i] = model.Operation(n)
	}
	return ops, nil
}

// ---------------------------------------------------------------------------
// Usage log events
// ---------------------------------------------------------------------------

// InsertUsageEvent writes one audit record for a successful authentication.
func (s *Store) InsertUsageEvent(ctx context.Context, e *model.KeyUsageEvent) error {
	e.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_key_log_events
		(api_key_id, endpoint, operation, headers, meta, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	id, err := s.insertID(ctx, q,
		e.APIKeyID, e.Endpoint, e.Operation, e.Headers, e.Meta, e.Body, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	e.ID = id
	return nil
}

// ListUsageEvents returns the newest audit records for a key, capped at
// limit.
func (s *Store) ListUsageEvents(ctx context.Context, apiKeyID int64, limit int) ([]model.KeyUsageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var events []model.KeyUsageEvent
	q := s.db.Rebind(s.dialect.limitSelect(
		"SELECT * FROM api_key_log_events WHERE api_key_id = ? ORDER BY created_at DESC, id DESC", limit))
	if err := s.db.SelectContext(ctx, &events, q, apiKeyID); err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	return events, nil
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

// CreateAdmin inserts a new admin account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	const q = `INSERT INTO admins
		(email, password_hash, name, is_active, is_super_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	id, err := s.insertID(ctx, q,
		admin.Email, admin.PasswordHash, admin.Name, admin.IsActive, admin.IsSuperAdmin,
		admin.CreatedAt, admin.UpdatedAt)
	if err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert admin: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	q := s.db.Rebind("SELECT * FROM admins WHERE email = ?")
	if err := s.db.GetContext(ctx, &admin, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists, used for
// first-run detection.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	q := s.db.Rebind("UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, now, now, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update admin last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns a settings value, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	q := s.db.Rebind("SELECT value FROM settings WHERE key_name = ?")
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a settings value, replacing any existing one.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	del := s.db.Rebind("DELETE FROM settings WHERE key_name = ?")
	if _, err := s.db.ExecContext(ctx, del, key); err != nil {
		return fmt.Errorf("clear setting: %w", err)
	}
	ins := s.db.Rebind("INSERT INTO settings (key_name, value) VALUES (?, ?)")
	if _, err := s.db.ExecContext(ctx, ins, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
