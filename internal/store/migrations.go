package store

import (
	"context"
	"fmt"

	"github.com/ubiwhere/keygate/internal/model"
)

// migrate creates the keygate schema and seeds the operations reference
// table. Statements are idempotent: "already exists" errors are no-ops so
// the loop can run on every startup.
func (s *Store) migrate() error {
	d := s.dialect

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE api_keys (
			id %s,
			name %s NOT NULL,
			prefix %s NOT NULL,
			public_id %s NOT NULL UNIQUE,
			hashed_secret %s NOT NULL,
			expires_at %s NULL,
			created_at %s NOT NULL,
			last_seen %s NULL
		)`, d.identityPK, d.str, d.str, d.str, d.str, d.timestamp, d.timestamp, d.timestamp),

		fmt.Sprintf(`CREATE TABLE resource_types (
			id %s,
			name %s NOT NULL UNIQUE,
			label %s NOT NULL,
			created_at %s NOT NULL
		)`, d.identityPK, d.str, d.str, d.timestamp),

		fmt.Sprintf(`CREATE TABLE operations (
			id %s,
			name %s NOT NULL UNIQUE
		)`, d.identityPK, d.str),

		fmt.Sprintf(`CREATE TABLE scope_grants (
			id %s,
			api_key_id BIGINT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
			resource_type_id BIGINT NOT NULL REFERENCES resource_types(id) ON DELETE CASCADE
		)`, d.identityPK),

		`CREATE TABLE scope_grant_operations (
			scope_grant_id BIGINT NOT NULL REFERENCES scope_grants(id) ON DELETE CASCADE,
			operation_id BIGINT NOT NULL REFERENCES operations(id)
		)`,

		fmt.Sprintf(`CREATE TABLE api_key_log_events (
			id %s,
			api_key_id BIGINT NOT NULL,
			endpoint %s NOT NULL,
			operation %s NOT NULL,
			headers %s NULL,
			meta %s NULL,
			body %s NULL,
			created_at %s NOT NULL
		)`, d.identityPK, d.str, d.str, d.text, d.text, d.text, d.timestamp),

		fmt.Sprintf(`CREATE TABLE admins (
			id %s,
			email %s NOT NULL UNIQUE,
			password_hash %s NOT NULL,
			name %s NOT NULL,
			is_active %s NOT NULL,
			is_super_admin %s NOT NULL,
			last_login_at %s NULL,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, d.identityPK, d.str, d.str, d.str, boolType(d), boolType(d), d.timestamp, d.timestamp, d.timestamp),

		fmt.Sprintf(`CREATE TABLE settings (
			key_name %s NOT NULL,
			value %s NOT NULL
		)`, d.str, d.text),

		`CREATE UNIQUE INDEX idx_settings_key ON settings(key_name)`,
		`CREATE INDEX idx_api_keys_lookup ON api_keys(prefix, public_id)`,
		`CREATE INDEX idx_scope_grants_key ON scope_grants(api_key_id)`,
		`CREATE INDEX idx_log_events_key ON api_key_log_events(api_key_id)`,
		`CREATE INDEX idx_log_events_created ON api_key_log_events(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if isAlreadyExistsErr(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return s.seedOperations()
}

// boolType returns the column type used for booleans; not every backend has
// a native BOOLEAN.
func boolType(d dialect) string {
	switch d.name {
	case "postgres":
		return "BOOLEAN"
	case "mssql":
		return "BIT"
	case "oracle":
		return "NUMBER(1)"
	default:
		return "INTEGER"
	}
}

// seedOperations inserts the four CRUD operations. Their presence is a
// system invariant the authorizer depends on; reseeding is idempotent.
func (s *Store) seedOperations() error {
	ctx := context.Background()
	for _, op := range model.Operations() {
		var count int
		q := s.db.Rebind("SELECT COUNT(*) FROM operations WHERE name = ?")
		if err := s.db.GetContext(ctx, &count, q, string(op)); err != nil {
			return fmt.Errorf("check operation %q: %w", op, err)
		}
		if count > 0 {
			continue
		}
		ins := s.db.Rebind("INSERT INTO operations (name) VALUES (?)")
		if _, err := s.db.ExecContext(ctx, ins, string(op)); err != nil {
			if isDuplicateErr(err) {
				continue
			}
			return fmt.Errorf("seed operation %q: %w", op, err)
		}
	}
	return nil
}
