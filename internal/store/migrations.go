package store

import (
	"fmt"
	"strings"
)

// migrate applies the schema. Statements are idempotent so reruns are safe;
// the DDL sticks to the dialect intersection of SQLite, Postgres, and MySQL.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(200) UNIQUE NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(36) PRIMARY KEY,
			tenant_id VARCHAR(36) NOT NULL REFERENCES tenants(id),
			key_hash VARCHAR(64) UNIQUE NOT NULL,
			key_prefix VARCHAR(16) NOT NULL,
			rate_limit INTEGER NOT NULL DEFAULT 10,
			rate_window INTEGER NOT NULL DEFAULT 60,
			revoked_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(100) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS usage_records (
			request_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(36) NULL,
			key_id VARCHAR(36) NULL,
			client_ip VARCHAR(64) NOT NULL,
			method VARCHAR(16) NOT NULL,
			endpoint VARCHAR(512) NOT NULL,
			status INTEGER NOT NULL,
			latency_ms BIGINT NOT NULL,
			user_agent VARCHAR(512) NOT NULL,
			ts TIMESTAMP NOT NULL
		)`,

		// MySQL has no IF NOT EXISTS for indexes, so index creation relies
		// on the duplicate-error check below instead.
		`CREATE INDEX idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX idx_usage_tenant_ts ON usage_records(tenant_id, ts)`,
		`CREATE INDEX idx_usage_key ON usage_records(key_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(m, "CREATE INDEX") && isDuplicateIndexErr(err) {
				continue
			}
			return fmt.Errorf("apply migration: %w\n%s", err, m)
		}
	}
	return nil
}

func isDuplicateIndexErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}
