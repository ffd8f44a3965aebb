package store

// sqliteSchema mirrors migrations/000001_init.up.sql for SQLite.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT,
		username TEXT,
		derived_key TEXT,
		salt TEXT,
		iterations INTEGER NOT NULL DEFAULT 0,
		verification_code TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		roles TEXT,
		timestamp_created DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS prefs_safes (
		id TEXT PRIMARY KEY,
		safe_type TEXT NOT NULL CHECK (safe_type IN ('snapset', 'user')),
		name TEXT,
		email TEXT,
		password TEXT,
		preferences TEXT,
		timestamp_created DATETIME NOT NULL,
		timestamp_updated DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS prefs_safes_keys (
		id TEXT PRIMARY KEY,
		prefs_safe_id TEXT NOT NULL REFERENCES prefs_safes(id) ON DELETE CASCADE,
		revoked INTEGER NOT NULL DEFAULT 0,
		revoked_reason TEXT,
		timestamp_created DATETIME NOT NULL,
		timestamp_revoked DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS cloud_safe_credentials (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		prefs_safe_id TEXT NOT NULL REFERENCES prefs_safes(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS app_installation_clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
		access_type TEXT NOT NULL CHECK (access_type IN ('public', 'private', 'sharedByTrustedParties')),
		timestamp_created DATETIME NOT NULL,
		timestamp_revoked DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS client_credentials (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES app_installation_clients(id) ON DELETE CASCADE,
		oauth2_client_id TEXT NOT NULL UNIQUE,
		oauth2_client_secret TEXT NOT NULL,
		is_create_gpii_key_allowed INTEGER NOT NULL DEFAULT 0,
		is_create_prefs_safe_allowed INTEGER NOT NULL DEFAULT 0,
		allowed_ip_blocks TEXT,
		revoked INTEGER NOT NULL DEFAULT 0,
		revoked_reason TEXT,
		timestamp_created DATETIME NOT NULL,
		timestamp_revoked DATETIME
	);`,
	`CREATE TABLE IF NOT EXISTS app_installation_authorizations (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES app_installation_clients(id) ON DELETE CASCADE,
		user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
		prefs_safes_key TEXT,
		client_credential_id TEXT NOT NULL REFERENCES client_credentials(id) ON DELETE CASCADE,
		access_token TEXT NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		revoked_reason TEXT,
		timestamp_created DATETIME NOT NULL,
		timestamp_revoked DATETIME,
		timestamp_expires DATETIME NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS app_installation_authorizations_live_token
		ON app_installation_authorizations(access_token) WHERE revoked = 0;`,
	`CREATE TABLE IF NOT EXISTS app_sso_providers (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		client_id TEXT NOT NULL,
		client_secret TEXT NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		timestamp_created DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sso_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		provider_user_id TEXT NOT NULL,
		user_info TEXT,
		timestamp_created DATETIME NOT NULL,
		timestamp_updated DATETIME,
		UNIQUE (provider, provider_user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS sso_access_tokens (
		id TEXT PRIMARY KEY,
		sso_account_id TEXT NOT NULL REFERENCES sso_accounts(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		login_token TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		timestamp_created DATETIME NOT NULL,
		timestamp_updated DATETIME
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sso_access_tokens_live_account
		ON sso_access_tokens(sso_account_id, provider) WHERE revoked = 0;`,
}
