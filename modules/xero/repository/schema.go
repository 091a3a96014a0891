package repository

// Schema is applied by the migrate command. Statements are idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS xero_integration_configs (
		company_id              BIGINT PRIMARY KEY,
		client_id               TEXT NOT NULL,
		client_secret_encrypted TEXT NOT NULL,
		callback_url            TEXT NOT NULL,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS xero_token_sets (
		company_id    BIGINT PRIMARY KEY REFERENCES xero_integration_configs (company_id) ON DELETE CASCADE,
		access_token  TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_xero_token_sets_expires_at ON xero_token_sets (expires_at)`,
	`CREATE TABLE IF NOT EXISTS xero_auth_states (
		state      TEXT PRIMARY KEY,
		company_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_xero_auth_states_created_at ON xero_auth_states (created_at)`,
}
