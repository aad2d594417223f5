package sqlrepo

// Schema creates the sessions and rotated_refresh_tokens tables. It expects
// oauth_states to exist.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                VARCHAR(64) PRIMARY KEY,
	user_id           BIGINT NOT NULL,
	refresh_token     VARCHAR(64) NOT NULL,
	csrf_token_hash   VARCHAR(64) NULL,
	ip_address        VARCHAR(64) NOT NULL DEFAULT '',
	user_agent        TEXT NOT NULL DEFAULT '',
	device_type       VARCHAR(32) NOT NULL DEFAULT '',
	browser           VARCHAR(64) NOT NULL DEFAULT '',
	os                VARCHAR(64) NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	last_activity_at  TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL,
	oauth_state_id    VARCHAR(64) NULL REFERENCES oauth_states (id) ON DELETE SET NULL,
	tokens_exchanged  BOOLEAN NOT NULL DEFAULT FALSE,
	token_family_id   VARCHAR(64) NOT NULL,
	rotation_count    INTEGER NOT NULL DEFAULT 0,
	last_rotation_at  TIMESTAMPTZ NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_token_family_id ON sessions (token_family_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at);

CREATE TABLE IF NOT EXISTS rotated_refresh_tokens (
	hashed_token               VARCHAR(64) PRIMARY KEY,
	token_family_id            VARCHAR(64) NOT NULL,
	rotation_count_at_rotation INTEGER NOT NULL,
	created_at                 TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rotated_refresh_tokens_family ON rotated_refresh_tokens (token_family_id);
`
