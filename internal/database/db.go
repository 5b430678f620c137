// internal/database/db.go
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database wraps the SQLite database connection
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS provider_configs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		base_url TEXT,
		model TEXT,
		api_key TEXT,
		temperature REAL DEFAULT 0,
		max_tokens INTEGER DEFAULT 0,
		is_active INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_states (
		session_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL DEFAULT 'normal',
		auto_run INTEGER DEFAULT 0,
		current_task_id TEXT,
		last_error TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_provider_configs_active ON provider_configs(is_active);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SaveProviderConfig saves or updates a provider config
func (d *Database) SaveProviderConfig(cfg *ProviderConfig) error {
	now := time.Now()
	cfg.UpdatedAt = now
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}

	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO provider_configs
		(id, kind, name, base_url, model, api_key, temperature, max_tokens, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Kind, cfg.Name, cfg.BaseURL, cfg.Model, cfg.APIKey,
		cfg.Temperature, cfg.MaxTokens, cfg.IsActive, cfg.CreatedAt, cfg.UpdatedAt)
	return err
}

// GetProviderConfig returns one provider config by id
func (d *Database) GetProviderConfig(id string) (*ProviderConfig, error) {
	row := d.db.QueryRow(`
		SELECT id, kind, name, base_url, model, api_key, temperature, max_tokens, is_active, created_at, updated_at
		FROM provider_configs WHERE id = ?`, id)
	return scanProviderConfig(row)
}

// GetAllProviderConfigs returns all provider configs
func (d *Database) GetAllProviderConfigs() ([]*ProviderConfig, error) {
	rows, err := d.db.Query(`
		SELECT id, kind, name, base_url, model, api_key, temperature, max_tokens, is_active, created_at, updated_at
		FROM provider_configs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*ProviderConfig
	for rows.Next() {
		var cfg ProviderConfig
		if err := rows.Scan(&cfg.ID, &cfg.Kind, &cfg.Name, &cfg.BaseURL, &cfg.Model, &cfg.APIKey,
			&cfg.Temperature, &cfg.MaxTokens, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, err
		}
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// DeleteProviderConfig removes a provider config
func (d *Database) DeleteProviderConfig(id string) error {
	_, err := d.db.Exec(`DELETE FROM provider_configs WHERE id = ?`, id)
	return err
}

// SetActiveProvider marks one provider config active and clears the
// flag on all others
func (d *Database) SetActiveProvider(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE provider_configs SET is_active = 0`); err != nil {
		return err
	}
	res, err := tx.Exec(`UPDATE provider_configs SET is_active = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("provider config %s not found", id)
	}
	return tx.Commit()
}

// GetActiveProvider returns the active provider config, or nil
func (d *Database) GetActiveProvider() (*ProviderConfig, error) {
	row := d.db.QueryRow(`
		SELECT id, kind, name, base_url, model, api_key, temperature, max_tokens, is_active, created_at, updated_at
		FROM provider_configs WHERE is_active = 1 LIMIT 1`)
	cfg, err := scanProviderConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cfg, err
}

func scanProviderConfig(row *sql.Row) (*ProviderConfig, error) {
	var cfg ProviderConfig
	err := row.Scan(&cfg.ID, &cfg.Kind, &cfg.Name, &cfg.BaseURL, &cfg.Model, &cfg.APIKey,
		&cfg.Temperature, &cfg.MaxTokens, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveSessionState saves or updates a session's planner state
func (d *Database) SaveSessionState(state *SessionState) error {
	if state.Mode == "" {
		state.Mode = ModeNormal
	}
	switch state.Mode {
	case ModeNormal, ModePlan, ModeSpec:
	default:
		return fmt.Errorf("unknown session mode %q", state.Mode)
	}
	state.UpdatedAt = time.Now()

	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO session_states
		(session_id, mode, auto_run, current_task_id, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.SessionID, state.Mode, state.AutoRun, state.CurrentTaskID, state.LastError, state.UpdatedAt)
	return err
}

// GetSessionState returns a session's planner state. Unknown sessions
// get a fresh normal-mode state.
func (d *Database) GetSessionState(sessionID string) (*SessionState, error) {
	row := d.db.QueryRow(`
		SELECT session_id, mode, auto_run, current_task_id, last_error, updated_at
		FROM session_states WHERE session_id = ?`, sessionID)

	var s SessionState
	var currentTaskID, lastError sql.NullString
	err := row.Scan(&s.SessionID, &s.Mode, &s.AutoRun, &currentTaskID, &lastError, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return &SessionState{SessionID: sessionID, Mode: ModeNormal}, nil
	}
	if err != nil {
		return nil, err
	}
	s.CurrentTaskID = currentTaskID.String
	s.LastError = lastError.String
	return &s, nil
}

// SaveSetting stores a key-value setting
func (d *Database) SaveSetting(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)`, key, value, time.Now())
	return err
}

// GetSetting returns a setting value, or empty when unset
func (d *Database) GetSetting(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
