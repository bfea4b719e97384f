package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const connectionColumns = `
	id, yacht_id, user_principal_name, access_token_encrypted,
	refresh_token_encrypted, token_expires_at, sync_enabled,
	selected_folders, created_at, last_sync_at`

func scanConnection(row pgx.Row) (*Connection, error) {
	conn := &Connection{}
	var foldersJSON []byte

	err := row.Scan(
		&conn.ID, &conn.YachtID, &conn.UserPrincipalName,
		&conn.AccessTokenEncrypted, &conn.RefreshTokenEncrypted,
		&conn.TokenExpiresAt, &conn.SyncEnabled, &foldersJSON,
		&conn.CreatedAt, &conn.LastSyncAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(foldersJSON) > 0 {
		if err := json.Unmarshal(foldersJSON, &conn.SelectedFolders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selected folders: %w", err)
		}
	}

	return conn, nil
}

// UpsertConnection inserts a connection or, if one already exists for the
// (yacht, user) pair, replaces its tokens and re-enables sync. This is the
// re-auth path: the row is updated in place, never duplicated.
func (db *DB) UpsertConnection(ctx context.Context, yachtID, userPrincipalName, accessEnc, refreshEnc string, expiresAt time.Time) (*Connection, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO onedrive_connections (
			yacht_id, user_principal_name, access_token_encrypted,
			refresh_token_encrypted, token_expires_at, sync_enabled
		) VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (yacht_id, user_principal_name) DO UPDATE SET
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
			token_expires_at = EXCLUDED.token_expires_at,
			sync_enabled = TRUE
		RETURNING `+connectionColumns,
		yachtID, userPrincipalName, accessEnc, refreshEnc, expiresAt,
	)

	return scanConnection(row)
}

// GetConnection retrieves a connection by ID. Returns nil if not found.
func (db *DB) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM onedrive_connections WHERE id = $1`, id)
	return scanConnection(row)
}

// GetActiveConnection returns the first sync-enabled connection for a yacht,
// or nil if the yacht has none.
func (db *DB) GetActiveConnection(ctx context.Context, yachtID string) (*Connection, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+connectionColumns+`
		FROM onedrive_connections
		WHERE yacht_id = $1 AND sync_enabled = TRUE
		ORDER BY created_at
		LIMIT 1`, yachtID)
	return scanConnection(row)
}

// UpdateConnectionTokens stores freshly encrypted tokens and the new expiry.
func (db *DB) UpdateConnectionTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE onedrive_connections SET
			access_token_encrypted = $2,
			refresh_token_encrypted = $3,
			token_expires_at = $4
		WHERE id = $1`,
		id, accessEnc, refreshEnc, expiresAt,
	)
	return err
}

// UpdateSelectedFolders replaces the folder list chosen for syncing.
func (db *DB) UpdateSelectedFolders(ctx context.Context, id uuid.UUID, folders []string) error {
	foldersJSON, err := json.Marshal(folders)
	if err != nil {
		return fmt.Errorf("failed to marshal selected folders: %w", err)
	}

	_, err = db.Pool.Exec(ctx,
		`UPDATE onedrive_connections SET selected_folders = $2 WHERE id = $1`,
		id, foldersJSON)
	return err
}

// UpdateLastSync stamps the connection's last successful sync time.
func (db *DB) UpdateLastSync(ctx context.Context, id uuid.UUID, t time.Time) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE onedrive_connections SET last_sync_at = $2 WHERE id = $1`, id, t)
	return err
}

// DeleteConnection removes a connection. Jobs and file states cascade at
// the database level.
func (db *DB) DeleteConnection(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM onedrive_connections WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
