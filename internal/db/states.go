package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
)

const stateColumns = `
	id, connection_id, yacht_id, onedrive_item_id, onedrive_path,
	file_name, file_size, onedrive_etag, sync_status, doc_id,
	extracted_metadata, created_at, updated_at`

func scanFileState(row pgx.Row) (*FileState, error) {
	st := &FileState{}
	var etag *string
	var metaJSON []byte

	err := row.Scan(
		&st.ID, &st.ConnectionID, &st.YachtID, &st.ItemID, &st.Path,
		&st.FileName, &st.FileSize, &etag, &st.Status, &st.DocID,
		&metaJSON, &st.CreatedAt, &st.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if etag != nil {
		st.ETag = *etag
	}
	if len(metaJSON) > 0 {
		st.Metadata = &classify.Metadata{}
		if err := json.Unmarshal(metaJSON, st.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extracted metadata: %w", err)
		}
	}

	return st, nil
}

// GetFileState looks up the sync record for a OneDrive item on a connection.
// Returns nil if the item has never been seen.
func (db *DB) GetFileState(ctx context.Context, connectionID uuid.UUID, itemID string) (*FileState, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+stateColumns+`
		FROM onedrive_sync_state
		WHERE connection_id = $1 AND onedrive_item_id = $2`,
		connectionID, itemID)
	return scanFileState(row)
}

// UpsertFileState creates or refreshes the record for an item, keyed by
// (connection_id, onedrive_item_id), and returns the stored row.
func (db *DB) UpsertFileState(ctx context.Context, st *FileState) (*FileState, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO onedrive_sync_state (
			connection_id, yacht_id, onedrive_item_id, onedrive_path,
			file_name, file_size, onedrive_etag, sync_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connection_id, onedrive_item_id) DO UPDATE SET
			onedrive_path = EXCLUDED.onedrive_path,
			file_name = EXCLUDED.file_name,
			file_size = EXCLUDED.file_size,
			onedrive_etag = EXCLUDED.onedrive_etag,
			sync_status = EXCLUDED.sync_status,
			updated_at = NOW()
		RETURNING `+stateColumns,
		st.ConnectionID, st.YachtID, st.ItemID, st.Path,
		st.FileName, st.FileSize, nullable(st.ETag), st.Status,
	)
	return scanFileState(row)
}

// SetFileStateStatus updates only the sync status of a record.
func (db *DB) SetFileStateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE onedrive_sync_state
		SET sync_status = $2, updated_at = NOW()
		WHERE id = $1`, id, status)
	return err
}

// SetFileStateMetadata persists the path classification on a record.
func (db *DB) SetFileStateMetadata(ctx context.Context, id uuid.UUID, meta *classify.Metadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted metadata: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE onedrive_sync_state
		SET extracted_metadata = $2, updated_at = NOW()
		WHERE id = $1`, id, metaJSON)
	return err
}

// SetFileStateDoc records the downstream document reference returned by the
// digest service.
func (db *DB) SetFileStateDoc(ctx context.Context, id uuid.UUID, docID uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE onedrive_sync_state
		SET doc_id = $2, updated_at = NOW()
		WHERE id = $1`, id, docID)
	return err
}

// ListFileStates returns recent file records for a connection, optionally
// filtered by status.
func (db *DB) ListFileStates(ctx context.Context, connectionID uuid.UUID, status string, limit int) ([]*FileState, error) {
	query := `
		SELECT ` + stateColumns + `
		FROM onedrive_sync_state
		WHERE connection_id = $1`
	args := []any{connectionID}

	if status != "" {
		query += ` AND sync_status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*FileState
	for rows.Next() {
		st, err := scanFileState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
