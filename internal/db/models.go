package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
)

// Job statuses
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Per-file sync statuses
const (
	FilePending   = "pending"
	FileSyncing   = "syncing"
	FileCompleted = "completed"
	FileFailed    = "failed"
)

// Connection is an authorized OneDrive link for a yacht.
// Unique per (yacht_id, user_principal_name).
type Connection struct {
	ID                    uuid.UUID  `db:"id"`
	YachtID               string     `db:"yacht_id"`
	UserPrincipalName     string     `db:"user_principal_name"`
	AccessTokenEncrypted  string     `db:"access_token_encrypted"`
	RefreshTokenEncrypted string     `db:"refresh_token_encrypted"`
	TokenExpiresAt        time.Time  `db:"token_expires_at"`
	SyncEnabled           bool       `db:"sync_enabled"`
	SelectedFolders       []string   `db:"selected_folders"`
	CreatedAt             time.Time  `db:"created_at"`
	LastSyncAt            *time.Time `db:"last_sync_at"`
}

// SyncJob tracks one batch sync run for a connection. Terminal once
// completed or failed; a new sync creates a new job.
type SyncJob struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ConnectionID   uuid.UUID  `db:"connection_id" json:"connection_id"`
	YachtID        string     `db:"yacht_id" json:"yacht_id"`
	Status         string     `db:"job_status" json:"status"`
	TotalFiles     int        `db:"total_files_found" json:"total_files_found"`
	FilesSucceeded int        `db:"files_succeeded" json:"files_succeeded"`
	FilesFailed    int        `db:"files_failed" json:"files_failed"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// FileState is the per-file sync record. Unique per (connection_id, item_id);
// subsequent syncs of the same OneDrive item update the row in place.
type FileState struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	ConnectionID uuid.UUID          `db:"connection_id" json:"connection_id"`
	YachtID      string             `db:"yacht_id" json:"yacht_id"`
	ItemID       string             `db:"onedrive_item_id" json:"onedrive_item_id"`
	Path         string             `db:"onedrive_path" json:"path"`
	FileName     string             `db:"file_name" json:"file_name"`
	FileSize     int64              `db:"file_size" json:"file_size"`
	ETag         string             `db:"onedrive_etag" json:"etag,omitempty"`
	Status       string             `db:"sync_status" json:"status"`
	DocID        *uuid.UUID         `db:"doc_id" json:"doc_id,omitempty"`
	Metadata     *classify.Metadata `db:"extracted_metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}
