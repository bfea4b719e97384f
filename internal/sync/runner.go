// Package sync orchestrates batch synchronization of OneDrive files into
// document storage and the ingestion pipeline.
package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/db"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/digest"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/graph"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/storage"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/token"
)

// Store is the persistence surface the runner needs.
type Store interface {
	CreateSyncJob(ctx context.Context, connectionID uuid.UUID, yachtID string) (*db.SyncJob, error)
	MarkJobRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	SetJobTotal(ctx context.Context, id uuid.UUID, total int) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, succeeded, failed int) error
	CompleteJob(ctx context.Context, id uuid.UUID, status string, completedAt time.Time) error
	GetFileState(ctx context.Context, connectionID uuid.UUID, itemID string) (*db.FileState, error)
	UpsertFileState(ctx context.Context, st *db.FileState) (*db.FileState, error)
	SetFileStateStatus(ctx context.Context, id uuid.UUID, status string) error
	SetFileStateMetadata(ctx context.Context, id uuid.UUID, meta *classify.Metadata) error
	SetFileStateDoc(ctx context.Context, id uuid.UUID, docID uuid.UUID) error
	UpdateLastSync(ctx context.Context, id uuid.UUID, t time.Time) error
}

// TokenSource yields a usable access token for a connection.
type TokenSource interface {
	GetAccessToken(ctx context.Context, connectionID uuid.UUID) (string, error)
}

// Source enumerates and downloads remote files.
type Source interface {
	EnumerateAll(ctx context.Context, folderPaths []string, recursive bool) ([]graph.File, error)
	Download(ctx context.Context, itemID string) ([]byte, error)
}

// Uploader writes document content to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*storage.UploadResult, error)
}

// Notifier announces a synced document to the ingestion pipeline.
type Notifier interface {
	Notify(ctx context.Context, payload *classify.DigestPayload, content io.Reader) (*uuid.UUID, error)
}

// Runner executes sync jobs. Files are processed sequentially so one
// tenant's sync never hammers the Graph API with parallel downloads.
type Runner struct {
	store      Store
	tokens     TokenSource
	objects    Uploader
	digest     Notifier
	classifier *classify.Classifier

	ignorePatterns []string

	// newSource is swappable in tests
	newSource func(accessToken string) Source

	// progress, when set, is invoked after every processed file
	progress func(done, total int)
}

// NewRunner wires a Runner against the real Graph API.
func NewRunner(store Store, tokens *token.Manager, objects *storage.Store, notifier *digest.Client, classifier *classify.Classifier, cfg *config.SyncConfig) *Runner {
	return &Runner{
		store:          store,
		tokens:         tokens,
		objects:        objects,
		digest:         notifier,
		classifier:     classifier,
		ignorePatterns: cfg.IgnorePatterns,
		newSource: func(accessToken string) Source {
			return graph.NewClient(graph.DefaultBaseURL, accessToken)
		},
	}
}

// SetProgress registers a per-file progress callback.
func (r *Runner) SetProgress(fn func(done, total int)) {
	r.progress = fn
}

// CreateJob registers a new pending job for the connection. Callers hand
// the job to Run; splitting the two lets the API return the job id before
// the run starts.
func (r *Runner) CreateJob(ctx context.Context, conn *db.Connection) (*db.SyncJob, error) {
	job, err := r.store.CreateSyncJob(ctx, conn.ID, conn.YachtID)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}
	return job, nil
}

// Run executes one sync job to completion. Per-file failures are recorded
// and counted but never abort the batch; the job only ends up failed when
// the run cannot start at all (token refresh or enumeration failure).
func (r *Runner) Run(ctx context.Context, conn *db.Connection, job *db.SyncJob) error {
	start := time.Now()

	if err := r.store.MarkJobRunning(ctx, job.ID, start.UTC()); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	accessToken, err := r.tokens.GetAccessToken(ctx, conn.ID)
	if err != nil {
		r.failJob(ctx, job.ID)
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	source := r.newSource(accessToken)

	folders := conn.SelectedFolders
	if len(folders) == 0 {
		folders = []string{""} // whole drive
	}
	files, err := source.EnumerateAll(ctx, folders, true)
	if err != nil {
		r.failJob(ctx, job.ID)
		return fmt.Errorf("failed to enumerate files: %w", err)
	}

	files = r.filterIgnored(files)

	if err := r.store.SetJobTotal(ctx, job.ID, len(files)); err != nil {
		r.failJob(ctx, job.ID)
		return fmt.Errorf("failed to record job total: %w", err)
	}

	slog.Info("sync started",
		"job_id", job.ID,
		"yacht_id", conn.YachtID,
		"total_files", len(files))

	succeeded, failed := 0, 0
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			r.failJob(ctx, job.ID)
			return fmt.Errorf("sync interrupted: %w", err)
		}

		if err := r.syncFile(ctx, source, conn, file); err != nil {
			slog.Error("file sync failed",
				"job_id", job.ID,
				"path", file.Path,
				"error", err)
			failed++
		} else {
			succeeded++
		}

		// Counters persist after every file so a crash loses at most one.
		if err := r.store.UpdateJobProgress(ctx, job.ID, succeeded, failed); err != nil {
			slog.Warn("failed to persist job progress", "job_id", job.ID, "error", err)
		}
		if r.progress != nil {
			r.progress(i+1, len(files))
		}
	}

	now := time.Now().UTC()
	if err := r.store.CompleteJob(ctx, job.ID, db.JobCompleted, now); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if err := r.store.UpdateLastSync(ctx, conn.ID, now); err != nil {
		slog.Warn("failed to update last sync time", "connection_id", conn.ID, "error", err)
	}

	slog.Info("sync completed",
		"job_id", job.ID,
		"yacht_id", conn.YachtID,
		"succeeded", succeeded,
		"failed", failed,
		"duration_s", time.Since(start).Seconds())

	return nil
}

// syncFile processes a single file: dedup check, download, classify,
// upload, digest notification, state bookkeeping.
func (r *Runner) syncFile(ctx context.Context, source Source, conn *db.Connection, file graph.File) error {
	existing, err := r.store.GetFileState(ctx, conn.ID, file.ID)
	if err != nil {
		return fmt.Errorf("failed to load file state: %w", err)
	}
	// Unchanged and previously completed: nothing to do. Failed rows are
	// always retried regardless of etag.
	if existing != nil && existing.Status == db.FileCompleted && existing.ETag == file.ETag {
		slog.Debug("file unchanged, skipping", "path", file.Path)
		return nil
	}

	st, err := r.store.UpsertFileState(ctx, &db.FileState{
		ConnectionID: conn.ID,
		YachtID:      conn.YachtID,
		ItemID:       file.ID,
		Path:         file.Path,
		FileName:     file.Name,
		FileSize:     file.Size,
		ETag:         file.ETag,
		Status:       db.FileSyncing,
	})
	if err != nil {
		return fmt.Errorf("failed to record file state: %w", err)
	}

	meta := r.classifier.Classify(file.Path)
	if err := r.store.SetFileStateMetadata(ctx, st.ID, &meta); err != nil {
		slog.Warn("failed to persist metadata", "path", file.Path, "error", err)
	}

	content, err := source.Download(ctx, file.ID)
	if err != nil {
		r.markFailed(ctx, st.ID)
		return fmt.Errorf("failed to download: %w", err)
	}

	key := storage.ObjectKey(conn.YachtID, meta.SystemPath, file.Name)
	if _, err := r.objects.Upload(ctx, key, bytes.NewReader(content), int64(len(content)), file.MimeType); err != nil {
		r.markFailed(ctx, st.ID)
		return fmt.Errorf("failed to upload: %w", err)
	}

	payload := r.classifier.FormatForDigest(file.Path, file.Name, conn.YachtID)
	docID, err := r.digest.Notify(ctx, &payload, bytes.NewReader(content))
	if err != nil {
		r.markFailed(ctx, st.ID)
		return fmt.Errorf("failed to notify digest service: %w", err)
	}
	if docID != nil {
		if err := r.store.SetFileStateDoc(ctx, st.ID, *docID); err != nil {
			slog.Warn("failed to persist doc id", "path", file.Path, "error", err)
		}
	}

	if err := r.store.SetFileStateStatus(ctx, st.ID, db.FileCompleted); err != nil {
		return fmt.Errorf("failed to mark file completed: %w", err)
	}

	slog.Info("file synced",
		"path", file.Path,
		"doc_type", meta.DocType,
		"system_tag", meta.SystemTag,
		"size", file.Size)
	return nil
}

func (r *Runner) markFailed(ctx context.Context, stateID uuid.UUID) {
	if err := r.store.SetFileStateStatus(ctx, stateID, db.FileFailed); err != nil {
		slog.Warn("failed to mark file state failed", "state_id", stateID, "error", err)
	}
}

func (r *Runner) failJob(ctx context.Context, jobID uuid.UUID) {
	if err := r.store.CompleteJob(ctx, jobID, db.JobFailed, time.Now().UTC()); err != nil {
		slog.Warn("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// filterIgnored drops files matching any ignore pattern.
func (r *Runner) filterIgnored(files []graph.File) []graph.File {
	if len(r.ignorePatterns) == 0 {
		return files
	}
	kept := files[:0]
	for _, f := range files {
		if r.shouldIgnore(f.Path) {
			slog.Debug("ignoring file", "path", f.Path)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func (r *Runner) shouldIgnore(path string) bool {
	rel := trimLeadingSlash(path)
	for _, pattern := range r.ignorePatterns {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
