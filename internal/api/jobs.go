package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type syncStartRequest struct {
	ConnectionID string   `json:"connection_id" binding:"required"`
	FolderPaths  []string `json:"folder_paths"`
}

// syncStart creates a job and runs it in the background. The response is
// the pending job snapshot; progress is polled via /sync/status.
func (s *Server) syncStart(c *gin.Context) {
	var req syncStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id is required"})
		return
	}
	connID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id must be a valid uuid"})
		return
	}

	conn, err := s.repo.GetConnection(c.Request.Context(), connID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	if req.FolderPaths != nil {
		if err := s.repo.UpdateSelectedFolders(c.Request.Context(), conn.ID, req.FolderPaths); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		conn.SelectedFolders = req.FolderPaths
	}

	job, err := s.runner.CreateJob(c.Request.Context(), conn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Detached from the request: the job outlives the HTTP exchange.
	go func() {
		if err := s.runner.Run(context.Background(), conn, job); err != nil {
			slog.Error("background sync failed", "job_id", job.ID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, job)
}

// syncStatus returns a job snapshot.
func (s *Server) syncStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Query("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid uuid"})
		return
	}

	job, err := s.repo.GetSyncJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// syncHistory lists recent jobs for a connection, newest first.
func (s *Server) syncHistory(c *gin.Context) {
	connID, err := uuid.Parse(c.Query("connection_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id must be a valid uuid"})
		return
	}

	jobs, err := s.repo.ListSyncJobs(c.Request.Context(), connID, queryLimit(c, 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// syncFiles lists per-file sync state for a connection, optionally
// filtered by status.
func (s *Server) syncFiles(c *gin.Context) {
	connID, err := uuid.Parse(c.Query("connection_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id must be a valid uuid"})
		return
	}

	files, err := s.repo.ListFileStates(c.Request.Context(), connID, c.Query("status"), queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
