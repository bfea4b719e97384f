package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/token"
)

type connectRequest struct {
	YachtID string `json:"yacht_id" binding:"required"`
}

// authConnect starts the OAuth flow for a yacht.
func (s *Server) authConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "yacht_id is required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"auth_url": s.tokens.AuthCodeURL(req.YachtID),
		"state":    req.YachtID,
	})
}

// authCallback handles the provider redirect. The browser lands here, so
// the outcome travels back to the dashboard as query parameters rather
// than a JSON body.
func (s *Server) authCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		slog.Warn("oauth callback returned error",
			"error", reason,
			"description", c.Query("error_description"))
		s.redirectDashboard(c, url.Values{"onedrive": {"error"}, "reason": {reason}})
		return
	}

	code := c.Query("code")
	yachtID := c.Query("state")
	if code == "" || yachtID == "" {
		s.redirectDashboard(c, url.Values{"onedrive": {"error"}, "reason": {"missing_code_or_state"}})
		return
	}

	tok, err := s.tokens.Exchange(c.Request.Context(), code)
	if err != nil {
		slog.Error("authorization code exchange failed", "yacht_id", yachtID, "error", err)
		s.redirectDashboard(c, url.Values{"onedrive": {"error"}, "reason": {"exchange_failed"}})
		return
	}

	// Identify the account so re-authorization lands on the same row.
	profile, err := s.newBrowser(tok.AccessToken).GetProfile(c.Request.Context())
	if err != nil {
		slog.Error("failed to fetch user profile", "yacht_id", yachtID, "error", err)
		s.redirectDashboard(c, url.Values{"onedrive": {"error"}, "reason": {"profile_failed"}})
		return
	}

	conn, err := s.tokens.StoreTokens(c.Request.Context(), yachtID, profile.UserPrincipalName, tok)
	if err != nil {
		slog.Error("failed to store tokens", "yacht_id", yachtID, "error", err)
		s.redirectDashboard(c, url.Values{"onedrive": {"error"}, "reason": {"store_failed"}})
		return
	}

	s.redirectDashboard(c, url.Values{
		"onedrive":      {"connected"},
		"connection_id": {conn.ID.String()},
	})
}

func (s *Server) redirectDashboard(c *gin.Context, params url.Values) {
	c.Redirect(http.StatusFound, s.cfg.DashboardURL+"?"+params.Encode())
}

// authStatus reports whether a yacht has an active connection.
func (s *Server) authStatus(c *gin.Context) {
	yachtID := c.Query("yacht_id")
	if yachtID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "yacht_id is required"})
		return
	}

	conn, err := s.repo.GetActiveConnection(c.Request.Context(), yachtID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conn == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":           true,
		"connection_id":       conn.ID,
		"user_principal_name": conn.UserPrincipalName,
		"token_expires_at":    conn.TokenExpiresAt,
		"selected_folders":    conn.SelectedFolders,
		"last_sync_at":        conn.LastSyncAt,
	})
}

// authDisconnect revokes a connection. Sync history and file state cascade.
func (s *Server) authDisconnect(c *gin.Context) {
	id, err := uuid.Parse(c.Query("connection_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id must be a valid uuid"})
		return
	}

	if err := s.tokens.Revoke(c.Request.Context(), id); err != nil {
		if errors.Is(err, token.ErrConnectionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
