package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/graph"
)

type itemView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	MimeType   string `json:"mime_type,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

func toItemViews(items []graph.Item) []itemView {
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		v := itemView{
			ID:       it.ID,
			Name:     it.Name,
			Size:     it.Size,
			IsFolder: it.IsFolder,
			MimeType: it.MimeType,
		}
		if !it.ModifiedAt.IsZero() {
			v.ModifiedAt = it.ModifiedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		views = append(views, v)
	}
	return views
}

// browserFor resolves the connection and builds a Graph client with a
// fresh access token. Token failures mean the yacht must re-authorize.
func (s *Server) browserFor(c *gin.Context) (Browser, bool) {
	id, err := uuid.Parse(c.Query("connection_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id must be a valid uuid"})
		return nil, false
	}

	accessToken, err := s.tokens.GetAccessToken(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "re-authorization required"})
		return nil, false
	}

	return s.newBrowser(accessToken), true
}

// filesBrowse lists a OneDrive folder; empty path means the drive root.
func (s *Server) filesBrowse(c *gin.Context) {
	browser, ok := s.browserFor(c)
	if !ok {
		return
	}

	path := c.Query("path")
	items, err := browser.ListFolder(c.Request.Context(), path)
	if err != nil {
		writeGraphError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"path": path, "items": toItemViews(items)})
}

// filesSearch searches the whole drive by name.
func (s *Server) filesSearch(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	browser, ok := s.browserFor(c)
	if !ok {
		return
	}

	items, err := browser.Search(c.Request.Context(), query)
	if err != nil {
		writeGraphError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"query": query, "items": toItemViews(items)})
}

// filesMetadata previews how a path would classify, without touching the
// Graph API. The dashboard uses it to show the destination before a sync.
func (s *Server) filesMetadata(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	c.JSON(http.StatusOK, s.classifier.Classify(path))
}
