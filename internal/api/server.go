// Package api exposes the HTTP surface: OAuth connect/callback, OneDrive
// browsing, and sync job control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/db"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/graph"
)

// Repository is the query surface the handlers need.
type Repository interface {
	Ping(ctx context.Context) error
	GetConnection(ctx context.Context, id uuid.UUID) (*db.Connection, error)
	GetActiveConnection(ctx context.Context, yachtID string) (*db.Connection, error)
	UpdateSelectedFolders(ctx context.Context, id uuid.UUID, folders []string) error
	GetSyncJob(ctx context.Context, id uuid.UUID) (*db.SyncJob, error)
	ListSyncJobs(ctx context.Context, connectionID uuid.UUID, limit int) ([]*db.SyncJob, error)
	ListFileStates(ctx context.Context, connectionID uuid.UUID, status string, limit int) ([]*db.FileState, error)
}

// TokenManager covers the token lifecycle operations the handlers use.
type TokenManager interface {
	AuthCodeURL(yachtID string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	StoreTokens(ctx context.Context, yachtID, userPrincipalName string, tok *oauth2.Token) (*db.Connection, error)
	GetAccessToken(ctx context.Context, connectionID uuid.UUID) (string, error)
	Revoke(ctx context.Context, connectionID uuid.UUID) error
}

// JobRunner starts sync jobs.
type JobRunner interface {
	CreateJob(ctx context.Context, conn *db.Connection) (*db.SyncJob, error)
	Run(ctx context.Context, conn *db.Connection, job *db.SyncJob) error
}

// Browser is the slice of the Graph client the browse endpoints use.
type Browser interface {
	GetProfile(ctx context.Context) (*graph.Profile, error)
	ListFolder(ctx context.Context, folderPath string) ([]graph.Item, error)
	Search(ctx context.Context, query string) ([]graph.Item, error)
}

// Server holds the handler dependencies.
type Server struct {
	repo       Repository
	tokens     TokenManager
	runner     JobRunner
	classifier *classify.Classifier
	cfg        *config.ServerConfig

	// newBrowser is swappable in tests
	newBrowser func(accessToken string) Browser
}

// NewServer wires a Server against the real Graph API.
func NewServer(repo Repository, tokens TokenManager, runner JobRunner, classifier *classify.Classifier, cfg *config.ServerConfig) *Server {
	return &Server{
		repo:       repo,
		tokens:     tokens,
		runner:     runner,
		classifier: classifier,
		cfg:        cfg,
		newBrowser: func(accessToken string) Browser {
			return graph.NewClient(graph.DefaultBaseURL, accessToken)
		},
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = s.cfg.CORSOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.healthz)

	v1 := r.Group("/api/v1")

	// The provider redirects the browser here, so no bearer token.
	v1.GET("/auth/callback", s.authCallback)

	protected := v1.Group("")
	if s.cfg.JWTSecret != "" {
		protected.Use(requireJWT(s.cfg.JWTSecret))
	}

	protected.POST("/auth/connect", s.authConnect)
	protected.GET("/auth/status", s.authStatus)
	protected.POST("/auth/disconnect", s.authDisconnect)

	protected.GET("/files/browse", s.filesBrowse)
	protected.GET("/files/search", s.filesSearch)
	protected.GET("/files/metadata", s.filesMetadata)

	protected.POST("/sync/start", s.syncStart)
	protected.GET("/sync/status", s.syncStatus)
	protected.GET("/sync/history", s.syncHistory)
	protected.GET("/sync/files", s.syncFiles)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.repo.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger logs each request through slog, matching the rest of the
// application's log output.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// writeGraphError maps Graph client failures onto the HTTP surface: rate
// limits pass through as 429 with a Retry-After hint, other upstream
// errors become 502.
func writeGraphError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *graph.RateLimitError:
		c.Header("Retry-After", fmt.Sprintf("%d", int(e.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited by Microsoft Graph"})
	case *graph.APIError:
		c.JSON(http.StatusBadGateway, gin.H{"error": e.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
