// Package token manages the OAuth token lifecycle for OneDrive connections:
// authorization, encrypted storage, expiry-triggered refresh, and revocation.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/db"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/encryption"
)

// SkewBuffer is how close to expiry a token may get before a refresh is
// forced. Compared on absolute instants, never wall-clock-local time.
const SkewBuffer = 5 * time.Minute

// fallbackTokenTTL is assumed when the provider omits an expiry.
const fallbackTokenTTL = time.Hour

var (
	// ErrConnectionNotFound indicates the connection does not exist.
	ErrConnectionNotFound = errors.New("token: connection not found")
	// ErrRefreshFailed indicates the refresh-token exchange failed. The
	// connection is unusable until the user re-authorizes.
	ErrRefreshFailed = errors.New("token: refresh failed")
	// ErrNoRefreshToken indicates the provider returned no refresh token on
	// the initial exchange (offline_access scope missing or not granted).
	ErrNoRefreshToken = errors.New("token: provider returned no refresh token")
)

// Store is the persistence surface the manager needs.
type Store interface {
	GetConnection(ctx context.Context, id uuid.UUID) (*db.Connection, error)
	UpsertConnection(ctx context.Context, yachtID, userPrincipalName, accessEnc, refreshEnc string, expiresAt time.Time) (*db.Connection, error)
	UpdateConnectionTokens(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc string, expiresAt time.Time) error
	DeleteConnection(ctx context.Context, id uuid.UUID) (bool, error)
}

// Manager owns the token lifecycle. Construct once at startup and inject
// into anything needing Graph access.
type Manager struct {
	store  Store
	cipher *encryption.Cipher
	oauth  *oauth2.Config

	// now is overridable so tests can pin the expiry boundary
	now func() time.Time
}

// NewManager creates a Manager against the multi-tenant Azure AD endpoint,
// so yacht crews authenticate with their own Microsoft 365 accounts.
func NewManager(store Store, cipher *encryption.Cipher, cfg *config.AzureConfig) *Manager {
	return &Manager{
		store:  store,
		cipher: cipher,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     microsoft.AzureADEndpoint("common"),
		},
		now: time.Now,
	}
}

// AuthCodeURL builds the authorization URL. The yacht id rides in the state
// parameter and comes back on the callback.
func (m *Manager) AuthCodeURL(yachtID string) string {
	return m.oauth.AuthCodeURL(yachtID)
}

// Exchange trades an authorization code for a token pair.
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// StoreTokens encrypts and persists a token pair, upserting the connection
// keyed by (yacht, user). Re-authorization updates the existing row.
func (m *Manager) StoreTokens(ctx context.Context, yachtID, userPrincipalName string, tok *oauth2.Token) (*db.Connection, error) {
	if tok.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	accessEnc, err := m.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := m.cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(fallbackTokenTTL)
	}

	conn, err := m.store.UpsertConnection(ctx, yachtID, userPrincipalName, accessEnc, refreshEnc, expiresAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to store connection: %w", err)
	}

	slog.Info("stored tokens",
		"yacht_id", yachtID,
		"user", userPrincipalName,
		"connection_id", conn.ID,
		"expires_at", expiresAt.UTC())

	return conn, nil
}

// GetAccessToken returns a valid access token for the connection, refreshing
// first when the stored one expires within the skew buffer. A failure means
// the caller must treat the connection as needing re-authorization.
func (m *Manager) GetAccessToken(ctx context.Context, connectionID uuid.UUID) (string, error) {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil {
		return "", ErrConnectionNotFound
	}

	// Expired, or expiring within the buffer: now + skew >= expires_at
	if !m.now().Add(SkewBuffer).Before(conn.TokenExpiresAt) {
		slog.Info("token expired or expiring soon, refreshing",
			"connection_id", conn.ID,
			"expires_at", conn.TokenExpiresAt)
		return m.Refresh(ctx, conn)
	}

	accessToken, err := m.cipher.Decrypt(conn.AccessTokenEncrypted)
	if err != nil {
		// Stored token unusable (key rotation, corruption) — a refresh
		// writes a fresh pair, so try that before giving up.
		slog.Warn("failed to decrypt access token, attempting refresh",
			"connection_id", conn.ID, "error", err)
		return m.Refresh(ctx, conn)
	}

	return accessToken, nil
}

// Refresh exchanges the stored refresh token for a new pair and persists it.
// Both tokens are always re-encrypted and stored, because the provider may
// rotate the refresh token; when it does not, the old one is retained.
// Failure is terminal for the connection until the user re-authorizes —
// there is no automatic retry.
func (m *Manager) Refresh(ctx context.Context, conn *db.Connection) (string, error) {
	refreshToken, err := m.cipher.Decrypt(conn.RefreshTokenEncrypted)
	if err != nil {
		return "", fmt.Errorf("%w: cannot decrypt refresh token: %v", ErrRefreshFailed, err)
	}

	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		slog.Error("token refresh rejected by provider",
			"connection_id", conn.ID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	newRefreshToken := tok.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	accessEnc, err := m.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := m.cipher.Encrypt(newRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(fallbackTokenTTL)
	}

	if err := m.store.UpdateConnectionTokens(ctx, conn.ID, accessEnc, refreshEnc, expiresAt.UTC()); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	slog.Info("refreshed tokens",
		"connection_id", conn.ID,
		"expires_at", expiresAt.UTC(),
		"refresh_token_rotated", tok.RefreshToken != "")

	return tok.AccessToken, nil
}

// Revoke deletes the connection. Sync jobs and file states cascade with it.
func (m *Manager) Revoke(ctx context.Context, connectionID uuid.UUID) error {
	deleted, err := m.store.DeleteConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if !deleted {
		return ErrConnectionNotFound
	}

	slog.Info("revoked connection", "connection_id", connectionID)
	return nil
}
