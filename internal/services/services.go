// package services defines interfaces for the HTTP APIs aria talks to
//
// Spotify (playlist engine, OAuth) and the aria backend (controller)
package services

import (
	"context"

	"github.com/desertthunder/aria/internal/models"
	"golang.org/x/oauth2"
)

// Service is the music provider surface used by the playlist engine.
type Service interface {
	// Name returns the name of the service (e.g. "Spotify").
	Name() string

	// CurrentUserID returns the id of the authenticated account.
	CurrentUserID(ctx context.Context) (string, error)

	// SearchTracks returns up to limit tracks matching query.
	SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error)

	// CreatePlaylist creates an empty playlist owned by userID.
	CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*models.Playlist, error)

	// AddTracks appends the given track URIs to a playlist.
	AddTracks(ctx context.Context, playlistID string, uris []string) error
}

// OAuthService extends [Service] with the authorization code flow used by the backend.
type OAuthService interface {
	Service

	// AuthURL returns the authorization page URL carrying state.
	AuthURL(state string) string

	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// Authenticate configures the service with a stored token.
	Authenticate(ctx context.Context, token *oauth2.Token) error

	// Token returns the current token, refreshing it when expired.
	Token() (*oauth2.Token, error)
}
