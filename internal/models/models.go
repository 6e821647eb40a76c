// package models defines the data model for the prompt to playlist service
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Model defines the base interface for all persistent models.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// GenerationResult is the terminal artifact of a successful generation.
type GenerationResult struct {
	PlaylistName string `json:"playlist_name"`
	PlaylistURL  string `json:"playlist_url,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// HasLink reports whether the result carries a playlist URL.
func (r GenerationResult) HasLink() bool {
	return strings.TrimSpace(r.PlaylistURL) != ""
}

// DecodeResult parses a stored or transmitted [GenerationResult]. Empty input yields nil.
func DecodeResult(data []byte) (*GenerationResult, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var r GenerationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode generation result: %w", err)
	}
	return &r, nil
}

// InitPayload is the state a controller starts from on page load.
type InitPayload struct {
	Connected     bool              `json:"connected"`
	PendingPrompt string            `json:"pending_prompt"`
	Result        *GenerationResult `json:"result"`
}

// Track is a Spotify track chosen for a playlist.
type Track struct {
	ID     string
	URI    string
	Title  string
	Artist string
}

// Playlist is a Spotify playlist created for a prompt.
type Playlist struct {
	ID          string
	Name        string
	Description string
	URL         string
	TrackCount  int
}

// Session is the server-side state behind one browser session cookie.
//
// It holds the Spotify tokens, the pending generation prompt (read-once across a full-page
// navigation) and the results handed to the page.
type Session struct {
	id            string
	sequence      int
	accessToken   string
	refreshToken  string
	tokenExpiry   time.Time
	pendingPrompt string
	lastResult    *GenerationResult
	latestResult  *GenerationResult
	createdAt     time.Time
	updatedAt     time.Time
}

// NewSession creates an unsaved [Session].
func NewSession(sequence int) *Session {
	now := time.Now()
	return &Session{sequence: sequence, createdAt: now, updatedAt: now}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Sequence() int        { return s.sequence }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

func (s *Session) SetID(id string)                 { s.id = id }
func (s *Session) SetSequence(seq int)             { s.sequence = seq }
func (s *Session) SetCreatedAt(t time.Time)        { s.createdAt = t }
func (s *Session) SetUpdatedAt(t time.Time)        { s.updatedAt = t }
func (s *Session) AccessToken() string             { return s.accessToken }
func (s *Session) RefreshToken() string            { return s.refreshToken }
func (s *Session) TokenExpiry() time.Time          { return s.tokenExpiry }
func (s *Session) PendingPrompt() string           { return s.pendingPrompt }
func (s *Session) LastResult() *GenerationResult   { return s.lastResult }
func (s *Session) LatestResult() *GenerationResult { return s.latestResult }

// SetTokens stores Spotify credentials.
func (s *Session) SetTokens(access, refresh string, expiry time.Time) {
	s.accessToken = access
	s.refreshToken = refresh
	s.tokenExpiry = expiry
}

// ClearTokens forgets the Spotify credentials.
func (s *Session) ClearTokens() {
	s.SetTokens("", "", time.Time{})
}

// HasTokens reports whether Spotify credentials are present.
func (s *Session) HasTokens() bool { return s.accessToken != "" }

func (s *Session) SetPendingPrompt(prompt string)      { s.pendingPrompt = strings.TrimSpace(prompt) }
func (s *Session) SetLastResult(r *GenerationResult)   { s.lastResult = r }
func (s *Session) SetLatestResult(r *GenerationResult) { s.latestResult = r }

// PopLastResult returns and clears the last result.
func (s *Session) PopLastResult() *GenerationResult {
	r := s.lastResult
	s.lastResult = nil
	return r
}

// Validate checks that a refresh token never exists without an access token.
func (s *Session) Validate() error {
	if s.refreshToken != "" && s.accessToken == "" {
		return fmt.Errorf("refresh token set without access token")
	}
	return nil
}
