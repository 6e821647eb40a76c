// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/shared"
	"golang.org/x/oauth2"
)

// MockService is a test double for [services.Service].
//
// Search results are looked up by exact query; unknown queries return no tracks.
type MockService struct {
	mu sync.Mutex

	UserID    string
	Results   map[string][]models.Track
	SearchErr error
	CreateErr error
	AddErr    error

	Queries   []string
	Created   []models.Playlist
	Added     map[string][]string
	playlists int
}

func (m *MockService) Name() string { return "mock" }

func (m *MockService) CurrentUserID(ctx context.Context) (string, error) {
	if m.UserID == "" {
		return "mock-user", nil
	}
	return m.UserID, nil
}

func (m *MockService) SearchTracks(ctx context.Context, query string, limit int) ([]models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, query)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	tracks := m.Results[query]
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

func (m *MockService) CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.playlists++
	p := models.Playlist{
		ID:          fmt.Sprintf("playlist-%d", m.playlists),
		Name:        name,
		Description: description,
		URL:         fmt.Sprintf("https://open.spotify.com/playlist/playlist-%d", m.playlists),
	}
	m.Created = append(m.Created, p)
	return &p, nil
}

func (m *MockService) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return m.AddErr
	}
	if m.Added == nil {
		m.Added = make(map[string][]string)
	}
	m.Added[playlistID] = append(m.Added[playlistID], uris...)
	return nil
}

// MockOAuthService is a test double for [services.OAuthService] sharing state through the embedded [MockService].
//
// Exchange looks codes up in Codes. An expired token is swapped for Refreshed, or fails when Refreshed is nil.
// CurrentUserID rejects access tokens listed in Rejected with [shared.ErrTokenExpired].
type MockOAuthService struct {
	*MockService

	Codes     map[string]*oauth2.Token
	Refreshed *oauth2.Token
	Rejected  map[string]bool

	tokenMu sync.Mutex
	current *oauth2.Token
}

func (m *MockOAuthService) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (m *MockOAuthService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, ok := m.Codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown code %q", shared.ErrAuthFailed, code)
	}
	return token, m.Authenticate(ctx, token)
}

func (m *MockOAuthService) Authenticate(ctx context.Context, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return shared.ErrNotAuthenticated
	}
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	t := *token
	m.current = &t
	return nil
}

func (m *MockOAuthService) Token() (*oauth2.Token, error) {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	if m.current == nil {
		return nil, shared.ErrNotAuthenticated
	}
	if !m.current.Expiry.IsZero() && m.current.Expiry.Before(time.Now()) {
		if m.Refreshed == nil {
			return nil, shared.ErrTokenExpired
		}
		t := *m.Refreshed
		m.current = &t
	}
	t := *m.current
	return &t, nil
}

func (m *MockOAuthService) CurrentUserID(ctx context.Context) (string, error) {
	m.tokenMu.Lock()
	current := m.current
	m.tokenMu.Unlock()
	if current == nil {
		return "", shared.ErrNotAuthenticated
	}
	if m.Rejected[current.AccessToken] {
		return "", fmt.Errorf("%w: spotify returned 401", shared.ErrTokenExpired)
	}
	return m.MockService.CurrentUserID(ctx)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
