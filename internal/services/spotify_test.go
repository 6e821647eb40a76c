package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/aria/internal/shared"
	"golang.org/x/oauth2"
)

var testCredentials = map[string]string{
	"client_id":     "test_client_id",
	"client_secret": "test_client_secret",
}

func newTestSpotify(t *testing.T, handler http.HandlerFunc) *SpotifyService {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	srv, err := NewSpotifyService(testCredentials)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	srv.SetAPIBase(server.URL)

	if err := srv.Authenticate(context.Background(), &oauth2.Token{AccessToken: "test_access_token"}); err != nil {
		t.Fatalf("failed to authenticate: %v", err)
	}
	return srv
}

func TestSpotifyService(t *testing.T) {
	t.Run("NewSpotifyService", func(t *testing.T) {
		t.Run("With Valid Credentials", func(t *testing.T) {
			srv, err := NewSpotifyService(testCredentials)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if srv.Name() != "Spotify" {
				t.Errorf("expected service name 'Spotify', got %s", srv.Name())
			}
			if srv.config.RedirectURL != defaultRedirectURI {
				t.Errorf("expected default redirect URI, got %s", srv.config.RedirectURL)
			}
			if len(srv.config.Scopes) != 2 {
				t.Errorf("expected default scopes, got %v", srv.config.Scopes)
			}
		})

		t.Run("Missing Credentials", func(t *testing.T) {
			for _, key := range []string{"client_id", "client_secret"} {
				creds := map[string]string{"client_id": "id", "client_secret": "secret"}
				delete(creds, key)

				_, err := NewSpotifyService(creds)
				if !errors.Is(err, shared.ErrMissingCredentials) {
					t.Errorf("expected ErrMissingCredentials without %s, got %v", key, err)
				}
			}
		})

		t.Run("From Config", func(t *testing.T) {
			cfg := shared.SpotifyConfig{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://localhost:4000/", Scope: "playlist-modify-public"}
			srv, err := NewSpotifyServiceFromConfig(cfg)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if srv.config.RedirectURL != "http://localhost:4000/callback" {
				t.Errorf("unexpected redirect %s", srv.config.RedirectURL)
			}
		})
	})

	t.Run("AuthURL", func(t *testing.T) {
		srv, _ := NewSpotifyService(testCredentials)
		authURL := srv.AuthURL("test_state")

		for _, want := range []string{"accounts.spotify.com", "test_client_id", "test_state", "playlist-modify-public"} {
			if !strings.Contains(authURL, want) {
				t.Errorf("auth URL should contain %s: %s", want, authURL)
			}
		}
	})

	t.Run("Not Authenticated", func(t *testing.T) {
		srv, _ := NewSpotifyService(testCredentials)

		if _, err := srv.UserProfile(context.Background()); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
		if _, err := srv.Token(); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated from Token, got %v", err)
		}
		if err := srv.Authenticate(context.Background(), &oauth2.Token{}); err == nil {
			t.Error("expected error for empty token")
		}
	})

	t.Run("Exchange", func(t *testing.T) {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			if r.Form.Get("code") != "auth_code" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"fresh","refresh_token":"refresh","token_type":"Bearer","expires_in":3600}`))
		}))
		defer tokenServer.Close()

		srv, _ := NewSpotifyService(testCredentials)
		srv.SetEndpoint(oauth2.Endpoint{AuthURL: tokenServer.URL + "/authorize", TokenURL: tokenServer.URL + "/token"})

		token, err := srv.Exchange(context.Background(), "auth_code")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token.AccessToken != "fresh" || token.RefreshToken != "refresh" {
			t.Errorf("unexpected token %+v", token)
		}

		current, err := srv.Token()
		if err != nil || current.AccessToken != "fresh" {
			t.Errorf("expected service to be authenticated with the new token, got %v %v", current, err)
		}

		if _, err := srv.Exchange(context.Background(), "bad_code"); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("Refresh Callback", func(t *testing.T) {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`))
		}))
		defer tokenServer.Close()

		srv, _ := NewSpotifyService(testCredentials)
		srv.SetEndpoint(oauth2.Endpoint{TokenURL: tokenServer.URL})

		var got []string
		srv.SetTokenRefreshCallback(func(tok *oauth2.Token) { got = append(got, tok.AccessToken) })

		expired := &oauth2.Token{AccessToken: "stale", RefreshToken: "refresh", Expiry: time.Now().Add(-time.Hour)}
		if err := srv.Authenticate(context.Background(), expired); err != nil {
			t.Fatalf("failed to authenticate: %v", err)
		}

		token, err := srv.Token()
		if err != nil {
			t.Fatalf("expected refresh to succeed, got %v", err)
		}
		if token.AccessToken != "refreshed" {
			t.Errorf("expected refreshed token, got %s", token.AccessToken)
		}
		srv.Token()

		if len(got) != 1 || got[0] != "refreshed" {
			t.Errorf("expected one refresh callback, got %v", got)
		}
	})

	t.Run("Expired Without Refresh Token", func(t *testing.T) {
		srv, _ := NewSpotifyService(testCredentials)
		srv.Authenticate(context.Background(), &oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Hour)})

		if _, err := srv.Token(); !errors.Is(err, shared.ErrTokenExpired) {
			t.Errorf("expected ErrTokenExpired, got %v", err)
		}
	})

	t.Run("UserProfile", func(t *testing.T) {
		srv := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/me" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer test_access_token" {
				t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{"id":"user_1","display_name":"Listener"}`))
		})

		id, err := srv.CurrentUserID(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if id != "user_1" {
			t.Errorf("expected user_1, got %s", id)
		}
	})

	t.Run("Status Errors", func(t *testing.T) {
		tests := []struct {
			status int
			want   error
		}{
			{http.StatusUnauthorized, shared.ErrTokenExpired},
			{http.StatusTooManyRequests, shared.ErrAPIRequest},
			{http.StatusInternalServerError, shared.ErrAPIRequest},
		}

		for _, tt := range tests {
			t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
				srv := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					w.Write([]byte(`{"error":{"message":"nope"}}`))
				})

				if _, err := srv.UserProfile(context.Background()); !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})

	t.Run("SearchTracks", func(t *testing.T) {
		srv := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("q") != "lofi beats" || q.Get("type") != "track" || q.Get("limit") != "50" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			w.Write([]byte(`{"tracks":{"items":[
				{"id":"t1","name":"Snowman","uri":"spotify:track:t1","artists":[{"name":"WYS"}]},
				{"id":"t2","name":"Untitled","uri":"spotify:track:t2","artists":[]}
			]}}`))
		})

		tracks, err := srv.SearchTracks(context.Background(), "lofi beats", 500)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(tracks) != 2 {
			t.Fatalf("expected 2 tracks, got %d", len(tracks))
		}
		if tracks[0].Artist != "WYS" || tracks[0].URI != "spotify:track:t1" {
			t.Errorf("unexpected track %+v", tracks[0])
		}
		if tracks[1].Artist != "" {
			t.Errorf("expected empty artist, got %s", tracks[1].Artist)
		}

		if _, err := srv.SearchTracks(context.Background(), "  ", 5); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("CreatePlaylist", func(t *testing.T) {
		srv := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/users/user_1/playlists" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["name"] != "Lofi Study Mix" || body["public"] != true {
				t.Errorf("unexpected body %v", body)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"p1","name":"Lofi Study Mix","external_urls":{"spotify":"https://open.spotify.com/playlist/p1"}}`))
		})

		playlist, err := srv.CreatePlaylist(context.Background(), "user_1", "Lofi Study Mix", "for studying", true)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if playlist.ID != "p1" || playlist.URL != "https://open.spotify.com/playlist/p1" {
			t.Errorf("unexpected playlist %+v", playlist)
		}
	})

	t.Run("AddTracks Batches", func(t *testing.T) {
		var mu sync.Mutex
		var batches []int
		srv := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				URIs []string `json:"uris"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			batches = append(batches, len(body.URIs))
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"snapshot_id":"s"}`))
		})

		uris := make([]string, 250)
		for i := range uris {
			uris[i] = fmt.Sprintf("spotify:track:%d", i)
		}

		if err := srv.AddTracks(context.Background(), "p1", uris); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(batches) != 3 || batches[0] != 100 || batches[1] != 100 || batches[2] != 50 {
			t.Errorf("unexpected batches %v", batches)
		}
	})

	t.Run("Interfaces", func(t *testing.T) {
		srv, _ := NewSpotifyService(testCredentials)
		var _ OAuthService = srv
	})
}

func TestRefreshableTokenSource(t *testing.T) {
	t.Run("calls callback when token changes", func(t *testing.T) {
		var captured []string
		mockSource := &mockTokenSource{token: &oauth2.Token{AccessToken: "token1"}}
		source := &refreshableTokenSource{
			source:   mockSource,
			callback: func(token *oauth2.Token) { captured = append(captured, token.AccessToken) },
		}

		source.Token()
		source.Token()
		mockSource.token = &oauth2.Token{AccessToken: "token2"}
		token2, _ := source.Token()

		if len(captured) != 2 || captured[0] != "token1" || captured[1] != "token2" {
			t.Errorf("expected callbacks for token1 and token2, got %v", captured)
		}
		if token2.AccessToken != "token2" {
			t.Errorf("expected new token, got %s", token2.AccessToken)
		}
	})

	t.Run("handles nil callback gracefully", func(t *testing.T) {
		source := &refreshableTokenSource{source: &mockTokenSource{token: &oauth2.Token{AccessToken: "test_token"}}}

		token, err := source.Token()
		if err != nil || token.AccessToken != "test_token" {
			t.Errorf("expected token despite nil callback, got %v %v", token, err)
		}
	})

	t.Run("propagates source errors", func(t *testing.T) {
		source := &refreshableTokenSource{
			source:   &mockTokenSource{err: errors.New("token source error")},
			callback: func(*oauth2.Token) { t.Error("callback should not be called on error") },
		}

		token, err := source.Token()
		if err == nil || !strings.Contains(err.Error(), "token source error") {
			t.Errorf("expected source error, got %v", err)
		}
		if token != nil {
			t.Error("expected nil token on error")
		}
	})
}

// mockTokenSource implements [oauth2.TokenSource] for testing
type mockTokenSource struct {
	token *oauth2.Token
	err   error
}

func (m *mockTokenSource) Token() (*oauth2.Token, error) {
	return m.token, m.err
}
