package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/services"
	"github.com/desertthunder/aria/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxTracks = 20
	DefaultRateLimit = 5.0

	maxQueries        = 5
	maxNameLength     = 100
	maxDescLength     = 300
	maxSummaryArtists = 3
)

// Generator creates a playlist for a prompt on the given service.
type Generator interface {
	Generate(ctx context.Context, srv services.Service, prompt string, progress chan<- ProgressUpdate) (*models.GenerationResult, error)
}

// EngineOpts configures a [PlaylistEngine].
type EngineOpts struct {
	MaxTracks int     // Track budget per playlist (default: 20)
	RateLimit float64 // Spotify requests per second (default: 5)
	Logger    *log.Logger
}

// PlaylistEngine implements [Generator].
//
// The rate limiter is shared by every generation the engine runs.
type PlaylistEngine struct {
	limiter   *rate.Limiter
	maxTracks int
	logger    *log.Logger
}

// NewPlaylistEngine creates a new PlaylistEngine with the provided options.
func NewPlaylistEngine(opts EngineOpts) *PlaylistEngine {
	if opts.MaxTracks <= 0 {
		opts.MaxTracks = DefaultMaxTracks
	}
	if opts.MaxTracks > services.MaxTracksPerRequest {
		opts.MaxTracks = services.MaxTracksPerRequest
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	return &PlaylistEngine{
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		maxTracks: opts.MaxTracks,
		logger:    opts.Logger,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Generate builds a playlist for prompt on srv.
func (e *PlaylistEngine) Generate(ctx context.Context, srv services.Service, prompt string, progress chan<- ProgressUpdate) (*models.GenerationResult, error) {
	if srv == nil {
		return nil, fmt.Errorf("%w: Spotify service not initialized", shared.ErrServiceUnavailable)
	}

	prompt = strings.TrimSpace(shared.StripControlChars(prompt))
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", shared.ErrInvalidInput)
	}

	queries := PlanQueries(prompt)
	sendProgress(progress, planQueriesUpdate(queries))

	results := make([][]models.Track, 0, len(queries))
	var lastErr error
	for i, query := range queries {
		sendProgress(progress, searchTracksUpdate(i+1, len(queries), query))

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		tracks, err := srv.SearchTracks(ctx, query, e.maxTracks)
		if err != nil {
			if errors.Is(err, shared.ErrTokenExpired) || errors.Is(err, shared.ErrNotAuthenticated) || ctx.Err() != nil {
				return nil, err
			}
			e.logger.Warn("Search failed", "query", query, "error", err)
			sendProgress(progress, searchFailedUpdate(i+1, len(queries), query, err))
			lastErr = err
			continue
		}
		results = append(results, tracks)
	}

	if len(results) == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: every search failed: %v", shared.ErrAPIRequest, lastErr)
	}

	selected := selectTracks(results, e.maxTracks)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w for %q", shared.ErrNoTracks, prompt)
	}
	sendProgress(progress, selectTracksUpdate(selected))

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	userID, err := srv.CurrentUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	sendProgress(progress, createPlaylistUpdate(nil))
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	playlist, err := srv.CreatePlaylist(ctx, userID, PlaylistName(prompt), PlaylistDescription(prompt), true)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}
	sendProgress(progress, createPlaylistUpdate(playlist))

	uris := make([]string, len(selected))
	for i, track := range selected {
		uris[i] = track.URI
	}

	sendProgress(progress, addTracksUpdate(len(uris)))
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := srv.AddTracks(ctx, playlist.ID, uris); err != nil {
		return nil, fmt.Errorf("failed to add tracks: %w", err)
	}

	result := &models.GenerationResult{
		PlaylistName: playlist.Name,
		PlaylistURL:  playlist.URL,
		Summary:      summarize(prompt, selected),
	}
	if result.PlaylistName == "" {
		result.PlaylistName = PlaylistName(prompt)
	}

	e.logger.Info("Playlist generated", "name", result.PlaylistName, "tracks", len(selected))
	sendProgress(progress, completeUpdate(result))
	return result, nil
}

// PlanQueries derives catalogue searches from a prompt.
//
// The whole prompt comes first, followed by its comma, semicolon, slash, "and" or "&"
// separated fragments. Queries are deduplicated case-insensitively.
func PlanQueries(prompt string) []string {
	prompt = collapseSpaces(prompt)
	if prompt == "" {
		return nil
	}

	queries := []string{prompt}
	seen := map[string]bool{strings.ToLower(prompt): true}

	fragments := strings.FieldsFunc(prompt, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || r == '&' || r == '+'
	})

	for _, fragment := range fragments {
		for _, part := range splitWord(fragment, "and") {
			part = strings.TrimFunc(part, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
			key := strings.ToLower(part)
			if part == "" || seen[key] {
				continue
			}
			seen[key] = true
			queries = append(queries, part)
			if len(queries) == maxQueries {
				return queries
			}
		}
	}
	return queries
}

// selectTracks interleaves per-query results, skipping tracks without a URI and repeats.
func selectTracks(results [][]models.Track, limit int) []models.Track {
	selected := make([]models.Track, 0, limit)
	seen := make(map[string]bool)

	for round := 0; len(selected) < limit; round++ {
		progressed := false
		for _, tracks := range results {
			if round >= len(tracks) {
				continue
			}
			progressed = true

			track := tracks[round]
			if track.URI == "" || seen[track.URI] {
				continue
			}
			seen[track.URI] = true
			selected = append(selected, track)
			if len(selected) == limit {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return selected
}

// PlaylistName returns the playlist title for a prompt.
func PlaylistName(prompt string) string {
	name := collapseSpaces(shared.StripControlChars(prompt))
	if name == "" {
		return "Aria Playlist"
	}
	runes := []rune(name)
	runes[0] = unicode.ToUpper(runes[0])
	return shared.Truncate(string(runes), maxNameLength)
}

// PlaylistDescription returns the playlist description for a prompt.
func PlaylistDescription(prompt string) string {
	desc := "Generated by Aria from: " + collapseSpaces(shared.StripControlChars(prompt))
	return shared.Truncate(desc, maxDescLength)
}

func summarize(prompt string, tracks []models.Track) string {
	var artists []string
	seen := make(map[string]bool)
	for _, t := range tracks {
		if t.Artist == "" || seen[t.Artist] {
			continue
		}
		seen[t.Artist] = true
		artists = append(artists, t.Artist)
		if len(artists) == maxSummaryArtists {
			break
		}
	}

	summary := fmt.Sprintf("%d tracks for %q", len(tracks), collapseSpaces(prompt))
	switch len(artists) {
	case 0:
		return summary + "."
	case 1:
		return fmt.Sprintf("%s, featuring %s.", summary, artists[0])
	default:
		last := len(artists) - 1
		return fmt.Sprintf("%s, featuring %s and %s.", summary, strings.Join(artists[:last], ", "), artists[last])
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitWord splits s around the standalone word w, ignoring case.
func splitWord(s, w string) []string {
	words := strings.Fields(s)
	var parts []string
	var current []string
	for _, word := range words {
		if strings.EqualFold(word, w) {
			parts = append(parts, strings.Join(current, " "))
			current = nil
			continue
		}
		current = append(current, word)
	}
	return append(parts, strings.Join(current, " "))
}
