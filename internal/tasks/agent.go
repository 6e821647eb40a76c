package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/services"
	"github.com/desertthunder/aria/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxSteps = 12

	ToolSearchItems    = "search_items"
	ToolCreatePlaylist = "create_playlist"
	ToolAddTracks      = "add_tracks"

	maxSearchLimit     = 50
	defaultSearchLimit = 10
)

const agentSystemPrompt = `You are Aria, a music assistant that builds Spotify playlists from a user's request.
1. Create the Spotify playlist by calling create_playlist ONCE at the start with public=true.
2. Build a selection that fits the request (about 15 to 20 tracks at most) and add it to the playlist with add_tracks.
3. Finish by answering in the language of the request with the playlist name and a short description of its mood.
To find tracks:
- Use search_items to look up tracks, artists or genres.
- Collect the URIs of the relevant tracks.
- Call add_tracks with all of the URIs once you are ready.`

// AgentTools are the functions offered to the model.
var AgentTools = []services.Tool{
	services.NewFunctionTool(ToolSearchItems,
		"Search the Spotify catalogue and return matching tracks with their URIs.",
		`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer","minimum":1,"maximum":50}},"required":["query"]}`),
	services.NewFunctionTool(ToolCreatePlaylist,
		"Create an empty playlist for the user.",
		`{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string"},"public":{"type":"boolean"}},"required":["name","description","public"]}`),
	services.NewFunctionTool(ToolAddTracks,
		"Add tracks to a playlist by Spotify URI.",
		`{"type":"object","properties":{"playlist_id":{"type":"string"},"uris":{"type":"array","items":{"type":"string"}}},"required":["playlist_id","uris"]}`),
}

// Completer sends a chat transcript to a model.
type Completer interface {
	Complete(ctx context.Context, messages []services.ChatMessage, tools []services.Tool) (*services.ChatMessage, error)
}

// AgentOpts configures an [Agent].
type AgentOpts struct {
	Chat      Completer
	MaxTracks int     // Track budget per playlist (default: 20)
	MaxSteps  int     // Model round trips per generation (default: 12)
	RateLimit float64 // Spotify requests per second (default: 5)
	Logger    *log.Logger
}

// Agent implements [Generator] by letting a model drive the Spotify tools.
type Agent struct {
	chat      Completer
	limiter   *rate.Limiter
	maxTracks int
	maxSteps  int
	logger    *log.Logger
}

// NewAgent creates an [Agent] with the provided options.
func NewAgent(opts AgentOpts) *Agent {
	if opts.MaxTracks <= 0 {
		opts.MaxTracks = DefaultMaxTracks
	}
	if opts.MaxTracks > services.MaxTracksPerRequest {
		opts.MaxTracks = services.MaxTracksPerRequest
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	return &Agent{
		chat:      opts.Chat,
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		maxTracks: opts.MaxTracks,
		maxSteps:  opts.MaxSteps,
		logger:    opts.Logger,
	}
}

// agentRun is the state of one generation.
type agentRun struct {
	*Agent
	srv      services.Service
	userID   string
	progress chan<- ProgressUpdate

	playlist *models.Playlist
	added    []models.Track
	found    map[string]models.Track
	searches int
}

// Generate runs the tool loop until the model answers without calling a tool.
//
// Spotify authorization failures abort the run. Other tool failures are reported back to the model.
func (a *Agent) Generate(ctx context.Context, srv services.Service, prompt string, progress chan<- ProgressUpdate) (*models.GenerationResult, error) {
	if srv == nil {
		return nil, fmt.Errorf("%w: Spotify service not initialized", shared.ErrServiceUnavailable)
	}
	if a.chat == nil {
		return nil, fmt.Errorf("%w: no chat model configured", shared.ErrServiceUnavailable)
	}

	prompt = strings.TrimSpace(shared.StripControlChars(prompt))
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", shared.ErrInvalidInput)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	userID, err := srv.CurrentUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	run := &agentRun{Agent: a, srv: srv, userID: userID, progress: progress, found: make(map[string]models.Track)}
	messages := []services.ChatMessage{
		{Role: "system", Content: agentSystemPrompt},
		{Role: "user", Content: prompt},
	}

	for step := 1; step <= a.maxSteps; step++ {
		sendProgress(progress, askModelUpdate(step, a.maxSteps))
		a.logger.Debug("Agent step", "step", step)

		reply, err := a.chat.Complete(ctx, messages, AgentTools)
		if err != nil {
			return nil, fmt.Errorf("model request failed: %w", err)
		}
		messages = append(messages, *reply)

		if len(reply.ToolCalls) == 0 {
			return run.finish(prompt, reply.Content), nil
		}

		for _, call := range reply.ToolCalls {
			output, err := run.call(ctx, call)
			if err != nil {
				return nil, err
			}
			messages = append(messages, services.ChatMessage{Role: "tool", ToolCallID: call.ID, Content: output})
		}
	}

	if run.playlist == nil {
		return nil, fmt.Errorf("%w: model used %d steps without creating a playlist", shared.ErrAPIRequest, a.maxSteps)
	}
	a.logger.Warn("Agent ran out of steps", "steps", a.maxSteps)
	return run.finish(prompt, ""), nil
}

func (r *agentRun) finish(prompt, text string) *models.GenerationResult {
	result := &models.GenerationResult{Summary: strings.TrimSpace(text)}
	if r.playlist != nil {
		result.PlaylistName = r.playlist.Name
		result.PlaylistURL = r.playlist.URL
	}
	if result.Summary == "" {
		result.Summary = summarize(prompt, r.added)
	}

	r.logger.Info("Playlist generated", "name", result.PlaylistName, "tracks", len(r.added), "searches", r.searches)
	sendProgress(r.progress, completeUpdate(result))
	return result
}

// call runs one tool and encodes its output for the model.
//
// The error is non-nil only when the whole generation must stop.
func (r *agentRun) call(ctx context.Context, call services.ToolCall) (string, error) {
	name := call.Function.Name
	r.logger.Debug("Executing tool call", "tool", name, "arguments", call.Function.Arguments)

	var (
		output any
		err    error
	)
	switch name {
	case ToolSearchItems:
		var args struct {
			Query     string   `json:"query"`
			ItemTypes []string `json:"item_types"`
			Limit     int      `json:"limit"`
		}
		if err = decodeArgs(call, &args); err == nil {
			output, err = r.search(ctx, args.Query, args.Limit)
		}
	case ToolCreatePlaylist:
		var args struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Public      *bool  `json:"public"`
		}
		if err = decodeArgs(call, &args); err == nil {
			public := args.Public == nil || *args.Public
			output, err = r.createPlaylist(ctx, args.Name, args.Description, public)
		}
	case ToolAddTracks:
		var args struct {
			PlaylistID string   `json:"playlist_id"`
			URIs       []string `json:"uris"`
		}
		if err = decodeArgs(call, &args); err == nil {
			output, err = r.addTracks(ctx, args.PlaylistID, args.URIs)
		}
	default:
		r.logger.Error("Unknown tool requested by model", "tool", name)
		output = map[string]string{"error": "unknown function " + name}
	}

	if err != nil {
		if fatal(ctx, err) {
			return "", err
		}
		r.logger.Warn("Tool call failed", "tool", name, "error", err)
		output = map[string]string{"error": err.Error()}
	}

	data, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s output: %w", name, err)
	}
	return string(data), nil
}

func (r *agentRun) search(ctx context.Context, query string, limit int) (any, error) {
	query = collapseSpaces(shared.StripControlChars(query))
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", shared.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	r.searches++
	sendProgress(r.progress, agentSearchUpdate(r.searches, query))
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tracks, err := r.srv.SearchTracks(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	type trackOut struct {
		ID      string `json:"id"`
		URI     string `json:"uri"`
		Name    string `json:"name"`
		Artists string `json:"artists"`
	}
	out := make([]trackOut, 0, len(tracks))
	for _, t := range tracks {
		if t.URI == "" {
			continue
		}
		r.found[t.URI] = t
		out = append(out, trackOut{ID: t.ID, URI: t.URI, Name: t.Title, Artists: t.Artist})
	}
	return map[string]any{"tracks": out}, nil
}

func (r *agentRun) createPlaylist(ctx context.Context, name, description string, public bool) (any, error) {
	if r.playlist != nil {
		return playlistOutput(r.playlist, "playlist already created"), nil
	}

	name = shared.Truncate(collapseSpaces(shared.StripControlChars(name)), maxNameLength)
	if name == "" {
		return nil, fmt.Errorf("%w: empty playlist name", shared.ErrInvalidInput)
	}
	description = shared.Truncate(collapseSpaces(shared.StripControlChars(description)), maxDescLength)

	sendProgress(r.progress, createPlaylistUpdate(nil))
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	playlist, err := r.srv.CreatePlaylist(ctx, r.userID, name, description, public)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}
	if playlist.Name == "" {
		playlist.Name = name
	}

	r.playlist = playlist
	r.logger.Info("Created playlist", "url", playlist.URL)
	sendProgress(r.progress, createPlaylistUpdate(playlist))
	return playlistOutput(playlist, ""), nil
}

func playlistOutput(p *models.Playlist, note string) map[string]string {
	out := map[string]string{"id": p.ID, "url": p.URL, "name": p.Name, "description": p.Description}
	if note != "" {
		out["note"] = note
	}
	return out
}

// addTracks adds uris to the run's playlist, keeping to the track budget.
func (r *agentRun) addTracks(ctx context.Context, playlistID string, uris []string) (any, error) {
	if r.playlist == nil {
		return nil, errors.New("create the playlist before adding tracks")
	}
	if playlistID != r.playlist.ID {
		return nil, fmt.Errorf("%w: unknown playlist %q", shared.ErrInvalidInput, playlistID)
	}

	seen := make(map[string]bool, len(r.added))
	for _, t := range r.added {
		seen[t.URI] = true
	}

	var batch []string
	for _, uri := range uris {
		uri = strings.TrimSpace(shared.StripControlChars(uri))
		if uri == "" || seen[uri] || len(r.added)+len(batch) >= r.maxTracks {
			continue
		}
		seen[uri] = true
		batch = append(batch, uri)
	}
	if len(batch) == 0 {
		return map[string]int{"added": 0}, nil
	}

	sendProgress(r.progress, addTracksUpdate(len(batch)))
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := r.srv.AddTracks(ctx, r.playlist.ID, batch); err != nil {
		return nil, fmt.Errorf("failed to add tracks: %w", err)
	}

	for _, uri := range batch {
		track, ok := r.found[uri]
		if !ok {
			track = models.Track{URI: uri}
		}
		r.added = append(r.added, track)
	}
	r.playlist.TrackCount = len(r.added)
	return map[string]int{"added": len(batch)}, nil
}

// decodeArgs unmarshals the call's arguments. Missing arguments decode as an empty object.
func decodeArgs(call services.ToolCall, v any) error {
	raw := strings.TrimSpace(call.Function.Arguments)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: invalid arguments for %s: %v", shared.ErrInvalidInput, call.Function.Name, err)
	}
	return nil
}

// fatal reports errors that no tool retry can fix.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, shared.ErrTokenExpired) || errors.Is(err, shared.ErrNotAuthenticated) || ctx.Err() != nil
}
