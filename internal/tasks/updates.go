package tasks

import (
	"fmt"

	"github.com/desertthunder/aria/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	PlanSearches Phase = iota
	AskModel
	SearchTracks
	SelectTracks
	CreatePlaylist
	AddTracks
	Complete
)

func (p Phase) String() string {
	switch p {
	case PlanSearches:
		return "plan_searches"
	case AskModel:
		return "ask_model"
	case SearchTracks:
		return "search_tracks"
	case SelectTracks:
		return "select_tracks"
	case CreatePlaylist:
		return "create_playlist"
	case AddTracks:
		return "add_tracks"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

func planQueriesUpdate(queries []string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PlanSearches,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Planned %d searches", len(queries)),
		Data:    queries,
	}
}

func searchTracksUpdate(step, total int, query string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SearchTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Searching Spotify for %q...", step, total, query),
	}
}

func askModelUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AskModel,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Asking the model what to do next...", step, total),
	}
}

func agentSearchUpdate(step int, query string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SearchTracks,
		Step:    step,
		Message: fmt.Sprintf("[%d] Searching Spotify for %q...", step, query),
	}
}

func searchFailedUpdate(step, total int, query string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SearchTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %q: %v", step, total, query, err),
	}
}

func selectTracksUpdate(tracks []models.Track) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SelectTracks,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Picked %d tracks", len(tracks)),
		Data:    tracks,
	}
}

func createPlaylistUpdate(pl *models.Playlist) ProgressUpdate {
	if pl == nil {
		return ProgressUpdate{
			Phase:   CreatePlaylist,
			Step:    0,
			Total:   1,
			Message: "Creating playlist on Spotify...",
		}
	}
	return ProgressUpdate{
		Phase:   CreatePlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Playlist created: %s (ID: %s)", pl.Name, pl.ID),
		Data:    pl,
	}
}

func addTracksUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AddTracks,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Adding %d songs to Spotify...", count),
	}
}

func completeUpdate(result *models.GenerationResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Complete,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✓ %s", result.PlaylistName),
		Data:    result,
	}
}
