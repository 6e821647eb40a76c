package orchestrator

import "github.com/desertthunder/aria/internal/models"

// Button labels.
const (
	LabelDefault    = "Generate my playlist"
	LabelConnect    = "Connecting to Spotify..."
	LabelGenerating = "Generating..."
	LabelAuthWait   = "Approve the connection in the Spotify window..."
)

// Overlay messages.
const (
	MessageAuthPrompt = "Connecting to Spotify..."
	MessageAuthWait   = "Authorize Aria in the Spotify window to continue..."
	MessageFinalising = "Aria is digging for gems..."
)

// Alerts.
const (
	AlertCancelled      = "Spotify sign-in was cancelled before approval."
	AlertAuthFailed     = "Could not finish connecting to Spotify. Try again."
	AlertNetwork        = "Connection lost during generation. Check your connection and try again."
	AlertTimedOut       = "Timed out waiting for Spotify approval."
	AlertRecovered      = "Your playlist is ready but the response took too long. I grabbed it for you!"
	AlertBroken         = "Sorry, something broke during generation."
	AlertRateLimited    = "Too many requests. Wait a moment and try again."
	AlertRejected       = "The server refused that request. Try again."
	AlertResumeAuth     = "Spotify connection expired. Please generate again."
	AlertResumeFailed   = "We connected to Spotify, but finishing your playlist failed. Please click Generate again."
	DefaultPlaylistName = "Your playlist is ready"
)

// LoadingSteps rotate on the overlay while generation runs.
var LoadingSteps = []string{
	"Building your playlist...",
	"Picking the tracks...",
	"Adding songs to Spotify...",
	"Almost ready...",
}

// Presenter renders controller state. Calls may come from any goroutine.
type Presenter interface {
	LockButton(label string)
	SetButtonLabel(label string)
	UnlockButton(label string)

	ShowOverlay(message string)
	SetOverlayMessage(message string)
	HideOverlay()

	ShowResult(result models.GenerationResult)
	ClearPrompt()
	Alert(message string)

	StateChanged(state State)
}
