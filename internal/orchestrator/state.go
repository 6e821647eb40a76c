package orchestrator

import "github.com/desertthunder/aria/internal/models"

// State is the visible submission state.
type State int

const (
	Idle State = iota
	AwaitingAuth
	Generating
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingAuth:
		return "awaiting_auth"
	case Generating:
		return "generating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// Context is the state one controller owns for one page load.
type Context struct {
	State         State
	Connected     bool
	PendingPrompt string
	Result        *models.GenerationResult
}

// NewContext builds the starting [Context] from an initialisation payload.
func NewContext(init models.InitPayload) Context {
	c := Context{
		State:         Idle,
		Connected:     init.Connected,
		PendingPrompt: init.PendingPrompt,
	}
	if init.Result != nil {
		r := *init.Result
		c.Result = &r
		c.State = Done
	}
	return c
}

// WithState returns c in state s.
func (c Context) WithState(s State) Context {
	c.State = s
	return c
}

// WithResult returns c holding a copy of r. A result implies a live Spotify connection.
func (c Context) WithResult(r models.GenerationResult) Context {
	c.Result = &r
	c.Connected = true
	c.State = Done
	return c
}

// WithoutPrompt returns c with the pending prompt cleared.
func (c Context) WithoutPrompt() Context {
	c.PendingPrompt = ""
	return c
}
