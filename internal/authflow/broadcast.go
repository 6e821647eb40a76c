package authflow

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
)

// Status is the tag of an [Outcome].
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Wire payload types posted between windows.
const (
	TypeSuccess = "auth-success"
	TypeError   = "auth-error"
)

// DefaultAuthErrorMessage is used when an error outcome carries no message.
const DefaultAuthErrorMessage = "Spotify authentication error."

// Outcome is the result of the authorization window's flow, stored under [ResultKey].
type Outcome struct {
	ID        string `json:"id,omitempty"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Success builds a success [Outcome].
func Success() Outcome { return Outcome{Status: StatusSuccess} }

// Failure builds an error [Outcome] carrying msg.
func Failure(msg string) Outcome { return Outcome{Status: StatusError, Error: msg} }

// Payload converts o into its direct-message form.
func (o Outcome) Payload() Payload {
	p := Payload{ID: o.ID, Type: TypeSuccess}
	if o.Status == StatusError {
		p.Type = TypeError
		p.Error = o.Error
	}
	return p
}

// Payload is the cross-window message body.
type Payload struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Message is a direct cross-window post addressed to Origin.
type Message struct {
	Origin string
	Data   Payload
}

// Bus delivers direct messages between live windows of one process.
type Bus interface {
	Post(msg Message)
	Subscribe() (messages <-chan Message, cancel func())
}

// MemoryBus is the in-process [Bus].
type MemoryBus struct {
	messages hub[Message]
}

// NewMemoryBus creates a [MemoryBus].
func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (b *MemoryBus) Post(msg Message) { b.messages.publish(msg) }

func (b *MemoryBus) Subscribe() (<-chan Message, func()) { return b.messages.subscribe() }

// Broadcast publishes authorization outcomes over both transports.
type Broadcast struct {
	store  Store
	bus    Bus
	origin string
	logger *log.Logger
	now    func() time.Time
}

// NewBroadcast creates a [Broadcast]. bus may be nil when the windows live in separate processes.
func NewBroadcast(store Store, bus Bus, origin string, logger *log.Logger) *Broadcast {
	logger = orDiscard(logger)
	return &Broadcast{store: store, bus: bus, origin: origin, logger: logger, now: time.Now}
}

// Publish writes outcome for session id to the store and posts it on the bus.
func (b *Broadcast) Publish(id string, outcome Outcome) {
	outcome.ID = id
	outcome.Timestamp = b.now().UnixMilli()

	if data, err := json.Marshal(outcome); err != nil {
		b.logger.Warn("Failed to encode Spotify auth result", "error", err)
	} else if err := b.store.Set(ResultKey, string(data)); err != nil {
		b.logger.Warn("Failed to save Spotify auth result", "error", err)
	}

	if b.bus != nil {
		b.bus.Post(Message{Origin: b.origin, Data: outcome.Payload()})
	}
}

// Clear removes the outcome record with the same matching rules as [Markers.ClearPending].
func (b *Broadcast) Clear(id string) {
	clearMatching(b.store, ResultKey, id, b.logger, "Failed to clear Spotify auth result")
}
