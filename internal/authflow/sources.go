package authflow

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Signal is a normalized inbound completion signal.
type Signal struct {
	Source  string
	Outcome Outcome
}

// SignalSource adapts one transport into [Signal] values for a single session.
//
// Listen forwards matching signals to out until stop is called. stop blocks until the
// adapter has released out.
type SignalSource interface {
	Listen(sessionID string, out chan<- Signal) (stop func())
}

// MessageSource reads direct messages from a [Bus].
type MessageSource struct {
	bus    Bus
	origin string
	logger *log.Logger
}

// NewMessageSource accepts only messages addressed to origin.
func NewMessageSource(bus Bus, origin string, logger *log.Logger) *MessageSource {
	return &MessageSource{bus: bus, origin: origin, logger: orDiscard(logger)}
}

func (s *MessageSource) Listen(sessionID string, out chan<- Signal) func() {
	messages, cancel := s.bus.Subscribe()
	return forward(messages, cancel, out, func(msg Message) (Signal, bool) {
		return s.normalize(sessionID, msg)
	})
}

func (s *MessageSource) normalize(sessionID string, msg Message) (Signal, bool) {
	if msg.Origin != s.origin {
		return Signal{}, false
	}
	if msg.Data.ID != "" && msg.Data.ID != sessionID {
		s.logger.Debug("Ignoring auth message for another session", "id", msg.Data.ID)
		return Signal{}, false
	}

	switch msg.Data.Type {
	case TypeSuccess:
		return Signal{Source: "message", Outcome: Outcome{ID: sessionID, Status: StatusSuccess}}, true
	case TypeError:
		return Signal{Source: "message", Outcome: Outcome{ID: sessionID, Status: StatusError, Error: msg.Data.Error}}, true
	default:
		return Signal{}, false
	}
}

// StorageSource reads outcome records from [Store] change events.
type StorageSource struct {
	store  Store
	logger *log.Logger
}

// NewStorageSource creates a [StorageSource].
func NewStorageSource(store Store, logger *log.Logger) *StorageSource {
	return &StorageSource{store: store, logger: orDiscard(logger)}
}

func (s *StorageSource) Listen(sessionID string, out chan<- Signal) func() {
	events, cancel := s.store.Subscribe()
	return forward(events, cancel, out, func(ev StorageEvent) (Signal, bool) {
		return s.normalize(sessionID, ev)
	})
}

// normalize accepts records without an id for compatibility with older windows.
func (s *StorageSource) normalize(sessionID string, ev StorageEvent) (Signal, bool) {
	if ev.Key != ResultKey || ev.NewValue == "" {
		return Signal{}, false
	}

	var rec *Outcome
	if err := json.Unmarshal([]byte(ev.NewValue), &rec); err != nil {
		s.logger.Warn("Failed to read the Spotify auth result", "error", err)
		return Signal{}, false
	}
	if rec == nil {
		return Signal{}, false
	}
	if rec.ID != "" && rec.ID != sessionID {
		s.logger.Debug("Ignoring auth result for another session", "id", rec.ID)
		return Signal{}, false
	}

	switch rec.Status {
	case StatusSuccess, StatusError:
		return Signal{Source: "storage", Outcome: *rec}, true
	default:
		return Signal{}, false
	}
}

// forward pumps in through accept into out on its own goroutine.
func forward[T any](in <-chan T, cancel func(), out chan<- Signal, accept func(T) (Signal, bool)) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				sig, ok := accept(v)
				if !ok {
					continue
				}
				select {
				case out <- sig:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			cancel()
			wg.Wait()
		})
	}
}

// latch lets only the first of several racing signals take effect.
type latch struct {
	settled atomic.Bool
}

func (l *latch) settle() bool { return l.settled.CompareAndSwap(false, true) }

func (l *latch) done() bool { return l.settled.Load() }
