package authflow

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/shared"
)

// Well-known durable keys.
const (
	PendingKey = "ariaSpotifyAuthPending"
	ResultKey  = "ariaSpotifyAuthResult"
)

const subscriberBuffer = 32

// StorageEvent reports a change to a [Store] key. NewValue is empty on removal.
type StorageEvent struct {
	Key      string
	NewValue string
}

// Store is a string key/value store shared by the controller and the authorization window.
//
// Subscribe delivers change events until cancel is called; cancel closes the channel.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Subscribe() (events <-chan StorageEvent, cancel func())
}

// hub fans values out to subscribers without blocking the publisher.
type hub[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func (h *hub[T]) subscribe() (<-chan T, func()) {
	ch := make(chan T, subscriberBuffer)

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]chan T)
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// publish returns the number of subscribers whose buffer was full.
func (h *hub[T]) publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	events hub[StorageEvent]
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()

	s.events.publish(StorageEvent{Key: key, NewValue: value})
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	_, ok := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()

	if ok {
		s.events.publish(StorageEvent{Key: key})
	}
	return nil
}

func (s *MemoryStore) Subscribe() (<-chan StorageEvent, func()) {
	return s.events.subscribe()
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return shared.DiscardLogger()
	}
	return logger
}
