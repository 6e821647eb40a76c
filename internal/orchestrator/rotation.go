package orchestrator

import (
	"sync"
	"time"
)

// DefaultRotationInterval is how long each loading step stays on screen.
const DefaultRotationInterval = 10 * time.Second

// rotation cycles [LoadingSteps] onto the overlay until stopped.
type rotation struct {
	interval time.Duration
	set      func(string)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newRotation(interval time.Duration, set func(string)) *rotation {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	return &rotation{interval: interval, set: set}
}

// Start restarts the cycle from the first step, which the caller has already shown.
func (r *rotation) Start() {
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	stop, done := make(chan struct{}), make(chan struct{})
	r.stop, r.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for i := 0; ; {
			select {
			case <-stop:
				return
			case <-ticker.C:
				i = (i + 1) % len(LoadingSteps)
				r.set(LoadingSteps[i])
			}
		}
	}()
}

// Stop ends the cycle and waits for the ticker goroutine. It is safe to call when not running.
func (r *rotation) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether the cycle is active.
func (r *rotation) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}
