package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/shared"
)

// ResumeStatus reports what [Resumer.ResumeOnLoad] did.
type ResumeStatus int

const (
	// ResumeSkipped means nothing was sent.
	ResumeSkipped ResumeStatus = iota
	// ResumeFinished means the backend completed the pending prompt.
	ResumeFinished
	// ResumeNothingPending means the backend had no prompt to finish.
	ResumeNothingPending
)

func (s ResumeStatus) String() string {
	switch s {
	case ResumeSkipped:
		return "skipped"
	case ResumeFinished:
		return "finished"
	case ResumeNothingPending:
		return "nothing_pending"
	default:
		return ""
	}
}

// Resumer completes generation after authorization.
//
// One Resumer serves one page load: the reload path fires at most once.
type Resumer struct {
	backend Backend
	logger  *log.Logger
	resumed atomic.Bool
}

// NewResumer creates a [Resumer] on backend.
func NewResumer(backend Backend, logger *log.Logger) *Resumer {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Resumer{backend: backend, logger: logger}
}

// Immediate re-issues the generate request for prompt after the waiter resolved.
//
// Authorization was just reported as successful, so any unauthorized answer is an auth error.
func (r *Resumer) Immediate(ctx context.Context, prompt string) (*models.GenerationResult, error) {
	result, err := r.backend.Generate(ctx, prompt)
	if err == nil {
		return result, nil
	}

	var authErr *AuthRequiredError
	if errors.As(err, &authErr) || shared.CodeOf(err) == shared.CodeAuthError {
		r.logger.Warn("Backend rejected authorization after approval")
		return nil, shared.NewFlowError(shared.CodeAuthError, authRequiredMessage).Wrap(err)
	}
	return nil, err
}

// ShouldResume decides whether a page load continues a pending generation.
func ShouldResume(pendingPrompt string, authorized, hasResult bool) bool {
	return strings.TrimSpace(pendingPrompt) != "" && authorized && !hasResult
}

// MarkResumed disarms the reload path. It reports whether this call disarmed it.
func (r *Resumer) MarkResumed() bool {
	return r.resumed.CompareAndSwap(false, true)
}

// Resumed reports whether the reload path has fired or been disarmed.
func (r *Resumer) Resumed() bool {
	return r.resumed.Load()
}

// ResumeOnLoad finishes the pending prompt described by init.
//
// Only the first call can send a request. A 400 from the backend is not an error
// and yields [ResumeNothingPending].
func (r *Resumer) ResumeOnLoad(ctx context.Context, init models.InitPayload) (ResumeStatus, *models.GenerationResult, error) {
	if !ShouldResume(init.PendingPrompt, init.Connected, init.Result != nil) {
		return ResumeSkipped, nil, nil
	}
	if !r.MarkResumed() {
		return ResumeSkipped, nil, nil
	}

	r.logger.Info("Resuming pending generation")
	result, err := r.backend.FinishGeneration(ctx)
	if err != nil {
		if shared.CodeOf(err) == shared.CodeFinishFailed && shared.ReasonOf(err) == shared.ReasonNoPrompt {
			r.logger.Info("No pending prompt to finish")
			return ResumeNothingPending, nil, nil
		}
		return ResumeSkipped, nil, err
	}
	return ResumeFinished, result, nil
}
