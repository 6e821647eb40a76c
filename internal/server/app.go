package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/generation"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/services"
	"github.com/desertthunder/aria/internal/shared"
	"github.com/desertthunder/aria/internal/tasks"
	"golang.org/x/oauth2"
)

const progressBuffer = 16

// AppOpts configures an [App].
type AppOpts struct {
	Sessions  *Sessions
	Signer    *Signer
	Services  ServiceFactory
	Generator tasks.Generator
	Logger    *log.Logger
}

// App serves the generation endpoints the controller talks to.
type App struct {
	sessions   *Sessions
	signer     *Signer
	newService ServiceFactory
	generator  tasks.Generator
	logger     *log.Logger
}

// NewApp creates an [App].
func NewApp(opts AppOpts) *App {
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	return &App{
		sessions:   opts.Sessions,
		signer:     opts.Signer,
		newService: opts.Services,
		generator:  opts.Generator,
		logger:     opts.Logger,
	}
}

// Register adds the App's routes to r.
func (a *App) Register(r Router) {
	r.Handle(http.MethodGet, generation.InitPath, http.HandlerFunc(a.index))
	r.Handle(http.MethodPost, generation.GeneratePath, http.HandlerFunc(a.generateAsync))
	r.Handle(http.MethodPost, generation.FinishPath, http.HandlerFunc(a.finishGeneration))
	r.Handle(http.MethodGet, generation.LatestPath, http.HandlerFunc(a.latestResult))
}

// index returns the initialisation payload. The last result is handed out once.
func (a *App) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != generation.InitPath {
		http.NotFound(w, r)
		return
	}

	session, err := a.sessions.Load(w, r)
	if err != nil {
		a.serverError(w, err)
		return
	}

	srv, err := a.client(r.Context(), session)
	if err != nil {
		a.logger.Warn("Could not verify Spotify connection", "error", err)
	}

	payload := models.InitPayload{
		Connected:     srv != nil,
		PendingPrompt: session.PendingPrompt(),
		Result:        session.PopLastResult(),
	}
	if payload.Result != nil {
		if err := a.sessions.Save(session); err != nil {
			a.serverError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// generateAsync records the prompt as pending, then generates when Spotify is connected.
func (a *App) generateAsync(w http.ResponseWriter, r *http.Request) {
	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty prompt"})
		return
	}

	session, err := a.sessions.Load(w, r)
	if err != nil {
		a.serverError(w, err)
		return
	}
	session.SetPendingPrompt(prompt)
	if err := a.sessions.Save(session); err != nil {
		a.serverError(w, err)
		return
	}

	srv, err := a.client(r.Context(), session)
	if err != nil {
		a.serverError(w, err)
		return
	}
	if srv == nil {
		a.needAuth(w, session)
		return
	}

	result, err := a.generate(r.Context(), srv, prompt)
	if err != nil {
		a.generationError(w, session, err)
		return
	}

	err = a.update(session.ID(), func(s *models.Session) {
		s.SetPendingPrompt("")
		s.SetLatestResult(result)
	})
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// finishGeneration completes the session's pending prompt after an authorization redirect.
func (a *App) finishGeneration(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessions.Load(w, r)
	if err != nil {
		a.serverError(w, err)
		return
	}

	prompt := session.PendingPrompt()
	if prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": shared.ReasonNoPrompt})
		return
	}

	srv, err := a.client(r.Context(), session)
	if err != nil {
		a.serverError(w, err)
		return
	}
	if srv == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": shared.ReasonNoClient})
		return
	}

	result, err := a.generate(r.Context(), srv, prompt)
	if err != nil {
		a.serverError(w, err)
		return
	}

	err = a.update(session.ID(), func(s *models.Session) {
		s.SetPendingPrompt("")
		s.SetLastResult(result)
		s.SetLatestResult(result)
	})
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

func (a *App) latestResult(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessions.Load(w, r)
	if err != nil {
		a.serverError(w, err)
		return
	}

	result := session.LatestResult()
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// client returns a Spotify client for session, or nil when the session is not connected.
//
// An access token Spotify rejects is refreshed once. When the refresh fails the tokens are cleared.
func (a *App) client(ctx context.Context, session *models.Session) (services.OAuthService, error) {
	if !session.HasTokens() {
		return nil, nil
	}

	srv, err := a.newService()
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken:  session.AccessToken(),
		RefreshToken: session.RefreshToken(),
		Expiry:       session.TokenExpiry(),
		TokenType:    "Bearer",
	}
	if err := srv.Authenticate(ctx, token); err != nil {
		return nil, a.disconnect(session, err)
	}
	if _, err := srv.Token(); err != nil {
		return nil, a.disconnect(session, err)
	}

	_, err = srv.CurrentUserID(ctx)
	if errors.Is(err, shared.ErrTokenExpired) {
		a.logger.Info("Spotify token expired, attempting refresh", "session", session.ID())
		if session.RefreshToken() == "" {
			return nil, a.disconnect(session, err)
		}

		stale := *token
		stale.Expiry = time.Unix(1, 0)
		if err := srv.Authenticate(ctx, &stale); err != nil {
			return nil, a.disconnect(session, err)
		}
		if _, err := srv.Token(); err != nil {
			return nil, a.disconnect(session, err)
		}
		if _, err := srv.CurrentUserID(ctx); err != nil {
			return nil, a.disconnect(session, err)
		}
	} else if err != nil {
		return nil, err
	}

	fresh, err := srv.Token()
	if err == nil && fresh.AccessToken != session.AccessToken() {
		refresh := fresh.RefreshToken
		if refresh == "" {
			refresh = session.RefreshToken()
		}
		session.SetTokens(fresh.AccessToken, refresh, fresh.Expiry)
		if err := a.sessions.Save(session); err != nil {
			return nil, err
		}
	}
	return srv, nil
}

// disconnect clears the session's tokens. The session is treated as never connected.
func (a *App) disconnect(session *models.Session, cause error) error {
	a.logger.Info("Clearing Spotify tokens", "session", session.ID(), "reason", cause)
	session.ClearTokens()
	return a.sessions.Save(session)
}

func (a *App) generate(ctx context.Context, srv services.Service, prompt string) (*models.GenerationResult, error) {
	progress := make(chan tasks.ProgressUpdate, progressBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			a.logger.Debug("Generation progress", "phase", update.Phase, "step", update.Step, "total", update.Total, "message", update.Message)
		}
	}()

	result, err := a.generator.Generate(ctx, srv, prompt, progress)
	close(progress)
	<-done
	return result, err
}

func (a *App) update(id string, fn func(*models.Session)) error {
	session, err := a.sessions.Get(id)
	if err != nil {
		return err
	}
	fn(session)
	return a.sessions.Save(session)
}

func (a *App) authURL(session *models.Session) (string, error) {
	srv, err := a.newService()
	if err != nil {
		return "", err
	}
	state, err := a.signer.SignState(session.ID())
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return srv.AuthURL(state), nil
}

func (a *App) needAuth(w http.ResponseWriter, session *models.Session) {
	authURL, err := a.authURL(session)
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"need_auth": true, "auth_url": authURL})
}

// generationError maps a generator failure onto a response.
//
// Spotify rejecting the token mid-generation asks for authorization again; the prompt stays pending.
func (a *App) generationError(w http.ResponseWriter, session *models.Session, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, shared.ErrTokenExpired), errors.Is(err, shared.ErrNotAuthenticated):
		if err := a.disconnect(session, err); err != nil {
			a.serverError(w, err)
			return
		}
		a.needAuth(w, session)
	default:
		a.serverError(w, err)
	}
}

func (a *App) serverError(w http.ResponseWriter, err error) {
	a.logger.Error("Request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
