package server

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/services"
	"github.com/desertthunder/aria/internal/shared"
	"golang.org/x/oauth2"
)

const resultBuffer = 8

// ServiceFactory builds an unauthenticated Spotify client.
type ServiceFactory func() (services.OAuthService, error)

// Reporter receives the outcome of each authorization callback. A nil error is a success.
type Reporter interface {
	Report(err error)
}

// OAuthResult contains the result of one authorization callback.
type OAuthResult struct {
	SessionID string
	Token     *oauth2.Token
	err       error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler handles the Spotify authorization code callback.
//
// The state parameter is a signed token naming the session that started the flow, so the
// callback works from a browser that does not carry the session cookie.
type OAuthHandler struct {
	sessions   *Sessions
	signer     *Signer
	newService ServiceFactory
	reporter   Reporter
	logger     *log.Logger
	results    chan OAuthResult
}

// NewOAuthHandler creates an [OAuthHandler]. reporter may be nil.
func NewOAuthHandler(sessions *Sessions, signer *Signer, factory ServiceFactory, reporter Reporter, logger *log.Logger) *OAuthHandler {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &OAuthHandler{
		sessions:   sessions,
		signer:     signer,
		newService: factory,
		reporter:   reporter,
		logger:     logger,
		results:    make(chan OAuthResult, resultBuffer),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/callback"}
}

// ServeHTTP validates state, exchanges the code and stores the tokens on the session named by state.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	sessionID, err := h.signer.ParseState(query.Get("state"))
	if err != nil {
		h.fail(w, "", http.StatusBadRequest, err)
		return
	}

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: %s %s", shared.ErrAuthFailed, query.Get("error"), query.Get("error_description"))
		if query.Get("error") == "" {
			err = errors.New("missing code")
		}
		h.fail(w, sessionID, http.StatusBadRequest, err)
		return
	}

	session, err := h.sessions.Get(sessionID)
	if err != nil {
		h.fail(w, sessionID, http.StatusBadRequest, err)
		return
	}

	srv, err := h.newService()
	if err != nil {
		h.fail(w, sessionID, http.StatusInternalServerError, err)
		return
	}

	token, err := srv.Exchange(r.Context(), code)
	if err != nil {
		h.fail(w, sessionID, http.StatusInternalServerError, err)
		return
	}

	session.SetTokens(token.AccessToken, token.RefreshToken, token.Expiry)
	if err := h.sessions.Save(session); err != nil {
		h.fail(w, sessionID, http.StatusInternalServerError, err)
		return
	}

	h.logger.Info("Spotify connected", "session", sessionID)
	h.report(nil)
	h.Send(OAuthResult{SessionID: sessionID, Token: token})
	writePage(w, http.StatusOK, "Spotify connected", "You can close this window and return to aria.")
}

func (h *OAuthHandler) fail(w http.ResponseWriter, sessionID string, status int, err error) {
	h.logger.Warn("Spotify callback failed", "session", sessionID, "error", err)
	h.report(err)
	h.Send(OAuthResult{SessionID: sessionID, err: err})
	writePage(w, status, "Spotify connection failed", err.Error())
}

func (h *OAuthHandler) report(err error) {
	if h.reporter != nil {
		h.reporter.Report(err)
	}
}

// Send delivers result to [OAuthHandler.Results] without blocking. Results nobody reads are dropped.
func (h *OAuthHandler) Send(result OAuthResult) {
	select {
	case h.results <- result:
	default:
		h.logger.Debug("Dropping unread callback result", "session", result.SessionID)
	}
}

// Results returns the channel receiving each callback's result.
func (h *OAuthHandler) Results() <-chan OAuthResult {
	return h.results
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>%[1]s</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%[1]s</h1>
        <p>%[2]s</p>
    </div>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(message))
}
