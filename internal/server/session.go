package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/repositories"
	"github.com/desertthunder/aria/internal/shared"
	"github.com/golang-jwt/jwt/v5"
)

const (
	SessionCookie = "aria_session"

	SessionDuration = 30 * 24 * time.Hour
	StateDuration   = 15 * time.Minute

	tokenTypeSession = "session"
	tokenTypeState   = "state"
)

// Claims identify a server session. The same shape signs the session cookie and the OAuth state.
type Claims struct {
	SessionID string `json:"sid"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Signer issues and validates HS256 tokens with the session secret.
type Signer struct {
	secret string
	now    func() time.Time
}

// NewSigner creates a [Signer]. An empty secret is rejected.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: missing session secret", shared.ErrInvalidConfig)
	}
	return &Signer{secret: secret, now: time.Now}, nil
}

// SignSession returns the cookie value for sessionID.
func (s *Signer) SignSession(sessionID string) (string, error) {
	return s.sign(sessionID, tokenTypeSession, SessionDuration)
}

// SignState returns an OAuth state value that routes the callback back to sessionID.
func (s *Signer) SignState(sessionID string) (string, error) {
	return s.sign(sessionID, tokenTypeState, StateDuration)
}

// ParseSession returns the session id carried by a cookie value.
func (s *Signer) ParseSession(token string) (string, error) {
	return s.parse(token, tokenTypeSession)
}

// ParseState returns the session id carried by an OAuth state value.
func (s *Signer) ParseState(token string) (string, error) {
	id, err := s.parse(token, tokenTypeState)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidState, err)
	}
	return id, nil
}

func (s *Signer) sign(sessionID, tokenType string, duration time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		SessionID: sessionID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        shared.GenerateID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

func (s *Signer) parse(tokenStr, tokenType string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.TokenType != tokenType || claims.SessionID == "" {
		return "", fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	return claims.SessionID, nil
}

// Sessions loads and saves the [models.Session] behind the session cookie.
type Sessions struct {
	repo   *repositories.SessionRepository
	signer *Signer
	secure bool
}

// NewSessions creates a [Sessions] store. secure marks the cookie HTTPS-only.
func NewSessions(repo *repositories.SessionRepository, signer *Signer, secure bool) *Sessions {
	return &Sessions{repo: repo, signer: signer, secure: secure}
}

// Load returns the request's session, creating one and setting the cookie when the request has none.
//
// A cookie that fails validation is treated as absent.
func (s *Sessions) Load(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id, _ = s.signer.ParseSession(c.Value)
	}

	session, err := s.repo.GetOrCreate(id)
	if err != nil {
		return nil, err
	}

	if session.ID() != id {
		value, err := s.signer.SignSession(session.ID())
		if err != nil {
			return nil, fmt.Errorf("failed to sign session: %w", err)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    value,
			Path:     "/",
			MaxAge:   int(SessionDuration.Seconds()),
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return session, nil
}

// Get returns the session named by id.
func (s *Sessions) Get(id string) (*models.Session, error) {
	return s.repo.Get(id)
}

// Save persists session.
func (s *Sessions) Save(session *models.Session) error {
	return s.repo.Update(session)
}

// SessionID returns the id carried by the request's cookie, or "".
func (s *Sessions) SessionID(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	id, err := s.signer.ParseSession(c.Value)
	if err != nil {
		return ""
	}
	return id
}
