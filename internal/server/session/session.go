// Package session binds browser requests to a session identity carried in
// a signed cookie. Every browser gets a session ID on its first request,
// whether or not it ever logs in; the ID is what per-session view counting
// is keyed on.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	CookieName = "kkerang_session"
	contextKey = "session"
	issuer     = "kkerang"
)

var ErrInvalidToken = errors.New("invalid session token")

// Session is the identity of one browser. UserID is zero while anonymous.
type Session struct {
	ID       string
	UserID   int64
	Username string
}

// Authenticated reports whether a user is logged in on this session.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != 0
}

type claims struct {
	UserID   int64  `json:"uid,omitempty"`
	Username string `json:"usr,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and verifies session cookies.
type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewManager creates a manager signing tokens with secret.
func NewManager(secret string, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		secure: secure,
		now:    time.Now,
	}
}

// New returns a fresh anonymous session.
func New() *Session {
	return &Session{ID: uuid.NewString()}
}

// Issue signs s into a token string.
func (m *Manager) Issue(s *Session) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   s.UserID,
		Username: s.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the session it carries.
func (m *Manager) Parse(tokenString string) (*Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, err := uuid.Parse(c.ID); err != nil {
		return nil, fmt.Errorf("%w: bad session id", ErrInvalidToken)
	}
	return &Session{ID: c.ID, UserID: c.UserID, Username: c.Username}, nil
}

// Load returns the session carried by the request cookie, or starts a new
// anonymous one and sets its cookie.
func (m *Manager) Load(c echo.Context) *Session {
	if cookie, err := c.Cookie(CookieName); err == nil {
		if s, err := m.Parse(cookie.Value); err == nil {
			return s
		}
	}

	s := New()
	if err := m.Save(c, s); err != nil {
		slog.Error("failed to start session", "error", err)
	}
	return s
}

// Save writes s to the response cookie and the request context.
func (m *Manager) Save(c echo.Context, s *Session) error {
	token, err := m.Issue(s)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.Set(contextKey, s)
	return nil
}

// Login starts an authenticated session for the user under a new session ID.
func (m *Manager) Login(c echo.Context, userID int64, username string) error {
	s := New()
	s.UserID = userID
	s.Username = username
	return m.Save(c, s)
}

// Logout replaces the session with a fresh anonymous one.
func (m *Manager) Logout(c echo.Context) error {
	return m.Save(c, New())
}

// Middleware loads the session for every request.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(contextKey, m.Load(c))
			return next(c)
		}
	}
}

// RequireLogin redirects anonymous requests to the login page.
func RequireLogin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !From(c).Authenticated() {
				return c.Redirect(http.StatusFound, "/login")
			}
			return next(c)
		}
	}
}

// From returns the session loaded for this request. It returns an empty
// anonymous session if the middleware did not run.
func From(c echo.Context) *Session {
	if s, ok := c.Get(contextKey).(*Session); ok {
		return s
	}
	return &Session{}
}
