// Package session keeps the single persisted login session and the bearer
// tokens bound to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"datapivots/internal/sessiontoken"
	"datapivots/pkg/auth"
	"datapivots/pkg/domain"
	"datapivots/pkg/kv"
)

var ErrUnauthenticated = errors.New("not authenticated")

// Tokens issues and checks bearer tokens.
type Tokens interface {
	Sign(subject string) (token string, id string, err error)
	Verify(token string) (sessiontoken.Claims, error)
}

// Authenticator checks credentials.
type Authenticator interface {
	Authenticate(email, password string) (domain.User, error)
	GoogleUser() domain.User
}

// record is the persisted form. TokenID pins the token of the current login
// so a token from an earlier login stops working.
type record struct {
	domain.Session
	TokenID string `json:"tokenId,omitempty"`
}

// Result is returned by a successful login.
type Result struct {
	Session domain.Session `json:"session"`
	Token   string         `json:"token"`
}

type Manager struct {
	store  kv.Store
	auth   Authenticator
	tokens Tokens
	logger *slog.Logger
}

func NewManager(store kv.Store, authenticator Authenticator, tokens Tokens, logger *slog.Logger) (*Manager, error) {
	if store == nil || authenticator == nil || tokens == nil {
		return nil, errors.New("session: store, authenticator and tokens are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, auth: authenticator, tokens: tokens, logger: logger}, nil
}

// Login creates a session for valid demo credentials. Nothing is persisted
// on failure.
func (m *Manager) Login(ctx context.Context, email, password string) (Result, error) {
	user, err := m.auth.Authenticate(email, password)
	if err != nil {
		return Result{}, err
	}
	return m.start(ctx, user)
}

// LoginWithGoogle simulates single sign-on for the demo account.
func (m *Manager) LoginWithGoogle(ctx context.Context) (Result, error) {
	return m.start(ctx, m.auth.GoogleUser())
}

func (m *Manager) start(ctx context.Context, user domain.User) (Result, error) {
	token, id, err := m.tokens.Sign(user.ID)
	if err != nil {
		return Result{}, err
	}
	rec := record{
		Session: domain.Session{User: user, IsAuthenticated: true},
		TokenID: id,
	}
	if err := kv.SaveJSON(ctx, m.store, kv.KeySession, rec); err != nil {
		return Result{}, fmt.Errorf("save session: %w", err)
	}
	return Result{Session: rec.Session, Token: token}, nil
}

func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Delete(ctx, kv.KeySession); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Current returns the persisted session. A corrupt snapshot is removed and
// reported as logged out.
func (m *Manager) Current(ctx context.Context) (domain.Session, bool, error) {
	rec, ok, err := m.load(ctx)
	if err != nil || !ok {
		return domain.Session{}, false, err
	}
	return rec.Session, true, nil
}

// Verify accepts a token only while the session it was issued for exists.
func (m *Manager) Verify(ctx context.Context, token string) (domain.Session, error) {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	rec, ok, err := m.load(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if !ok || !rec.IsAuthenticated || rec.User.ID != claims.Subject || rec.TokenID != claims.ID {
		return domain.Session{}, ErrUnauthenticated
	}
	return rec.Session, nil
}

func (m *Manager) load(ctx context.Context) (record, bool, error) {
	var rec record
	ok, err := kv.LoadJSON(ctx, m.store, kv.KeySession, &rec)
	var decodeErr *kv.DecodeError
	if errors.As(err, &decodeErr) {
		m.logger.Warn("stored session unreadable, discarding", "err", err)
		if delErr := m.store.Delete(ctx, kv.KeySession); delErr != nil {
			return record{}, false, fmt.Errorf("delete session: %w", delErr)
		}
		return record{}, false, nil
	}
	if err != nil || !ok {
		return record{}, false, err
	}
	return rec, true, nil
}

var _ Authenticator = (*auth.Authenticator)(nil)
var _ Tokens = (*sessiontoken.Manager)(nil)

type ctxKey struct{}

// NewContext attaches the authenticated session to ctx.
func NewContext(ctx context.Context, s domain.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached by NewContext.
func FromContext(ctx context.Context) (domain.Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(domain.Session)
	return s, ok
}
