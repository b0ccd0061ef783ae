package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"taskpilot/cli/internal/logging"
	"taskpilot/cli/internal/metrics"
	"taskpilot/cli/internal/sessionstore"
)

type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Reason says why a session ended.
type Reason string

const (
	ReasonLogout             Reason = "logout"
	ReasonExpired            Reason = "expired"
	ReasonRevalidationFailed Reason = "revalidation_failed"
	ReasonReplaced           Reason = "replaced"
)

var (
	ErrAuthInProgress = errors.New("authentication already in progress")
	ErrMissingToken   = errors.New("server returned no access token")
)

type Requester interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

type Persister interface {
	Save(sessionstore.Snapshot) error
	Load() (sessionstore.Snapshot, bool, error)
	Clear() error
}

type EstablishedFunc func(ctx context.Context, s Session)
type DestroyedFunc func(reason Reason)

// Manager owns the credential and identity. Every transition to Anonymous
// goes through teardown, whatever triggered it.
type Manager struct {
	api     Requester
	store   Persister
	logger  *slog.Logger
	metrics *metrics.Collectors

	mu          sync.Mutex
	state       State
	current     *Session
	generation  uint64
	established []EstablishedFunc
	destroyed   []DestroyedFunc
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

func NewManager(api Requester, store Persister, opts Options) *Manager {
	lg := opts.Logger
	if lg == nil {
		lg = logging.Discard()
	}
	return &Manager{
		api:     api,
		store:   store,
		logger:  lg,
		metrics: opts.Metrics,
	}
}

// OnSessionEstablished registers fn to run after every successful login,
// signup or revalidated restore.
func (m *Manager) OnSessionEstablished(fn EstablishedFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.established = append(m.established, fn)
	m.mu.Unlock()
}

// OnSessionDestroyed registers fn to run once per destroyed session.
func (m *Manager) OnSessionDestroyed(fn DestroyedFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.destroyed = append(m.destroyed, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Authenticated() bool {
	return m.State() == StateAuthenticated
}

func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Credential implements apiclient.Authenticator.
func (m *Manager) Credential() (*oauth2.Token, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, m.generation
	}
	tok := *m.current.Token
	return &tok, m.generation
}

// AuthHeader returns the Authorization header for non-request transports such
// as the realtime channel's handshake.
func (m *Manager) AuthHeader() http.Header {
	h := http.Header{}
	tok, _ := m.Credential()
	if tok != nil && tok.AccessToken != "" {
		h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}
	return h
}

// Expire implements apiclient.Authenticator. Only the first call for a given
// generation has an effect.
func (m *Manager) Expire(generation uint64) {
	m.teardown(generation, ReasonExpired)
}

func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	body := map[string]string{
		"username": strings.TrimSpace(username),
		"password": password,
	}
	return m.authenticate(ctx, "/api/auth/login", body)
}

func (m *Manager) Signup(ctx context.Context, fullName, username, email, password string) (Session, error) {
	body := map[string]string{
		"full_name": strings.TrimSpace(fullName),
		"username":  strings.TrimSpace(username),
		"email":     strings.TrimSpace(email),
		"password":  password,
	}
	return m.authenticate(ctx, "/api/auth/signup", body)
}

func (m *Manager) authenticate(ctx context.Context, path string, body any) (Session, error) {
	m.mu.Lock()
	if m.state == StateAuthenticating {
		m.mu.Unlock()
		return Session{}, ErrAuthInProgress
	}
	prevGen, hadSession := m.generation, m.current != nil
	m.mu.Unlock()

	if hadSession {
		m.teardown(prevGen, ReasonReplaced)
	}

	m.mu.Lock()
	if m.state != StateAnonymous {
		m.mu.Unlock()
		return Session{}, ErrAuthInProgress
	}
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()

	var resp tokenResponse
	if err := m.api.Do(ctx, http.MethodPost, path, body, &resp); err != nil {
		m.resetToAnonymous()
		m.logger.Info("authentication failed", "path", path, "err", err)
		return Session{}, err
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		m.resetToAnonymous()
		return Session{}, ErrMissingToken
	}

	s := Session{
		Token: &oauth2.Token{AccessToken: resp.AccessToken, TokenType: tokenTypeOrBearer(resp.TokenType)},
		User:  resp.User,
	}
	m.mu.Lock()
	m.generation++
	m.current = &s
	m.setStateLocked(StateAuthenticated)
	m.mu.Unlock()

	m.persist(s)
	m.logger.Info("session established", "user_id", s.User.ID, "username", s.User.Username)
	m.fireEstablished(ctx, s)
	return s, nil
}

// Restore resumes a persisted session. The persisted identity is adopted at
// once and then revalidated against the server; any failure ends silently in
// Anonymous. It reports whether the session is now established.
func (m *Manager) Restore(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateAnonymous {
		ok := m.state == StateAuthenticated
		m.mu.Unlock()
		return ok
	}
	m.mu.Unlock()

	snap, ok, err := m.store.Load()
	if err != nil {
		m.logger.Warn("reading persisted session failed", "err", err)
		m.clearPersisted()
		return false
	}
	if !ok {
		return false
	}
	var user User
	if err := json.Unmarshal(snap.Identity, &user); err != nil {
		m.logger.Warn("persisted identity is unreadable, discarding", "err", err)
		m.clearPersisted()
		return false
	}

	m.mu.Lock()
	if m.state != StateAnonymous {
		m.mu.Unlock()
		return false
	}
	m.generation++
	gen := m.generation
	m.current = &Session{
		Token: &oauth2.Token{AccessToken: snap.AccessToken, TokenType: tokenTypeOrBearer(snap.TokenType)},
		User:  user,
	}
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()

	var verified User
	path := "/api/auth/me?token=" + url.QueryEscape(snap.AccessToken)
	if err := m.api.Do(ctx, http.MethodGet, path, nil, &verified); err != nil {
		m.logger.Info("persisted session failed revalidation", "err", err)
		m.teardown(gen, ReasonRevalidationFailed)
		return false
	}

	m.mu.Lock()
	if m.generation != gen || m.current == nil {
		m.mu.Unlock()
		return false
	}
	m.current.User = verified
	s := *m.current
	m.setStateLocked(StateAuthenticated)
	m.mu.Unlock()

	m.persist(s)
	m.logger.Info("session restored", "user_id", s.User.ID, "username", s.User.Username)
	m.fireEstablished(ctx, s)
	return true
}

// Logout destroys the current session and clears persisted state. Calling it
// while anonymous only clears persisted state.
func (m *Manager) Logout() {
	m.mu.Lock()
	gen, has := m.generation, m.current != nil
	m.mu.Unlock()
	if has && m.teardown(gen, ReasonLogout) {
		return
	}
	m.clearPersisted()
}

// teardown is the only path from a live session to Anonymous. It is a no-op
// when generation no longer names the current session.
func (m *Manager) teardown(generation uint64, reason Reason) bool {
	m.mu.Lock()
	if m.current == nil || generation != m.generation {
		m.mu.Unlock()
		return false
	}
	m.current = nil
	m.generation++
	m.setStateLocked(StateAnonymous)
	callbacks := append([]DestroyedFunc(nil), m.destroyed...)
	m.mu.Unlock()

	m.clearPersisted()
	m.logger.Info("session destroyed", "reason", string(reason))
	for _, fn := range callbacks {
		fn(reason)
	}
	return true
}

func (m *Manager) resetToAnonymous() {
	m.mu.Lock()
	if m.current == nil {
		m.setStateLocked(StateAnonymous)
	}
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.SessionTransition(s.String())
}

func (m *Manager) persist(s Session) {
	identity, err := json.Marshal(s.User)
	if err != nil {
		m.logger.Warn("encoding identity failed", "err", err)
		return
	}
	if err := m.store.Save(sessionstore.Snapshot{
		AccessToken: s.Token.AccessToken,
		TokenType:   s.Token.TokenType,
		Identity:    identity,
	}); err != nil {
		m.logger.Warn("persisting session failed", "err", err)
	}
}

func (m *Manager) clearPersisted() {
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("clearing persisted session failed", "err", err)
	}
}

func (m *Manager) fireEstablished(ctx context.Context, s Session) {
	m.mu.Lock()
	callbacks := append([]EstablishedFunc(nil), m.established...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(ctx, s)
	}
}

func tokenTypeOrBearer(t string) string {
	if strings.TrimSpace(t) == "" {
		return "Bearer"
	}
	return strings.TrimSpace(t)
}
