// Package session manages authentication state for one wiki site:
// the bot-password login flow, OAuth bearer credentials, and the
// cache of action tokens (csrf, patrol, rollback, ...).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/mwbot-go/mwbot/api"
	"github.com/mwbot-go/mwbot/metrics"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateAnonymous means no credentials are in play.
	StateAnonymous State = iota

	// StateAuthenticating means a login flow is in flight.
	StateAuthenticating

	// StateAuthenticated means the server accepted our credentials.
	StateAuthenticated

	// StateExpired means the server stopped honoring the session;
	// the next authenticated call re-runs the login flow.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Credentials selects the authentication mode. All-empty means
// anonymous; Username/Password is the bot-password flow; TokenSource
// switches to OAuth bearer headers and skips action=login entirely.
type Credentials struct {
	Username    string
	Password    string
	TokenSource oauth2.TokenSource
}

// Anonymous reports whether no credentials are configured.
func (c Credentials) Anonymous() bool {
	return c.Username == "" && c.Password == "" && c.TokenSource == nil
}

// Manager owns the session for one site. It implements the executor's
// Authorizer and TokenProvider, and uses a token-free view of the same
// executor for its own login and token calls.
type Manager struct {
	exec   api.Doer
	creds  Credentials
	logger *slog.Logger

	maxLoginAttempts int

	sf singleflight.Group

	mu            sync.Mutex
	state         State
	tokens        map[string]string
	loginFailures int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMaxLoginAttempts bounds how many failed logins are tolerated
// before the manager refuses further attempts.
func WithMaxLoginAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxLoginAttempts = n
		}
	}
}

// NewManager creates a session manager bound to exec and wires itself
// in as the executor's auth hooks. A cookie jar is installed on the
// executor's HTTP client so the login session survives across calls.
func NewManager(exec *api.Executor, creds Credentials, opts ...Option) *Manager {
	m := &Manager{
		exec:             exec,
		creds:            creds,
		logger:           slog.Default(),
		maxLoginAttempts: 3,
		tokens:           make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}

	if hc := exec.HTTPClient(); hc.Jar == nil {
		jar, _ := cookiejar.New(nil)
		hc.Jar = jar
	}
	exec.SetAuth(m, m)
	return m
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureAuthenticated makes sure a usable session exists. It is
// idempotent and cheap once authenticated; concurrent callers share a
// single login flow. Anonymous sessions always pass.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if m.creds.Anonymous() {
		return nil
	}

	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.mu.Unlock()
		return nil
	}
	if m.loginFailures >= m.maxLoginAttempts {
		failures := m.loginFailures
		m.mu.Unlock()
		return &api.AuthError{
			Site:   m.exec.SiteKey(),
			Reason: fmt.Sprintf("login abandoned after %d failed attempts", failures),
		}
	}
	m.mu.Unlock()

	_, err, _ := m.sf.Do("login", func() (interface{}, error) {
		return nil, m.login(ctx)
	})
	return err
}

// Authorize attaches transport-level credentials. Only OAuth sessions
// modify the request; cookie sessions ride on the shared jar.
func (m *Manager) Authorize(_ context.Context, req *http.Request) error {
	if m.creds.TokenSource == nil {
		return nil
	}
	tok, err := m.creds.TokenSource.Token()
	if err != nil {
		return &api.AuthError{Site: m.exec.SiteKey(), Reason: "oauth token source failed", Err: err}
	}
	tok.SetAuthHeader(req)
	return nil
}

// Token returns a cached action token of the given kind, fetching one
// from meta=tokens on a cache miss. Concurrent misses for the same
// kind share a single fetch.
func (m *Manager) Token(ctx context.Context, kind string) (string, error) {
	m.mu.Lock()
	if tok, ok := m.tokens[kind]; ok {
		m.mu.Unlock()
		return tok, nil
	}
	expired := m.state == StateExpired
	m.mu.Unlock()

	// A rejected token usually means the whole session lapsed, so
	// re-login before asking for a fresh one.
	if expired && !m.creds.Anonymous() {
		if err := m.EnsureAuthenticated(ctx); err != nil {
			return "", err
		}
	}

	v, err, _ := m.sf.Do("token:"+kind, func() (interface{}, error) {
		return m.fetchToken(ctx, kind)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token of the given kind and marks the
// session expired so the next fetch re-authenticates first.
func (m *Manager) Invalidate(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, kind)
	if m.state == StateAuthenticated {
		m.state = StateExpired
	}
}

// Logout ends the server-side session and resets local state.
func (m *Manager) Logout(ctx context.Context) error {
	req := api.NewWrite("logout", "csrf")
	if _, err := m.exec.Do(ctx, req); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateAnonymous
	m.tokens = make(map[string]string)
	m.loginFailures = 0
	m.mu.Unlock()
	return nil
}

// login runs the two-step bot-password flow: fetch a login token,
// then post action=login with it. OAuth sessions skip the network
// round trips since every request carries the bearer header.
func (m *Manager) login(ctx context.Context) error {
	site := m.exec.SiteKey()

	m.mu.Lock()
	m.state = StateAuthenticating
	m.mu.Unlock()

	if m.creds.TokenSource != nil {
		m.mu.Lock()
		m.state = StateAuthenticated
		m.loginFailures = 0
		m.mu.Unlock()
		return nil
	}

	loginToken, err := m.fetchToken(ctx, "login")
	if err != nil {
		m.recordFailure("login token fetch failed")
		return &api.AuthError{Site: site, Reason: "failed to get login token", Err: err}
	}

	req := api.NewRequest("login").
		Set("lgname", m.creds.Username).
		Set("lgpassword", m.creds.Password).
		Set("lgtoken", loginToken)
	req.Method = api.Write

	resp, err := m.exec.Do(ctx, req)
	if err != nil {
		m.recordFailure("login request failed")
		return &api.AuthError{Site: site, Reason: "login request failed", Err: err}
	}

	login := resp.Map("login")
	if login == nil {
		m.recordFailure("malformed login response")
		return &api.AuthError{Site: site, Reason: "malformed login response"}
	}

	result, _ := login["result"].(string)
	if result != "Success" {
		reason, _ := login["reason"].(string)
		m.recordFailure(result)
		metrics.RecordLogin(site, false)
		return &api.AuthError{Site: site, Reason: fmt.Sprintf("login result %s: %s", result, reason)}
	}

	m.mu.Lock()
	m.state = StateAuthenticated
	m.loginFailures = 0
	m.mu.Unlock()

	metrics.RecordLogin(site, true)
	m.logger.Info("logged in", "site", site, "username", m.creds.Username)
	return nil
}

func (m *Manager) recordFailure(reason string) {
	site := m.exec.SiteKey()
	m.mu.Lock()
	m.loginFailures++
	m.state = StateExpired
	failures := m.loginFailures
	m.mu.Unlock()

	metrics.RecordAuthFailure(site, reason)
	m.logger.Warn("login attempt failed",
		"site", site,
		"reason", reason,
		"failures", failures,
		"max_attempts", m.maxLoginAttempts)
}

// fetchToken asks meta=tokens for one token and caches it (login
// tokens are single-use and never cached).
func (m *Manager) fetchToken(ctx context.Context, kind string) (string, error) {
	req := api.NewRequest("query").
		Set("meta", "tokens").
		Set("type", kind)

	resp, err := m.exec.Do(ctx, req)
	if err != nil {
		return "", err
	}

	query := resp.Query()
	if query == nil {
		return "", fmt.Errorf("no query section in token response")
	}
	tokens, _ := query["tokens"].(map[string]interface{})
	tok, _ := tokens[kind+"token"].(string)
	if tok == "" {
		return "", fmt.Errorf("no %s token in response", kind)
	}

	if kind != "login" {
		m.mu.Lock()
		m.tokens[kind] = tok
		if m.state == StateExpired {
			m.state = StateAuthenticated
		}
		m.mu.Unlock()
	}
	return tok, nil
}
