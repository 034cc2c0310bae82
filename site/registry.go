// Package site resolves family/code pairs into live site handles that
// own a session, share the process throttle, and expose the query and
// edit operations of one wiki.
package site

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mwbot-go/mwbot/api"
	"github.com/mwbot-go/mwbot/session"
	"github.com/mwbot-go/mwbot/throttle"
)

// Family is a group of related wikis sharing one endpoint scheme,
// addressed by a per-wiki code (usually the language).
type Family struct {
	// Name identifies the family ("wikipedia", "wiktionary", ...).
	Name string

	// URLTemplate yields the API endpoint. A %s placeholder is
	// substituted with the code; without one the template is a fixed
	// single-wiki endpoint and the code only scopes throttling.
	URLTemplate string

	// Codes optionally restricts which codes resolve. Empty allows
	// any code.
	Codes []string
}

// Endpoint returns the API endpoint for code.
func (f Family) Endpoint(code string) string {
	if strings.Contains(f.URLTemplate, "%s") {
		return fmt.Sprintf(f.URLTemplate, code)
	}
	return f.URLTemplate
}

func (f Family) allows(code string) bool {
	if len(f.Codes) == 0 {
		return true
	}
	for _, c := range f.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// Registry maps family/code pairs to site handles. Handles are cached
// so repeated Resolve calls return the same *Site, and every site
// dispatches through one shared process throttle.
type Registry struct {
	cfg      *Config
	logger   *slog.Logger
	throttle *throttle.Throttle

	mu       sync.Mutex
	families map[string]Family
	sites    map[string]*Site
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets a custom logger, passed down to every resolved site.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithThrottle replaces the registry's shared throttle.
func WithThrottle(t *throttle.Throttle) RegistryOption {
	return func(r *Registry) { r.throttle = t }
}

// NewRegistry creates a registry. A nil cfg loads defaults from the
// environment.
func NewRegistry(cfg *Config, opts ...RegistryOption) *Registry {
	if cfg == nil {
		cfg = LoadConfig()
	}
	r := &Registry{
		cfg:      cfg,
		logger:   slog.Default(),
		families: make(map[string]Family),
		sites:    make(map[string]*Site),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.throttle == nil {
		r.throttle = throttle.New(throttle.Options{
			MinDelay:    cfg.ThrottleFloor,
			MaxDelay:    cfg.ThrottleCeiling,
			MaxWait:     5 * time.Minute,
			DecayFactor: 0.9,
			DecayAfter:  5,
		}, r.logger)
	}
	return r
}

// Register adds or replaces a family.
func (r *Registry) Register(f Family) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[f.Name] = f
}

// Resolve returns the site handle for family and code, creating it on
// first use. Unregistered pairs fail with *UnknownSiteError and cost
// no network traffic.
func (r *Registry) Resolve(family, code string) (*Site, error) {
	key := code + ":" + family

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sites[key]; ok {
		return s, nil
	}

	f, ok := r.families[family]
	if !ok || !f.allows(code) {
		return nil, &UnknownSiteError{Family: family, Code: code}
	}

	s := r.newSite(f, code, key)
	r.sites[key] = s
	r.logger.Debug("site resolved", "site", key, "endpoint", f.Endpoint(code))
	return s, nil
}

func (r *Registry) newSite(f Family, code, key string) *Site {
	retry := api.DefaultRetryPolicy()
	retry.MaxAttempts = r.cfg.MaxRetries

	exec := api.NewExecutor(f.Endpoint(code), key, r.throttle,
		api.WithLogger(r.logger),
		api.WithUserAgent(r.cfg.UserAgent),
		api.WithMaxLag(r.cfg.MaxLag),
		api.WithRetryPolicy(retry),
		api.WithHTTPClient(&http.Client{Timeout: r.cfg.Timeout}))

	sess := session.NewManager(exec, session.Credentials{
		Username: r.cfg.Username,
		Password: r.cfg.Password,
	}, session.WithLogger(r.logger))

	return &Site{
		Key:     key,
		Family:  f.Name,
		Code:    code,
		exec:    exec,
		session: sess,
		logger:  r.logger,
	}
}
