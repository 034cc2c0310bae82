package site

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/mwbot-go/mwbot/api"
	"github.com/mwbot-go/mwbot/session"
)

// Site is a live handle on one wiki. It owns the session, dispatches
// through the registry's shared throttle, and discovers capabilities
// and the namespace table lazily on first use.
type Site struct {
	Key    string
	Family string
	Code   string

	exec    *api.Executor
	session *session.Manager
	logger  *slog.Logger

	mu   sync.Mutex
	info *siteInfo
}

// Capabilities are the server properties relevant to bot behavior,
// from meta=siteinfo.
type Capabilities struct {
	Sitename  string
	Generator string
	Lang      string

	// CaseSensitive reports whether titles keep their first letter
	// as-is ("case-sensitive") instead of auto-capitalizing
	// ("first-letter").
	CaseSensitive bool

	// WriteAPI reports whether the write API is enabled.
	WriteAPI bool
}

// Namespace is one entry of the wiki's namespace table.
type Namespace struct {
	ID        int
	Name      string
	Canonical string
	Aliases   []string
}

type siteInfo struct {
	caps       Capabilities
	namespaces map[int]Namespace
}

// Session exposes the site's session manager.
func (s *Site) Session() *session.Manager { return s.session }

// Capabilities returns the server capability flags, fetching
// meta=siteinfo on first call and caching for the handle's lifetime.
func (s *Site) Capabilities(ctx context.Context) (Capabilities, error) {
	info, err := s.siteInfo(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	return info.caps, nil
}

// Namespaces returns the namespace table, fetched lazily alongside
// capabilities.
func (s *Site) Namespaces(ctx context.Context) (map[int]Namespace, error) {
	info, err := s.siteInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info.namespaces, nil
}

func (s *Site) siteInfo(ctx context.Context) (*siteInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info != nil {
		return s.info, nil
	}

	req := api.NewRequest("query").
		Set("meta", "siteinfo").
		Set("siprop", "general|namespaces|namespacealiases")

	resp, err := s.exec.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	info := parseSiteInfo(resp)
	s.info = info
	s.logger.Debug("siteinfo loaded",
		"site", s.Key,
		"generator", info.caps.Generator,
		"namespaces", len(info.namespaces))
	return info, nil
}

func parseSiteInfo(resp api.Response) *siteInfo {
	info := &siteInfo{namespaces: make(map[int]Namespace)}
	query := resp.Query()
	if query == nil {
		return info
	}

	if general, ok := query["general"].(map[string]interface{}); ok {
		info.caps.Sitename, _ = general["sitename"].(string)
		info.caps.Generator, _ = general["generator"].(string)
		info.caps.Lang, _ = general["lang"].(string)
		titleCase, _ := general["case"].(string)
		info.caps.CaseSensitive = titleCase == "case-sensitive"
		_, info.caps.WriteAPI = general["writeapi"]
	}

	if namespaces, ok := query["namespaces"].(map[string]interface{}); ok {
		for _, v := range namespaces {
			m, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := m["id"].(float64)
			name, _ := m["*"].(string)
			canonical, _ := m["canonical"].(string)
			info.namespaces[int(id)] = Namespace{
				ID:        int(id),
				Name:      name,
				Canonical: canonical,
			}
		}
	}

	if aliases, ok := query["namespacealiases"].([]interface{}); ok {
		for _, v := range aliases {
			m, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := m["id"].(float64)
			alias, _ := m["*"].(string)
			ns, ok := info.namespaces[int(id)]
			if !ok {
				continue
			}
			ns.Aliases = append(ns.Aliases, alias)
			info.namespaces[int(id)] = ns
		}
	}
	return info
}

// NormalizeTitle applies the server's title rules locally: underscores
// become spaces, whitespace collapses, namespace prefixes resolve
// through the alias table to their local names, and the first letter
// capitalizes unless the wiki is case sensitive.
func (s *Site) NormalizeTitle(ctx context.Context, title string) (string, error) {
	info, err := s.siteInfo(ctx)
	if err != nil {
		return "", err
	}

	title = strings.Join(strings.Fields(strings.ReplaceAll(title, "_", " ")), " ")
	if title == "" {
		return "", &api.InvalidRequestError{Site: s.Key, Action: "normalize", Code: "invalidtitle", Info: "empty title"}
	}

	prefix, rest, found := strings.Cut(title, ":")
	if found {
		if ns, ok := lookupNamespace(info.namespaces, strings.TrimSpace(prefix)); ok && ns.ID != 0 {
			return ns.Name + ":" + capitalize(strings.TrimSpace(rest), info.caps.CaseSensitive), nil
		}
	}
	return capitalize(title, info.caps.CaseSensitive), nil
}

func lookupNamespace(table map[int]Namespace, name string) (Namespace, bool) {
	for _, ns := range table {
		if strings.EqualFold(ns.Name, name) || strings.EqualFold(ns.Canonical, name) {
			return ns, true
		}
		for _, alias := range ns.Aliases {
			if strings.EqualFold(alias, name) {
				return ns, true
			}
		}
	}
	return Namespace{}, false
}

func capitalize(s string, caseSensitive bool) string {
	if caseSensitive || s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
