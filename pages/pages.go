// Package pages turns raw continuation batches into typed domain
// objects and streams them through cursor iterators, optionally
// preloading page content in batches.
package pages

import (
	"time"

	"github.com/mwbot-go/mwbot/api"
)

// Page is one wiki page as reported by list and generator modules.
// Content is empty unless the page went through a preloader or an
// explicit content fetch.
type Page struct {
	ID        int
	Namespace int
	Title     string
	Content   string

	// Missing marks a title the server knows nothing about. Such
	// pages still flow through iterators so callers can react.
	Missing bool
}

// Revision is one entry of a page's history.
type Revision struct {
	ID        int
	ParentID  int
	Timestamp time.Time
	User      string
	Comment   string
	Minor     bool
	Size      int
	Content   string
}

// FromList builds an extractor for list modules (allpages,
// categorymembers, search, backlinks, recentchanges) whose items all
// carry pageid, ns, and title.
func FromList(listKey string) func(api.Response) []Page {
	return func(resp api.Response) []Page {
		query := resp.Query()
		if query == nil {
			return nil
		}
		items := asSlice(query[listKey])
		out := make([]Page, 0, len(items))
		for _, item := range items {
			m := asMap(item)
			if m == nil {
				continue
			}
			out = append(out, Page{
				ID:        asInt(m["pageid"]),
				Namespace: asInt(m["ns"]),
				Title:     asString(m["title"]),
			})
		}
		return out
	}
}

// RevisionsFromPages extracts the revision history of a single-title
// prop=revisions query.
func RevisionsFromPages(resp api.Response) []Revision {
	query := resp.Query()
	if query == nil {
		return nil
	}
	var out []Revision
	for _, page := range asMap(query["pages"]) {
		for _, rev := range asSlice(asMap(page)["revisions"]) {
			m := asMap(rev)
			if m == nil {
				continue
			}
			out = append(out, revisionFromMap(m))
		}
	}
	return out
}

func revisionFromMap(m map[string]interface{}) Revision {
	rev := Revision{
		ID:       asInt(m["revid"]),
		ParentID: asInt(m["parentid"]),
		User:     asString(m["user"]),
		Comment:  asString(m["comment"]),
		Size:     asInt(m["size"]),
	}
	if _, ok := m["minor"]; ok {
		rev.Minor = true
	}
	if ts, err := time.Parse(time.RFC3339, asString(m["timestamp"])); err == nil {
		rev.Timestamp = ts
	}
	if slots := asMap(m["slots"]); slots != nil {
		if main := asMap(slots["main"]); main != nil {
			rev.Content = asString(main["*"])
		}
	} else if c, ok := m["*"].(string); ok {
		rev.Content = c
	}
	return rev
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int {
	f, _ := v.(float64)
	return int(f)
}
