package site

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mwbot-go/mwbot/api"
	"github.com/mwbot-go/mwbot/metrics"
	"github.com/mwbot-go/mwbot/pages"
)

// AllPages streams every page of a namespace, optionally restricted
// to a title prefix.
func (s *Site) AllPages(namespace int, prefix string) *pages.Iterator[pages.Page] {
	req := api.NewRequest("query").
		Set("list", "allpages").
		Set("apnamespace", strconv.Itoa(namespace)).
		Set("aplimit", "max")
	if prefix != "" {
		req.Set("apprefix", prefix)
	}
	return pages.NewIterator(api.NewQuery(s.exec, req), pages.FromList("allpages"))
}

// CategoryMembers streams the members of a category. The Category:
// prefix is added when missing.
func (s *Site) CategoryMembers(category string) *pages.Iterator[pages.Page] {
	category = strings.TrimSpace(category)
	if !strings.Contains(category, ":") {
		category = "Category:" + category
	}
	req := api.NewRequest("query").
		Set("list", "categorymembers").
		Set("cmtitle", category).
		Set("cmlimit", "max")
	return pages.NewIterator(api.NewQuery(s.exec, req), pages.FromList("categorymembers"))
}

// Search streams full-text search results for query.
func (s *Site) Search(query string) *pages.Iterator[pages.Page] {
	req := api.NewRequest("query").
		Set("list", "search").
		Set("srsearch", query).
		Set("srlimit", "max")
	return pages.NewIterator(api.NewQuery(s.exec, req), pages.FromList("search"))
}

// RecentChanges streams recently changed pages, newest first.
func (s *Site) RecentChanges() *pages.Iterator[pages.Page] {
	req := api.NewRequest("query").
		Set("list", "recentchanges").
		Set("rcprop", "title|ids").
		Set("rclimit", "max")
	return pages.NewIterator(api.NewQuery(s.exec, req), pages.FromList("recentchanges"))
}

// Backlinks streams the pages linking to title.
func (s *Site) Backlinks(title string) *pages.Iterator[pages.Page] {
	req := api.NewRequest("query").
		Set("list", "backlinks").
		Set("bltitle", title).
		Set("bllimit", "max")
	return pages.NewIterator(api.NewQuery(s.exec, req), pages.FromList("backlinks"))
}

// Revisions streams the edit history of one title, newest first.
func (s *Site) Revisions(title string) *pages.Iterator[pages.Revision] {
	req := api.NewRequest("query").
		Set("prop", "revisions").
		Set("titles", title).
		Set("rvprop", "ids|user|timestamp|comment|size|flags").
		Set("rvlimit", "max")
	return pages.NewIterator(api.NewQuery(s.exec, req), pages.RevisionsFromPages)
}

// PageContent fetches the current wikitext of one page.
func (s *Site) PageContent(ctx context.Context, title string) (string, error) {
	contents, err := s.PagesContent(ctx, []string{title})
	if err != nil {
		return "", err
	}
	for _, content := range contents {
		return content, nil
	}
	return "", &api.InvalidRequestError{Site: s.Key, Action: "query", Code: "missingtitle", Info: title}
}

// PagesContent fetches the current wikitext of many pages in batches
// of up to 50 pipe-joined titles. The result maps each resolved title
// (both as requested and as normalized by the server) to its content;
// missing titles are absent.
func (s *Site) PagesContent(ctx context.Context, titles []string) (map[string]string, error) {
	result := make(map[string]string, len(titles))

	for start := 0; start < len(titles); start += pages.MaxBatch {
		end := start + pages.MaxBatch
		if end > len(titles) {
			end = len(titles)
		}
		if err := s.fetchContentBatch(ctx, titles[start:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Site) fetchContentBatch(ctx context.Context, titles []string, result map[string]string) error {
	req := api.NewRequest("query").
		Set("prop", "revisions").
		Set("rvprop", "content").
		Set("rvslots", "main").
		Set("titles", strings.Join(titles, "|"))

	resp, err := s.exec.Do(ctx, req)
	if err != nil {
		return err
	}
	metrics.RecordPreloadBatch(s.Key)

	query := resp.Query()
	if query == nil {
		return fmt.Errorf("no query section in content response")
	}

	// The server reports title normalization; key results under the
	// requested spelling too so callers can look up what they asked
	// for.
	denormalize := make(map[string]string)
	if normalized, ok := query["normalized"].([]interface{}); ok {
		for _, v := range normalized {
			m, _ := v.(map[string]interface{})
			from, _ := m["from"].(string)
			to, _ := m["to"].(string)
			if from != "" && to != "" {
				denormalize[to] = from
			}
		}
	}

	pagesMap, _ := query["pages"].(map[string]interface{})
	for _, v := range pagesMap {
		page, _ := v.(map[string]interface{})
		if page == nil {
			continue
		}
		if _, missing := page["missing"]; missing {
			continue
		}
		title, _ := page["title"].(string)
		content, ok := pageText(page)
		if !ok {
			continue
		}
		metrics.ContentSize.WithLabelValues("read").Observe(float64(len(content)))
		result[title] = content
		if from, ok := denormalize[title]; ok {
			result[from] = content
		}
	}
	return nil
}

// pageText digs the wikitext out of the revisions/slots envelope.
func pageText(page map[string]interface{}) (string, bool) {
	revisions, _ := page["revisions"].([]interface{})
	if len(revisions) == 0 {
		return "", false
	}
	rev, _ := revisions[0].(map[string]interface{})
	slots, _ := rev["slots"].(map[string]interface{})
	if slots != nil {
		main, _ := slots["main"].(map[string]interface{})
		text, ok := main["*"].(string)
		return text, ok
	}
	text, ok := rev["*"].(string)
	return text, ok
}

// EditOptions tune a SavePage call.
type EditOptions struct {
	// Summary is the edit summary.
	Summary string

	// Minor marks the edit minor.
	Minor bool

	// Bot marks the edit with the bot flag.
	Bot bool

	// CreateOnly fails instead of overwriting an existing page.
	CreateOnly bool
}

// SavePage writes text as the new content of title and returns the
// new revision ID. A stale CSRF token is refreshed and the edit
// resubmitted exactly once by the executor.
func (s *Site) SavePage(ctx context.Context, title, text string, opts EditOptions) (int, error) {
	req := api.NewWrite("edit", "csrf").
		Set("title", title).
		Set("text", text).
		Set("summary", opts.Summary)
	if opts.Minor {
		req.Set("minor", "1")
	}
	if opts.Bot {
		req.Set("bot", "1")
	}
	if opts.CreateOnly {
		req.Set("createonly", "1")
	}

	resp, err := s.exec.Do(ctx, req)
	if err != nil {
		metrics.RecordEdit(s.Key, "edit", false)
		return 0, err
	}

	edit := resp.Map("edit")
	result, _ := edit["result"].(string)
	if result != "Success" {
		metrics.RecordEdit(s.Key, "edit", false)
		return 0, fmt.Errorf("edit of %q did not succeed: %s", title, result)
	}

	metrics.RecordEdit(s.Key, "edit", true)
	metrics.ContentSize.WithLabelValues("write").Observe(float64(len(text)))
	newRevID, _ := edit["newrevid"].(float64)
	s.logger.Info("page saved", "site", s.Key, "title", title, "revid", int(newRevID))
	return int(newRevID), nil
}
