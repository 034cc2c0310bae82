package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const siteInfoJSON = `{
	"query": {
		"general": {
			"sitename": "Testwiki",
			"generator": "MediaWiki 1.43.0",
			"lang": "en",
			"case": "first-letter",
			"writeapi": ""
		},
		"namespaces": {
			"0": {"id": 0, "*": ""},
			"1": {"id": 1, "*": "Diskussion", "canonical": "Talk"},
			"14": {"id": 14, "*": "Kategorie", "canonical": "Category"}
		},
		"namespacealiases": [
			{"id": 14, "*": "Kat"}
		]
	}
}`

// testWiki answers siteinfo, token, content, and edit requests.
type testWiki struct {
	siteinfoCalls atomic.Int32
	contentCalls  atomic.Int32
	batchSizes    []int
}

func (tw *testWiki) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch {
		case r.Form.Get("meta") == "siteinfo":
			tw.siteinfoCalls.Add(1)
			_, _ = w.Write([]byte(siteInfoJSON))
		case r.Form.Get("meta") == "tokens":
			_, _ = w.Write([]byte(`{"query":{"tokens":{"csrftoken":"tok+\\"}}}`))
		case r.Form.Get("prop") == "revisions":
			tw.contentCalls.Add(1)
			titles := strings.Split(r.Form.Get("titles"), "|")
			tw.batchSizes = append(tw.batchSizes, len(titles))
			_, _ = w.Write([]byte(contentResponse(titles)))
		case r.Form.Get("action") == "edit":
			_, _ = w.Write([]byte(`{"edit":{"result":"Success","newrevid":777}}`))
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
		}
	}
}

func contentResponse(titles []string) string {
	pagesMap := make(map[string]interface{}, len(titles))
	for i, title := range titles {
		if title == "Ghost" {
			pagesMap["-1"] = map[string]interface{}{"title": title, "missing": ""}
			continue
		}
		pagesMap[fmt.Sprint(i+1)] = map[string]interface{}{
			"pageid": i + 1,
			"title":  title,
			"revisions": []interface{}{
				map[string]interface{}{
					"slots": map[string]interface{}{
						"main": map[string]interface{}{"*": "content of " + title},
					},
				},
			},
		}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"pages": pagesMap},
	})
	return string(body)
}

func testConfig() *Config {
	return &Config{
		UserAgent:       "mwbot-test/1.0",
		Timeout:         5 * time.Second,
		MaxRetries:      1,
		MaxLag:          5 * time.Second,
		ThrottleFloor:   time.Millisecond,
		ThrottleCeiling: 5 * time.Millisecond,
	}
}

func newTestSite(t *testing.T, tw *testWiki) *Site {
	t.Helper()
	server := httptest.NewServer(tw.handler())
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(testConfig(), WithLogger(logger))
	r.Register(Family{Name: "testwiki", URLTemplate: server.URL})

	s, err := r.Resolve("testwiki", "en")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return s
}

func TestResolveUnknownSite(t *testing.T) {
	r := NewRegistry(testConfig())
	r.Register(Family{Name: "wikipedia", URLTemplate: "https://%s.wikipedia.org/w/api.php", Codes: []string{"en", "de"}})

	cases := []struct {
		family, code string
	}{
		{"wikivoyage", "en"}, // family never registered
		{"wikipedia", "xx"},  // code outside the whitelist
	}
	for _, tc := range cases {
		_, err := r.Resolve(tc.family, tc.code)
		var unknown *UnknownSiteError
		if !errors.As(err, &unknown) {
			t.Errorf("Resolve(%s, %s) = %v, want *UnknownSiteError", tc.family, tc.code, err)
		}
	}
}

func TestResolveReturnsCachedHandle(t *testing.T) {
	r := NewRegistry(testConfig())
	r.Register(Family{Name: "wikipedia", URLTemplate: "https://%s.wikipedia.org/w/api.php"})

	a, err := r.Resolve("wikipedia", "en")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := r.Resolve("wikipedia", "en")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != b {
		t.Error("repeated Resolve returned distinct handles")
	}
	if a.Key != "en:wikipedia" {
		t.Errorf("Key = %q, want en:wikipedia", a.Key)
	}
}

func TestFamilyEndpoint(t *testing.T) {
	templated := Family{Name: "wikipedia", URLTemplate: "https://%s.wikipedia.org/w/api.php"}
	if got := templated.Endpoint("de"); got != "https://de.wikipedia.org/w/api.php" {
		t.Errorf("Endpoint = %q", got)
	}
	fixed := Family{Name: "corp", URLTemplate: "https://wiki.example.com/api.php"}
	if got := fixed.Endpoint("anything"); got != "https://wiki.example.com/api.php" {
		t.Errorf("fixed Endpoint = %q", got)
	}
}

func TestSiteInfoFetchedOnceAndCached(t *testing.T) {
	tw := &testWiki{}
	s := newTestSite(t, tw)
	ctx := context.Background()

	caps, err := s.Capabilities(ctx)
	if err != nil {
		t.Fatalf("Capabilities failed: %v", err)
	}
	if caps.Sitename != "Testwiki" || caps.Generator != "MediaWiki 1.43.0" {
		t.Errorf("unexpected capabilities: %+v", caps)
	}
	if caps.CaseSensitive {
		t.Error("first-letter wiki reported as case sensitive")
	}
	if !caps.WriteAPI {
		t.Error("writeapi flag not detected")
	}

	namespaces, err := s.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces failed: %v", err)
	}
	if namespaces[14].Name != "Kategorie" || namespaces[14].Canonical != "Category" {
		t.Errorf("namespace 14 = %+v", namespaces[14])
	}
	if len(namespaces[14].Aliases) != 1 || namespaces[14].Aliases[0] != "Kat" {
		t.Errorf("namespace 14 aliases = %v", namespaces[14].Aliases)
	}

	if got := tw.siteinfoCalls.Load(); got != 1 {
		t.Errorf("siteinfo fetched %d times, want 1", got)
	}
}

func TestNormalizeTitle(t *testing.T) {
	s := newTestSite(t, &testWiki{})
	ctx := context.Background()

	cases := []struct {
		in, want string
	}{
		{"main_page", "Main page"},
		{"  spaced   out  ", "Spaced out"},
		{"kategorie:foo bar", "Kategorie:Foo bar"},
		{"Category:foo", "Kategorie:Foo"},
		{"Kat:foo", "Kategorie:Foo"},
		{"talk:hello_world", "Diskussion:Hello world"},
		{"E:mc2", "E:mc2"}, // not a namespace prefix
	}
	for _, tc := range cases {
		got, err := s.NormalizeTitle(ctx, tc.in)
		if err != nil {
			t.Errorf("NormalizeTitle(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := s.NormalizeTitle(ctx, "___"); err == nil {
		t.Error("empty title normalized without error")
	}
}

func TestPagesContentSplitsBatches(t *testing.T) {
	tw := &testWiki{}
	s := newTestSite(t, tw)

	titles := make([]string, 120)
	for i := range titles {
		titles[i] = fmt.Sprintf("Page%d", i+1)
	}

	contents, err := s.PagesContent(context.Background(), titles)
	if err != nil {
		t.Fatalf("PagesContent failed: %v", err)
	}
	if len(contents) != 120 {
		t.Errorf("got %d contents, want 120", len(contents))
	}
	if contents["Page7"] != "content of Page7" {
		t.Errorf("Page7 content = %q", contents["Page7"])
	}

	if got := tw.contentCalls.Load(); got != 3 {
		t.Errorf("120 titles cost %d requests, want 3", got)
	}
	for i, size := range tw.batchSizes {
		if size > 50 {
			t.Errorf("batch %d carried %d titles, max is 50", i, size)
		}
	}
}

func TestPageContentMissing(t *testing.T) {
	s := newTestSite(t, &testWiki{})

	_, err := s.PageContent(context.Background(), "Ghost")
	if err == nil {
		t.Fatal("expected error for missing page")
	}

	content, err := s.PageContent(context.Background(), "Sandbox")
	if err != nil {
		t.Fatalf("PageContent failed: %v", err)
	}
	if content != "content of Sandbox" {
		t.Errorf("content = %q", content)
	}
}

func TestSavePage(t *testing.T) {
	s := newTestSite(t, &testWiki{})

	revID, err := s.SavePage(context.Background(), "Sandbox", "new text", EditOptions{
		Summary: "testing",
		Bot:     true,
	})
	if err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}
	if revID != 777 {
		t.Errorf("newrevid = %d, want 777", revID)
	}
}
