package pages

import "context"

// MaxBatch is the largest title batch a single content query may
// carry; the API caps pipe-joined title lists at 50 for normal users.
const MaxBatch = 50

// ContentFetcher resolves a batch of titles to their current wikitext
// in one query. Titles absent from the result map do not exist.
type ContentFetcher interface {
	PagesContent(ctx context.Context, titles []string) (map[string]string, error)
}

// Preloader wraps a page iterator and fills in Content before
// handing pages out, batching fetches so M pages cost ceil(M/B)
// content queries instead of M.
type Preloader struct {
	src     *Iterator[Page]
	fetcher ContentFetcher
	batch   int

	buf []Page
	idx int
	cur Page
	err error
}

// NewPreloader wraps src. batchSize is clamped to [1, MaxBatch];
// values outside default to MaxBatch.
func NewPreloader(src *Iterator[Page], fetcher ContentFetcher, batchSize int) *Preloader {
	if batchSize <= 0 || batchSize > MaxBatch {
		batchSize = MaxBatch
	}
	return &Preloader{src: src, fetcher: fetcher, batch: batchSize}
}

// Next advances to the next content-loaded page.
func (p *Preloader) Next(ctx context.Context) bool {
	if p.err != nil {
		return false
	}
	if p.idx >= len(p.buf) && !p.fill(ctx) {
		return false
	}
	p.cur = p.buf[p.idx]
	p.idx++
	return true
}

// Item returns the current page. Valid only after a true Next.
func (p *Preloader) Item() Page { return p.cur }

// Err returns the error that terminated iteration, if any.
func (p *Preloader) Err() error { return p.err }

// fill pulls up to one batch of pages from the source and resolves
// their content in a single fetch.
func (p *Preloader) fill(ctx context.Context) bool {
	p.buf = p.buf[:0]
	p.idx = 0

	for len(p.buf) < p.batch && p.src.Next(ctx) {
		p.buf = append(p.buf, p.src.Item())
	}
	if err := p.src.Err(); err != nil {
		p.err = err
		return false
	}
	if len(p.buf) == 0 {
		return false
	}

	titles := make([]string, len(p.buf))
	for i, page := range p.buf {
		titles[i] = page.Title
	}
	contents, err := p.fetcher.PagesContent(ctx, titles)
	if err != nil {
		p.err = err
		return false
	}
	for i := range p.buf {
		if content, ok := contents[p.buf[i].Title]; ok {
			p.buf[i].Content = content
		} else {
			p.buf[i].Missing = true
		}
	}
	return true
}
