package pages

import (
	"context"

	"github.com/mwbot-go/mwbot/api"
)

// Iterator streams typed items out of a continued query, one at a
// time. Batches are fetched lazily; abandoning the loop early
// dispatches nothing further. A fresh iterator always starts a fresh
// continuation sequence; there is no rewind.
//
//	it := pages.NewIterator(q, pages.FromList("allpages"))
//	for it.Next(ctx) {
//	    p := it.Item()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] struct {
	q       *api.Query
	extract func(api.Response) []T

	buf []T
	idx int
	cur T
	err error
}

// NewIterator wraps a query with an extractor that pulls typed items
// out of each batch.
func NewIterator[T any](q *api.Query, extract func(api.Response) []T) *Iterator[T] {
	return &Iterator[T]{q: q, extract: extract}
}

// Next advances to the next item, fetching the next batch when the
// current one is drained. Empty batches are legal and skipped.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for it.idx >= len(it.buf) {
		if !it.q.Next(ctx) {
			it.err = it.q.Err()
			return false
		}
		it.buf = it.extract(it.q.Batch())
		it.idx = 0
	}
	it.cur = it.buf[it.idx]
	it.idx++
	return true
}

// Item returns the current item. Valid only after a true Next.
func (it *Iterator[T]) Item() T { return it.cur }

// Err returns the error that terminated iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

// Collect drains the iterator into a slice. Intended for tests and
// small bounded queries.
func (it *Iterator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for it.Next(ctx) {
		out = append(out, it.Item())
	}
	return out, it.Err()
}
