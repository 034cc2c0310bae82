package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mwbot-go/mwbot/metrics"
)

// Doer dispatches one logical API call. *Executor is the production
// implementation; tests substitute fakes.
type Doer interface {
	Do(ctx context.Context, req *Request) (Response, error)
	SiteKey() string
}

// Query streams the batches of a continued API query. The server's
// continue object is opaque and carried back verbatim on the next
// request, so new query modules work without client changes.
//
// Usage follows the scanner pattern:
//
//	q := api.NewQuery(exec, req)
//	for q.Next(ctx) {
//	    batch := q.Batch()
//	    ...
//	}
//	if err := q.Err(); err != nil { ... }
//
// Abandoning the loop early dispatches nothing further.
type Query struct {
	doer   Doer
	base   *Request
	module string

	cont    map[string]interface{}
	batch   Response
	err     error
	started bool
	done    bool
}

// NewQuery builds a lazy query over req. No request is dispatched
// until the first Next call.
func NewQuery(doer Doer, req *Request) *Query {
	return &Query{
		doer:   doer,
		base:   req.Clone(),
		module: queryModule(req),
	}
}

// Next fetches the next batch, returning false once the query is
// exhausted or failed. The batch is available via Batch until the
// following Next call.
func (q *Query) Next(ctx context.Context) bool {
	if q.done || q.err != nil {
		return false
	}
	if q.started && q.cont == nil {
		q.done = true
		return false
	}
	q.started = true

	req := q.base.Clone()
	for k, v := range q.cont {
		req.Params.Set(k, contValue(v))
	}

	resp, err := q.doer.Do(ctx, req)
	if err != nil {
		q.err = err
		q.done = true
		return false
	}

	// A nil continue section means this is the final batch; it is
	// still delivered, and the next call to Next ends the loop.
	q.batch = resp
	q.cont = resp.Continue()
	metrics.RecordContinuationPage(q.doer.SiteKey(), q.module)
	return true
}

// Batch returns the most recent response. Valid only after a true
// Next.
func (q *Query) Batch() Response { return q.batch }

// Err returns the error that terminated the query, if any.
func (q *Query) Err() error { return q.err }

// contValue renders a continuation value back into a parameter. The
// server sends strings for most keys and numbers for offsets.
func contValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// queryModule names the query module for metrics labels.
func queryModule(req *Request) string {
	for _, key := range []string{"list", "generator", "prop", "meta"} {
		if v := req.Params.Get(key); v != "" {
			return v
		}
	}
	return req.Action
}
