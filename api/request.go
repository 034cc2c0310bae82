package api

import "net/url"

// Method distinguishes read queries from state-changing calls. Reads
// go out as GET and carry the maxlag parameter; writes go out as POST
// and carry an action token.
type Method int

const (
	Read Method = iota
	Write
)

// Request describes one logical action-API call before dispatch:
// the action name, its parameters, and whether it needs a token.
type Request struct {
	// Action is the API action ("query", "edit", "login", ...).
	Action string

	// Params holds the module parameters. The executor adds action,
	// format, maxlag, and token on dispatch; callers never set those.
	Params url.Values

	// Method selects GET (Read) or POST (Write).
	Method Method

	// TokenKind names the action token required for dispatch ("csrf",
	// "patrol", ...). Empty means no token.
	TokenKind string
}

// NewRequest builds a read request for action with empty parameters.
func NewRequest(action string) *Request {
	return &Request{Action: action, Params: url.Values{}}
}

// NewWrite builds a write request for action requiring a token of the
// given kind.
func NewWrite(action, tokenKind string) *Request {
	return &Request{
		Action:    action,
		Params:    url.Values{},
		Method:    Write,
		TokenKind: tokenKind,
	}
}

// Set sets a single-valued parameter and returns the request for
// chaining.
func (r *Request) Set(key, value string) *Request {
	r.Params.Set(key, value)
	return r
}

// Clone deep-copies the request so continuation keys can be merged
// into the copy without mutating the caller's descriptor.
func (r *Request) Clone() *Request {
	params := make(url.Values, len(r.Params))
	for k, vs := range r.Params {
		params[k] = append([]string(nil), vs...)
	}
	return &Request{
		Action:    r.Action,
		Params:    params,
		Method:    r.Method,
		TokenKind: r.TokenKind,
	}
}
