package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mwbot-go/mwbot/metrics"
	"github.com/mwbot-go/mwbot/throttle"
)

const tracerName = "mwbot/api"

// TokenProvider supplies action tokens for write requests and accepts
// staleness reports after a server rejection.
type TokenProvider interface {
	Token(ctx context.Context, kind string) (string, error)
	Invalidate(kind string)
}

// Authorizer owns the login session. EnsureAuthenticated is idempotent
// and called before every token-carrying request; Authorize attaches
// transport-level credentials (an OAuth bearer header) when the
// session uses them.
type Authorizer interface {
	EnsureAuthenticated(ctx context.Context) error
	Authorize(ctx context.Context, req *http.Request) error
}

// Executor issues single logical API calls for one site: throttle slot,
// auth, bounded-timeout network call, outcome classification, retries.
type Executor struct {
	apiURL    string
	siteKey   string
	userAgent string
	maxLag    time.Duration

	httpClient *http.Client
	throttle   *throttle.Throttle
	retry      RetryPolicy
	breaker    *Breaker
	logger     *slog.Logger
	tracer     trace.Tracer

	tokens TokenProvider
	auth   Authorizer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.httpClient = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.retry = p }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ExecutorOption {
	return func(e *Executor) { e.userAgent = ua }
}

// WithMaxLag sets the maxlag parameter attached to read requests.
// Zero disables the parameter.
func WithMaxLag(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.maxLag = d }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) ExecutorOption {
	return func(e *Executor) { e.breaker = b }
}

// NewExecutor creates an executor for one API endpoint. siteKey scopes
// throttling and is usually "code:family".
func NewExecutor(apiURL, siteKey string, th *throttle.Throttle, opts ...ExecutorOption) *Executor {
	e := &Executor{
		apiURL:    apiURL,
		siteKey:   siteKey,
		userAgent: "mwbot/1.0 (https://github.com/mwbot-go/mwbot)",
		maxLag:    5 * time.Second,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		throttle: th,
		retry:    DefaultRetryPolicy(),
		breaker:  NewBreaker(5, 30*time.Second),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetAuth wires the session manager in after construction. The manager
// needs this executor to fetch login and action tokens, so it cannot
// be passed to NewExecutor.
func (e *Executor) SetAuth(auth Authorizer, tokens TokenProvider) {
	e.auth = auth
	e.tokens = tokens
}

// SiteKey returns the throttle key this executor dispatches under.
func (e *Executor) SiteKey() string { return e.siteKey }

// HTTPClient exposes the underlying client so the session manager can
// share its cookie jar.
func (e *Executor) HTTPClient() *http.Client { return e.httpClient }

// Do executes one logical API call. Transient failures are retried
// under the executor's policy; a rejected action token triggers
// exactly one refresh and resubmission, never a loop.
func (e *Executor) Do(ctx context.Context, req *Request) (Response, error) {
	var token string
	if req.TokenKind != "" {
		if e.tokens == nil || e.auth == nil {
			return nil, &AuthError{Site: e.siteKey, Reason: "write requires credentials, none configured"}
		}
		if err := e.auth.EnsureAuthenticated(ctx); err != nil {
			return nil, err
		}
		var err error
		token, err = e.tokens.Token(ctx, req.TokenKind)
		if err != nil {
			return nil, err
		}
	}

	resp, err := e.dispatch(ctx, req, token)

	var rejected *TokenRejectedError
	if errors.As(err, &rejected) && req.TokenKind != "" {
		e.tokens.Invalidate(req.TokenKind)
		metrics.RecordTokenRefresh(e.siteKey, req.TokenKind)
		e.logger.Warn("action token rejected, refreshing",
			"site", e.siteKey,
			"action", req.Action,
			"kind", req.TokenKind)

		token, err = e.tokens.Token(ctx, req.TokenKind)
		if err != nil {
			return nil, &AuthError{Site: e.siteKey, Reason: "token refresh failed", Err: err}
		}

		resp, err = e.dispatch(ctx, req, token)
		if errors.As(err, &rejected) {
			e.tokens.Invalidate(req.TokenKind)
			return nil, &AuthError{Site: e.siteKey, Reason: "token rejected twice", Err: err}
		}
	}

	return resp, err
}

// dispatch runs the transient-failure retry loop around single
// attempts. Permanent, auth, and token errors short-circuit.
func (e *Executor) dispatch(ctx context.Context, req *Request, token string) (Response, error) {
	bo := e.retry.newBackOff()
	attempts := e.retry.attempts()
	requestID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			metrics.RecordRetry(e.siteKey, req.Action)
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			}
		}

		if !e.breaker.Allow() {
			return nil, &TransientNetworkError{
				Site:     e.siteKey,
				Action:   req.Action,
				Attempts: attempt,
				Err:      e.breaker.errOpen(e.siteKey),
			}
		}

		if err := e.throttle.Wait(ctx, e.siteKey); err != nil {
			return nil, err
		}
		e.throttle.RecordDispatch(e.siteKey)

		resp, err := e.attempt(ctx, req, token, requestID, attempt)
		if err == nil {
			e.breaker.RecordSuccess()
			e.throttle.ReportFast(e.siteKey)
			return resp, nil
		}

		var rate *RateLimitError
		switch {
		case errors.As(err, &rate):
			// Lag already reported to the throttle inside attempt.
			lastErr = err
		case isShortCircuit(err):
			return nil, err
		default:
			e.breaker.RecordFailure()
			lastErr = err
			e.logger.Warn("API request failed, retrying",
				"site", e.siteKey,
				"action", req.Action,
				"request_id", requestID,
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err)
		}
	}

	var rate *RateLimitError
	if errors.As(lastErr, &rate) {
		return nil, lastErr
	}
	return nil, &TransientNetworkError{
		Site:     e.siteKey,
		Action:   req.Action,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// isShortCircuit reports whether err must not be retried by the
// transient loop.
func isShortCircuit(err error) bool {
	var tokenErr *TokenRejectedError
	var throttleErr *throttle.TimeoutError
	return IsPermanent(err) || IsAuth(err) ||
		errors.As(err, &tokenErr) || errors.As(err, &throttleErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// attempt performs one network call and classifies its outcome.
// A fresh http.Request is built per attempt because the body is
// consumed on read.
func (e *Executor) attempt(ctx context.Context, req *Request, token, requestID string, attempt int) (Response, error) {
	ctx, span := e.tracer.Start(ctx, "mwapi."+req.Action,
		trace.WithAttributes(
			attribute.String("mwbot.site", e.siteKey),
			attribute.String("mwbot.action", req.Action),
			attribute.String("mwbot.request_id", requestID),
			attribute.Int("mwbot.attempt", attempt),
		))
	defer span.End()

	form := e.buildParams(req, token)

	httpReq, err := e.buildHTTPRequest(ctx, req.Method, form)
	if err != nil {
		return nil, &InvalidRequestError{Site: e.siteKey, Action: req.Action, Code: "bad-request", Info: err.Error()}
	}
	if e.auth != nil {
		if err := e.auth.Authorize(ctx, httpReq); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordAPICall(e.siteKey, req.Action, time.Since(start).Seconds(), false, "transport")
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, err := io.ReadAll(httpResp.Body)
	_ = httpResp.Body.Close()
	if err != nil {
		metrics.RecordAPICall(e.siteKey, req.Action, time.Since(start).Seconds(), false, "read-body")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if outcome := e.classifyStatus(req, httpResp, body); outcome != nil {
		metrics.RecordAPICall(e.siteKey, req.Action, time.Since(start).Seconds(), false, fmt.Sprintf("http-%d", httpResp.StatusCode))
		return nil, outcome
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.RecordAPICall(e.siteKey, req.Action, time.Since(start).Seconds(), false, "bad-json")
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if errObj := resp.Map("error"); errObj != nil {
		code := getString(errObj["code"])
		info := getString(errObj["info"])
		apiErr := e.classifyEnvelope(req, httpResp, code, info, errObj)
		metrics.RecordAPICall(e.siteKey, req.Action, time.Since(start).Seconds(), false, code)
		return nil, apiErr
	}

	metrics.RecordAPICall(e.siteKey, req.Action, time.Since(start).Seconds(), true, "")
	return resp, nil
}

// buildParams merges the descriptor's parameters with the executor's
// ambient ones. Original parameters are never dropped between
// attempts; only token and continuation keys differ.
func (e *Executor) buildParams(req *Request, token string) url.Values {
	form := make(url.Values, len(req.Params)+4)
	for k, vs := range req.Params {
		form[k] = append([]string(nil), vs...)
	}
	form.Set("action", req.Action)
	form.Set("format", "json")
	if req.Method == Read && e.maxLag > 0 {
		form.Set("maxlag", strconv.Itoa(int(e.maxLag.Seconds())))
	}
	if token != "" {
		form.Set("token", token)
	}
	return form
}

func (e *Executor) buildHTTPRequest(ctx context.Context, method Method, form url.Values) (*http.Request, error) {
	var httpReq *http.Request
	var err error
	if method == Write {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, e.apiURL+"?"+form.Encode(), nil)
		if err != nil {
			return nil, err
		}
	}
	httpReq.Header.Set("User-Agent", e.userAgent)
	return httpReq, nil
}

// classifyStatus maps non-2xx HTTP statuses. 5xx and 429 are
// retryable; other 4xx are permanent.
func (e *Executor) classifyStatus(req *Request, httpResp *http.Response, body []byte) error {
	status := httpResp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		lag := retryAfter(httpResp)
		e.throttle.ReportLag(e.siteKey, lag)
		return &RateLimitError{Site: e.siteKey, Action: req.Action, Lag: lag, Code: "http-429"}
	case status >= 500:
		return fmt.Errorf("server error %d: %s", status, truncateBody(body))
	default:
		return &InvalidRequestError{
			Site:   e.siteKey,
			Action: req.Action,
			Code:   fmt.Sprintf("http-%d", status),
			Info:   truncateBody(body),
		}
	}
}

// classifyEnvelope maps an action-API error object, reporting lag to
// the throttle when the server asked us to slow down.
func (e *Executor) classifyEnvelope(req *Request, httpResp *http.Response, code, info string, errObj map[string]interface{}) error {
	var lag time.Duration
	if code == "maxlag" || code == "ratelimited" || code == "readonly" {
		if secs, ok := errObj["lag"].(float64); ok && secs > 0 {
			lag = time.Duration(secs * float64(time.Second))
		} else {
			lag = retryAfter(httpResp)
		}
		e.throttle.ReportLag(e.siteKey, lag)
	}

	err := classifyAPIError(e.siteKey, req.Action, code, info, lag)
	var rejected *TokenRejectedError
	if errors.As(err, &rejected) && req.TokenKind != "" {
		rejected.Kind = req.TokenKind
	}
	return err
}

// retryAfter parses the Retry-After header, defaulting to 5s.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

func truncateBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
