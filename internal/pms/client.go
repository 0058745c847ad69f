// Package pms is the client for the external channel manager's REST API.
// Every call, successful or not, is written to the integration log.
package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

var (
	// ErrNotConfigured means no base URL or refresh token is set.
	ErrNotConfigured = errors.New("pms: API credentials not configured")
	// ErrAuthFailed means the refresh token could not be exchanged.
	ErrAuthFailed = errors.New("pms: authentication failed")
)

// APIError is a non-2xx response or a response reporting success=false.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pms: http %d: %s", e.Status, e.Body)
}

// loggedError marks the failure of a request that already has its own
// integration log row naming the entity. Token and validation failures are
// never marked.
type loggedError struct{ err error }

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

// Logged reports whether err came from a request the client already wrote to
// the integration log.
func Logged(err error) bool {
	var le *loggedError
	return errors.As(err, &le)
}

// BookingAPI is the subset of the remote API the synchronizers use.
type BookingAPI interface {
	ListBookings(ctx context.Context, q BookingQuery) ([]Booking, error)
	CreateBooking(ctx context.Context, nb NewBooking) (string, error)
	CancelBooking(ctx context.Context, externalID string) error
}

// CallRecorder receives one entry per HTTP call.
type CallRecorder interface {
	AppendLog(ctx context.Context, e *model.IntegrationLogEntry) error
}

// Config configures Client.
type Config struct {
	BaseURL           string
	RefreshToken      string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the remote API.
type Client struct {
	cfg      Config
	http     *http.Client
	tokens   TokenCache
	limiter  *rate.Limiter
	recorder CallRecorder
	now      func() time.Time
}

// New builds a Client. tokens and recorder may be nil.
func New(cfg Config, tokens TokenCache, recorder CallRecorder) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		tokens:   tokens,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		recorder: recorder,
		now:      time.Now,
	}
}

// Configured reports whether calls can be attempted.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.RefreshToken != ""
}

type runIDKey struct{}

// WithRunID tags integration log entries written under ctx with a sync run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run id stored by WithRunID.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey{}).(string)
	return v
}

// Token returns a usable access token, refreshing it when it is within five
// minutes of expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if t, ok := c.tokens.Get(ctx); ok && t.Fresh(c.now()) {
		return t.Value, nil
	}

	call := callInfo{action: "auth_token", method: http.MethodGet, path: "/authentication/token"}
	headers := http.Header{"refreshToken": []string{c.cfg.RefreshToken}}

	var tr tokenResponse
	if err := c.exchange(ctx, call, headers, nil, &tr); err != nil {
		_ = c.tokens.Clear(ctx)
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("%w: empty token in response", ErrAuthFailed)
	}

	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	tok := Token{Value: tr.Token, ExpiresAt: c.now().Add(expiresIn)}
	if err := c.tokens.Set(ctx, tok); err != nil {
		appLog.Warn("pms token cache write failed", "err", err.Error())
	}
	return tok.Value, nil
}

// ListBookings fetches every page matching q.
func (c *Client) ListBookings(ctx context.Context, q BookingQuery) ([]Booking, error) {
	params := url.Values{}
	for _, id := range q.PropertyIDs {
		params.Add("propertyId", id)
	}
	if q.ModifiedFrom != nil {
		params.Set("modifiedFrom", q.ModifiedFrom.UTC().Format(time.RFC3339))
	}
	if q.ArrivalTo != nil {
		params.Set("arrivalTo", model.FormatDate(*q.ArrivalTo))
	}
	if q.DepartureFrom != nil {
		params.Set("departureFrom", model.FormatDate(*q.DepartureFrom))
	}
	if q.IncludeCancelled {
		for _, s := range []string{StatusConfirmed, StatusRequest, StatusNew, StatusBlack, StatusInquiry, StatusCancelled} {
			params.Add("status", s)
		}
	}

	var all []Booking
	for page := 1; ; page++ {
		params.Set("page", strconv.Itoa(page))
		var p bookingsPage
		call := callInfo{
			action:     "list_bookings",
			method:     http.MethodGet,
			path:       "/bookings?" + params.Encode(),
			entityType: "property",
			entityID:   strings.Join(q.PropertyIDs, ","),
		}
		if err := c.authorized(ctx, call, nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Data...)
		if !p.Pages.NextPageExists || len(p.Data) == 0 {
			break
		}
	}
	return all, nil
}

// CreateBooking pushes a reservation and returns its remote id.
func (c *Client) CreateBooking(ctx context.Context, nb NewBooking) (string, error) {
	call := callInfo{
		action:     "create_booking",
		method:     http.MethodPost,
		path:       "/bookings",
		entityType: "booking",
		entityID:   nb.APIReference,
	}
	var res []writeResult
	if err := c.authorized(ctx, call, []NewBooking{nb}, &res); err != nil {
		return "", err
	}
	if len(res) == 0 || !res[0].Success || res[0].New == nil {
		return "", &APIError{Status: http.StatusOK, Body: describeWriteErrors(res)}
	}
	return strconv.FormatInt(res[0].New.ID, 10), nil
}

// CancelBooking sets a remote reservation to cancelled.
func (c *Client) CancelBooking(ctx context.Context, externalID string) error {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return fmt.Errorf("pms: invalid external id %q: %w", externalID, err)
	}
	call := callInfo{
		action:     "cancel_booking",
		method:     http.MethodPost,
		path:       "/bookings",
		entityType: "booking",
		entityID:   externalID,
	}
	payload := []map[string]any{{"id": id, "status": StatusCancelled}}
	var res []writeResult
	if err := c.authorized(ctx, call, payload, &res); err != nil {
		return err
	}
	if len(res) == 0 || !res[0].Success {
		return &APIError{Status: http.StatusOK, Body: describeWriteErrors(res)}
	}
	return nil
}

type callInfo struct {
	action     string
	method     string
	path       string
	entityType string
	entityID   string
}

// authorized obtains a token first so that credential problems surface as
// ErrNotConfigured/ErrAuthFailed before any request is built.
func (c *Client) authorized(ctx context.Context, call callInfo, body, out any) error {
	tok, err := c.Token(ctx)
	if err != nil {
		return err
	}
	err = c.exchange(ctx, call, http.Header{"token": []string{tok}}, body, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		_ = c.tokens.Clear(ctx)
	}
	if err != nil && c.recorder != nil {
		return &loggedError{err: err}
	}
	return err
}

// exchange performs one rate-limited, time-bounded request and records it.
func (c *Client) exchange(ctx context.Context, call callInfo, headers http.Header, body, out any) (err error) {
	start := c.now()
	entry := &model.IntegrationLogEntry{
		RunID:      RunID(ctx),
		Direction:  model.DirectionOutbound,
		Action:     call.action,
		EntityType: call.entityType,
		EntityID:   call.entityID,
		Method:     call.method,
		Path:       call.path,
	}
	defer func() {
		entry.DurationMs = c.now().Sub(start).Milliseconds()
		entry.Status = model.LogSuccess
		if err != nil {
			entry.Status = model.LogFailed
			entry.Error = err.Error()
		}
		c.record(entry)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pms: rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		entry.RequestPayload = payloadForLog(raw)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, c.cfg.BaseURL+call.path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("pms: %s timed out after %s: %w", call.action, c.cfg.Timeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("pms: %s: %w", call.action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	entry.StatusCode = resp.StatusCode
	entry.ResponsePayload = payloadForLog(raw)
	if err != nil {
		return fmt.Errorf("pms: %s: read body: %w", call.action, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("pms: %s: malformed response: %w", call.action, err)
		}
	}
	return nil
}

func (c *Client) record(e *model.IntegrationLogEntry) {
	if c.recorder == nil {
		return
	}
	// The caller's context may already be cancelled; the audit row must
	// still be written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.AppendLog(ctx, e); err != nil {
		appLog.Error("integration log write failed", err, "action", e.Action)
	}
}

func describeWriteErrors(res []writeResult) string {
	if len(res) == 0 {
		return "empty write response"
	}
	parts := make([]string, 0, len(res[0].Errors))
	for _, e := range res[0].Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	if len(parts) == 0 {
		return "write rejected"
	}
	return strings.Join(parts, "; ")
}
