package librelinkup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"glucolink/internal/domain"
	"glucolink/internal/metrics"
)

// Request constants the vendor expects on every call. Logins without the
// product/version headers are rejected outright.
const (
	productHeader = "llu.ios"
	versionHeader = "4.12.0"
	userAgent     = "Mozilla/5.0 (iPhone; CPU OS 17_4.1 like Mac OS X) AppleWebKit/536.26 (KHTML, like Gecko) Version/17.4.1 Mobile/10A5355d Safari/8536.25"
)

const defaultTimeout = 30 * time.Second

// Client performs the three vendor calls: login, list connections, fetch
// graph. It reads authentication headers from the shared Session and applies
// renewed tickets to it, but never invalidates it; that decision belongs to
// the orchestrator.
type Client struct {
	baseURL    string
	email      string
	password   string
	session    *Session
	httpClient *http.Client
}

// NewClient builds a client for the given vendor region. The region is
// validated here so a typo fails at startup, not on the first fetch.
func NewClient(region, email, password string, session *Session, timeout time.Duration) (*Client, error) {
	baseURL, err := BaseURL(region)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		session:    session,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Login authenticates against the vendor and returns the session fields. It
// does not record them on the Session; the orchestrator owns that side
// effect so login attempts stay explicit.
func (c *Client) Login(ctx context.Context) (SessionFields, error) {
	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return SessionFields{}, fmt.Errorf("marshal login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/llu/auth/login", bytes.NewReader(body))
	if err != nil {
		return SessionFields{}, err
	}
	c.applyDefaultHeaders(req)

	var resp loginResponse
	if err := c.do(req, &resp); err != nil {
		return SessionFields{}, &AuthError{Reason: err.Error()}
	}
	if resp.Status != 0 {
		if resp.Data.Redirect && resp.Data.Region != "" {
			return SessionFields{}, &AuthError{
				Reason:          fmt.Sprintf("vendor status %d, wrong region", resp.Status),
				SuggestedRegion: strings.ToUpper(resp.Data.Region),
			}
		}
		return SessionFields{}, &AuthError{Reason: fmt.Sprintf("vendor status %d", resp.Status)}
	}
	if resp.Data.AuthTicket.Token == "" || resp.Data.User.ID == "" {
		return SessionFields{}, &AuthError{Reason: "response missing auth ticket token or user id"}
	}

	fields := SessionFields{
		Token:     resp.Data.AuthTicket.Token,
		SubjectID: resp.Data.User.ID,
		ExpiresAt: resp.Data.AuthTicket.expiresAt(time.Now().UTC()),
	}
	if fields.ExpiresAt.IsZero() {
		log.Warn().Msg("login succeeded but token expiry could not be determined")
	}
	return fields, nil
}

// ListConnections fetches the patient streams visible to this account.
func (c *Client) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	req, err := c.authenticatedRequest(ctx, http.MethodGet, "/llu/connections")
	if err != nil {
		return nil, err
	}
	var resp connectionsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	if resp.Status != 0 {
		c.applyRenewedTicket("connections", resp.Ticket)
		return nil, &VendorError{Endpoint: "connections", Status: resp.Status}
	}
	out := make([]domain.Connection, 0, len(resp.Data))
	for _, e := range resp.Data {
		out = append(out, domain.Connection{
			PatientID: e.PatientID,
			FirstName: e.FirstName,
			LastName:  e.LastName,
		})
	}
	return out, nil
}

// FetchGraph fetches the graph payload for one patient stream and decomposes
// it into canonical readings. Points with a missing value or an unparseable
// timestamp are skipped individually; one bad point never fails the batch.
func (c *Client) FetchGraph(ctx context.Context, patientID string) (*GraphResult, error) {
	req, err := c.authenticatedRequest(ctx, http.MethodGet, "/llu/connections/"+patientID+"/graph")
	if err != nil {
		return nil, err
	}
	var resp graphResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("fetch graph: %w", err)
	}
	if resp.Status != 0 {
		c.applyRenewedTicket("graph", resp.Ticket)
		return nil, &VendorError{Endpoint: "graph", Status: resp.Status}
	}

	capturedAt := time.Now().UTC()
	result := &GraphResult{
		Latest:  parseLatest(resp.Data.Connection.GlucoseMeasurement, capturedAt),
		History: parseHistory(resp.Data.GraphData, capturedAt),
	}
	return result, nil
}

// do sends the request and decodes the body. Transport errors and non-2xx
// statuses are reported as errors; 401/403 wrap ErrUnauthorized so the
// orchestrator can tell auth failures apart.
func (c *Client) do(req *http.Request, target interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s returned %d: %w", req.URL.Path, resp.StatusCode, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) authenticatedRequest(ctx context.Context, method, path string) (*http.Request, error) {
	authHeaders, err := c.session.AuthenticatedHeaders()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.applyDefaultHeaders(req)
	for k, vs := range authHeaders {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

func (c *Client) applyDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("product", productHeader)
	req.Header.Set("version", versionHeader)
	req.Header.Set("Cache-Control", "no-cache")
}

// applyRenewedTicket installs a token the vendor piggybacked on a failed
// response. Discarding it would force an unnecessary extra login next cycle.
func (c *Client) applyRenewedTicket(endpoint string, ticket *authTicket) {
	if ticket == nil || ticket.Token == "" {
		return
	}
	if c.session.RecordRenewedTicket(ticket.Token, ticket.expiresAt(time.Now().UTC())) {
		metrics.TicketRenewals.Inc()
		log.Info().Str("endpoint", endpoint).Msg("applied renewed auth ticket from failed response")
	}
}

func parseLatest(raw json.RawMessage, capturedAt time.Time) *domain.Reading {
	if len(raw) == 0 || string(raw) == "null" {
		log.Warn().Msg("graph payload missing latest glucose measurement")
		return nil
	}
	var m measurement
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Warn().Err(err).Msg("malformed latest glucose measurement")
		return nil
	}
	if m.ValueInMgPerDl == nil {
		log.Warn().Msg("latest glucose measurement has no value, skipping")
		return nil
	}
	ts, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		log.Warn().Err(err).Msg("latest glucose measurement has unparseable timestamp, skipping")
		return nil
	}
	return &domain.Reading{
		DeviceTimestamp: ts,
		CapturedAt:      capturedAt,
		SGV:             *m.ValueInMgPerDl,
		Direction:       MapTrendArrow(m.TrendArrow),
		Kind:            domain.ReadingKindSGV,
		Raw:             raw,
	}
}

func parseHistory(rawPoints []json.RawMessage, capturedAt time.Time) []domain.Reading {
	out := make([]domain.Reading, 0, len(rawPoints))
	for _, raw := range rawPoints {
		var m measurement
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Warn().Err(err).Msg("malformed history point, skipping")
			continue
		}
		if m.Value == nil {
			continue
		}
		ts, err := ParseTimestamp(m.Timestamp)
		if err != nil {
			log.Warn().Str("timestamp", m.Timestamp).Msg("history point has unparseable timestamp, skipping")
			continue
		}
		out = append(out, domain.Reading{
			DeviceTimestamp: ts,
			CapturedAt:      capturedAt,
			SGV:             *m.Value,
			// History points carry no trend arrow.
			Direction: domain.DirectionNone,
			Kind:      domain.ReadingKindSGV,
			Raw:       raw,
		})
	}
	return out
}
