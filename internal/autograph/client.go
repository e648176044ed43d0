// Package autograph is a client for the AutoGRAPH ServiceJSON telemetry API.
package autograph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/aevon-lab/project-tracklog/internal/metrics"
)

var (
	// ErrUnauthorized means the session or credentials were rejected.
	ErrUnauthorized = errors.New("autograph: unauthorized")
	// ErrUnexpectedStatus wraps any other non-200 response.
	ErrUnexpectedStatus = errors.New("autograph: unexpected status")
	// ErrMalformedResponse means a 200 body could not be decoded.
	ErrMalformedResponse = errors.New("autograph: malformed response")
)

const (
	servicePath = "/ServiceJSON/"

	// maxErrorBody bounds how much of a failed response is kept for the error message.
	maxErrorBody = 4 << 10
	// maxResponseBody bounds successful bodies; trip items for wide batches can be large.
	maxResponseBody = 64 << 20
)

// API is the subset of the AutoGRAPH API the service consumes.
type API interface {
	Login(ctx context.Context, user, password string, utcOffset int) (string, error)
	EnumSchemas(ctx context.Context, session string) ([]Schema, error)
	EnumDevices(ctx context.Context, session, schemaID string) (*DeviceList, error)
	GetTripItems(ctx context.Context, session string, req TripItemsRequest) (TripItemsResponse, error)
	GetTripsTotal(ctx context.Context, session string, req TripsTotalRequest) (TripsTotalResponse, error)
	GetOnlineInfo(ctx context.Context, session string, req OnlineInfoRequest) (OnlineInfoResponse, error)
}

// Client talks to one AutoGRAPH deployment over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

var _ API = (*Client)(nil)

// NewClient creates a client for baseURL. Each request is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "tracklog/1.0",
	}
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, user, password string, utcOffset int) (string, error) {
	q := url.Values{}
	q.Set("UserName", user)
	q.Set("Password", password)
	q.Set("UTCOffset", strconv.Itoa(utcOffset))

	body, err := c.get(ctx, "Login", q)
	if err != nil {
		return "", err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var lr loginResponse
		if err := json.Unmarshal(trimmed, &lr); err != nil {
			metrics.UpstreamRequests.WithLabelValues("Login", "malformed").Inc()
			return "", fmt.Errorf("%w: login: %v", ErrMalformedResponse, err)
		}
		if !lr.Success || lr.Session == "" {
			msg := lr.Error
			if msg == "" {
				msg = "login rejected"
			}
			metrics.UpstreamRequests.WithLabelValues("Login", "unauthorized").Inc()
			return "", fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		}
		metrics.UpstreamRequests.WithLabelValues("Login", "ok").Inc()
		return lr.Session, nil
	}

	token := strings.Trim(string(trimmed), `"`)
	if token == "" {
		metrics.UpstreamRequests.WithLabelValues("Login", "unauthorized").Inc()
		return "", fmt.Errorf("%w: empty session token", ErrUnauthorized)
	}
	metrics.UpstreamRequests.WithLabelValues("Login", "ok").Inc()
	return token, nil
}

// EnumSchemas lists the schemas visible to the session.
func (c *Client) EnumSchemas(ctx context.Context, session string) ([]Schema, error) {
	q := url.Values{}
	q.Set("session", session)

	var schemas []Schema
	if err := c.getJSON(ctx, "EnumSchemas", q, &schemas); err != nil {
		return nil, err
	}
	return schemas, nil
}

// EnumDevices lists the devices of one schema.
func (c *Client) EnumDevices(ctx context.Context, session, schemaID string) (*DeviceList, error) {
	q := url.Values{}
	q.Set("session", session)
	q.Set("schemaID", schemaID)

	var list DeviceList
	if err := c.getJSON(ctx, "EnumDevices", q, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetTripItems fetches per-record trip items for one parameter batch.
func (c *Client) GetTripItems(ctx context.Context, session string, req TripItemsRequest) (TripItemsResponse, error) {
	q := url.Values{}
	q.Set("session", session)
	q.Set("schemaID", req.SchemaID)
	q.Set("IDs", strings.Join(req.DeviceIDs, ","))
	q.Set("SD", req.Start)
	q.Set("ED", req.End)
	q.Set("tripSplitterIndex", strconv.Itoa(req.TripSplitterIndex))
	q.Set("tripParams", strings.Join(req.Params, ","))
	if req.Stage != "" {
		q.Set("stage", req.Stage)
	}

	var resp TripItemsResponse
	if err := c.getJSON(ctx, "GetTripItems", q, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = TripItemsResponse{}
	}
	return resp, nil
}

// GetTripsTotal fetches per-trip totals for the selected devices.
func (c *Client) GetTripsTotal(ctx context.Context, session string, req TripsTotalRequest) (TripsTotalResponse, error) {
	q := url.Values{}
	q.Set("session", session)
	q.Set("schemaID", req.SchemaID)
	q.Set("IDs", strings.Join(req.DeviceIDs, ","))
	q.Set("SD", req.Start)
	q.Set("ED", req.End)
	q.Set("tripSplitterIndex", strconv.Itoa(req.TripSplitterIndex))

	var resp TripsTotalResponse
	if err := c.getJSON(ctx, "GetTripsTotal", q, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = TripsTotalResponse{}
	}
	return resp, nil
}

// GetOnlineInfo fetches the latest state of the requested devices. Without
// device ids it calls GetOnlineInfoAll for the whole schema.
func (c *Client) GetOnlineInfo(ctx context.Context, session string, req OnlineInfoRequest) (OnlineInfoResponse, error) {
	q := url.Values{}
	q.Set("session", session)
	q.Set("schemaID", req.SchemaID)

	endpoint := "GetOnlineInfoAll"
	if len(req.DeviceIDs) > 0 {
		endpoint = "GetOnlineInfo"
		q.Set("IDs", strings.Join(req.DeviceIDs, ","))
	}
	if len(req.FinalParams) > 0 {
		q.Set("finalParams", strings.Join(req.FinalParams, ","))
	}

	var resp OnlineInfoResponse
	if err := c.getJSON(ctx, endpoint, q, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		resp = OnlineInfoResponse{}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	body, err := c.get(ctx, endpoint, q)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "malformed").Inc()
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, endpoint, err)
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	reqURL := c.baseURL + servicePath + endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "transport").Inc()
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.UpstreamRequests.WithLabelValues(endpoint, "unauthorized").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, endpoint)
	case resp.StatusCode != http.StatusOK:
		metrics.UpstreamRequests.WithLabelValues(endpoint, "status").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnexpectedStatus, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "transport").Inc()
		return nil, fmt.Errorf("reading %s response: %w", endpoint, err)
	}
	return body, nil
}
