package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnauthenticated is returned when no token is available or the API answers 401.
var ErrUnauthenticated = errors.New("apiclient: authentication required")

// StatusError is a non-2xx answer other than 401.
type StatusError struct {
	Code   int
	Detail string // server-provided detail or message, may be empty
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("api error %d", e.Code)
}

// HistoryQuery is the query of GET /api/history.
type HistoryQuery struct {
	Search   string
	School   string
	Period   string
	Statuses []string
	Page     int
	Limit    int
}

// Values encodes the query. Empty search and the "all" sentinel are omitted.
func (q HistoryQuery) Values() url.Values {
	v := url.Values{}
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set("search", s)
	}
	if q.School != "" && q.School != "all" {
		v.Set("school", q.School)
	}
	if q.Period != "" && q.Period != "all" {
		v.Set("period", q.Period)
	}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// File is a downloaded receipt.
type File struct {
	Data        []byte
	ContentType string
}

// Client calls the remote tuition API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client. Requests end with their context; no client-wide
// timeout is set.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
	}
}

// History fetches one page of payment records and returns the raw body.
func (c *Client) History(ctx context.Context, token string, q HistoryQuery) ([]byte, error) {
	return c.getJSON(ctx, token, "/api/history", q.Values())
}

// Recent fetches the most recent payments with the given status.
func (c *Client) Recent(ctx context.Context, token, status string, limit int) ([]byte, error) {
	v := url.Values{}
	if status != "" {
		v.Set("status", status)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	return c.getJSON(ctx, token, "/api/history/recent", v)
}

// DashboardStats fetches GET /api/dashboard/stats.
func (c *Client) DashboardStats(ctx context.Context, token string) ([]byte, error) {
	return c.getJSON(ctx, token, "/api/dashboard/stats", nil)
}

// SchoolDistribution fetches GET /api/dashboard/school-distribution.
func (c *Client) SchoolDistribution(ctx context.Context, token string) ([]byte, error) {
	return c.getJSON(ctx, token, "/api/dashboard/school-distribution", nil)
}

// PaymentStats fetches GET /api/payments/stats.
func (c *Client) PaymentStats(ctx context.Context, token string) ([]byte, error) {
	return c.getJSON(ctx, token, "/api/payments/stats", nil)
}

// PaymentFile downloads the receipt attached to a payment.
func (c *Client) PaymentFile(ctx context.Context, token string, paymentID int64) (File, error) {
	resp, err := c.do(ctx, token, fmt.Sprintf("/api/payments/%d/file/", paymentID), nil)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, fmt.Errorf("read receipt body: %w", err)
	}
	return File{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, token, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", path, err)
	}
	return body, nil
}

// do sends an authenticated GET. The returned response is always 2xx.
func (c *Client) do(ctx context.Context, token, path string, query url.Values) (*http.Response, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthenticated
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request %s failed: %w", path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthenticated
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, Detail: errorDetail(bodyBytes)}
	}
	return resp, nil
}

// errorDetail pulls {"detail": ...} or {"message": ...} out of an error body.
func errorDetail(body []byte) string {
	var out struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	var detail string
	if err := json.Unmarshal(out.Detail, &detail); err == nil && detail != "" {
		return detail
	}
	return out.Message
}
