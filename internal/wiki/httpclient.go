package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClientOptions configures the bridge to the wiki collaborator process.
type HTTPClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
}

// HTTPClient implements Client against the collaborator's HTTP bridge.
// The collaborator owns sessions, authentication and the MediaWiki API;
// this side only moves typed requests and responses.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// NewHTTPClient returns a bridge client for the given base URL.
func NewHTTPClient(opts HTTPClientOptions) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("wiki bridge base URL must not be empty")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}, nil
}

type boolResponse struct {
	Value bool `json:"value"`
}

type textResponse struct {
	Text string `json:"text"`
}

type timestampResponse struct {
	Timestamp string `json:"timestamp"`
}

type contributionsResponse struct {
	Contributions []struct {
		Title      string    `json:"title"`
		Namespace  int       `json:"namespace"`
		Timestamp  time.Time `json:"timestamp"`
		RevisionID int64     `json:"revisionId"`
	} `json:"contributions"`
}

type newUsersResponse struct {
	Users []struct {
		Name         string    `json:"name"`
		RegisteredAt time.Time `json:"registeredAt"`
	} `json:"users"`
}

type saveRequest struct {
	Title   string `json:"title"`
	Text    string `json:"text"`
	Summary string `json:"summary"`
}

func (c *HTTPClient) Exists(ctx context.Context, title string) (bool, error) {
	var out boolResponse
	err := c.getJSON(ctx, "/v1/pages/exists", url.Values{"title": {title}}, &out)
	return out.Value, err
}

func (c *HTTPClient) Get(ctx context.Context, title string) (string, error) {
	var out textResponse
	err := c.getJSON(ctx, "/v1/pages/text", url.Values{"title": {title}}, &out)
	return out.Text, err
}

func (c *HTTPClient) Save(ctx context.Context, title, text, summary string) error {
	return c.postJSON(ctx, "/v1/pages/save", saveRequest{Title: title, Text: text, Summary: summary})
}

func (c *HTTPClient) Protection(ctx context.Context, title string) (bool, error) {
	var out boolResponse
	err := c.getJSON(ctx, "/v1/pages/protection", url.Values{"title": {title}}, &out)
	return out.Value, err
}

func (c *HTTPClient) IsRegistered(ctx context.Context, user string) (bool, error) {
	var out boolResponse
	err := c.getJSON(ctx, "/v1/users/registered", url.Values{"user": {user}}, &out)
	return out.Value, err
}

func (c *HTTPClient) IsBlocked(ctx context.Context, user string) (bool, error) {
	var out boolResponse
	err := c.getJSON(ctx, "/v1/users/blocked", url.Values{"user": {user}}, &out)
	return out.Value, err
}

func (c *HTTPClient) IsGloballyLocked(ctx context.Context, user string) (bool, error) {
	var out boolResponse
	err := c.getJSON(ctx, "/v1/users/locked", url.Values{"user": {user}}, &out)
	return out.Value, err
}

func (c *HTTPClient) HasRight(ctx context.Context, user, right string) (bool, error) {
	var out boolResponse
	err := c.getJSON(ctx, "/v1/users/right", url.Values{"user": {user}, "right": {right}}, &out)
	return out.Value, err
}

func (c *HTTPClient) LastEvent(ctx context.Context, user string) (time.Time, error) {
	var out timestampResponse
	if err := c.getJSON(ctx, "/v1/users/last-event", url.Values{"user": {user}}, &out); err != nil {
		return time.Time{}, err
	}
	if out.Timestamp == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, out.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last-event timestamp: %w", err)
	}
	return ts, nil
}

func (c *HTTPClient) Contributions(ctx context.Context, user string, limit int) ([]Contribution, error) {
	var out contributionsResponse
	query := url.Values{"user": {user}, "limit": {strconv.Itoa(limit)}}
	if err := c.getJSON(ctx, "/v1/users/contributions", query, &out); err != nil {
		return nil, err
	}
	contributions := make([]Contribution, 0, len(out.Contributions))
	for _, raw := range out.Contributions {
		contributions = append(contributions, Contribution{
			Title:      raw.Title,
			Namespace:  raw.Namespace,
			Timestamp:  raw.Timestamp,
			RevisionID: raw.RevisionID,
		})
	}
	return contributions, nil
}

func (c *HTTPClient) NewUsers(ctx context.Context, from, to time.Time) ([]NewUser, error) {
	var out newUsersResponse
	query := url.Values{
		"from": {from.UTC().Format(time.RFC3339)},
		"to":   {to.UTC().Format(time.RFC3339)},
	}
	if err := c.getJSON(ctx, "/v1/users/new", query, &out); err != nil {
		return nil, err
	}
	users := make([]NewUser, 0, len(out.Users))
	for _, u := range out.Users {
		users = append(users, NewUser{Name: u.Name, RegisteredAt: u.RegisteredAt})
	}
	return users, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("wiki bridge %s: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wiki bridge %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wiki bridge %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, nil)
}

func (c *HTTPClient) do(req *http.Request, path string, out any) error {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wiki bridge %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wiki bridge %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("wiki bridge %s: decode: %w", path, err)
	}
	return nil
}
