package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIError is a non-2xx response from the Jira REST API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API returned %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a Jira 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides HTTP access to a Jira instance. Credentials are guarded
// by a mutex so the config watcher can swap them while requests are in
// flight.
type Client struct {
	mu       sync.RWMutex
	url      string
	username string
	apiToken string

	HTTPClient *http.Client
}

// NewClient creates a new Jira client.
func NewClient(url, username, apiToken string) *Client {
	return &Client{
		url:      strings.TrimSuffix(url, "/"),
		username: username,
		apiToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// SetCredentials swaps the endpoint and credentials. Requests started
// before the swap finish with the old values; requests started after use
// the new ones. An empty baseURL keeps the current endpoint.
func (c *Client) SetCredentials(baseURL, username, apiToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if baseURL != "" {
		c.url = strings.TrimSuffix(baseURL, "/")
	}
	c.username = username
	c.apiToken = apiToken
}

func (c *Client) credentials() (baseURL, username, apiToken string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url, c.username, c.apiToken
}

// searchFields is the default set of fields to request in search/get queries.
const searchFields = "summary,description,status,priority,issuetype,project,assignee,labels"

// GetIssue fetches a single Jira issue by key (e.g., "SCRUM-7").
// Returns nil, nil when the issue does not exist.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=%s", c.BaseURL(), url.PathEscape(key), searchFields)

	body, err := c.doRequest(ctx, "GET", apiURL, nil)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}

	return &issue, nil
}

// SearchIssues queries Jira using JQL and returns all matching issues,
// handling pagination.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	var allIssues []Issue
	startAt := 0
	maxResults := 100

	for {
		params := url.Values{
			"jql":        {jql},
			"fields":     {searchFields},
			"startAt":    {fmt.Sprintf("%d", startAt)},
			"maxResults": {fmt.Sprintf("%d", maxResults)},
		}

		apiURL := fmt.Sprintf("%s/rest/api/3/search?%s", c.BaseURL(), params.Encode())

		body, err := c.doRequest(ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}

		var result SearchResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}

		allIssues = append(allIssues, result.Issues...)

		if len(result.Issues) == 0 || startAt+len(result.Issues) >= result.Total {
			break
		}
		startAt += len(result.Issues)
	}

	return allIssues, nil
}

// CreateIssue creates a new issue and returns its key.
// fields should include "project", "summary", "issuetype", and optionally
// other fields.
func (c *Client) CreateIssue(ctx context.Context, fields map[string]interface{}) (string, error) {
	payload := map[string]interface{}{"fields": fields}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal create request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue", c.BaseURL())

	body, err := c.doRequest(ctx, "POST", apiURL, data)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}

	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parse create response: %w", err)
	}

	return created.Key, nil
}

// GetTransitions lists the workflow transitions currently available for an
// issue.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.BaseURL(), url.PathEscape(key))

	body, err := c.doRequest(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get transitions for %s: %w", key, err)
	}

	var resp transitionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse transitions response: %w", err)
	}

	return resp.Transitions, nil
}

// DoTransition executes a workflow transition by id.
func (c *Client) DoTransition(ctx context.Context, key, transitionID string) error {
	payload := map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal transition request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.BaseURL(), url.PathEscape(key))

	if _, err := c.doRequest(ctx, "POST", apiURL, data); err != nil {
		return fmt.Errorf("transition %s: %w", key, err)
	}
	return nil
}

// CreateLink links two issues with the named relation (e.g., "Blocks").
// The inward issue is the one being blocked.
func (c *Client) CreateLink(ctx context.Context, linkType, inwardKey, outwardKey string) error {
	payload := map[string]interface{}{
		"type":        map[string]string{"name": linkType},
		"inwardIssue": map[string]string{"key": inwardKey},
		"outwardIssue": map[string]string{
			"key": outwardKey,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal link request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issueLink", c.BaseURL())

	if _, err := c.doRequest(ctx, "POST", apiURL, data); err != nil {
		return fmt.Errorf("link %s -> %s: %w", outwardKey, inwardKey, err)
	}
	return nil
}

// AddComment posts a plain-text comment on an issue. The text is converted
// to ADF.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	payload := map[string]interface{}{
		"body": json.RawMessage(PlainTextToADF(text)),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal comment request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.BaseURL(), url.PathEscape(key))

	if _, err := c.doRequest(ctx, "POST", apiURL, data); err != nil {
		return fmt.Errorf("comment on %s: %w", key, err)
	}
	return nil
}

// FindAccountID resolves a username or email to a Jira account id via user
// search. Returns "" when no user matches.
func (c *Client) FindAccountID(ctx context.Context, query string) (string, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/user/search?query=%s", c.BaseURL(), url.QueryEscape(query))

	body, err := c.doRequest(ctx, "GET", apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("user search %q: %w", query, err)
	}

	var users []UserField
	if err := json.Unmarshal(body, &users); err != nil {
		return "", fmt.Errorf("parse user search response: %w", err)
	}
	if len(users) == 0 {
		return "", nil
	}
	return users[0].AccountID, nil
}

// Myself verifies that the configured credentials can authenticate.
func (c *Client) Myself(ctx context.Context) error {
	apiURL := fmt.Sprintf("%s/rest/api/3/myself", c.BaseURL())
	if _, err := c.doRequest(ctx, "GET", apiURL, nil); err != nil {
		return fmt.Errorf("auth check: %w", err)
	}
	return nil
}

// newRequestBackoff returns the retry policy for Jira API calls: short
// exponential backoff so a transient blip doesn't stall the conversation.
func newRequestBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 8 * time.Second
	return backoff.WithContext(bo, ctx)
}

// doRequest executes an authenticated HTTP request with retry and returns
// the response body. Client errors (4xx other than 429) are not retried.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	baseURL, _, apiToken := c.credentials()
	if baseURL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if apiToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var respBody []byte
	op := func() error {
		var err error
		respBody, err = c.doRequestOnce(ctx, method, apiURL, body)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, newRequestBackoff(ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}

func (c *Client) doRequestOnce(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "scrumvoice/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// POST transitions and some PUTs return 204 No Content on success
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// setAuth sets the authentication header. Cloud instances use Basic auth
// with email + API token; self-hosted instances without a username get a
// bearer token.
func (c *Client) setAuth(req *http.Request) {
	_, username, apiToken := c.credentials()
	if username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + apiToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
}
