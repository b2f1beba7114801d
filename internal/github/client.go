package github

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
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewClient creates a new GitHub client.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:   token,
		Owner:   owner,
		Repo:    repo,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		Owner:      c.Owner,
		Repo:       c.Repo,
		BaseURL:    baseURL,
		HTTPClient: c.HTTPClient,
	}
}

// Scope returns the "owner/repo" namespace this client operates in.
func (c *Client) Scope() string {
	return c.Owner + "/" + c.Repo
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// retryableError marks an HTTP failure worth retrying, with an optional
// server-requested delay.
type retryableError struct {
	err   error
	after time.Duration
}

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

// doRequest performs an HTTP request with authentication and bounded
// exponential backoff. Rate-limit responses honor Retry-After; other 4xx
// responses fail immediately.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var respBody []byte
	attempt := func() error {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		const maxResponseSize = 10 * 1024 * 1024
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		// GitHub signals rate limiting with 429, or 403 plus an exhausted
		// X-RateLimit-Remaining header.
		if resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			retryErr := &retryableError{err: fmt.Errorf("rate limited (status %d)", resp.StatusCode)}
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					retryErr.after = time.Duration(seconds) * time.Second
				}
			}
			return retryErr
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %s (status %d)", string(data), resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("API error: %s (status %d)", string(data), resp.StatusCode))
		}

		respBody = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(RetryBaseDelay)),
		MaxRetries,
	), ctx)

	// The notify hook fires before the timer starts, so a server-requested
	// Retry-After can stretch the next interval.
	timer := &retryAfterTimer{}
	notify := func(err error, next time.Duration) {
		var re *retryableError
		if errors.As(err, &re) {
			timer.after = re.after
		}
	}
	err := backoff.RetryNotifyWithTimer(attempt, policy, notify, timer)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// retryAfterTimer stretches the backoff interval to a server-requested
// Retry-After delay when one was supplied.
type retryAfterTimer struct {
	timer *time.Timer
	after time.Duration
}

func (t *retryAfterTimer) Start(d time.Duration) {
	if t.after > d {
		d = t.after
	}
	t.after = 0
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *retryAfterTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *retryAfterTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// repoPath returns the issues API prefix for this repository.
func (c *Client) repoPath() string {
	return "/repos/" + c.Owner + "/" + c.Repo
}

// CreateIssue creates a new issue.
func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	reqBody := map[string]interface{}{
		"title": title,
		"body":  body,
	}
	if len(labels) > 0 {
		reqBody["labels"] = labels
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, c.buildURL(c.repoPath()+"/issues", nil), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}
	return &issue, nil
}

// UpdateIssue patches an existing issue.
func (c *Client) UpdateIssue(ctx context.Context, number int, updates map[string]interface{}) (*Issue, error) {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, err := c.doRequest(ctx, http.MethodPatch, urlStr, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}
	return &issue, nil
}

// FetchIssueByNumber retrieves a single issue. Needed to obtain the global
// ID used by sub-issue links.
func (c *Client) FetchIssueByNumber(ctx context.Context, number int) (*Issue, error) {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue response: %w", err)
	}
	return &issue, nil
}

// CreateComment adds a comment to an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, number int, body string) (*Comment, error) {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", nil)
	respBody, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to comment on #%d: %w", number, err)
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse comment response: %w", err)
	}
	return &comment, nil
}

// AddLabels attaches labels to an issue, creating them server-side if absent.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(number)+"/labels", nil)
	_, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"labels": labels})
	if err != nil {
		return fmt.Errorf("failed to add labels to #%d: %w", number, err)
	}
	return nil
}

// CloseIssue closes an issue with an optional state reason
// ("completed" or "not_planned").
func (c *Client) CloseIssue(ctx context.Context, number int, reason string) (*Issue, error) {
	updates := map[string]interface{}{"state": "closed"}
	if reason != "" {
		updates["state_reason"] = reason
	}
	return c.UpdateIssue(ctx, number, updates)
}

// LinkSubIssue attaches childID (a global issue ID) as a sub-issue of the
// given parent issue number.
func (c *Client) LinkSubIssue(ctx context.Context, parentNumber int, childID int64) error {
	urlStr := c.buildURL(c.repoPath()+"/issues/"+strconv.Itoa(parentNumber)+"/sub_issues", nil)
	_, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"sub_issue_id": childID})
	if err != nil {
		return fmt.Errorf("failed to link sub-issue under #%d: %w", parentNumber, err)
	}
	return nil
}

// SubmitReview posts one combined pull request review: the event, summary
// body, and every inline comment in a single call.
func (c *Client) SubmitReview(ctx context.Context, prNumber int, event, body string, comments []reviewComment) (*Review, error) {
	reqBody := map[string]interface{}{
		"event": event,
	}
	if body != "" {
		reqBody["body"] = body
	}
	if len(comments) > 0 {
		reqBody["comments"] = comments
	}

	urlStr := c.buildURL(c.repoPath()+"/pulls/"+strconv.Itoa(prNumber)+"/reviews", nil)
	respBody, err := c.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to submit review on #%d: %w", prNumber, err)
	}

	var rev Review
	if err := json.Unmarshal(respBody, &rev); err != nil {
		return nil, fmt.Errorf("failed to parse review response: %w", err)
	}
	return &rev, nil
}
