// Package github provides the REST/GraphQL client and the handler set that
// bind dispatch requests to the GitHub API.
package github

import (
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for failed or
	// rate-limited requests.
	MaxRetries = 3

	// RetryBaseDelay is the initial backoff interval between retries.
	RetryBaseDelay = time.Second
)

// Client provides methods to interact with the GitHub API.
type Client struct {
	Token      string       // access token
	Owner      string       // repository owner (user or org)
	Repo       string       // repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // optional custom HTTP client
}

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID      int64  `json:"id"` // global unique ID, needed for sub-issue links
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// Comment represents an issue comment.
type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// Label represents a repository label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Review represents a submitted pull request review.
type Review struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
}

// reviewComment is the wire shape of one inline review comment.
type reviewComment struct {
	Path      string `json:"path"`
	Line      int    `json:"line"`
	StartLine int    `json:"start_line,omitempty"`
	Side      string `json:"side,omitempty"`
	Body      string `json:"body"`
}

// Project represents a Projects v2 board.
type Project struct {
	ID     string `json:"id"` // GraphQL node ID
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// DraftItem represents a draft entry on a Projects v2 board.
type DraftItem struct {
	ID string `json:"id"` // GraphQL node ID of the draft issue content
}
