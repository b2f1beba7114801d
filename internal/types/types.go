// Package types defines core data structures for the tether dispatch engine.
package types

import (
	"encoding/json"
	"fmt"
)

// Request is one entry in the input batch. The payload is decoded JSON and
// is treated as immutable once read; the engine reorders batch positions,
// never payload fields.
type Request struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"-"`
	TempID  string         `json:"temp_id,omitempty"` // set only when this request creates an entity
	Index   int            `json:"-"`                 // original batch position
}

// UnmarshalJSON decodes a request, keeping the full object as the payload
// while lifting the type discriminator and producer temp id out of it.
func (r *Request) UnmarshalJSON(data []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	typ, _ := payload["type"].(string)
	if typ == "" {
		return fmt.Errorf("request missing type discriminator")
	}
	tempID, _ := payload["temp_id"].(string)
	r.Type = typ
	r.TempID = tempID
	r.Payload = payload
	return nil
}

// StringField returns a string payload field, or "" if absent or not a string.
func (r *Request) StringField(key string) string {
	s, _ := r.Payload[key].(string)
	return s
}

// IntField returns an integer payload field. JSON numbers decode as float64,
// so both shapes are accepted.
func (r *Request) IntField(key string) (int, bool) {
	switch v := r.Payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// RefKind discriminates the three concrete reference shapes.
type RefKind string

const (
	RefIssue RefKind = "issue" // repository-scoped number
	RefBoard RefKind = "board" // tracking-board URL
	RefDraft RefKind = "draft" // board draft item ID
)

// Ref is a resolved concrete reference: exactly one of the three shapes.
type Ref struct {
	Kind RefKind `json:"kind"`

	// RefIssue
	Repo   string `json:"repo,omitempty"`
	Number int    `json:"number,omitempty"`

	// RefBoard
	BoardURL string `json:"board_url,omitempty"`

	// RefDraft
	DraftID string `json:"draft_id,omitempty"`
}

// IssueRef constructs a repository-scoped issue reference.
func IssueRef(repo string, number int) Ref {
	return Ref{Kind: RefIssue, Repo: repo, Number: number}
}

// BoardRef constructs a tracking-board reference.
func BoardRef(url string) Ref {
	return Ref{Kind: RefBoard, BoardURL: url}
}

// DraftRef constructs a board draft item reference.
func DraftRef(id string) Ref {
	return Ref{Kind: RefDraft, DraftID: id}
}

// Equal reports whether two refs denote the same entity.
func (r Ref) Equal(other Ref) bool {
	return r == other
}

// String renders the reference for logs and error messages.
func (r Ref) String() string {
	switch r.Kind {
	case RefIssue:
		return fmt.Sprintf("%s#%d", r.Repo, r.Number)
	case RefBoard:
		return r.BoardURL
	case RefDraft:
		return "draft:" + r.DraftID
	}
	return "<invalid ref>"
}

// Status is the terminal per-request outcome.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusDeferred Status = "deferred"
	StatusSkipped  Status = "skipped"
)

// Result records the outcome of dispatching one request.
type Result struct {
	Type   string `json:"type"`
	Index  int    `json:"index"`
	Status Status `json:"status"`
	Err    string `json:"error,omitempty"`
}

// TrackedOutput records a successful creation whose content still referenced
// at least one unresolved temporary identifier at creation time. Consumed
// exactly once by the synthetic update pass.
type TrackedOutput struct {
	Type     string
	Body     string // original, unrewritten content
	Ref      Ref    // concrete location of the created entity
	TableLen int    // resolution table size at creation time
}

// FollowUp names an entity created for agent follow-up (e.g. an issue the
// agent is expected to keep working).
type FollowUp struct {
	Type string `json:"type"`
	Ref  Ref    `json:"ref"`
}

// Report is the complete output of one engine run.
type Report struct {
	Results          []Result       `json:"results"`
	Resolution       map[string]Ref `json:"resolution"`
	SyntheticUpdates int            `json:"synthetic_updates"`
	FollowUps        []FollowUp     `json:"follow_ups,omitempty"`
}

// Counts tallies results by status.
func (r *Report) Counts() (success, errored, deferred, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			success++
		case StatusError:
			errored++
		case StatusDeferred:
			deferred++
		case StatusSkipped:
			skipped++
		}
	}
	return
}
