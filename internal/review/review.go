// Package review accumulates inline code-review comments and review
// metadata for one combined submission at the end of a run.
package review

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Comment is one inline comment bound to a file path and line.
type Comment struct {
	Path      string `json:"path"`
	Line      int    `json:"line"`
	StartLine int    `json:"start_line,omitempty"` // multi-line range start; 0 for single-line
	Side      string `json:"side,omitempty"`       // "LEFT" or "RIGHT"
	Body      string `json:"body"`
}

// Submitter issues the single combined review submission.
type Submitter interface {
	SubmitReview(ctx context.Context, event, body string, comments []Comment) error
}

// Buffer collects inline comments plus optional whole-review metadata for
// the duration of one run. It is flushed at most once.
type Buffer struct {
	comments []Comment
	event    string // approval state: APPROVE, REQUEST_CHANGES, COMMENT
	body     string // summary text
	hasMeta  bool
	flushed  bool
	log      zerolog.Logger
}

// NewBuffer returns an empty buffer.
func NewBuffer(log zerolog.Logger) *Buffer {
	return &Buffer{log: log}
}

// Add buffers one inline comment instead of dispatching it individually.
func (b *Buffer) Add(c Comment) {
	b.comments = append(b.comments, c)
}

// SetMeta records whole-review metadata. A later call overrides an earlier
// one with a warning; the batch carries at most one review verdict.
func (b *Buffer) SetMeta(event, body string) {
	if b.hasMeta {
		b.log.Warn().Str("event", event).Msg("review metadata set twice, keeping the later value")
	}
	b.event = event
	b.body = body
	b.hasMeta = true
}

// Len returns the number of buffered inline comments.
func (b *Buffer) Len() int { return len(b.comments) }

// Empty reports whether nothing was buffered.
func (b *Buffer) Empty() bool { return len(b.comments) == 0 && !b.hasMeta }

// ErrAlreadyFlushed is returned if Flush is called twice.
var ErrAlreadyFlushed = errors.New("review buffer already flushed")

// Flush issues the single combined submission. If nothing was buffered it
// is a no-op. On failure no partial or duplicate submission is attempted;
// the error is the caller's single synthetic result.
func (b *Buffer) Flush(ctx context.Context, sub Submitter) error {
	if b.flushed {
		return ErrAlreadyFlushed
	}
	b.flushed = true
	if b.Empty() {
		return nil
	}

	event := b.event
	if event == "" {
		// Comments without an explicit verdict go out as a plain comment
		// review rather than an approval.
		event = "COMMENT"
	}

	b.log.Debug().Int("comments", len(b.comments)).Str("event", event).Msg("flushing combined review submission")
	return sub.SubmitReview(ctx, event, b.body, b.comments)
}
