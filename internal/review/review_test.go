package review

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	calls    int
	event    string
	body     string
	comments []Comment
	err      error
}

func (f *fakeSubmitter) SubmitReview(_ context.Context, event, body string, comments []Comment) error {
	f.calls++
	f.event = event
	f.body = body
	f.comments = comments
	return f.err
}

func TestFlushCombinesEverything(t *testing.T) {
	b := NewBuffer(zerolog.Nop())
	b.Add(Comment{Path: "a.go", Line: 10, Body: "first"})
	b.Add(Comment{Path: "b.go", Line: 20, Side: "RIGHT", Body: "second"})
	b.Add(Comment{Path: "c.go", Line: 5, StartLine: 2, Body: "third"})
	b.SetMeta("REQUEST_CHANGES", "needs work")

	sub := &fakeSubmitter{}
	require.NoError(t, b.Flush(context.Background(), sub))

	assert.Equal(t, 1, sub.calls)
	assert.Equal(t, "REQUEST_CHANGES", sub.event)
	assert.Equal(t, "needs work", sub.body)
	assert.Len(t, sub.comments, 3)
}

func TestFlushEmptyIsNoop(t *testing.T) {
	b := NewBuffer(zerolog.Nop())
	sub := &fakeSubmitter{}
	require.NoError(t, b.Flush(context.Background(), sub))
	assert.Zero(t, sub.calls)
}

func TestFlushCommentsWithoutMetaDefaultsToComment(t *testing.T) {
	b := NewBuffer(zerolog.Nop())
	b.Add(Comment{Path: "a.go", Line: 1, Body: "nit"})

	sub := &fakeSubmitter{}
	require.NoError(t, b.Flush(context.Background(), sub))
	assert.Equal(t, "COMMENT", sub.event)
}

func TestFlushFailureIsSingleShot(t *testing.T) {
	b := NewBuffer(zerolog.Nop())
	b.Add(Comment{Path: "a.go", Line: 1, Body: "nit"})

	sub := &fakeSubmitter{err: errors.New("upstream rejected review")}
	err := b.Flush(context.Background(), sub)
	require.Error(t, err)
	assert.Equal(t, 1, sub.calls)

	// No retry or duplicate submission after a failed flush.
	err = b.Flush(context.Background(), sub)
	assert.ErrorIs(t, err, ErrAlreadyFlushed)
	assert.Equal(t, 1, sub.calls)
}

func TestSetMetaLastWriteWins(t *testing.T) {
	b := NewBuffer(zerolog.Nop())
	b.SetMeta("APPROVE", "lgtm")
	b.SetMeta("REQUEST_CHANGES", "actually no")

	sub := &fakeSubmitter{}
	require.NoError(t, b.Flush(context.Background(), sub))
	assert.Equal(t, "REQUEST_CHANGES", sub.event)
	assert.Equal(t, "actually no", sub.body)
}
