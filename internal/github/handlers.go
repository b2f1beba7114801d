package github

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tetherbot/tether/internal/engine"
	"github.com/tetherbot/tether/internal/review"
	"github.com/tetherbot/tether/internal/tempid"
	"github.com/tetherbot/tether/internal/types"
)

// Handlers binds the per-operation API calls to the engine's dispatch
// contract. Each handler is a thin, independently testable call; the
// shared complexity lives in the engine, not here.
type Handlers struct {
	Client  *Client
	Matcher *tempid.Matcher
	Buffer  *review.Buffer
	Log     zerolog.Logger
}

// Registry builds the run's handler registry: the supported types bound,
// plus the configured standalone and custom classifications. A non-empty
// enabled list restricts the bound set to the named types; anything else
// falls through to the unhandled classification.
func (h *Handlers) Registry(enabled, standalone, custom []string) *engine.Registry {
	all := map[string]engine.Handler{
		"create_issue":               h.CreateIssue,
		"add_comment":                h.AddComment,
		"update_issue":               h.UpdateIssue,
		"add_labels":                 h.AddLabels,
		"close_issue":                h.CloseIssue,
		"link_sub_issue":             h.LinkSubIssue,
		"create_code_review_comment": h.CreateReviewComment,
		"submit_code_review":         h.SubmitReview,
		"update_project":             h.UpdateProject,
	}

	reg := engine.NewRegistry()
	if len(enabled) == 0 {
		for typ, handler := range all {
			reg.Register(typ, handler)
		}
	} else {
		for _, typ := range enabled {
			if handler, ok := all[typ]; ok {
				reg.Register(typ, handler)
			} else {
				h.Log.Warn().Str("type", typ).Msg("enabled type has no handler")
			}
		}
	}
	for _, typ := range standalone {
		reg.MarkStandalone(typ)
	}
	for _, typ := range custom {
		reg.MarkCustom(typ)
	}
	return reg
}

// errDeferred signals an unresolved temporary-identifier target.
var errDeferred = errors.New("target not yet resolved")

// resolveIssueNumber resolves a payload target that is either a literal
// issue number (123, "123", "#123") or a temporary identifier. An
// unresolved temporary identifier returns errDeferred; a malformed one is
// a hard error.
func (h *Handlers) resolveIssueNumber(value any, table *tempid.Table) (int, error) {
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		id, err := h.Matcher.Normalize(v)
		if err == nil {
			ref, ok := table.Lookup(id)
			if !ok {
				return 0, errDeferred
			}
			if ref.Kind != types.RefIssue {
				return 0, fmt.Errorf("temporary id %q resolves to %s, not an issue", id, ref)
			}
			return ref.Number, nil
		}
		if errors.Is(err, tempid.ErrMalformed) {
			return 0, err
		}
		// Not a temporary identifier: treat as a literal number.
		n, convErr := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(v), "#"))
		if convErr != nil {
			return 0, fmt.Errorf("target %q is neither an issue number nor a temporary id", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("missing or invalid issue target")
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// CreateIssue handles "create_issue": rewrites the body, creates the
// issue, applies labels, and links under a parent when one is given.
// The parent is resolved before the creation call so a retry after
// deferral cannot create the issue twice.
func (h *Handlers) CreateIssue(ctx context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	title := req.StringField("title")
	if title == "" {
		return engine.Outcome{}, fmt.Errorf("create_issue requires a title")
	}

	parentNumber := 0
	if parent, ok := req.Payload["parent"]; ok {
		n, err := h.resolveIssueNumber(parent, table)
		if errors.Is(err, errDeferred) {
			return engine.Outcome{Status: types.StatusDeferred}, nil
		}
		if err != nil {
			return engine.Outcome{}, fmt.Errorf("create_issue parent: %w", err)
		}
		parentNumber = n
	}

	body := req.StringField("body")
	issue, err := h.Client.CreateIssue(ctx, title, h.Matcher.Rewrite(body, h.Client.Scope(), table), stringSlice(req.Payload["labels"]))
	if err != nil {
		return engine.Outcome{}, err
	}
	h.Log.Info().Int("number", issue.Number).Str("title", title).Msg("created issue")

	if parentNumber != 0 {
		if err := h.Client.LinkSubIssue(ctx, parentNumber, issue.ID); err != nil {
			// The issue exists; report the partial failure without undoing it.
			return engine.Outcome{}, fmt.Errorf("issue #%d created but not linked: %w", issue.Number, err)
		}
	}

	ref := types.IssueRef(h.Client.Scope(), issue.Number)
	out := engine.Outcome{
		Status:     types.StatusSuccess,
		CreatedRef: &ref,
		Body:       body,
		FollowUp:   true,
	}
	if req.TempID != "" {
		out.NewMapping = &engine.Mapping{TempID: req.TempID, Ref: ref}
	}
	return out, nil
}

// AddComment handles "add_comment" against an issue number or temp id.
func (h *Handlers) AddComment(ctx context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	number, err := h.resolveIssueNumber(req.Payload["issue"], table)
	if errors.Is(err, errDeferred) {
		return engine.Outcome{Status: types.StatusDeferred}, nil
	}
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("add_comment: %w", err)
	}

	body := req.StringField("body")
	if body == "" {
		return engine.Outcome{}, fmt.Errorf("add_comment requires a body")
	}
	if _, err := h.Client.CreateComment(ctx, number, h.Matcher.Rewrite(body, h.Client.Scope(), table)); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Outcome{Status: types.StatusSuccess}, nil
}

// UpdateIssue handles "update_issue": title, body, and open/closed state.
func (h *Handlers) UpdateIssue(ctx context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	number, err := h.resolveIssueNumber(req.Payload["issue"], table)
	if errors.Is(err, errDeferred) {
		return engine.Outcome{Status: types.StatusDeferred}, nil
	}
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("update_issue: %w", err)
	}

	updates := make(map[string]interface{})
	if title := req.StringField("title"); title != "" {
		updates["title"] = title
	}
	if body, ok := req.Payload["body"].(string); ok {
		updates["body"] = h.Matcher.Rewrite(body, h.Client.Scope(), table)
	}
	if state := req.StringField("state"); state != "" {
		updates["state"] = state
	}
	if len(updates) == 0 {
		return engine.Outcome{}, fmt.Errorf("update_issue has nothing to update")
	}

	if _, err := h.Client.UpdateIssue(ctx, number, updates); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Outcome{Status: types.StatusSuccess}, nil
}

// AddLabels handles "add_labels".
func (h *Handlers) AddLabels(ctx context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	number, err := h.resolveIssueNumber(req.Payload["issue"], table)
	if errors.Is(err, errDeferred) {
		return engine.Outcome{Status: types.StatusDeferred}, nil
	}
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("add_labels: %w", err)
	}

	labels := stringSlice(req.Payload["labels"])
	if len(labels) == 0 {
		return engine.Outcome{}, fmt.Errorf("add_labels requires a non-empty labels list")
	}
	if err := h.Client.AddLabels(ctx, number, labels); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Outcome{Status: types.StatusSuccess}, nil
}

// CloseIssue handles "close_issue" with an optional state reason.
func (h *Handlers) CloseIssue(ctx context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	number, err := h.resolveIssueNumber(req.Payload["issue"], table)
	if errors.Is(err, errDeferred) {
		return engine.Outcome{Status: types.StatusDeferred}, nil
	}
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("close_issue: %w", err)
	}

	if _, err := h.Client.CloseIssue(ctx, number, req.StringField("reason")); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Outcome{Status: types.StatusSuccess}, nil
}

// LinkSubIssue handles "link_sub_issue": parent and child may each be a
// number or a temporary identifier.
func (h *Handlers) LinkSubIssue(ctx context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	parent, err := h.resolveIssueNumber(req.Payload["parent"], table)
	if errors.Is(err, errDeferred) {
		return engine.Outcome{Status: types.StatusDeferred}, nil
	}
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("link_sub_issue parent: %w", err)
	}

	child, err := h.resolveIssueNumber(req.Payload["child"], table)
	if errors.Is(err, errDeferred) {
		return engine.Outcome{Status: types.StatusDeferred}, nil
	}
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("link_sub_issue child: %w", err)
	}

	// Sub-issue links take the child's global ID, not its number.
	childIssue, err := h.Client.FetchIssueByNumber(ctx, child)
	if err != nil {
		return engine.Outcome{}, err
	}
	if err := h.Client.LinkSubIssue(ctx, parent, childIssue.ID); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Outcome{Status: types.StatusSuccess}, nil
}

// CreateReviewComment handles "create_code_review_comment" by buffering it
// for the single combined submission at the end of the run.
func (h *Handlers) CreateReviewComment(_ context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	path := req.StringField("path")
	line, ok := req.IntField("line")
	if path == "" || !ok {
		return engine.Outcome{}, fmt.Errorf("create_code_review_comment requires path and line")
	}

	comment := review.Comment{
		Path: path,
		Line: line,
		Side: req.StringField("side"),
		Body: h.Matcher.Rewrite(req.StringField("body"), h.Client.Scope(), table),
	}
	if start, ok := req.IntField("start_line"); ok {
		comment.StartLine = start
	}
	h.Buffer.Add(comment)
	return engine.Outcome{Status: types.StatusSuccess}, nil
}

// SubmitReview handles "submit_code_review" by recording the review
// verdict and summary in the buffer.
func (h *Handlers) SubmitReview(_ context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	event := strings.ToUpper(req.StringField("event"))
	switch event {
	case "APPROVE", "REQUEST_CHANGES", "COMMENT":
	case "":
		event = "COMMENT"
	default:
		return engine.Outcome{}, fmt.Errorf("submit_code_review: unknown event %q", event)
	}
	h.Buffer.SetMeta(event, h.Matcher.Rewrite(req.StringField("body"), h.Client.Scope(), table))
	return engine.Outcome{Status: types.StatusSuccess}, nil
}

// UpdateProject handles "update_project": resolves a board by URL and,
// when a draft payload is present, creates a draft entry on it. The
// producer mapping is a board or draft reference accordingly.
func (h *Handlers) UpdateProject(ctx context.Context, req types.Request, table *tempid.Table) (engine.Outcome, error) {
	boardURL := req.StringField("project")
	if boardURL == "" {
		return engine.Outcome{}, fmt.Errorf("update_project requires a project URL")
	}
	project, err := h.Client.ProjectByURL(ctx, boardURL)
	if err != nil {
		return engine.Outcome{}, err
	}

	draft, hasDraft := req.Payload["draft"].(map[string]any)
	if !hasDraft {
		out := engine.Outcome{Status: types.StatusSuccess}
		if req.TempID != "" {
			out.NewMapping = &engine.Mapping{TempID: req.TempID, Ref: types.BoardRef(project.URL)}
		}
		return out, nil
	}

	title, _ := draft["title"].(string)
	if title == "" {
		return engine.Outcome{}, fmt.Errorf("update_project draft requires a title")
	}
	body, _ := draft["body"].(string)
	item, err := h.Client.AddDraftItem(ctx, project.ID, title, h.Matcher.Rewrite(body, h.Client.Scope(), table))
	if err != nil {
		return engine.Outcome{}, err
	}
	h.Log.Info().Str("draft", item.ID).Str("project", project.URL).Msg("added draft item")

	ref := types.DraftRef(item.ID)
	out := engine.Outcome{Status: types.StatusSuccess, CreatedRef: &ref, Body: body}
	if req.TempID != "" {
		out.NewMapping = &engine.Mapping{TempID: req.TempID, Ref: ref}
	}
	return out, nil
}

// Reviewer adapts the client to the review.Submitter contract for one
// pull request.
type Reviewer struct {
	Client      *Client
	PullRequest int
}

// SubmitReview issues the combined review submission.
func (r *Reviewer) SubmitReview(ctx context.Context, event, body string, comments []review.Comment) error {
	if r.PullRequest == 0 {
		return fmt.Errorf("no pull request configured for review submission")
	}
	wire := make([]reviewComment, len(comments))
	for i, c := range comments {
		wire[i] = reviewComment{
			Path:      c.Path,
			Line:      c.Line,
			StartLine: c.StartLine,
			Side:      c.Side,
			Body:      c.Body,
		}
	}
	_, err := r.Client.SubmitReview(ctx, r.PullRequest, event, body, wire)
	return err
}

// Updater adapts the client to the engine's ContentUpdater contract for
// the synthetic update pass.
type Updater struct {
	Client *Client
}

// UpdateContent rewrites an entity's content in place.
func (u *Updater) UpdateContent(ctx context.Context, ref types.Ref, body string) error {
	switch ref.Kind {
	case types.RefIssue:
		if ref.Repo != u.Client.Scope() {
			return fmt.Errorf("cannot update %s: client is scoped to %s", ref, u.Client.Scope())
		}
		_, err := u.Client.UpdateIssue(ctx, ref.Number, map[string]interface{}{"body": body})
		return err
	case types.RefDraft:
		return u.Client.UpdateDraftItem(ctx, ref.DraftID, body)
	}
	return fmt.Errorf("reference %s has no updatable content", ref)
}
