// Package engine dispatches a batch of platform operations in dependency
// order, resolving temporary identifiers as creations land.
//
// A run is strictly sequential: one request completes (success, error, or
// deferred) before the next begins, and the resolution table is only
// touched between handler invocations. That discipline is what makes
// register-then-lookup resolution sound without any locking.
package engine

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tetherbot/tether/internal/review"
	"github.com/tetherbot/tether/internal/sorter"
	"github.com/tetherbot/tether/internal/telemetry"
	"github.com/tetherbot/tether/internal/tempid"
	"github.com/tetherbot/tether/internal/types"
)

// ContentUpdater patches an already-created entity's content in place.
// Used exclusively by the synthetic update pass.
type ContentUpdater interface {
	UpdateContent(ctx context.Context, ref types.Ref, body string) error
}

// Engine runs one batch to completion. Construct a fresh engine per run;
// all accumulators are per-run state.
type Engine struct {
	registry *Registry
	matcher  *tempid.Matcher
	table    *tempid.Table
	buffer   *review.Buffer
	updater  ContentUpdater
	reviewer review.Submitter
	scope    string // owner/repo namespace for short-form rewrites
	log      zerolog.Logger

	results   []types.Result
	tracked   []types.TrackedOutput
	followUps []types.FollowUp
	synthetic int

	dispatched metric.Int64Counter
	patched    metric.Int64Counter
}

// Options wires an engine's collaborators.
type Options struct {
	Registry *Registry
	Matcher  *tempid.Matcher
	Table    *tempid.Table // carried-in resolution table; nil starts empty
	Buffer   *review.Buffer
	Updater  ContentUpdater
	Reviewer review.Submitter
	Scope    string
	Log      zerolog.Logger
}

// New constructs an engine for a single run.
func New(opts Options) *Engine {
	if opts.Matcher == nil {
		opts.Matcher = tempid.Default
	}
	if opts.Table == nil {
		opts.Table = tempid.NewTable(opts.Log)
	}
	if opts.Buffer == nil {
		opts.Buffer = review.NewBuffer(opts.Log)
	}
	meter := telemetry.Meter("")
	dispatched, _ := meter.Int64Counter("tether.requests.dispatched",
		metric.WithDescription("Requests dispatched, by terminal status"))
	patched, _ := meter.Int64Counter("tether.synthetic.updates",
		metric.WithDescription("Entities patched by the synthetic update pass"))
	return &Engine{
		registry:   opts.Registry,
		matcher:    opts.Matcher,
		table:      opts.Table,
		buffer:     opts.Buffer,
		updater:    opts.Updater,
		reviewer:   opts.Reviewer,
		scope:      opts.Scope,
		log:        opts.Log,
		dispatched: dispatched,
		patched:    patched,
	}
}

// Buffer exposes the run's review batch buffer to handlers.
func (e *Engine) Buffer() *review.Buffer { return e.buffer }

// Run processes the whole batch to terminal per-request outcomes and
// always returns a complete report, even if every request failed.
func (e *Engine) Run(ctx context.Context, batch []types.Request) *types.Report {
	ctx, span := telemetry.Tracer("").Start(ctx, "tether.run",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()

	sorted := sorter.Sort(batch, e.matcher)

	// Producer set for the whole batch: an unresolved reference with no
	// producer here and no carried-in entry can never resolve, so there is
	// no point tracking the output for a later patch.
	producers := make(map[string]bool)
	for _, req := range batch {
		if req.TempID == "" {
			continue
		}
		if id, err := e.matcher.Normalize(req.TempID); err == nil {
			producers[id] = true
		}
	}

	var deferred []types.Request
	for _, req := range sorted {
		if e.dispatchOne(ctx, req, producers, &deferred) {
			e.log.Debug().Str("type", req.Type).Int("index", req.Index).Msg("request deferred, queued for retry pass")
		}
	}

	// One bounded retry after the first pass has populated the table.
	// Sufficient for any acyclic graph, deliberately insufficient for a
	// cyclic one.
	for _, req := range deferred {
		var still []types.Request
		if e.dispatchOne(ctx, req, producers, &still) {
			e.record(types.Result{Type: req.Type, Index: req.Index, Status: types.StatusDeferred,
				Err: "dependency still unresolved after retry"})
		}
	}

	e.runSyntheticUpdates(ctx)
	e.flushReview(ctx)

	return &types.Report{
		Results:          e.orderedResults(len(batch)),
		Resolution:       e.table.Snapshot(),
		SyntheticUpdates: e.synthetic,
		FollowUps:        e.followUps,
	}
}

// dispatchOne runs a single request to an outcome. It returns true when
// the request was deferred; the caller owns the deferral bookkeeping.
func (e *Engine) dispatchOne(ctx context.Context, req types.Request, producers map[string]bool, deferred *[]types.Request) bool {
	if req.TempID != "" {
		if _, err := e.matcher.Normalize(req.TempID); err != nil {
			e.record(types.Result{Type: req.Type, Index: req.Index, Status: types.StatusError, Err: err.Error()})
			return false
		}
	}

	handler, class := e.registry.Lookup(req.Type)
	switch class {
	case ClassStandalone:
		e.record(types.Result{Type: req.Type, Index: req.Index, Status: types.StatusSkipped})
		return false
	case ClassCustom:
		e.log.Debug().Str("type", req.Type).Msg("request routed to configured side channel")
		e.record(types.Result{Type: req.Type, Index: req.Index, Status: types.StatusSkipped})
		return false
	case ClassUnhandled:
		e.log.Warn().Str("type", req.Type).Msg("no handler configured for request type")
		e.record(types.Result{Type: req.Type, Index: req.Index, Status: types.StatusSkipped,
			Err: "no handler configured"})
		return false
	}

	out, err := handler(ctx, req, e.table)
	if err != nil {
		// Handler failures carry the original message through the report so
		// callers can apply their own remediation heuristics.
		e.record(types.Result{Type: req.Type, Index: req.Index, Status: types.StatusError, Err: err.Error()})
		return false
	}

	switch out.Status {
	case types.StatusDeferred:
		*deferred = append(*deferred, req)
		return true
	case types.StatusSuccess:
		e.finishSuccess(req, out, producers)
		return false
	default:
		e.record(types.Result{Type: req.Type, Index: req.Index, Status: out.Status})
		return false
	}
}

func (e *Engine) finishSuccess(req types.Request, out Outcome, producers map[string]bool) {
	if out.NewMapping != nil {
		id, err := e.matcher.Normalize(out.NewMapping.TempID)
		if err == nil {
			err = e.table.Register(id, out.NewMapping.Ref)
		}
		if err != nil {
			// The entity exists; the run keeps going with the first binding.
			e.log.Error().Err(err).Str("type", req.Type).Msg("could not register producer mapping")
		}
	}

	if out.CreatedRef != nil && out.Body != "" {
		if unresolved := e.matcher.Unresolved(out.Body, e.table); len(unresolved) > 0 {
			if e.anyProducible(unresolved, producers) {
				e.tracked = append(e.tracked, types.TrackedOutput{
					Type:     req.Type,
					Body:     out.Body,
					Ref:      *out.CreatedRef,
					TableLen: e.table.Len(),
				})
			} else {
				// No producer anywhere: the literal marker stays embedded
				// forever, a caller-visible condition rather than a bug.
				e.log.Warn().Strs("temp_ids", unresolved).Stringer("ref", *out.CreatedRef).
					Msg("created content references temporary ids with no producer")
			}
		}
	}

	if out.FollowUp && out.CreatedRef != nil {
		e.followUps = append(e.followUps, types.FollowUp{Type: req.Type, Ref: *out.CreatedRef})
	}

	e.record(types.Result{Type: req.Type, Index: req.Index, Status: types.StatusSuccess})
}

func (e *Engine) anyProducible(ids []string, producers map[string]bool) bool {
	for _, id := range ids {
		if producers[id] {
			return true
		}
	}
	return false
}

// runSyntheticUpdates backfills content on created entities whose
// references resolved after creation. Entities still partially unresolved
// stay untouched; there is no further pass.
func (e *Engine) runSyntheticUpdates(ctx context.Context) {
	for _, tr := range e.tracked {
		if e.table.Len() == tr.TableLen {
			continue // nothing new could have resolved
		}
		if e.matcher.HasUnresolved(tr.Body, e.table) {
			e.log.Debug().Stringer("ref", tr.Ref).Msg("content still partially unresolved, leaving as created")
			continue
		}
		if e.updater == nil {
			e.log.Warn().Stringer("ref", tr.Ref).Msg("no content updater wired, skipping synthetic update")
			continue
		}
		rewritten := e.matcher.Rewrite(tr.Body, e.scope, e.table)
		if err := e.updater.UpdateContent(ctx, tr.Ref, rewritten); err != nil {
			e.log.Error().Err(err).Stringer("ref", tr.Ref).Msg("synthetic content update failed")
			continue
		}
		e.synthetic++
		e.patched.Add(ctx, 1)
		e.log.Info().Stringer("ref", tr.Ref).Msg("patched content after late resolution")
	}
	e.tracked = nil
}

// flushReview issues the single combined review submission, if anything
// was buffered. A failed flush becomes one synthetic error result.
func (e *Engine) flushReview(ctx context.Context) {
	if e.buffer.Empty() {
		return
	}
	if e.reviewer == nil {
		e.record(types.Result{Type: "code_review", Index: -1, Status: types.StatusError,
			Err: "review comments buffered but no review submitter configured"})
		return
	}
	if err := e.buffer.Flush(ctx, e.reviewer); err != nil {
		e.record(types.Result{Type: "code_review", Index: -1, Status: types.StatusError, Err: err.Error()})
		return
	}
	e.record(types.Result{Type: "code_review", Index: -1, Status: types.StatusSuccess})
}

func (e *Engine) record(res types.Result) {
	e.results = append(e.results, res)
	e.dispatched.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", string(res.Status))))
	switch res.Status {
	case types.StatusError:
		e.log.Error().Str("type", res.Type).Int("index", res.Index).Str("error", res.Err).Msg("request failed")
	case types.StatusDeferred:
		e.log.Warn().Str("type", res.Type).Int("index", res.Index).Msg("request permanently deferred")
	}
}

// orderedResults returns results in original batch position order, with
// synthetic results (index -1) at the end.
func (e *Engine) orderedResults(batchLen int) []types.Result {
	ordered := make([]types.Result, 0, len(e.results))
	byIndex := make(map[int]types.Result, len(e.results))
	var synthetic []types.Result
	for _, res := range e.results {
		if res.Index < 0 {
			synthetic = append(synthetic, res)
			continue
		}
		byIndex[res.Index] = res
	}
	for i := 0; i < batchLen; i++ {
		if res, ok := byIndex[i]; ok {
			ordered = append(ordered, res)
		}
	}
	return append(ordered, synthetic...)
}
