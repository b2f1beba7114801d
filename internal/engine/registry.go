package engine

import (
	"context"

	"github.com/tetherbot/tether/internal/tempid"
	"github.com/tetherbot/tether/internal/types"
)

// Mapping is a newly-minted producer binding reported by a creation handler.
type Mapping struct {
	TempID string
	Ref    types.Ref
}

// Outcome is what a handler reports back to the dispatch loop.
type Outcome struct {
	Status     types.Status
	NewMapping *Mapping   // set when the handler created the entity a temp id stands for
	CreatedRef *types.Ref // location of a content-bearing creation, for synthetic updates
	Body       string     // content as actually submitted (pre-rewrite original)
	FollowUp   bool       // entity is meant for agent follow-up
}

// Handler dispatches one request against the external platform. It is the
// only component that performs network calls; the engine treats it as
// opaque apart from this contract. A returned error maps to StatusError
// for that one request and never aborts the batch.
type Handler func(ctx context.Context, req types.Request, table *tempid.Table) (Outcome, error)

// Classification describes why a request type has no handler.
type Classification int

const (
	// ClassHandled means a handler is registered.
	ClassHandled Classification = iota
	// ClassStandalone marks types handled by a different process entirely.
	ClassStandalone
	// ClassCustom marks types routed through a dynamically configured
	// side channel.
	ClassCustom
	// ClassUnhandled is a configuration gap worth a visible warning.
	ClassUnhandled
)

// Registry looks up handlers by request type, built once at run start.
type Registry struct {
	handlers   map[string]Handler
	standalone map[string]bool
	custom     map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]Handler),
		standalone: make(map[string]bool),
		custom:     make(map[string]bool),
	}
}

// Register binds a handler to a request type.
func (r *Registry) Register(typ string, h Handler) {
	r.handlers[typ] = h
}

// MarkStandalone declares a type as handled by a separate process.
func (r *Registry) MarkStandalone(typ string) {
	r.standalone[typ] = true
}

// MarkCustom declares a type as handled by a configured side channel.
func (r *Registry) MarkCustom(typ string) {
	r.custom[typ] = true
}

// Lookup returns the handler for a type, or classifies its absence.
func (r *Registry) Lookup(typ string) (Handler, Classification) {
	if h, ok := r.handlers[typ]; ok {
		return h, ClassHandled
	}
	if r.standalone[typ] {
		return nil, ClassStandalone
	}
	if r.custom[typ] {
		return nil, ClassCustom
	}
	return nil, ClassUnhandled
}
