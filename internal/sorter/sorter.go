// Package sorter orders a request batch so that any request referencing a
// temporary identifier is scheduled after the request that produces it.
package sorter

import (
	"github.com/tetherbot/tether/internal/tempid"
	"github.com/tetherbot/tether/internal/types"
)

// Consumed returns the canonical temporary identifiers a request references,
// gathered from every string value in its payload: body text, explicit
// parent/child linkage fields, and nested sub-items. The request's own
// producer id does not count as a reference.
func Consumed(req types.Request, matcher *tempid.Matcher) []string {
	seen := make(map[string]bool)
	var ids []string

	var walk func(v any, key string, depth int)
	walk = func(v any, key string, depth int) {
		switch val := v.(type) {
		case string:
			// The top-level temp_id declares what this request produces,
			// not what it consumes.
			if depth == 1 && key == "temp_id" {
				return
			}
			for _, id := range matcher.FindAll(val) {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		case map[string]any:
			for k, item := range val {
				walk(item, k, depth+1)
			}
		case []any:
			for _, item := range val {
				walk(item, "", depth+1)
			}
		}
	}
	walk(req.Payload, "", 0)
	return ids
}

// Sort produces a linear dispatch order via a stable topological sort.
// Requests with no unmet in-batch dependency are emitted in original
// relative order; as producers are emitted their dependents become
// eligible, again in original order. Identifiers with no in-batch producer
// contribute no edge (they either resolve from a carried-in table or stay
// dangling). Cycle members never become eligible; they are appended at the
// end in input order so the dispatch loop's deferred-retry machinery can
// surface them as permanently deferred.
func Sort(batch []types.Request, matcher *tempid.Matcher) []types.Request {
	if len(batch) <= 1 {
		return batch
	}

	// Producer index per canonical temp id. At most one producer per batch;
	// a duplicate keeps the first, later dispatch reports the conflict.
	producer := make(map[string]int)
	for i, req := range batch {
		if req.TempID == "" {
			continue
		}
		id, err := matcher.Normalize(req.TempID)
		if err != nil {
			continue
		}
		if _, dup := producer[id]; !dup {
			producer[id] = i
		}
	}

	dependents := make(map[int][]int, len(batch))
	indegree := make([]int, len(batch))
	for i, req := range batch {
		for _, id := range Consumed(req, matcher) {
			p, inBatch := producer[id]
			if !inBatch || p == i {
				continue
			}
			dependents[p] = append(dependents[p], i)
			indegree[i]++
		}
	}

	sorted := make([]types.Request, 0, len(batch))
	emitted := make([]bool, len(batch))
	ready := make([]int, 0, len(batch))
	for i := range batch {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	for len(ready) > 0 {
		// Smallest original index first keeps the order stable.
		minAt := 0
		for j := 1; j < len(ready); j++ {
			if ready[j] < ready[minAt] {
				minAt = j
			}
		}
		next := ready[minAt]
		ready = append(ready[:minAt], ready[minAt+1:]...)

		sorted = append(sorted, batch[next])
		emitted[next] = true
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	// Whatever is left is part of a dependency cycle.
	for i := range batch {
		if !emitted[i] {
			sorted = append(sorted, batch[i])
		}
	}
	return sorted
}
