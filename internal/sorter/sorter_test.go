package sorter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherbot/tether/internal/tempid"
	"github.com/tetherbot/tether/internal/types"
)

func req(index int, typ string, payload map[string]any) types.Request {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["type"] = typ
	tempID, _ := payload["temp_id"].(string)
	return types.Request{Type: typ, TempID: tempID, Payload: payload, Index: index}
}

func indices(batch []types.Request) []int {
	out := make([]int, len(batch))
	for i, r := range batch {
		out[i] = r.Index
	}
	return out
}

func TestConsumed(t *testing.T) {
	r := req(0, "create_issue", map[string]any{
		"temp_id": "aw_self1",
		"body":    "depends on aw_dep1 and #aw_dep2",
		"parent":  "aw_par1",
		"items":   []any{map[string]any{"body": "nested aw_sub1"}},
	})
	ids := Consumed(r, tempid.Default)
	assert.ElementsMatch(t, []string{"aw_dep1", "aw_dep2", "aw_par1", "aw_sub1"}, ids)
	assert.NotContains(t, ids, "aw_self1")
}

// A batch with no temporary-identifier dependencies keeps its input order.
func TestSortNoDependenciesIsIdentity(t *testing.T) {
	batch := []types.Request{
		req(0, "create_issue", map[string]any{"body": "first"}),
		req(1, "add_comment", map[string]any{"body": "second"}),
		req(2, "add_labels", map[string]any{"labels": []any{"bug"}}),
	}
	sorted := Sort(batch, tempid.Default)
	assert.Equal(t, []int{0, 1, 2}, indices(sorted))
}

// A producer is scheduled before its consumer regardless of input order.
func TestSortProducerBeforeConsumer(t *testing.T) {
	batch := []types.Request{
		req(0, "add_comment", map[string]any{"body": "comment on aw_new1"}),
		req(1, "create_issue", map[string]any{"temp_id": "aw_new1", "body": "root"}),
	}
	sorted := Sort(batch, tempid.Default)
	assert.Equal(t, []int{1, 0}, indices(sorted))
}

func TestSortParentChildScenario(t *testing.T) {
	batch := []types.Request{
		req(0, "create_issue", map[string]any{"temp_id": "aw_par1", "body": "root"}),
		req(1, "create_issue", map[string]any{"parent": "aw_par1", "body": "child"}),
	}
	sorted := Sort(batch, tempid.Default)
	assert.Equal(t, []int{0, 1}, indices(sorted))
}

// References with no in-batch producer contribute no edge: the request
// keeps its original position.
func TestSortUnknownIDsKeepPosition(t *testing.T) {
	batch := []types.Request{
		req(0, "add_comment", map[string]any{"body": "see aw_prev1 from an earlier run"}),
		req(1, "create_issue", map[string]any{"body": "unrelated"}),
	}
	sorted := Sort(batch, tempid.Default)
	assert.Equal(t, []int{0, 1}, indices(sorted))
}

// Once a producer is emitted, its dependents compete with everything else
// still eligible on original index.
func TestSortEligibleByOriginalIndex(t *testing.T) {
	batch := []types.Request{
		req(0, "add_comment", map[string]any{"body": "on aw_new1, first in"}),
		req(1, "add_comment", map[string]any{"body": "on aw_new1, second in"}),
		req(2, "create_issue", map[string]any{"temp_id": "aw_new1", "body": "root"}),
		req(3, "add_labels", map[string]any{"labels": []any{"bug"}}),
	}
	sorted := Sort(batch, tempid.Default)
	assert.Equal(t, []int{2, 0, 1, 3}, indices(sorted))
}

// Cycle members are appended in input order after all sortable requests,
// leaving the deferred-retry machinery to report them.
func TestSortCycleFallsThrough(t *testing.T) {
	batch := []types.Request{
		req(0, "create_issue", map[string]any{"temp_id": "aw_cyca1", "body": "needs aw_cycb1"}),
		req(1, "create_issue", map[string]any{"temp_id": "aw_cycb1", "body": "needs aw_cyca1"}),
		req(2, "add_labels", map[string]any{"labels": []any{"bug"}}),
	}
	sorted := Sort(batch, tempid.Default)
	require.Len(t, sorted, 3)
	assert.Equal(t, []int{2, 0, 1}, indices(sorted))
}

func TestSortDeepChain(t *testing.T) {
	batch := []types.Request{
		req(0, "add_comment", map[string]any{"body": "closes aw_ch3"}),
		req(1, "create_issue", map[string]any{"temp_id": "aw_ch3", "parent": "aw_ch2"}),
		req(2, "create_issue", map[string]any{"temp_id": "aw_ch2", "parent": "aw_ch1"}),
		req(3, "create_issue", map[string]any{"temp_id": "aw_ch1", "body": "root"}),
	}
	sorted := Sort(batch, tempid.Default)
	assert.Equal(t, []int{3, 2, 1, 0}, indices(sorted))
}
