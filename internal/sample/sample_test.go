package sample_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/crankloop/internal/sample"
)

func TestSetFailedWalksToRoot(t *testing.T) {
	root := sample.New("s", "root", sample.StatusPassed)
	mid := sample.New("s", "mid", sample.StatusPassed)
	leaf := sample.New("s", "leaf", sample.StatusPassed)
	sibling := sample.New("s", "sibling", sample.StatusPassed)
	root.AddChild(mid)
	root.AddChild(sibling)
	mid.AddChild(leaf)

	leaf.SetFailed("broken", "trace")

	for _, node := range []*sample.Sample{leaf, mid, root} {
		assert.Equal(t, sample.StatusFailed, node.Status, node.TestCase)
		assert.Equal(t, "broken", node.ErrorMessage)
	}
	assert.Equal(t, sample.StatusPassed, sibling.Status)
}

func TestMarshalJSONShape(t *testing.T) {
	root := sample.New("Suite", "test_login", sample.StatusFailed)
	root.StartTime = time.Unix(1_700_000_000, 500_000_000)
	root.Duration = 1500 * time.Millisecond
	root.ErrorMessage = "boom"
	root.Path = []sample.PathComponent{{Kind: "module", Value: "auth"}}
	root.Extras["file"] = "auth.yaml"
	child := sample.New("test_login", "/login", sample.StatusPassed)
	child.AddAssertion("status")
	root.AddChild(child)

	raw, err := json.Marshal(root)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Suite", got["test_suite"])
	assert.Equal(t, "test_login", got["test_case"])
	assert.Equal(t, "FAILED", got["status"])
	assert.InDelta(t, 1_700_000_000.5, got["start_time"], 1e-3)
	assert.InDelta(t, 1.5, got["duration"], 1e-9)
	assert.Equal(t, "boom", got["error_msg"])
	assert.Equal(t, []any{map[string]any{"type": "module", "value": "auth"}}, got["path"])

	extras := got["extras"].(map[string]any)
	assert.Equal(t, "auth.yaml", extras["file"])
	assert.Equal(t, []any{}, extras["assertions"])

	subs := got["subsamples"].([]any)
	require.Len(t, subs, 1)
	sub := subs[0].(map[string]any)
	assert.Equal(t, []any{map[string]any{"name": "status", "failed": false, "error_msg": "", "error_trace": ""}}, sub["assertions"])
	subExtras := sub["extras"].(map[string]any)
	assert.Equal(t, []any{map[string]any{"name": "status", "isFailed": false, "errorMessage": ""}}, subExtras["assertions"])
	assert.Equal(t, []any{}, sub["subsamples"])
}
