package worker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/crankloop/internal/config"
	"github.com/torosent/crankloop/internal/worker"
)

func TestParamsForSliceAndHandOff(t *testing.T) {
	cfg := config.Default()
	cfg.Concurrency = 5
	cfg.Iterations = 3
	cfg.RampUp = 10 * time.Second
	cfg.Steps = 2
	cfg.HoldFor = 1500 * time.Millisecond
	cfg.ResultFileTemplate = "out/result-%d.ldjson"
	cfg.Scenario = "shop.yaml"
	cfg.Tests = []string{"Shop.*"}
	cfg.Tracing.Endpoint = "collector:4317"

	run := worker.ParamsFromConfig(cfg)
	require.NotEmpty(t, run.RunID)

	p := run.ForSlice(1, 2, 3)
	assert.Equal(t, 1, p.Worker)
	assert.Equal(t, 2, p.Concurrency)
	assert.Equal(t, 5, p.TotalConcurrency)
	assert.Equal(t, 3, p.LaneOffset)
	assert.Equal(t, "out/result-1.ldjson", p.ReportPath)
	assert.Equal(t, "out/result-%d.ldjson", run.ReportPath)
	assert.Equal(t, 11500*time.Millisecond, p.Deadline())

	p.Tests[0] = "changed"
	assert.Equal(t, "Shop.*", run.Tests[0], "slices do not share test patterns")

	data, err := worker.EncodeParams(p)
	require.NoError(t, err)
	decoded, err := worker.DecodeParams(data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestDecodeParamsRejectsGarbage(t *testing.T) {
	_, err := worker.DecodeParams([]byte("concurrency: [oops"))
	assert.Error(t, err)
}
