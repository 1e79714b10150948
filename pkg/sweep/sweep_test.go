package sweep

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellscape/population-estimation-service/pkg/convex"
	"github.com/cellscape/population-estimation-service/pkg/estimator"
	"github.com/cellscape/population-estimation-service/pkg/models"
	"github.com/cellscape/population-estimation-service/pkg/observation"
)

// testInputs builds a tiny two-tile world where each tile is firmly
// dominated by its own cell
func testInputs() Inputs {
	cells := []models.Cell{
		{ID: 1, Kind: "macro", PowerDBm: 43, PathLossExponent: 3.5, DominanceMidpoint: -90, DominanceSteepness: 0.2},
		{ID: 2, Kind: "macro", PowerDBm: 43, PathLossExponent: 3.5, DominanceMidpoint: -90, DominanceSteepness: 0.2},
	}
	signals := []models.SignalRecord{
		{Tile: 0, Cell: 0, SignalDBm: -70},
		{Tile: 0, Cell: 1, SignalDBm: -100},
		{Tile: 1, Cell: 0, SignalDBm: -100},
		{Tile: 1, Cell: 1, SignalDBm: -70},
	}
	return Inputs{
		Cellplan: "toyworld",
		NumTiles: 2,
		Cells:    cells,
		Signals:  signals,
		Counts:   []float64{12, 8},
		Mapping:  models.IdentityMapping(2),
		Priors: map[string][]float64{
			"uniform": {1, 1},
		},
	}
}

func testRunner(inputs Inputs, workers int) *Runner {
	config := estimator.NewConfig()
	config.Set("logging.level", "error")
	config.Set("logging.enable_progress", false)
	return NewRunner(inputs, config, observation.DefaultBuilderConfig(),
		convex.DefaultOptions(), workers, zerolog.Nop())
}

func TestRunner_Jobs(t *testing.T) {
	runner := testRunner(testInputs(), 2)
	axes := Axes{
		Mismatches: []models.MismatchSpec{
			models.TrueModel(),
			{Kind: models.MismatchQuantize, QuantStep: 0.05},
		},
		Priors:     []string{"uniform"},
		Estimators: []string{models.EstimatorEM, models.EstimatorDF},
	}

	jobs := runner.Jobs(axes)
	require.Len(t, jobs, 4)
	assert.Equal(t, "toyworld", jobs[0].Cellplan)
	assert.Equal(t, models.EstimatorEM, jobs[0].Estimator)
	assert.Equal(t, models.EstimatorDF, jobs[3].Estimator)
}

func TestRunner_RunAllEstimators(t *testing.T) {
	runner := testRunner(testInputs(), 2)
	axes := Axes{
		Mismatches: []models.MismatchSpec{models.TrueModel()},
		Priors:     []string{"uniform"},
		Estimators: []string{models.EstimatorEM, models.EstimatorDF, models.EstimatorConvex},
	}

	results, err := runner.Run(context.Background(), axes)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, res := range results {
		require.False(t, res.Failed(), "job %s failed: %s", res.Job.Label(), res.Err)
		assert.True(t, res.Converged)
		require.Len(t, res.Final.Values, 2, "final estimate must be at tile level")
		assert.InDelta(t, 20.0, res.Final.Sum(), 1e-6, "job %s lost mass", res.Job.Label())
		// Tile 0 carries the larger count through its dominant cell
		assert.Greater(t, res.Final.Values[0], res.Final.Values[1])
	}

	for _, res := range results {
		if res.Job.Estimator == models.EstimatorConvex {
			assert.Equal(t, convex.StatusOptimal, res.SolverStatus)
			assert.Empty(t, res.Checkpoints, "convex jobs produce no iteration snapshots")
		} else {
			assert.NotEmpty(t, res.Checkpoints)
		}
	}
}

func TestRunner_FailureIsolation(t *testing.T) {
	runner := testRunner(testInputs(), 2)
	axes := Axes{
		Mismatches: []models.MismatchSpec{models.TrueModel()},
		Priors:     []string{"uniform", "missing-variant"},
		Estimators: []string{models.EstimatorEM},
	}

	results, err := runner.Run(context.Background(), axes)
	require.NoError(t, err, "per-job failures must not abort the sweep")
	require.Len(t, results, 2)

	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.Contains(t, results[1].Err, "missing-variant")
}

func TestRunner_SupertileRoundTrip(t *testing.T) {
	inputs := testInputs()
	// Both tiles merged into one supertile
	inputs.Mapping = &models.SupertileMapping{
		TileToSuper: []int{0, 0},
		Members:     [][]int{{0, 1}},
	}

	runner := testRunner(inputs, 1)
	axes := Axes{
		Mismatches: []models.MismatchSpec{models.TrueModel()},
		Priors:     []string{"uniform"},
		Estimators: []string{models.EstimatorEM},
	}

	results, err := runner.Run(context.Background(), axes)
	require.NoError(t, err)
	require.False(t, results[0].Failed(), "job failed: %s", results[0].Err)

	// One supertile disaggregates into equal per-tile shares
	final := results[0].Final.Values
	require.Len(t, final, 2)
	assert.Equal(t, final[0], final[1])
	assert.InDelta(t, 20.0, results[0].Final.Sum(), 1e-6)
}

func TestRunner_Cancellation(t *testing.T) {
	runner := testRunner(testInputs(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	axes := Axes{
		Mismatches: []models.MismatchSpec{models.TrueModel()},
		Priors:     []string{"uniform"},
		Estimators: []string{models.EstimatorEM, models.EstimatorDF},
	}
	_, err := runner.Run(ctx, axes)
	assert.Error(t, err)
}

func TestDefaultAxes(t *testing.T) {
	axes := DefaultAxes(42, []string{"uniform"}, []string{models.EstimatorEM})

	// true model + 7 noise levels + 6 quantization steps
	require.Len(t, axes.Mismatches, 14)
	assert.Equal(t, models.MismatchNone, axes.Mismatches[0].Kind)

	noise, quantize := 0, 0
	for _, m := range axes.Mismatches {
		switch m.Kind {
		case models.MismatchNoise:
			noise++
			assert.Equal(t, int64(42), m.Seed)
		case models.MismatchQuantize:
			quantize++
			assert.LessOrEqual(t, m.QuantStep, 0.1)
		}
	}
	assert.Equal(t, 7, noise)
	assert.Equal(t, 6, quantize)
}
