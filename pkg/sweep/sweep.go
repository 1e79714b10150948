package sweep

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cellscape/population-estimation-service/pkg/convex"
	"github.com/cellscape/population-estimation-service/pkg/estimator"
	"github.com/cellscape/population-estimation-service/pkg/models"
	"github.com/cellscape/population-estimation-service/pkg/observation"
	"github.com/cellscape/population-estimation-service/pkg/supertile"
)

// Inputs is one cellplan's worth of estimation input, shared by every job
// in the sweep
type Inputs struct {
	Cellplan string
	NumTiles int
	Cells    []models.Cell
	Signals  []models.SignalRecord
	Counts   []float64
	Mapping  *models.SupertileMapping
	Priors   map[string][]float64 // prior variant name -> per-tile weights
}

// Axes enumerates the sweep dimensions. Jobs are the explicit cross-product
// of the three axes; nothing is routed through generated string keys.
type Axes struct {
	Mismatches []models.MismatchSpec
	Priors     []string
	Estimators []string
}

// JobResult is the outcome of one independent estimation job. A failure is
// attributed to its exact job tuple and never aborts sibling jobs.
type JobResult struct {
	Job          models.Job        `json:"job"`
	Uncovered    []int             `json:"uncovered,omitempty"` // tiles below the dominance threshold, results unreliable
	Converged    bool              `json:"converged"`
	Iterations   int               `json:"iterations"`
	Checkpoints  []models.Estimate `json:"checkpoints,omitempty"` // tile-level, disaggregated
	Final        models.Estimate   `json:"final"`
	SolverStatus convex.Status     `json:"solver_status,omitempty"` // convex jobs only
	Objective    float64           `json:"objective,omitempty"`
	Err          string            `json:"error,omitempty"`
}

// Failed reports whether the job produced no usable estimate
func (r JobResult) Failed() bool { return r.Err != "" }

// Runner executes a full estimation sweep over one cellplan
type Runner struct {
	inputs     Inputs
	config     *estimator.Config
	builderCfg observation.BuilderConfig
	solverOpts convex.Options
	logger     zerolog.Logger
	workers    int
}

// NewRunner creates a sweep runner. workers bounds the number of jobs
// estimated concurrently; each job is pure given its inputs and seed.
func NewRunner(inputs Inputs, config *estimator.Config, builderCfg observation.BuilderConfig,
	solverOpts convex.Options, workers int, logger zerolog.Logger) *Runner {

	if workers < 1 {
		workers = 1
	}
	return &Runner{
		inputs:     inputs,
		config:     config,
		builderCfg: builderCfg,
		solverOpts: solverOpts,
		logger:     logger,
		workers:    workers,
	}
}

// Jobs expands the axes into the explicit list of job records
func (r *Runner) Jobs(axes Axes) []models.Job {
	jobs := make([]models.Job, 0, len(axes.Mismatches)*len(axes.Priors)*len(axes.Estimators))
	for _, mismatch := range axes.Mismatches {
		for _, prior := range axes.Priors {
			for _, est := range axes.Estimators {
				jobs = append(jobs, models.Job{
					Estimator: est,
					Mismatch:  mismatch,
					Prior:     prior,
					Cellplan:  r.inputs.Cellplan,
				})
			}
		}
	}
	return jobs
}

// Run executes every job of the cross-product. Results are aligned with the
// expanded job list. The returned error is non-nil only on cancellation;
// per-job failures live in the results.
func (r *Runner) Run(ctx context.Context, axes Axes) ([]JobResult, error) {
	jobs := r.Jobs(axes)
	results := make([]JobResult, len(jobs))

	r.logger.Info().
		Str("cellplan", r.inputs.Cellplan).
		Int("jobs", len(jobs)).
		Int("workers", r.workers).
		Msg("Starting estimation sweep")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			results[i] = r.runJob(job)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("sweep interrupted: %w", err)
	}

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	r.logger.Info().
		Int("jobs", len(jobs)).
		Int("failed", failed).
		Msg("Estimation sweep completed")

	return results, nil
}

// runJob builds the observation model for the job's mismatch level,
// aggregates to supertiles, runs the job's estimator, and disaggregates
// back to tile level
func (r *Runner) runJob(job models.Job) JobResult {
	result := JobResult{Job: job}

	priors, ok := r.inputs.Priors[job.Prior]
	if !ok {
		result.Err = fmt.Sprintf("unknown prior variant %q", job.Prior)
		return result
	}

	builder := observation.NewBuilder(r.inputs.Cells, r.builderCfg, r.logger)
	obs, err := builder.Build(r.inputs.NumTiles, r.inputs.Signals, r.inputs.Counts, job.Mismatch)
	if err != nil {
		result.Err = fmt.Sprintf("observation model: %v", err)
		return result
	}
	result.Uncovered = obs.Uncovered

	superP, superPriors, err := supertile.Aggregate(obs.P, priors, r.inputs.Mapping)
	if err != nil {
		result.Err = fmt.Sprintf("supertile aggregation: %v", err)
		return result
	}

	switch job.Estimator {
	case models.EstimatorEM, models.EstimatorDF:
		var est *estimator.Result
		if job.Estimator == models.EstimatorEM {
			est, err = estimator.RunEM(superP, obs.Counts, superPriors, r.config)
		} else {
			est, err = estimator.RunDF(superP, obs.Counts, superPriors, r.config)
		}
		if err != nil {
			result.Err = fmt.Sprintf("estimator %s: %v", job.Estimator, err)
			return result
		}
		result.Converged = est.Converged
		result.Iterations = est.Iterations
		if len(est.LogLikelihoods) > 0 {
			result.Objective = est.LogLikelihoods[len(est.LogLikelihoods)-1]
		}

		for _, cp := range est.Checkpoints {
			tileValues, derr := supertile.Disaggregate(cp.Values, r.inputs.Mapping)
			if derr != nil {
				result.Err = fmt.Sprintf("disaggregation at iteration %d: %v", cp.Iteration, derr)
				return result
			}
			result.Checkpoints = append(result.Checkpoints, models.NewEstimate(cp.Estimator, cp.Iteration, tileValues))
		}

		finalValues, derr := supertile.Disaggregate(est.Final.Values, r.inputs.Mapping)
		if derr != nil {
			result.Err = fmt.Sprintf("final disaggregation: %v", derr)
			return result
		}
		result.Final = models.NewEstimate(job.Estimator, est.Final.Iteration, finalValues)

	case models.EstimatorConvex:
		solver, serr := convex.NewSolver(superP, obs.Counts, r.solverOpts, r.logger)
		if serr != nil {
			result.Err = fmt.Sprintf("convex solver: %v", serr)
			return result
		}
		sol := solver.Solve()
		result.SolverStatus = sol.Status
		result.Objective = sol.Objective
		if sol.Status != convex.StatusOptimal {
			// Recorded with its status and excluded from any best-estimate
			// selection; never substituted with a fallback vector.
			result.Err = fmt.Sprintf("convex solve status %s: %s", sol.Status, sol.Message)
			return result
		}
		result.Converged = true
		result.Objective = sol.AlignedObjective

		tileValues, derr := supertile.Disaggregate(sol.Aligned, r.inputs.Mapping)
		if derr != nil {
			result.Err = fmt.Sprintf("convex disaggregation: %v", derr)
			return result
		}
		result.Final = models.NewEstimate(models.EstimatorConvex, 1, tileValues)

	default:
		result.Err = fmt.Sprintf("unknown estimator kind %q", job.Estimator)
	}

	return result
}

// DefaultAxes returns the sweep axes of the mismatch study: the true model,
// the additive-noise ladder (3..21 dB), and the quantization ladder
// (1,2,3,4,5,10), crossed with the given prior variants and estimators.
func DefaultAxes(seed int64, priors, estimators []string) Axes {
	mismatches := []models.MismatchSpec{models.TrueModel()}
	for db := 3.0; db <= 21; db += 3 {
		mismatches = append(mismatches, models.MismatchSpec{Kind: models.MismatchNoise, NoiseDB: db, Seed: seed})
	}
	for _, q := range []float64{1, 2, 3, 4, 5, 10} {
		mismatches = append(mismatches, models.MismatchSpec{Kind: models.MismatchQuantize, QuantStep: q / 100})
	}
	return Axes{Mismatches: mismatches, Priors: priors, Estimators: estimators}
}
