package estimator

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// Result contains the complete output of an iterative estimation run
type Result struct {
	Estimator      string            `json:"estimator"`
	Converged      bool              `json:"converged"` // cap reached without convergence is recorded, not fatal
	Iterations     int               `json:"iterations"`
	LogLikelihoods []float64         `json:"log_likelihoods"` // trace, entry per completed iteration
	Checkpoints    []models.Estimate `json:"checkpoints"`     // snapshots at configured iterations
	Final          models.Estimate   `json:"final"`
	RuntimeMS      int64             `json:"runtime_ms"`
}

// stepFunc produces the next estimate vector from the current one
type stepFunc func(u []float64) ([]float64, error)

// run drives the shared fixed-point loop: step, rescale to total mass,
// track the log-likelihood, snapshot checkpoints, stop on the relative
// likelihood change falling below tolerance or on the iteration cap.
func run(name string, p *models.ConnectionMatrix, counts, priors []float64, config *Config, step stepFunc) (*Result, error) {
	start := time.Now()
	logger := config.CreateLogger()

	if config.MaxIterations() < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1, got %d", config.MaxIterations())
	}
	if config.EnableProgress() && config.ProgressInterval() < 1 {
		return nil, fmt.Errorf("progress interval must be at least 1, got %d", config.ProgressInterval())
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection matrix: %w", err)
	}
	if len(counts) != p.NumCells {
		return nil, fmt.Errorf("counts length %d does not match %d cells", len(counts), p.NumCells)
	}
	if len(priors) != p.NumTiles {
		return nil, fmt.Errorf("priors length %d does not match %d tiles", len(priors), p.NumTiles)
	}
	if err := CheckConsistency(p, counts); err != nil {
		return nil, err
	}

	totalMass := floats.Sum(counts)
	u, err := initialEstimate(priors, totalMass)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int]bool)
	for _, cp := range config.Checkpoints() {
		wanted[cp] = true
	}

	result := &Result{
		Estimator:      name,
		LogLikelihoods: make([]float64, 0, config.MaxIterations()),
		Checkpoints:    make([]models.Estimate, 0, len(wanted)),
	}

	prevLL := LogLikelihood(p, counts, u)
	logger.Info().
		Str("estimator", name).
		Int("tiles", p.NumTiles).
		Int("cells", p.NumCells).
		Float64("total_mass", totalMass).
		Float64("initial_log_likelihood", prevLL).
		Msg("Starting estimation")

	for iter := 1; iter <= config.MaxIterations(); iter++ {
		u, err = step(u)
		if err != nil {
			return nil, fmt.Errorf("iteration %d failed: %w", iter, err)
		}
		rescale(u, totalMass)

		ll := LogLikelihood(p, counts, u)
		result.LogLikelihoods = append(result.LogLikelihoods, ll)
		result.Iterations = iter

		if wanted[iter] {
			result.Checkpoints = append(result.Checkpoints, models.NewEstimate(name, iter, u))
		}

		if config.EnableProgress() && iter%config.ProgressInterval() == 0 {
			logger.Info().
				Int("iteration", iter).
				Float64("log_likelihood", ll).
				Msg("Estimation progress")
		}

		if converged(prevLL, ll, config.Tolerance()) {
			result.Converged = true
			logger.Debug().Int("iteration", iter).Msg("Converged: likelihood change below tolerance")
			break
		}
		prevLL = ll
	}

	result.Final = models.NewEstimate(name, result.Iterations, u)
	result.RuntimeMS = time.Since(start).Milliseconds()

	logger.Info().
		Str("estimator", name).
		Bool("converged", result.Converged).
		Int("iterations", result.Iterations).
		Float64("final_log_likelihood", result.LogLikelihoods[len(result.LogLikelihoods)-1]).
		Int64("runtime_ms", result.RuntimeMS).
		Msg("Estimation completed")

	return result, nil
}

// converged tests the relative change in log-likelihood against tolerance
func converged(prev, curr, tolerance float64) bool {
	if math.IsInf(prev, -1) || math.IsInf(curr, -1) {
		return false
	}
	denom := math.Abs(prev)
	if denom < 1 {
		denom = 1
	}
	return math.Abs(curr-prev)/denom < tolerance
}

// CheckpointAt returns the snapshot taken at the given iteration, if any
func (r *Result) CheckpointAt(iteration int) (models.Estimate, bool) {
	for _, cp := range r.Checkpoints {
		if cp.Iteration == iteration {
			return cp, true
		}
	}
	return models.Estimate{}, false
}
