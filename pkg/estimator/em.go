package estimator

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// RunEM executes the EM/MLE fixed-point estimator. Each full step is
// non-decreasing in the log-likelihood when P rows are proper probability
// distributions; with threshold-dropped row mass monotonicity is an
// empirical property, not a guarantee.
func RunEM(p *models.ConnectionMatrix, counts, priors []float64, config *Config) (*Result, error) {
	return run(models.EstimatorEM, p, counts, priors, config, func(u []float64) ([]float64, error) {
		return emStep(p, counts, u)
	})
}

// Align performs a single EM iteration from an externally produced solution,
// restoring exact mass conservation. Used to post-process the convex
// solver's raw optimum, where mass equality holds only to solver precision.
func Align(p *models.ConnectionMatrix, counts, raw []float64) ([]float64, error) {
	if len(raw) != p.NumTiles {
		return nil, fmt.Errorf("solution length %d does not match %d tiles", len(raw), p.NumTiles)
	}
	u, err := emStep(p, counts, raw)
	if err != nil {
		return nil, err
	}
	rescale(u, floats.Sum(counts))
	return u, nil
}
