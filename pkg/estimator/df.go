package estimator

import (
	"fmt"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// RunDF executes the relaxed iterative estimator: a partial step toward the
// EM target followed by a mass rescale. The damping reduces oscillation
// under quantized inputs where the EM fixed point may not exist cleanly.
// Deterministic given identical inputs.
func RunDF(p *models.ConnectionMatrix, counts, priors []float64, config *Config) (*Result, error) {
	alpha := config.Damping()
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("damping factor must be in (0,1], got %f", alpha)
	}

	return run(models.EstimatorDF, p, counts, priors, config, func(u []float64) ([]float64, error) {
		target, err := emStep(p, counts, u)
		if err != nil {
			return nil, err
		}
		next := make([]float64, len(u))
		for j := range u {
			next[j] = (1-alpha)*u[j] + alpha*target[j]
		}
		return next, nil
	})
}
