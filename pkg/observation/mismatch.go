package observation

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// signalPerturber applies the additive-noise mismatch: a seeded uniform
// perturbation in [-k, +k] dB added to the signal level before the dominance
// transform is reapplied. The dominance shift is nonlinear because the
// dominance function is a logistic transform of the signal level.
type signalPerturber struct {
	dist distuv.Uniform
}

func newSignalPerturber(spec models.MismatchSpec) *signalPerturber {
	return &signalPerturber{
		dist: distuv.Uniform{
			Min: -spec.NoiseDB,
			Max: spec.NoiseDB,
			Src: rand.NewSource(uint64(spec.Seed)),
		},
	}
}

func (p *signalPerturber) perturb(signalDBm float64) float64 {
	return signalDBm + p.dist.Rand()
}

// quantizeDominance rounds a dominance value to the nearest multiple of step.
// A step of 0 is the true-model alias and must never round to zero.
func quantizeDominance(dominance, step float64) float64 {
	if step == 0 {
		return dominance
	}
	return math.Round(dominance/step) * step
}

// applyDominanceMismatch applies the post-normalization part of a mismatch
// transform to a single dominance value. Additive noise acts on the signal
// level and is handled upstream of normalization, so it is a no-op here.
func applyDominanceMismatch(dominance float64, spec models.MismatchSpec) float64 {
	if spec.Kind == models.MismatchQuantize {
		return quantizeDominance(dominance, spec.QuantStep)
	}
	return dominance
}

// checkMismatch validates a spec and rejects combinations the given input
// form cannot support.
func checkMismatch(spec models.MismatchSpec, haveSignals bool) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid mismatch spec: %w", err)
	}
	if spec.Kind == models.MismatchNoise && !spec.IsNoop() && !haveSignals {
		return fmt.Errorf("noise mismatch requires signal-level input, only dominance values were provided")
	}
	return nil
}
