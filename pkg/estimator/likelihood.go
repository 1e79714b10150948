package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// Forward computes the expected per-cell mass q = P^T u
func Forward(p *models.ConnectionMatrix, u []float64) []float64 {
	q := make([]float64, p.NumCells)
	for tile, links := range p.Links {
		if u[tile] == 0 {
			continue
		}
		for _, l := range links {
			q[l.Cell] += l.Weight * u[tile]
		}
	}
	return q
}

// LogLikelihood evaluates c^T log(P u) over cells with positive counts.
// Returns -Inf when a positive-count cell receives no mass.
func LogLikelihood(p *models.ConnectionMatrix, counts, u []float64) float64 {
	q := Forward(p, u)
	ll := 0.0
	for i, c := range counts {
		if c == 0 {
			continue
		}
		if q[i] <= 0 {
			return math.Inf(-1)
		}
		ll += c * math.Log(q[i])
	}
	return ll
}

// CheckConsistency verifies that every cell with a positive observed count
// has positive total incoming weight. A violation means the EM update would
// divide by zero; it is a fatal data inconsistency, never coerced to 0/NaN.
func CheckConsistency(p *models.ConnectionMatrix, counts []float64) error {
	cols := p.ColumnWeights()
	for i, c := range counts {
		if c > 0 && cols[i] <= 0 {
			return &models.DataInconsistencyError{Cell: i, Count: c}
		}
	}
	return nil
}

// initialEstimate scales the prior vector to the total observed mass.
// Zero-prior entries stay zero for all iterations (absorbing state).
func initialEstimate(priors []float64, totalMass float64) ([]float64, error) {
	sum := floats.Sum(priors)
	if sum <= 0 {
		return nil, fmt.Errorf("prior vector has non-positive total weight %f", sum)
	}
	for _, a := range priors {
		if a < 0 || math.IsNaN(a) {
			return nil, fmt.Errorf("prior weights must be non-negative, got %f", a)
		}
	}
	u := make([]float64, len(priors))
	for j, a := range priors {
		u[j] = a * totalMass / sum
	}
	return u, nil
}

// rescale scales u in place so that it sums to totalMass. With exactly
// row-stochastic P the EM step already conserves mass and this is a no-op;
// with threshold-dropped row mass it removes the drift.
func rescale(u []float64, totalMass float64) {
	sum := floats.Sum(u)
	if sum <= 0 {
		return
	}
	floats.Scale(totalMass/sum, u)
}

// emStep performs one EM fixed-point update and returns a new vector:
//
//	q_i      = sum_j P[j,i] * u_j
//	u'_j     = u_j * sum_i ( c_i * P[j,i] / q_i )
//
// A cell with positive count and zero expected mass is reported as a data
// inconsistency for the current estimate.
func emStep(p *models.ConnectionMatrix, counts, u []float64) ([]float64, error) {
	q := Forward(p, u)
	ratio := make([]float64, p.NumCells)
	for i, c := range counts {
		if c == 0 {
			continue
		}
		if q[i] <= 0 {
			return nil, &models.DataInconsistencyError{Cell: i, Count: c}
		}
		ratio[i] = c / q[i]
	}

	next := make([]float64, len(u))
	for tile, links := range p.Links {
		if u[tile] == 0 {
			continue
		}
		s := 0.0
		for _, l := range links {
			s += l.Weight * ratio[l.Cell]
		}
		next[tile] = u[tile] * s
	}
	return next, nil
}
