package convex

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/cellscape/population-estimation-service/pkg/estimator"
	"github.com/cellscape/population-estimation-service/pkg/models"
)

// Status is the outcome of one convex solve. Only StatusOptimal yields an
// accepted solution; every other status is surfaced to the caller as an
// estimation failure, never substituted with a fallback vector.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusInaccurate Status = "inaccurate"
	StatusInfeasible Status = "infeasible"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// Options controls a convex solve
type Options struct {
	MaxIterations     int           `json:"max_iterations"`
	GradientTolerance float64       `json:"gradient_tolerance"`
	PenaltyWeight     float64       `json:"penalty_weight"`  // weight of the coverage-bound penalties
	BoundTolerance    float64       `json:"bound_tolerance"` // relative violation accepted at the solution
	Timeout           time.Duration `json:"timeout"`         // per-call limit, reported as StatusTimeout
}

// DefaultOptions returns the standard solver configuration
func DefaultOptions() Options {
	return Options{
		MaxIterations:     500,
		GradientTolerance: 1e-8,
		PenaltyWeight:     1e4,
		BoundTolerance:    1e-4,
		Timeout:           2 * time.Minute,
	}
}

// Solution is the output contract of one solve: status, the solution vector
// when optimal, and the achieved objective value c^T log(P u).
type Solution struct {
	Status           Status    `json:"status"`
	U                []float64 `json:"u,omitempty"`       // raw optimum, only when optimal
	Aligned          []float64 `json:"aligned,omitempty"` // after one EM alignment pass
	Objective        float64   `json:"objective"`
	AlignedObjective float64   `json:"aligned_objective"`
	Message          string    `json:"message,omitempty"`
	RuntimeMS        int64     `json:"runtime_ms"`
}

// Solver maximizes c^T log(P u) subject to u >= 0, 1^T u = sum(c), and the
// coverage-consistency bounds u_j <= sum of counts over j's connected cells
// and sum of u over a cell's connected tiles >= c_i. Positivity and mass
// conservation are enforced exactly through a softmax parametrization; the
// coverage bounds through quadratic penalties checked after the solve. The
// objective is standardized (shifted by c^T log c, scaled by sum(c)) without
// changing the arg-max.
type Solver struct {
	p      *models.ConnectionMatrix
	counts []float64
	opts   Options
	logger zerolog.Logger

	totalMass float64
	upper     []float64 // per-tile bound: B^T c
	cellTiles [][]int   // binary adjacency, tiles connected to each cell
	offset    float64   // c^T log c
	scale     float64   // sum(c)
}

// NewSolver validates inputs and precomputes the constraint structure
func NewSolver(p *models.ConnectionMatrix, counts []float64, opts Options, logger zerolog.Logger) (*Solver, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection matrix: %w", err)
	}
	if len(counts) != p.NumCells {
		return nil, fmt.Errorf("counts length %d does not match %d cells", len(counts), p.NumCells)
	}
	if err := estimator.CheckConsistency(p, counts); err != nil {
		return nil, err
	}

	totalMass := floats.Sum(counts)
	if totalMass <= 0 {
		return nil, fmt.Errorf("total observed count must be positive, got %f", totalMass)
	}

	upper := make([]float64, p.NumTiles)
	cellTiles := make([][]int, p.NumCells)
	for tile, links := range p.Links {
		for _, l := range links {
			upper[tile] += counts[l.Cell]
			cellTiles[l.Cell] = append(cellTiles[l.Cell], tile)
		}
	}

	offset := 0.0
	for _, c := range counts {
		if c > 0 {
			offset += c * math.Log(c)
		}
	}

	return &Solver{
		p:         p,
		counts:    counts,
		opts:      opts,
		logger:    logger,
		totalMass: totalMass,
		upper:     upper,
		cellTiles: cellTiles,
		offset:    offset,
		scale:     totalMass,
	}, nil
}

// block is one softmax group: indices share a fixed total mass
type block struct {
	indices []int
	mass    float64
}

// Solve runs the full constrained maximization over all decision variables
func (s *Solver) Solve() Solution {
	all := make([]int, s.p.NumTiles)
	for j := range all {
		all[j] = j
	}
	return s.solveBlocks([]block{{indices: all, mass: s.totalMass}})
}

// uFromZ maps the unconstrained parameters to the feasible simplex scaled by
// each block's mass. Softmax is computed with a per-block shift for
// numerical stability.
func uFromZ(z []float64, blocks []block, n int) []float64 {
	u := make([]float64, n)
	for _, b := range blocks {
		if len(b.indices) == 0 {
			continue
		}
		max := math.Inf(-1)
		for _, j := range b.indices {
			if z[j] > max {
				max = z[j]
			}
		}
		sum := 0.0
		exps := make([]float64, len(b.indices))
		for k, j := range b.indices {
			exps[k] = math.Exp(z[j] - max)
			sum += exps[k]
		}
		for k, j := range b.indices {
			u[j] = b.mass * exps[k] / sum
		}
	}
	return u
}

// objective evaluates the standardized negative log-likelihood plus the
// coverage-bound penalties at u
func (s *Solver) objective(u []float64) float64 {
	q := estimator.Forward(s.p, u)
	ll := 0.0
	for i, c := range s.counts {
		if c == 0 {
			continue
		}
		if q[i] <= 0 {
			return math.Inf(1)
		}
		ll += c * math.Log(q[i])
	}

	f := -(ll - s.offset) / s.scale
	w := s.opts.PenaltyWeight
	for j, uj := range u {
		if v := uj - s.upper[j]; v > 0 {
			f += w * (v / s.scale) * (v / s.scale)
		}
	}
	for i, c := range s.counts {
		if c == 0 {
			continue
		}
		cover := 0.0
		for _, j := range s.cellTiles[i] {
			cover += u[j]
		}
		if v := c - cover; v > 0 {
			f += w * (v / s.scale) * (v / s.scale)
		}
	}
	return f
}

// gradientU computes the objective gradient with respect to u
func (s *Solver) gradientU(u []float64) []float64 {
	q := estimator.Forward(s.p, u)
	ratio := make([]float64, s.p.NumCells)
	for i, c := range s.counts {
		if c > 0 && q[i] > 0 {
			ratio[i] = c / q[i]
		}
	}

	g := make([]float64, len(u))
	for tile, links := range s.p.Links {
		sum := 0.0
		for _, l := range links {
			sum += l.Weight * ratio[l.Cell]
		}
		g[tile] = -sum / s.scale
	}

	w := s.opts.PenaltyWeight
	scale2 := s.scale * s.scale
	for j, uj := range u {
		if v := uj - s.upper[j]; v > 0 {
			g[j] += 2 * w * v / scale2
		}
	}
	for i, c := range s.counts {
		if c == 0 {
			continue
		}
		cover := 0.0
		for _, j := range s.cellTiles[i] {
			cover += u[j]
		}
		if v := c - cover; v > 0 {
			for _, j := range s.cellTiles[i] {
				g[j] -= 2 * w * v / scale2
			}
		}
	}
	return g
}

// chainRule converts a gradient in u to a gradient in z through the
// blockwise softmax: dz_j = u_j * (g_j - (u . g)|_block / mass)
func chainRule(gradU, u []float64, blocks []block, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for _, b := range blocks {
		if len(b.indices) == 0 || b.mass == 0 {
			continue
		}
		dot := 0.0
		for _, j := range b.indices {
			dot += u[j] * gradU[j]
		}
		mean := dot / b.mass
		for _, j := range b.indices {
			dst[j] = u[j] * (gradU[j] - mean)
		}
	}
}

// solveBlocks runs L-BFGS over the given softmax blocks
func (s *Solver) solveBlocks(blocks []block) Solution {
	start := time.Now()
	n := s.p.NumTiles

	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			return s.objective(uFromZ(z, blocks, n))
		},
		Grad: func(grad, z []float64) {
			u := uFromZ(z, blocks, n)
			chainRule(s.gradientU(u), u, blocks, grad)
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   s.opts.MaxIterations,
		Runtime:           s.opts.Timeout,
		GradientThreshold: s.opts.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 25,
		},
	}

	z0 := make([]float64, n)
	result, err := optimize.Minimize(problem, z0, settings, &optimize.LBFGS{})
	runtimeMS := time.Since(start).Milliseconds()

	if result == nil {
		return Solution{
			Status:    StatusError,
			Message:   fmt.Sprintf("solver failed: %v", err),
			RuntimeMS: runtimeMS,
		}
	}

	status := mapStatus(result.Status)
	u := uFromZ(result.X, blocks, n)
	objective := estimator.LogLikelihood(s.p, s.counts, u)

	if status == StatusOptimal {
		if viol := s.maxBoundViolation(u); viol > s.opts.BoundTolerance {
			status = StatusInfeasible
			return Solution{
				Status:    status,
				Objective: objective,
				Message:   fmt.Sprintf("coverage bounds violated by %.3g at the optimum", viol),
				RuntimeMS: runtimeMS,
			}
		}
	}

	if status != StatusOptimal {
		msg := result.Status.String()
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		return Solution{
			Status:    status,
			Objective: objective,
			Message:   msg,
			RuntimeMS: runtimeMS,
		}
	}

	// One EM iteration from the raw optimum restores exact mass equality.
	// Further EM progress beyond tolerance would mean the solve was not
	// actually optimal, which is checked by the caller's tests.
	aligned, alignErr := estimator.Align(s.p, s.counts, u)
	if alignErr != nil {
		return Solution{
			Status:    StatusError,
			Objective: objective,
			Message:   fmt.Sprintf("alignment pass failed: %v", alignErr),
			RuntimeMS: runtimeMS,
		}
	}

	sol := Solution{
		Status:           StatusOptimal,
		U:                u,
		Aligned:          aligned,
		Objective:        objective,
		AlignedObjective: estimator.LogLikelihood(s.p, s.counts, aligned),
		RuntimeMS:        runtimeMS,
	}

	s.logger.Debug().
		Float64("objective", sol.Objective).
		Float64("aligned_objective", sol.AlignedObjective).
		Int64("runtime_ms", runtimeMS).
		Msg("Convex solve completed")

	return sol
}

// maxBoundViolation returns the largest relative violation of the coverage
// bounds at u
func (s *Solver) maxBoundViolation(u []float64) float64 {
	max := 0.0
	for j, uj := range u {
		if v := (uj - s.upper[j]) / s.scale; v > max {
			max = v
		}
	}
	for i, c := range s.counts {
		if c == 0 {
			continue
		}
		cover := 0.0
		for _, j := range s.cellTiles[i] {
			cover += u[j]
		}
		if v := (c - cover) / s.scale; v > max {
			max = v
		}
	}
	return max
}

// mapStatus translates gonum optimizer termination into the solve contract
func mapStatus(st optimize.Status) Status {
	switch st {
	case optimize.Success,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.FunctionThreshold,
		optimize.MethodConverge:
		return StatusOptimal
	case optimize.RuntimeLimit:
		return StatusTimeout
	case optimize.IterationLimit,
		optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit:
		return StatusInaccurate
	default:
		return StatusError
	}
}
