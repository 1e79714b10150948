package convex

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// ProfilePoint is one grid point of a focus-region profile sweep. Infeasible
// and failed points are retained and flagged, never dropped: the downstream
// confidence procedure needs the full (r, objective, status) curve.
type ProfilePoint struct {
	R         float64 `json:"r"`
	Objective float64 `json:"objective"`
	Status    Status  `json:"status"`
	Message   string  `json:"message,omitempty"`
}

// SolveWithRegionMass re-solves the constrained maximization with the added
// equality constraint v^T u = r, where v is the 0/1 focus-region membership
// vector. The region and its complement become separate softmax blocks with
// fixed masses r and sum(c)-r.
func (s *Solver) SolveWithRegionMass(region []bool, r float64) Solution {
	if len(region) != s.p.NumTiles {
		return Solution{
			Status:  StatusError,
			Message: fmt.Sprintf("region length %d does not match %d tiles", len(region), s.p.NumTiles),
		}
	}

	var in, out []int
	for j, member := range region {
		if member {
			in = append(in, j)
		} else {
			out = append(out, j)
		}
	}

	tol := 1e-9 * math.Max(1, s.totalMass)
	switch {
	case r < -tol || r > s.totalMass+tol:
		return Solution{Status: StatusInfeasible, Message: fmt.Sprintf("region mass %g outside [0, %g]", r, s.totalMass)}
	case len(in) == 0 && r > tol:
		return Solution{Status: StatusInfeasible, Message: "empty region cannot carry positive mass"}
	case len(out) == 0 && math.Abs(s.totalMass-r) > tol:
		return Solution{Status: StatusInfeasible, Message: "full-area region must carry the total mass"}
	}
	r = math.Max(0, math.Min(r, s.totalMass))

	blocks := []block{
		{indices: in, mass: r},
		{indices: out, mass: s.totalMass - r},
	}

	// A positive-count cell whose connected tiles all sit in a zero-mass
	// block can never receive mass under this constraint.
	for i, c := range s.counts {
		if c == 0 {
			continue
		}
		reachable := false
		for _, j := range s.cellTiles[i] {
			if (region[j] && r > 0) || (!region[j] && s.totalMass-r > 0) {
				reachable = true
				break
			}
		}
		if !reachable {
			return Solution{
				Status:  StatusInfeasible,
				Message: fmt.Sprintf("cell %d with positive count is unreachable at region mass %g", i, r),
			}
		}
	}

	return s.solveBlocks(blocks)
}

// ProfileRegion solves the region-constrained program at every grid point.
// Grid points are independent and dispatched in parallel with at most
// workers concurrent solves; each solve is bounded by the per-call timeout
// in Options. The returned slice is aligned with the grid.
func (s *Solver) ProfileRegion(ctx context.Context, region []bool, grid []float64, workers int) ([]ProfilePoint, error) {
	if workers < 1 {
		workers = 1
	}

	points := make([]ProfilePoint, len(grid))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, r := range grid {
		i, r := i, r
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			sol := s.SolveWithRegionMass(region, r)
			points[i] = ProfilePoint{
				R:         r,
				Objective: sol.Objective,
				Status:    sol.Status,
				Message:   sol.Message,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return points, fmt.Errorf("profile sweep interrupted: %w", err)
	}

	s.logger.Info().
		Int("grid_points", len(grid)).
		Int("workers", workers).
		Msg("Profile sweep completed")

	return points, nil
}

// RegionMass returns v^T u for a 0/1 membership vector
func RegionMass(u []float64, region []bool) float64 {
	mass := 0.0
	for j, member := range region {
		if member {
			mass += u[j]
		}
	}
	return mass
}

// MassGrid builds a symmetric grid of steps+1 candidate masses centered on
// center, clipped to [0, total]
func MassGrid(center, halfWidth, total float64, steps int) []float64 {
	if steps < 1 {
		steps = 1
	}
	grid := make([]float64, 0, steps+1)
	for k := 0; k <= steps; k++ {
		r := center - halfWidth + 2*halfWidth*float64(k)/float64(steps)
		grid = append(grid, math.Max(0, math.Min(r, total)))
	}
	return grid
}
