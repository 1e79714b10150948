package models

import (
	"fmt"
	"math"
)

// Tile represents the smallest spatial unit of the area grid
type Tile struct {
	ID        int     `json:"id"`
	Lon       float64 `json:"lon"`
	Lat       float64 `json:"lat"`
	Truth     int     `json:"truth"`     // ground-truth population, used only for evaluation
	Prior     float64 `json:"prior"`     // initialization / anchor weight, never ground truth
	Supertile int     `json:"supertile"` // supertile membership id
}

// Cell represents a single antenna/sector of the simulated radio network
type Cell struct {
	ID                 int     `json:"id"`
	Kind               string  `json:"kind"` // coverage class, e.g. "macro", "small"
	PowerDBm           float64 `json:"power_dbm"`
	PathLossExponent   float64 `json:"path_loss_exponent"`
	DominanceMidpoint  float64 `json:"dominance_midpoint"`  // signal level (dBm) where the logistic reaches 0.5
	DominanceSteepness float64 `json:"dominance_steepness"` // logistic steepness in 1/dB
}

// SignalRecord is one per-tile-per-cell measurement from the propagation collaborator
type SignalRecord struct {
	Tile      int     `json:"tile"`
	Cell      int     `json:"cell"`
	SignalDBm float64 `json:"signal_dbm"`
}

// Link is one sparse entry of the connection-likelihood matrix: the weight
// approximates the probability that a device in the owning tile connects to Cell.
type Link struct {
	Cell   int     `json:"cell"`
	Weight float64 `json:"weight"`
}

// ConnectionMatrix is the sparse tile-by-cell connection-likelihood matrix P,
// stored as per-tile link lists (row-major). Row weights need not sum to 1:
// entries below the dominance threshold are absent and their mass is dropped,
// never redistributed.
type ConnectionMatrix struct {
	NumTiles int      `json:"num_tiles"`
	NumCells int      `json:"num_cells"`
	Links    [][]Link `json:"links"`
}

// NewConnectionMatrix creates an empty numTiles x numCells matrix
func NewConnectionMatrix(numTiles, numCells int) *ConnectionMatrix {
	return &ConnectionMatrix{
		NumTiles: numTiles,
		NumCells: numCells,
		Links:    make([][]Link, numTiles),
	}
}

// AddLink appends a weight for (tile, cell). Entries are kept in insertion
// order; builders insert cell-ascending per tile.
func (p *ConnectionMatrix) AddLink(tile, cell int, weight float64) error {
	if tile < 0 || tile >= p.NumTiles {
		return fmt.Errorf("tile index out of range: %d (num_tiles=%d)", tile, p.NumTiles)
	}
	if cell < 0 || cell >= p.NumCells {
		return fmt.Errorf("cell index out of range: %d (num_cells=%d)", cell, p.NumCells)
	}
	if weight <= 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("link weight must be positive and finite: %f", weight)
	}
	p.Links[tile] = append(p.Links[tile], Link{Cell: cell, Weight: weight})
	return nil
}

// ColumnWeights returns the total incoming weight per cell
func (p *ConnectionMatrix) ColumnWeights() []float64 {
	cols := make([]float64, p.NumCells)
	for _, links := range p.Links {
		for _, l := range links {
			cols[l.Cell] += l.Weight
		}
	}
	return cols
}

// RowMax returns the maximum weight in a tile's row, 0 for an empty row
func (p *ConnectionMatrix) RowMax(tile int) float64 {
	max := 0.0
	for _, l := range p.Links[tile] {
		if l.Weight > max {
			max = l.Weight
		}
	}
	return max
}

// NumLinks returns the total number of sparse entries
func (p *ConnectionMatrix) NumLinks() int {
	n := 0
	for _, links := range p.Links {
		n += len(links)
	}
	return n
}

// Clone creates a deep copy of the matrix
func (p *ConnectionMatrix) Clone() *ConnectionMatrix {
	clone := NewConnectionMatrix(p.NumTiles, p.NumCells)
	for i, links := range p.Links {
		clone.Links[i] = make([]Link, len(links))
		copy(clone.Links[i], links)
	}
	return clone
}

// Filter returns a copy with all entries below threshold removed. Filtering
// an already-filtered matrix with the same threshold is a no-op.
func (p *ConnectionMatrix) Filter(threshold float64) *ConnectionMatrix {
	out := NewConnectionMatrix(p.NumTiles, p.NumCells)
	for i, links := range p.Links {
		kept := make([]Link, 0, len(links))
		for _, l := range links {
			if l.Weight >= threshold {
				kept = append(kept, l)
			}
		}
		out.Links[i] = kept
	}
	return out
}

// Validate checks matrix consistency
func (p *ConnectionMatrix) Validate() error {
	if p.NumTiles <= 0 {
		return fmt.Errorf("matrix must have a positive number of tiles")
	}
	if p.NumCells <= 0 {
		return fmt.Errorf("matrix must have a positive number of cells")
	}
	if len(p.Links) != p.NumTiles {
		return fmt.Errorf("link rows (%d) do not match num_tiles (%d)", len(p.Links), p.NumTiles)
	}
	for i, links := range p.Links {
		for _, l := range links {
			if l.Cell < 0 || l.Cell >= p.NumCells {
				return fmt.Errorf("invalid cell %d in row %d", l.Cell, i)
			}
			// Aggregated rows sum member dominances, so weights may exceed 1
			if l.Weight <= 0 || math.IsNaN(l.Weight) || math.IsInf(l.Weight, 0) {
				return fmt.Errorf("weight %f not positive and finite for tile %d cell %d", l.Weight, i, l.Cell)
			}
		}
	}
	return nil
}

// SupertileMapping is a total, disjoint partition of tiles into supertiles
type SupertileMapping struct {
	TileToSuper []int   `json:"tile_to_super"` // tile index -> supertile index
	Members     [][]int `json:"members"`       // supertile index -> ordered member tile indices
}

// IdentityMapping places every tile in its own supertile
func IdentityMapping(numTiles int) *SupertileMapping {
	m := &SupertileMapping{
		TileToSuper: make([]int, numTiles),
		Members:     make([][]int, numTiles),
	}
	for i := 0; i < numTiles; i++ {
		m.TileToSuper[i] = i
		m.Members[i] = []int{i}
	}
	return m
}

// NumSupertiles returns the number of supertiles in the partition
func (m *SupertileMapping) NumSupertiles() int { return len(m.Members) }

// Validate checks that the mapping is a total disjoint partition
func (m *SupertileMapping) Validate() error {
	seen := make(map[int]int)
	for s, members := range m.Members {
		if len(members) == 0 {
			return fmt.Errorf("supertile %d has no member tiles", s)
		}
		for _, t := range members {
			if t < 0 || t >= len(m.TileToSuper) {
				return fmt.Errorf("supertile %d references unknown tile %d", s, t)
			}
			if prev, ok := seen[t]; ok {
				return fmt.Errorf("tile %d belongs to supertiles %d and %d", t, prev, s)
			}
			seen[t] = s
			if m.TileToSuper[t] != s {
				return fmt.Errorf("tile %d maps to supertile %d but is listed under %d", t, m.TileToSuper[t], s)
			}
		}
	}
	if len(seen) != len(m.TileToSuper) {
		return fmt.Errorf("partition is not total: %d of %d tiles assigned", len(seen), len(m.TileToSuper))
	}
	return nil
}

// Estimate is an immutable snapshot of an estimated population vector.
// Each iteration produces a new Estimate; values are copied on creation.
type Estimate struct {
	Estimator string    `json:"estimator"`
	Iteration int       `json:"iteration"`
	Values    []float64 `json:"values"`
}

// NewEstimate copies values into a fresh snapshot
func NewEstimate(estimator string, iteration int, values []float64) Estimate {
	v := make([]float64, len(values))
	copy(v, values)
	return Estimate{Estimator: estimator, Iteration: iteration, Values: v}
}

// Sum returns the total estimated mass
func (e Estimate) Sum() float64 {
	s := 0.0
	for _, v := range e.Values {
		s += v
	}
	return s
}

// Estimator kind identifiers
const (
	EstimatorEM     = "em"
	EstimatorDF     = "df"
	EstimatorConvex = "convex"
)
