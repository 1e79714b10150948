package observation

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// BuilderConfig controls observation-model construction
type BuilderConfig struct {
	// Threshold is the minimum dominance below which a connection weight is
	// treated as absent. Dropped mass is not redistributed.
	Threshold float64 `json:"threshold"`
}

// DefaultBuilderConfig returns the standard configuration
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{Threshold: 0.05}
}

// Result is a built observation model: the sparse connection-likelihood
// matrix P, the per-cell observed counts, and the tiles whose maximum
// dominance never reached the threshold. Uncovered tiles are reported, not
// silently dropped, because downstream estimators require full coverage.
type Result struct {
	P         *models.ConnectionMatrix `json:"p"`
	Counts    []float64                `json:"counts"`
	Uncovered []int                    `json:"uncovered"`
	Dropped   int                      `json:"dropped"` // links removed by the threshold
}

// Builder turns per-tile-per-cell signal measurements into a normalized
// sparse connection-likelihood matrix. Tiles and cells are addressed by
// dense indices; id remapping happens at scenario-loading time.
type Builder struct {
	cells  []models.Cell
	config BuilderConfig
	logger zerolog.Logger
}

// NewBuilder creates a builder for a fixed cellplan
func NewBuilder(cells []models.Cell, config BuilderConfig, logger zerolog.Logger) *Builder {
	return &Builder{cells: cells, config: config, logger: logger}
}

// dominanceOf applies the cell's logistic transform to a signal level
func dominanceOf(cell models.Cell, signalDBm float64) float64 {
	return 1.0 / (1.0 + math.Exp(-cell.DominanceSteepness*(signalDBm-cell.DominanceMidpoint)))
}

// Build constructs the observation model from raw signal measurements.
// Per tile: perturb signal (noise mismatch), apply the logistic transform,
// normalize across the tile's candidate cells, apply the quantization
// mismatch, then drop entries below the threshold.
func (b *Builder) Build(numTiles int, signals []models.SignalRecord, counts []float64, mismatch models.MismatchSpec) (*Result, error) {
	if err := b.validateInputs(numTiles, len(b.cells), counts); err != nil {
		return nil, err
	}
	if err := checkMismatch(mismatch, true); err != nil {
		return nil, err
	}

	var perturber *signalPerturber
	if mismatch.Kind == models.MismatchNoise && !mismatch.IsNoop() {
		perturber = newSignalPerturber(mismatch)
	}

	// Group measurements per tile, preserving a stable cell order
	perTile := make([][]models.SignalRecord, numTiles)
	for _, rec := range signals {
		if rec.Tile < 0 || rec.Tile >= numTiles {
			return nil, fmt.Errorf("signal record references unknown tile %d", rec.Tile)
		}
		if rec.Cell < 0 || rec.Cell >= len(b.cells) {
			return nil, fmt.Errorf("signal record references unknown cell %d", rec.Cell)
		}
		if math.IsNaN(rec.SignalDBm) || math.IsInf(rec.SignalDBm, 0) {
			return nil, fmt.Errorf("non-finite signal for tile %d cell %d", rec.Tile, rec.Cell)
		}
		perTile[rec.Tile] = append(perTile[rec.Tile], rec)
	}

	p := models.NewConnectionMatrix(numTiles, len(b.cells))
	uncovered := make([]int, 0)
	dropped := 0

	for tile := 0; tile < numTiles; tile++ {
		recs := perTile[tile]
		sort.Slice(recs, func(i, j int) bool { return recs[i].Cell < recs[j].Cell })

		qualities := make([]float64, len(recs))
		total := 0.0
		for i, rec := range recs {
			s := rec.SignalDBm
			if perturber != nil {
				s = perturber.perturb(s)
			}
			qualities[i] = dominanceOf(b.cells[rec.Cell], s)
			total += qualities[i]
		}

		maxDominance := 0.0
		for i, rec := range recs {
			dominance := 0.0
			if total > 0 {
				dominance = qualities[i] / total
			}
			dominance = applyDominanceMismatch(dominance, mismatch)
			if dominance > maxDominance {
				maxDominance = dominance
			}
			if dominance < b.config.Threshold {
				dropped++
				continue
			}
			if err := p.AddLink(tile, rec.Cell, dominance); err != nil {
				return nil, fmt.Errorf("failed to add link for tile %d: %w", tile, err)
			}
		}

		if maxDominance < b.config.Threshold {
			uncovered = append(uncovered, tile)
		}
	}

	b.logger.Info().
		Int("tiles", numTiles).
		Int("cells", len(b.cells)).
		Int("links", p.NumLinks()).
		Int("dropped", dropped).
		Int("uncovered", len(uncovered)).
		Str("mismatch", mismatch.Label()).
		Msg("Observation model built")

	return &Result{P: p, Counts: counts, Uncovered: uncovered, Dropped: dropped}, nil
}

// DominanceRecord is one pre-computed dominance triple, the external
// interface form of the observation-model input.
type DominanceRecord struct {
	Tile      int     `json:"tile"`
	Cell      int     `json:"cell"`
	Dominance float64 `json:"dominance"`
}

// BuildFromDominance constructs the observation model directly from
// dominance triples. Only the quantization family of mismatch transforms is
// available in this form; additive noise needs the underlying signal level.
func (b *Builder) BuildFromDominance(numTiles, numCells int, records []DominanceRecord, counts []float64, mismatch models.MismatchSpec) (*Result, error) {
	if err := b.validateInputs(numTiles, numCells, counts); err != nil {
		return nil, err
	}
	if err := checkMismatch(mismatch, false); err != nil {
		return nil, err
	}

	p := models.NewConnectionMatrix(numTiles, numCells)
	maxDominance := make([]float64, numTiles)
	dropped := 0

	for _, rec := range records {
		if rec.Tile < 0 || rec.Tile >= numTiles {
			return nil, fmt.Errorf("dominance record references unknown tile %d", rec.Tile)
		}
		if rec.Cell < 0 || rec.Cell >= numCells {
			return nil, fmt.Errorf("dominance record references unknown cell %d", rec.Cell)
		}
		if rec.Dominance < 0 || rec.Dominance > 1 || math.IsNaN(rec.Dominance) {
			return nil, fmt.Errorf("dominance %f out of [0,1] for tile %d cell %d", rec.Dominance, rec.Tile, rec.Cell)
		}

		dominance := applyDominanceMismatch(rec.Dominance, mismatch)
		if dominance > maxDominance[rec.Tile] {
			maxDominance[rec.Tile] = dominance
		}
		if dominance < b.config.Threshold {
			dropped++
			continue
		}
		if err := p.AddLink(rec.Tile, rec.Cell, dominance); err != nil {
			return nil, fmt.Errorf("failed to add link: %w", err)
		}
	}

	uncovered := make([]int, 0)
	for tile := 0; tile < numTiles; tile++ {
		if maxDominance[tile] < b.config.Threshold {
			uncovered = append(uncovered, tile)
		}
	}

	b.logger.Info().
		Int("tiles", numTiles).
		Int("cells", numCells).
		Int("links", p.NumLinks()).
		Int("dropped", dropped).
		Int("uncovered", len(uncovered)).
		Str("mismatch", mismatch.Label()).
		Msg("Observation model built from dominance triples")

	return &Result{P: p, Counts: counts, Uncovered: uncovered, Dropped: dropped}, nil
}

func (b *Builder) validateInputs(numTiles, numCells int, counts []float64) error {
	if numTiles <= 0 {
		return fmt.Errorf("number of tiles must be positive, got %d", numTiles)
	}
	if numCells <= 0 {
		return fmt.Errorf("number of cells must be positive, got %d", numCells)
	}
	if len(counts) != numCells {
		return fmt.Errorf("observed counts length %d does not match number of cells %d", len(counts), numCells)
	}
	if b.config.Threshold < 0 || b.config.Threshold >= 1 {
		return fmt.Errorf("threshold must be in [0,1), got %f", b.config.Threshold)
	}
	for i, c := range counts {
		if c < 0 || math.IsNaN(c) {
			return fmt.Errorf("observed count for cell %d must be non-negative, got %f", i, c)
		}
	}
	return nil
}
