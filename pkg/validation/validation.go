package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// Scenario is one fully specified estimation input: the tiled area, the
// cellplan, the per-tile-per-cell signal measurements, and the per-cell
// observed counts. All ids in the file are stable positive integers; after
// loading, every cross-reference is rewritten to a dense index into the
// Tiles/Cells slices.
type Scenario struct {
	Name       string                `json:"name"`
	Population int                   `json:"population"` // total simulated device count
	Tiles      []models.Tile         `json:"tiles"`
	Cells      []models.Cell         `json:"cells"`
	Signals    []models.SignalRecord `json:"signals"`
	Counts     []CountRecord         `json:"counts"`
}

// CountRecord is one per-cell observed device count
type CountRecord struct {
	Cell  int     `json:"cell"`
	Count float64 `json:"count"`
}

// LoadAndValidateScenario loads a scenario from a JSON file, validates it,
// and rewrites id references to dense indices
func LoadAndValidateScenario(filePath string) (*Scenario, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("scenario file does not exist: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	if err := json.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario JSON: %w", err)
	}

	if err := ValidateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}

	if err := scenario.normalize(); err != nil {
		return nil, fmt.Errorf("scenario normalization failed: %w", err)
	}

	return &scenario, nil
}

// ValidateScenario checks the raw scenario and accumulates every failure
// instead of stopping at the first
func ValidateScenario(s *Scenario) error {
	var errs models.ValidationErrors

	if len(s.Tiles) == 0 {
		errs = append(errs, models.ValidationError{Field: "tiles", Message: "scenario has no tiles"})
	}
	if len(s.Cells) == 0 {
		errs = append(errs, models.ValidationError{Field: "cells", Message: "scenario has no cells"})
	}

	tileIDs := make(map[int]bool)
	for i, t := range s.Tiles {
		field := fmt.Sprintf("tiles[%d]", i)
		if t.ID <= 0 {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("tile id must be a positive integer, got %d", t.ID)})
		}
		if tileIDs[t.ID] {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("duplicate tile id %d", t.ID)})
		}
		tileIDs[t.ID] = true
		if t.Truth < 0 {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("ground-truth population must be non-negative, got %d", t.Truth)})
		}
		if t.Prior < 0 || math.IsNaN(t.Prior) {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("prior weight must be non-negative, got %f", t.Prior)})
		}
		if t.Supertile <= 0 {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("supertile id must be a positive integer, got %d", t.Supertile)})
		}
	}

	cellIDs := make(map[int]bool)
	for i, c := range s.Cells {
		field := fmt.Sprintf("cells[%d]", i)
		if c.ID <= 0 {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("cell id must be a positive integer, got %d", c.ID)})
		}
		if cellIDs[c.ID] {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("duplicate cell id %d", c.ID)})
		}
		cellIDs[c.ID] = true
		if c.DominanceSteepness <= 0 {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("dominance steepness must be positive, got %f", c.DominanceSteepness)})
		}
	}

	for i, rec := range s.Signals {
		field := fmt.Sprintf("signals[%d]", i)
		if !tileIDs[rec.Tile] {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("unknown tile id %d", rec.Tile)})
		}
		if !cellIDs[rec.Cell] {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("unknown cell id %d", rec.Cell)})
		}
		if math.IsNaN(rec.SignalDBm) || math.IsInf(rec.SignalDBm, 0) {
			errs = append(errs, models.ValidationError{Field: field, Message: "signal level must be finite"})
		}
	}

	totalCount := 0.0
	seenCount := make(map[int]bool)
	for i, rec := range s.Counts {
		field := fmt.Sprintf("counts[%d]", i)
		if !cellIDs[rec.Cell] {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("unknown cell id %d", rec.Cell)})
		}
		if seenCount[rec.Cell] {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("duplicate count for cell id %d", rec.Cell)})
		}
		seenCount[rec.Cell] = true
		if rec.Count < 0 || math.IsNaN(rec.Count) {
			errs = append(errs, models.ValidationError{Field: field, Message: fmt.Sprintf("observed count must be non-negative, got %f", rec.Count)})
		} else {
			totalCount += rec.Count
		}
	}

	// sum(c) equals the total simulated device population by construction;
	// a mismatch means the counts and the area were generated separately
	if s.Population > 0 && math.Abs(totalCount-float64(s.Population)) > 1e-9 {
		errs = append(errs, models.ValidationError{
			Field:   "counts",
			Message: fmt.Sprintf("observed counts sum to %g, declared population is %d", totalCount, s.Population),
		})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// normalize rewrites all id references to dense indices
func (s *Scenario) normalize() error {
	tileIndex := make(map[int]int, len(s.Tiles))
	for i, t := range s.Tiles {
		tileIndex[t.ID] = i
	}
	cellIndex := make(map[int]int, len(s.Cells))
	for i, c := range s.Cells {
		cellIndex[c.ID] = i
	}

	for i := range s.Signals {
		s.Signals[i].Tile = tileIndex[s.Signals[i].Tile]
		s.Signals[i].Cell = cellIndex[s.Signals[i].Cell]
	}
	for i := range s.Counts {
		s.Counts[i].Cell = cellIndex[s.Counts[i].Cell]
	}
	return nil
}

// CountVector returns the dense per-cell observed counts, zero for cells
// with no record
func (s *Scenario) CountVector() []float64 {
	counts := make([]float64, len(s.Cells))
	for _, rec := range s.Counts {
		counts[rec.Cell] += rec.Count
	}
	return counts
}

// Priors returns the externally supplied per-tile prior weights
func (s *Scenario) Priors() []float64 {
	priors := make([]float64, len(s.Tiles))
	for i, t := range s.Tiles {
		priors[i] = t.Prior
	}
	return priors
}

// UniformPriors returns an all-ones prior vector
func (s *Scenario) UniformPriors() []float64 {
	priors := make([]float64, len(s.Tiles))
	for i := range priors {
		priors[i] = 1
	}
	return priors
}

// SupertileMapping builds the tile-to-supertile partition from tile
// membership ids. Supertiles are indexed in order of first appearance.
func (s *Scenario) SupertileMapping() (*models.SupertileMapping, error) {
	superIndex := make(map[int]int)
	mapping := &models.SupertileMapping{
		TileToSuper: make([]int, len(s.Tiles)),
	}

	for i, t := range s.Tiles {
		idx, ok := superIndex[t.Supertile]
		if !ok {
			idx = len(mapping.Members)
			superIndex[t.Supertile] = idx
			mapping.Members = append(mapping.Members, nil)
		}
		mapping.TileToSuper[i] = idx
		mapping.Members[idx] = append(mapping.Members[idx], i)
	}

	if err := mapping.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supertile partition: %w", err)
	}
	return mapping, nil
}
