package supertile

import (
	"fmt"
	"sort"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// Aggregate groups tile rows of P by supertile, summing the weights of
// member tiles per (supertile, cell). The summed weight approximates the
// combined dominance of the group. Priors are summed the same way. The
// returned matrix has one row per supertile, aligned with mapping.Members.
func Aggregate(p *models.ConnectionMatrix, priors []float64, mapping *models.SupertileMapping) (*models.ConnectionMatrix, []float64, error) {
	if err := mapping.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid supertile mapping: %w", err)
	}
	if len(mapping.TileToSuper) != p.NumTiles {
		return nil, nil, fmt.Errorf("mapping covers %d tiles, matrix has %d", len(mapping.TileToSuper), p.NumTiles)
	}
	if len(priors) != p.NumTiles {
		return nil, nil, fmt.Errorf("priors length %d does not match %d tiles", len(priors), p.NumTiles)
	}

	numSuper := mapping.NumSupertiles()
	super := models.NewConnectionMatrix(numSuper, p.NumCells)
	superPriors := make([]float64, numSuper)

	for s, members := range mapping.Members {
		cellWeights := make(map[int]float64)
		for _, tile := range members {
			superPriors[s] += priors[tile]
			for _, l := range p.Links[tile] {
				cellWeights[l.Cell] += l.Weight
			}
		}

		cells := make([]int, 0, len(cellWeights))
		for cell := range cellWeights {
			cells = append(cells, cell)
		}
		sort.Ints(cells)

		for _, cell := range cells {
			if err := super.AddLink(s, cell, cellWeights[cell]); err != nil {
				return nil, nil, fmt.Errorf("failed to add aggregated link for supertile %d: %w", s, err)
			}
		}
	}

	return super, superPriors, nil
}

// Disaggregate splits each supertile's estimate uniformly across its member
// tiles, an equal share per member. This is a stated simplifying policy: it
// does not redistribute proportionally to any finer signal.
func Disaggregate(uSuper []float64, mapping *models.SupertileMapping) ([]float64, error) {
	if len(uSuper) != mapping.NumSupertiles() {
		return nil, fmt.Errorf("estimate length %d does not match %d supertiles", len(uSuper), mapping.NumSupertiles())
	}

	uTile := make([]float64, len(mapping.TileToSuper))
	for s, members := range mapping.Members {
		share := uSuper[s] / float64(len(members))
		for _, tile := range members {
			uTile[tile] = share
		}
	}
	return uTile, nil
}
