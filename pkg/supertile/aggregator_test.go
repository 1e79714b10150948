package supertile

import (
	"math"
	"testing"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

func fourTileMatrix(t *testing.T) *models.ConnectionMatrix {
	t.Helper()
	p := models.NewConnectionMatrix(4, 2)
	p.AddLink(0, 0, 0.6)
	p.AddLink(0, 1, 0.4)
	p.AddLink(1, 0, 0.5)
	p.AddLink(2, 1, 0.9)
	p.AddLink(3, 0, 0.2)
	p.AddLink(3, 1, 0.7)
	return p
}

func pairMapping() *models.SupertileMapping {
	return &models.SupertileMapping{
		TileToSuper: []int{0, 0, 1, 1},
		Members:     [][]int{{0, 1}, {2, 3}},
	}
}

func TestAggregate_SumsWeightsAndPriors(t *testing.T) {
	p := fourTileMatrix(t)
	priors := []float64{1, 2, 3, 4}

	super, superPriors, err := Aggregate(p, priors, pairMapping())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if super.NumTiles != 2 {
		t.Fatalf("expected 2 supertile rows, got %d", super.NumTiles)
	}

	// supertile 0 = tiles 0+1: cell0 0.6+0.5, cell1 0.4
	want0 := map[int]float64{0: 1.1, 1: 0.4}
	for _, l := range super.Links[0] {
		if math.Abs(l.Weight-want0[l.Cell]) > 1e-12 {
			t.Errorf("supertile 0 cell %d: weight %f, want %f", l.Cell, l.Weight, want0[l.Cell])
		}
	}
	// supertile 1 = tiles 2+3: cell0 0.2, cell1 0.9+0.7
	want1 := map[int]float64{0: 0.2, 1: 1.6}
	for _, l := range super.Links[1] {
		if math.Abs(l.Weight-want1[l.Cell]) > 1e-12 {
			t.Errorf("supertile 1 cell %d: weight %f, want %f", l.Cell, l.Weight, want1[l.Cell])
		}
	}

	if superPriors[0] != 3 || superPriors[1] != 7 {
		t.Errorf("expected summed priors [3 7], got %v", superPriors)
	}
}

func TestAggregate_RejectsInvalidInputs(t *testing.T) {
	p := fourTileMatrix(t)

	broken := &models.SupertileMapping{
		TileToSuper: []int{0, 0, 1, 1},
		Members:     [][]int{{0, 1}, {1, 2, 3}}, // tile 1 twice
	}
	if _, _, err := Aggregate(p, []float64{1, 1, 1, 1}, broken); err == nil {
		t.Errorf("overlapping mapping should be rejected")
	}

	short := &models.SupertileMapping{
		TileToSuper: []int{0, 0},
		Members:     [][]int{{0, 1}},
	}
	if _, _, err := Aggregate(p, []float64{1, 1, 1, 1}, short); err == nil {
		t.Errorf("mapping not covering the matrix should be rejected")
	}

	if _, _, err := Aggregate(p, []float64{1, 1}, pairMapping()); err == nil {
		t.Errorf("priors length mismatch should be rejected")
	}
}

func TestDisaggregate_UniformSplit(t *testing.T) {
	mapping := &models.SupertileMapping{
		TileToSuper: []int{0, 0, 0, 1},
		Members:     [][]int{{0, 1, 2}, {3}},
	}

	uTile, err := Disaggregate([]float64{9, 5}, mapping)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	want := []float64{3, 3, 3, 5}
	for i, v := range want {
		if math.Abs(uTile[i]-v) > 1e-12 {
			t.Errorf("tile %d: got %f, want %f", i, uTile[i], v)
		}
	}
}

func TestDisaggregate_LengthMismatch(t *testing.T) {
	if _, err := Disaggregate([]float64{1, 2, 3}, pairMapping()); err == nil {
		t.Errorf("estimate length mismatch should be rejected")
	}
}

func TestAggregateDisaggregate_PreservesMass(t *testing.T) {
	p := fourTileMatrix(t)
	priors := []float64{1, 1, 1, 1}

	_, superPriors, err := Aggregate(p, priors, pairMapping())
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	uTile, err := Disaggregate(superPriors, pairMapping())
	if err != nil {
		t.Fatalf("disaggregate failed: %v", err)
	}

	sum := 0.0
	for _, v := range uTile {
		sum += v
	}
	if math.Abs(sum-4) > 1e-12 {
		t.Errorf("mass not preserved through aggregate/disaggregate: %f", sum)
	}
}
