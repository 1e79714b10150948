package evaluation

import (
	"testing"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

func threeTiles() []models.Tile {
	return []models.Tile{
		{ID: 1, Lon: 11.50, Lat: 48.10, Truth: 4},
		{ID: 2, Lon: 11.51, Lat: 48.10, Truth: 0},
		{ID: 3, Lon: 11.50, Lat: 48.11, Truth: 9},
	}
}

func TestBuildTransportInputs(t *testing.T) {
	estimates := []models.Estimate{
		models.NewEstimate(models.EstimatorEM, 50, []float64{3.5, 0.5, 9}),
		models.NewEstimate(models.EstimatorConvex, 1, []float64{4, 0, 9}),
	}

	inputs, err := BuildTransportInputs(threeTiles(), estimates)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	rows, cols := inputs.Coordinates.Dims()
	if rows != 3 || cols != 2 {
		t.Fatalf("coordinates should be 3x2, got %dx%d", rows, cols)
	}
	if inputs.Coordinates.At(1, 0) != 11.51 || inputs.Coordinates.At(1, 1) != 48.10 {
		t.Errorf("coordinate row 1 wrong: %f, %f", inputs.Coordinates.At(1, 0), inputs.Coordinates.At(1, 1))
	}

	rows, cols = inputs.Weights.Dims()
	if rows != 3 || cols != 3 {
		t.Fatalf("weights should be 3x3, got %dx%d", rows, cols)
	}

	// Ground truth occupies the first column
	for row, want := range []float64{4, 0, 9} {
		if inputs.Weights.At(row, 0) != want {
			t.Errorf("truth column row %d: got %f, want %f", row, inputs.Weights.At(row, 0), want)
		}
	}
	if inputs.Weights.At(0, 1) != 3.5 {
		t.Errorf("estimate column misaligned: got %f", inputs.Weights.At(0, 1))
	}

	wantColumns := []string{"truth", "em_iter50", "convex_iter1"}
	for i, name := range wantColumns {
		if inputs.Columns[i] != name {
			t.Errorf("column %d: got %q, want %q", i, inputs.Columns[i], name)
		}
	}
}

func TestBuildTransportInputs_PadsShortEstimates(t *testing.T) {
	estimates := []models.Estimate{
		models.NewEstimate(models.EstimatorDF, 10, []float64{2, 7}),
	}

	inputs, err := BuildTransportInputs(threeTiles(), estimates)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if inputs.Weights.At(2, 1) != 0 {
		t.Errorf("missing tail should be zero-padded, got %f", inputs.Weights.At(2, 1))
	}
}

func TestBuildTransportInputs_RejectsLongEstimates(t *testing.T) {
	estimates := []models.Estimate{
		models.NewEstimate(models.EstimatorEM, 1, []float64{1, 2, 3, 4}),
	}
	if _, err := BuildTransportInputs(threeTiles(), estimates); err == nil {
		t.Errorf("oversized estimate vector should be rejected")
	}
}

func TestBuildTransportInputs_NoTiles(t *testing.T) {
	if _, err := BuildTransportInputs(nil, nil); err == nil {
		t.Errorf("empty tile set should be rejected")
	}
}
