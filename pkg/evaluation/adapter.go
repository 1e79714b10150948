package evaluation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cellscape/population-estimation-service/pkg/models"
)

// TransportInputs is the exact input format of the external optimal-transport
// distance routine: a tile-centroid coordinates matrix and a weights matrix
// with the ground-truth column first and one column per estimate. Rows are
// aligned by tile index across both matrices. No distance computation
// happens here.
type TransportInputs struct {
	Coordinates *mat.Dense `json:"-"` // numTiles x 2, lon/lat
	Weights     *mat.Dense `json:"-"` // numTiles x (1 + len(estimates))
	Columns     []string   `json:"columns"`
}

// BuildTransportInputs maps tile centroids, ground truth, and estimate
// vectors into the transport-input matrices. Estimate vectors shorter than
// the tile space are padded with zeros; longer vectors are rejected.
func BuildTransportInputs(tiles []models.Tile, estimates []models.Estimate) (*TransportInputs, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles to evaluate")
	}

	n := len(tiles)
	coords := mat.NewDense(n, 2, nil)
	weights := mat.NewDense(n, 1+len(estimates), nil)
	columns := make([]string, 0, 1+len(estimates))
	columns = append(columns, "truth")

	for row, tile := range tiles {
		coords.Set(row, 0, tile.Lon)
		coords.Set(row, 1, tile.Lat)
		weights.Set(row, 0, float64(tile.Truth))
	}

	for k, est := range estimates {
		if len(est.Values) > n {
			return nil, fmt.Errorf("estimate %q has %d values for %d tiles", est.Estimator, len(est.Values), n)
		}
		columns = append(columns, fmt.Sprintf("%s_iter%d", est.Estimator, est.Iteration))
		for row := 0; row < n; row++ {
			v := 0.0
			if row < len(est.Values) {
				v = est.Values[row]
			}
			weights.Set(row, 1+k, v)
		}
	}

	return &TransportInputs{Coordinates: coords, Weights: weights, Columns: columns}, nil
}
