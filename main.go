package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/cellscape/population-estimation-service/pkg/convex"
	"github.com/cellscape/population-estimation-service/pkg/estimator"
	"github.com/cellscape/population-estimation-service/pkg/evaluation"
	"github.com/cellscape/population-estimation-service/pkg/models"
	"github.com/cellscape/population-estimation-service/pkg/observation"
	"github.com/cellscape/population-estimation-service/pkg/supertile"
	"github.com/cellscape/population-estimation-service/pkg/sweep"
	"github.com/cellscape/population-estimation-service/pkg/validation"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to the scenario JSON file")
	configPath := flag.String("config", "", "optional estimator config file")
	outputDir := flag.String("output", "output", "directory for result files")
	workers := flag.Int("workers", 4, "concurrent estimation jobs")
	seed := flag.Int64("seed", 42, "seed for the noise-mismatch transforms")
	focus := flag.String("focus", "", "comma-separated tile ids of a focus region (optional)")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Println("Usage: population-estimation-service -scenario <file> [-config <file>] [-output <dir>] [-focus 1,2,3]")
		os.Exit(1)
	}

	config := estimator.NewConfig()
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath); err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	logger := config.CreateLogger()

	scenario, err := validation.LoadAndValidateScenario(*scenarioPath)
	if err != nil {
		logger.Error().Err(err).Msg("Scenario loading failed")
		os.Exit(1)
	}
	mapping, err := scenario.SupertileMapping()
	if err != nil {
		logger.Error().Err(err).Msg("Supertile mapping failed")
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		logger.Error().Err(err).Msg("Failed to create output directory")
		os.Exit(1)
	}

	inputs := sweep.Inputs{
		Cellplan: scenario.Name,
		NumTiles: len(scenario.Tiles),
		Cells:    scenario.Cells,
		Signals:  scenario.Signals,
		Counts:   scenario.CountVector(),
		Mapping:  mapping,
		Priors: map[string][]float64{
			"uniform":  scenario.UniformPriors(),
			"supplied": scenario.Priors(),
		},
	}

	axes := sweep.DefaultAxes(*seed,
		[]string{"uniform", "supplied"},
		[]string{models.EstimatorEM, models.EstimatorDF, models.EstimatorConvex})

	runner := sweep.NewRunner(inputs, config, observation.DefaultBuilderConfig(),
		convex.DefaultOptions(), *workers, logger)

	results, err := runner.Run(context.Background(), axes)
	if err != nil {
		logger.Error().Err(err).Msg("Sweep failed")
		os.Exit(1)
	}

	if err := writeJSON(filepath.Join(*outputDir, "estimates.json"), results); err != nil {
		logger.Error().Err(err).Msg("Failed to write estimates")
		os.Exit(1)
	}

	if err := writeTransportInputs(*outputDir, scenario, results); err != nil {
		logger.Error().Err(err).Msg("Failed to write transport inputs")
		os.Exit(1)
	}

	if *focus != "" {
		if err := runFocusProfile(*outputDir, scenario, mapping, inputs, *focus, *workers, logger); err != nil {
			logger.Error().Err(err).Msg("Focus-region profile failed")
			os.Exit(1)
		}
	}

	logger.Info().Str("output", *outputDir).Msg("Done")
}

// writeTransportInputs builds the optimal-transport input matrices from the
// final estimate of every successful job
func writeTransportInputs(outputDir string, scenario *validation.Scenario, results []sweep.JobResult) error {
	estimates := make([]models.Estimate, 0, len(results))
	for _, res := range results {
		if res.Failed() {
			continue
		}
		estimates = append(estimates, res.Final)
	}

	inputs, err := evaluation.BuildTransportInputs(scenario.Tiles, estimates)
	if err != nil {
		return err
	}

	out := struct {
		Columns     []string    `json:"columns"`
		Coordinates [][]float64 `json:"coordinates"`
		Weights     [][]float64 `json:"weights"`
	}{
		Columns:     inputs.Columns,
		Coordinates: denseRows(inputs.Coordinates),
		Weights:     denseRows(inputs.Weights),
	}
	return writeJSON(filepath.Join(outputDir, "transport_inputs.json"), out)
}

// runFocusProfile computes the profile log-likelihood curve for a focus
// region on the true (unperturbed) observation model with uniform priors.
// The region membership vector lives at supertile level: a supertile is a
// member when any of its tiles is in the focus set.
func runFocusProfile(outputDir string, scenario *validation.Scenario, mapping *models.SupertileMapping,
	inputs sweep.Inputs, focus string, workers int, logger zerolog.Logger) error {

	focusTiles, err := parseFocusTiles(focus, scenario.Tiles)
	if err != nil {
		return err
	}

	builder := observation.NewBuilder(inputs.Cells, observation.DefaultBuilderConfig(), logger)
	obs, err := builder.Build(inputs.NumTiles, inputs.Signals, inputs.Counts, models.TrueModel())
	if err != nil {
		return fmt.Errorf("observation model: %w", err)
	}

	superP, _, err := supertile.Aggregate(obs.P, inputs.Priors["uniform"], mapping)
	if err != nil {
		return fmt.Errorf("supertile aggregation: %w", err)
	}

	region := make([]bool, mapping.NumSupertiles())
	for _, tile := range focusTiles {
		region[mapping.TileToSuper[tile]] = true
	}

	solver, err := convex.NewSolver(superP, obs.Counts, convex.DefaultOptions(), logger)
	if err != nil {
		return fmt.Errorf("convex solver: %w", err)
	}

	point := solver.Solve()
	if point.Status != convex.StatusOptimal {
		return fmt.Errorf("point estimate not optimal: status %s (%s)", point.Status, point.Message)
	}

	center := convex.RegionMass(point.Aligned, region)
	total := 0.0
	for _, c := range obs.Counts {
		total += c
	}
	grid := convex.MassGrid(center, 0.25*center+1, total, 20)

	points, err := solver.ProfileRegion(context.Background(), region, grid, workers)
	if err != nil {
		return err
	}

	out := struct {
		FocusTiles []int                 `json:"focus_tiles"`
		PointMass  float64               `json:"point_mass"`
		Profile    []convex.ProfilePoint `json:"profile"`
	}{FocusTiles: focusTiles, PointMass: center, Profile: points}

	return writeJSON(filepath.Join(outputDir, "focus_profile.json"), out)
}

func denseRows(m *mat.Dense) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0644)
}

func parseFocusTiles(focus string, tiles []models.Tile) ([]int, error) {
	index := make(map[int]int, len(tiles))
	for i, t := range tiles {
		index[t.ID] = i
	}
	var out []int
	for _, part := range strings.Split(focus, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid tile id %q in focus region", part)
		}
		idx, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("focus region references unknown tile id %d", id)
		}
		out = append(out, idx)
	}
	return out, nil
}
