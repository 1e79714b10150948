package models

import (
	"testing"
)

func TestConnectionMatrix_AddLink(t *testing.T) {
	tests := []struct {
		name        string
		tile, cell  int
		weight      float64
		expectError bool
	}{
		{"valid link", 0, 1, 0.5, false},
		{"tile out of range", 3, 0, 0.5, true},
		{"negative tile", -1, 0, 0.5, true},
		{"cell out of range", 0, 2, 0.5, true},
		{"zero weight", 0, 0, 0.0, true},
		{"negative weight", 0, 0, -0.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewConnectionMatrix(3, 2)
			err := p.AddLink(tt.tile, tt.cell, tt.weight)
			if tt.expectError && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestConnectionMatrix_ColumnWeights(t *testing.T) {
	p := NewConnectionMatrix(2, 2)
	p.AddLink(0, 0, 0.6)
	p.AddLink(0, 1, 0.4)
	p.AddLink(1, 0, 0.3)
	p.AddLink(1, 1, 0.7)

	cols := p.ColumnWeights()
	if cols[0] != 0.9 {
		t.Errorf("expected column 0 weight 0.9, got %f", cols[0])
	}
	if cols[1] != 1.1 {
		t.Errorf("expected column 1 weight 1.1, got %f", cols[1])
	}
}

func TestConnectionMatrix_FilterIdempotent(t *testing.T) {
	p := NewConnectionMatrix(2, 3)
	p.AddLink(0, 0, 0.9)
	p.AddLink(0, 1, 0.04)
	p.AddLink(1, 1, 0.05)
	p.AddLink(1, 2, 0.01)

	once := p.Filter(0.05)
	twice := once.Filter(0.05)

	if once.NumLinks() != 2 {
		t.Fatalf("expected 2 links after filtering, got %d", once.NumLinks())
	}
	if twice.NumLinks() != once.NumLinks() {
		t.Errorf("re-filtering changed link count: %d vs %d", twice.NumLinks(), once.NumLinks())
	}
	for tile := range once.Links {
		for k, l := range once.Links[tile] {
			got := twice.Links[tile][k]
			if got != l {
				t.Errorf("re-filtering changed entry for tile %d: %+v vs %+v", tile, got, l)
			}
		}
	}
}

func TestConnectionMatrix_Clone(t *testing.T) {
	p := NewConnectionMatrix(1, 2)
	p.AddLink(0, 0, 0.5)

	clone := p.Clone()
	clone.Links[0][0].Weight = 0.9

	if p.Links[0][0].Weight != 0.5 {
		t.Errorf("mutating the clone changed the original")
	}
}

func TestSupertileMapping_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mapping     *SupertileMapping
		expectError bool
	}{
		{
			name: "valid partition",
			mapping: &SupertileMapping{
				TileToSuper: []int{0, 0, 1},
				Members:     [][]int{{0, 1}, {2}},
			},
			expectError: false,
		},
		{
			name: "tile in two supertiles",
			mapping: &SupertileMapping{
				TileToSuper: []int{0, 0, 1},
				Members:     [][]int{{0, 1}, {1, 2}},
			},
			expectError: true,
		},
		{
			name: "partition not total",
			mapping: &SupertileMapping{
				TileToSuper: []int{0, 0, 0},
				Members:     [][]int{{0, 1}},
			},
			expectError: true,
		},
		{
			name: "empty supertile",
			mapping: &SupertileMapping{
				TileToSuper: []int{0, 0},
				Members:     [][]int{{0, 1}, {}},
			},
			expectError: true,
		},
		{
			name: "inconsistent reverse mapping",
			mapping: &SupertileMapping{
				TileToSuper: []int{1, 0},
				Members:     [][]int{{0}, {1}},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate()
			if tt.expectError && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestIdentityMapping(t *testing.T) {
	m := IdentityMapping(3)
	if err := m.Validate(); err != nil {
		t.Fatalf("identity mapping invalid: %v", err)
	}
	if m.NumSupertiles() != 3 {
		t.Errorf("expected 3 supertiles, got %d", m.NumSupertiles())
	}
}

func TestMismatchSpec_IsNoop(t *testing.T) {
	tests := []struct {
		name string
		spec MismatchSpec
		noop bool
	}{
		{"true model", TrueModel(), true},
		{"zero noise alias", MismatchSpec{Kind: MismatchNoise, NoiseDB: 0}, true},
		{"zero quantization alias", MismatchSpec{Kind: MismatchQuantize, QuantStep: 0}, true},
		{"real noise", MismatchSpec{Kind: MismatchNoise, NoiseDB: 6}, false},
		{"real quantization", MismatchSpec{Kind: MismatchQuantize, QuantStep: 0.05}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.IsNoop(); got != tt.noop {
				t.Errorf("IsNoop() = %v, want %v", got, tt.noop)
			}
		})
	}
}

func TestMismatchSpec_Validate(t *testing.T) {
	if err := (MismatchSpec{Kind: MismatchNoise, NoiseDB: -3}).Validate(); err == nil {
		t.Errorf("negative noise range should be rejected")
	}
	if err := (MismatchSpec{Kind: MismatchQuantize, QuantStep: -0.1}).Validate(); err == nil {
		t.Errorf("negative quantization step should be rejected")
	}
	if err := (MismatchSpec{Kind: "wobble"}).Validate(); err == nil {
		t.Errorf("unknown mismatch kind should be rejected")
	}
	if err := TrueModel().Validate(); err != nil {
		t.Errorf("true model should validate, got: %v", err)
	}
}

func TestEstimate_Immutable(t *testing.T) {
	values := []float64{1, 2, 3}
	est := NewEstimate(EstimatorEM, 10, values)
	values[0] = 99

	if est.Values[0] != 1 {
		t.Errorf("estimate shares storage with its source slice")
	}
	if est.Sum() != 6 {
		t.Errorf("expected sum 6, got %f", est.Sum())
	}
}
