package models

import "fmt"

// MismatchKind identifies a family of model-mismatch transforms
type MismatchKind string

const (
	// MismatchNone is the true, unperturbed observation model
	MismatchNone MismatchKind = "true"
	// MismatchNoise adds seeded uniform noise in [-NoiseDB, +NoiseDB] to the
	// signal level before the dominance transform is reapplied
	MismatchNoise MismatchKind = "noise"
	// MismatchQuantize rounds dominance to the nearest multiple of QuantStep
	MismatchQuantize MismatchKind = "quantize"
)

// MismatchSpec names one mismatch transform. A noise level of 0 dB and a
// quantization step of 0 are both aliases for the true model, never a
// degenerate rounding to zero.
type MismatchSpec struct {
	Kind      MismatchKind `json:"kind"`
	NoiseDB   float64      `json:"noise_db,omitempty"`
	QuantStep float64      `json:"quant_step,omitempty"`
	Seed      int64        `json:"seed,omitempty"`
}

// TrueModel returns the identity mismatch spec
func TrueModel() MismatchSpec { return MismatchSpec{Kind: MismatchNone} }

// IsNoop reports whether the spec is the true model or one of its aliases
func (s MismatchSpec) IsNoop() bool {
	switch s.Kind {
	case MismatchNone:
		return true
	case MismatchNoise:
		return s.NoiseDB == 0
	case MismatchQuantize:
		return s.QuantStep == 0
	}
	return false
}

// Label returns a short human-readable name, e.g. "noise_6db"
func (s MismatchSpec) Label() string {
	switch s.Kind {
	case MismatchNoise:
		if s.NoiseDB == 0 {
			return "true"
		}
		return fmt.Sprintf("noise_%gdb", s.NoiseDB)
	case MismatchQuantize:
		if s.QuantStep == 0 {
			return "true"
		}
		return fmt.Sprintf("quantize_%g", s.QuantStep)
	default:
		return "true"
	}
}

// Validate checks the spec parameters
func (s MismatchSpec) Validate() error {
	switch s.Kind {
	case MismatchNone:
		return nil
	case MismatchNoise:
		if s.NoiseDB < 0 {
			return fmt.Errorf("noise range must be non-negative, got %f dB", s.NoiseDB)
		}
		return nil
	case MismatchQuantize:
		if s.QuantStep < 0 {
			return fmt.Errorf("quantization step must be non-negative, got %f", s.QuantStep)
		}
		return nil
	default:
		return fmt.Errorf("unknown mismatch kind: %q", s.Kind)
	}
}

// Job is one independent estimation task in a sweep: one point of the
// {mismatch level} x {prior variant} x {estimator kind} cross-product.
// Fields are explicit and typed; nothing is encoded in string keys.
type Job struct {
	Estimator string       `json:"estimator"`
	Mismatch  MismatchSpec `json:"mismatch"`
	Prior     string       `json:"prior"`
	Cellplan  string       `json:"cellplan"`
}

// Label returns a stable display name for logs and output files
func (j Job) Label() string {
	return fmt.Sprintf("%s/%s/%s/%s", j.Cellplan, j.Mismatch.Label(), j.Prior, j.Estimator)
}
