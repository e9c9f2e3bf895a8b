// Package classifier wraps a loaded ClassifierArtefact with the defensive
// input handling spec.md §4.3 requires: sanitisation, scaling with
// fallback, thresholding, and a load_status capability the coordinator
// consults before starting a session.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"sakin-sensor/internal/features"
)

// Model is the narrow capability a classifier backend must expose. It
// mirrors the on-disk contract in spec.md §6: predict_proba-equivalent
// scoring plus an optional transform (scaler) stage.
type Model interface {
	// Predict returns the positive-class probability for a sanitised,
	// already-scaled feature vector.
	Predict(v features.Vector) (float64, error)
	// Arity is the input length this model was trained/declared for.
	Arity() int
}

// Scaler optionally transforms a feature vector before scoring.
type Scaler interface {
	Transform(v features.Vector) (features.Vector, error)
}

// Sanitisation defaults (spec.md §4.3).
const (
	MinFeature    = -1e9
	MaxFeature    = 1e9
	MaxArraySize  = 1_000_000
	defaultThresh = 0.7
)

var (
	ErrModelNotLoaded     = errors.New("classifier: model not loaded")
	ErrInputShapeMismatch = errors.New("classifier: input shape mismatch")
	ErrInputTooLarge      = errors.New("classifier: input exceeds MAX_ARRAY_SIZE")
)

// BackendError wraps an underlying scorer failure. It is absorbed by
// Score, never propagated.
type BackendError struct{ Cause error }

func (e *BackendError) Error() string { return fmt.Sprintf("classifier: backend error: %v", e.Cause) }
func (e *BackendError) Unwrap() error  { return e.Cause }

// Classifier wraps a Model (and optional Scaler) with sanitisation,
// thresholding, and failure absorption. It is safe for concurrent use once
// constructed: the bound model is immutable after load.
type Classifier struct {
	model     Model
	scaler    Scaler
	threshold float64

	scalerFallbacks atomic.Uint64
	errorCount      atomic.Uint64
}

// LoadStatus describes whether scoring is currently possible.
type LoadStatus struct {
	CanScore bool
	Reason   string
}

// New binds a Model (and optional Scaler) at the given threshold. A nil
// model yields a Classifier whose LoadStatus reports CanScore=false.
func New(model Model, scaler Scaler, threshold float64) *Classifier {
	if threshold < 0 || threshold > 1 {
		threshold = defaultThresh
	}
	return &Classifier{model: model, scaler: scaler, threshold: threshold}
}

// LoadStatus reports whether Score can currently succeed.
func (c *Classifier) LoadStatus() LoadStatus {
	if c.model == nil {
		return LoadStatus{CanScore: false, Reason: "ModelNotLoaded"}
	}
	return LoadStatus{CanScore: true}
}

// Score sanitises v, optionally scales it, scores it against the bound
// model, and thresholds the result. On BackendError it returns (0.0,
// false, nil) and increments the absorbed error count rather than
// propagating — per spec.md §4.3, only ModelNotLoaded, InputShapeMismatch,
// and InputTooLarge are returned as errors; everything else is absorbed.
func (c *Classifier) Score(v features.Vector) (probability float64, isThreat bool, err error) {
	if c.model == nil {
		return 0, false, ErrModelNotLoaded
	}
	if c.model.Arity() != features.Arity {
		return 0, false, fmt.Errorf("%w: model arity %d, vector arity %d", ErrInputShapeMismatch, c.model.Arity(), features.Arity)
	}
	if len(v) > MaxArraySize {
		return 0, false, ErrInputTooLarge
	}

	sanitised := sanitise(v)

	scaled := sanitised
	if c.scaler != nil {
		s, terr := c.scaler.Transform(sanitised)
		if terr != nil {
			c.scalerFallbacks.Add(1)
		} else {
			scaled = s
		}
	}

	p, perr := c.model.Predict(scaled)
	if perr != nil {
		c.errorCount.Add(1)
		return 0, false, nil
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		p = 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p, p >= c.threshold, nil
}

// sanitise replaces non-finite elements with 0 and clamps every element to
// [MinFeature, MaxFeature].
func sanitise(v features.Vector) features.Vector {
	var out features.Vector
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		if x < MinFeature {
			x = MinFeature
		}
		if x > MaxFeature {
			x = MaxFeature
		}
		out[i] = x
	}
	return out
}

// ScalerFallbacks returns the cumulative count of scaler-apply failures
// absorbed by falling back to the unscaled vector.
func (c *Classifier) ScalerFallbacks() uint64 { return c.scalerFallbacks.Load() }

// ErrorCount returns the cumulative count of absorbed BackendError results.
func (c *Classifier) ErrorCount() uint64 { return c.errorCount.Load() }
