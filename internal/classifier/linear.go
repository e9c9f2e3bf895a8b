package classifier

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"sakin-sensor/internal/features"
)

// LinearArtefact is a serialised logistic-regression weight vector paired
// with an optional standard scaler, mirroring the
// sklearn.linear_model.LogisticRegression + StandardScaler pairing the
// reference implementation trains offline. Persisted with encoding/gob.
type LinearArtefact struct {
	Weights   [features.Arity]float64
	Bias      float64
	Threshold float64

	HasScaler bool
	Mean      [features.Arity]float64
	Scale     [features.Arity]float64
}

// DecodeLinearArtefact reads a gob-encoded LinearArtefact from r.
func DecodeLinearArtefact(r io.Reader) (*LinearArtefact, error) {
	var a LinearArtefact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("classifier: decode linear artefact: %w", err)
	}
	return &a, nil
}

// linearModel implements Model over a LinearArtefact's weight vector via
// logistic regression: sigmoid(w . x + b).
type linearModel struct {
	weights [features.Arity]float64
	bias    float64
}

func (a *LinearArtefact) Model() Model {
	return &linearModel{weights: a.Weights, bias: a.Bias}
}

func (m *linearModel) Arity() int { return features.Arity }

func (m *linearModel) Predict(v features.Vector) (float64, error) {
	var z float64
	for i, w := range m.weights {
		z += w * v[i]
	}
	z += m.bias
	return sigmoid(z), nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// linearScaler implements Scaler via per-feature standardisation:
// (x - mean) / scale.
type linearScaler struct {
	mean  [features.Arity]float64
	scale [features.Arity]float64
}

func (a *LinearArtefact) Scaler() Scaler {
	if !a.HasScaler {
		return nil
	}
	return &linearScaler{mean: a.Mean, scale: a.Scale}
}

func (s *linearScaler) Transform(v features.Vector) (features.Vector, error) {
	var out features.Vector
	for i, x := range v {
		scale := s.scale[i]
		if scale == 0 {
			return features.Vector{}, fmt.Errorf("classifier: zero scale for feature %d (%s)", i, features.Names[i])
		}
		out[i] = (x - s.mean[i]) / scale
	}
	return out, nil
}
