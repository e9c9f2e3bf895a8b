package classifier

import (
	"errors"
	"math"
	"testing"

	"sakin-sensor/internal/features"
)

type stubModel struct {
	p       float64
	arity   int
	predErr error
}

func (s *stubModel) Arity() int { return s.arity }
func (s *stubModel) Predict(v features.Vector) (float64, error) {
	if s.predErr != nil {
		return 0, s.predErr
	}
	return s.p, nil
}

func TestNoModelIsNotReady(t *testing.T) {
	c := New(nil, nil, 0.7)
	if c.LoadStatus().CanScore {
		t.Fatal("expected CanScore=false with no bound model")
	}
	if _, _, err := c.Score(features.Vector{}); err != ErrModelNotLoaded {
		t.Fatalf("expected ErrModelNotLoaded, got %v", err)
	}
}

func TestThresholdBoundaryIsInclusive(t *testing.T) {
	c := New(&stubModel{p: 0.5, arity: features.Arity}, nil, 0.5)
	p, isThreat, err := c.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if p != 0.5 || !isThreat {
		t.Fatalf("probability==threshold should be a threat, got p=%v isThreat=%v", p, isThreat)
	}
}

func TestNaNAndInfVectorScoresFiniteProbability(t *testing.T) {
	c := New(&stubModel{p: 0.9, arity: features.Arity}, nil, 0.7)
	var v features.Vector
	v[0] = math.NaN()
	v[1] = math.Inf(1)
	v[2] = math.Inf(-1)
	p, _, err := c.Score(v)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1 {
		t.Fatalf("expected finite probability in [0,1], got %v", p)
	}
}

type erroringScaler struct{}

func (erroringScaler) Transform(v features.Vector) (features.Vector, error) {
	return features.Vector{}, errors.New("scaler exploded")
}

func TestScalerFailureFallsBackToUnscaledVector(t *testing.T) {
	c := New(&stubModel{p: 0.8, arity: features.Arity}, erroringScaler{}, 0.7)
	before := c.ScalerFallbacks()
	_, _, err := c.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if c.ScalerFallbacks() != before+1 {
		t.Fatalf("expected scaler_fallbacks to increment, got %d -> %d", before, c.ScalerFallbacks())
	}
}

func TestBackendErrorAbsorbedNotPropagated(t *testing.T) {
	c := New(&stubModel{arity: features.Arity, predErr: &BackendError{}}, nil, 0.7)
	before := c.ErrorCount()
	p, isThreat, err := c.Score(features.Vector{})
	if err != nil {
		t.Fatalf("expected BackendError to be absorbed, got %v", err)
	}
	if p != 0 || isThreat {
		t.Fatalf("expected (0, false) on absorbed backend error, got (%v, %v)", p, isThreat)
	}
	if c.ErrorCount() != before+1 {
		t.Fatal("expected error_count to increment")
	}
}

func TestShapeMismatch(t *testing.T) {
	c := New(&stubModel{arity: features.Arity - 1}, nil, 0.7)
	if _, _, err := c.Score(features.Vector{}); err == nil {
		t.Fatal("expected an error for arity mismatch")
	}
}

func TestSanitiseClampsOutOfRangeValues(t *testing.T) {
	var v features.Vector
	v[0] = MaxFeature * 10
	v[1] = MinFeature * 10
	out := sanitise(v)
	if out[0] != MaxFeature {
		t.Errorf("expected clamp to MaxFeature, got %v", out[0])
	}
	if out[1] != MinFeature {
		t.Errorf("expected clamp to MinFeature, got %v", out[1])
	}
}

func TestExprModelPositiveRuleThreshold(t *testing.T) {
	m, err := CompileExprModel("global_syn_rate / 100 > 1 ? 1.0 : global_syn_rate / 100")
	if err != nil {
		t.Fatal(err)
	}
	var v features.Vector
	v[0] = 50
	p, err := m.Predict(v)
	if err != nil {
		t.Fatal(err)
	}
	if p != 0.5 {
		t.Fatalf("expected 0.5, got %v", p)
	}
}

func TestFallbackConstantModelScoresZero(t *testing.T) {
	c := Fallback(0.7)
	p, isThreat, err := c.Score(features.Vector{})
	if err != nil {
		t.Fatal(err)
	}
	if p != 0 || isThreat {
		t.Fatalf("expected fallback model to score 0/not-threat, got (%v,%v)", p, isThreat)
	}
}
