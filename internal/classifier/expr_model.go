package classifier

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"sakin-sensor/internal/features"
)

// ExprModel scores a feature vector by evaluating a compiled formula over
// the canonical feature names as environment variables, the same
// compile-once/run-many pattern the teacher's correlation engine uses for
// rule conditions (expr.Compile cached as *vm.Program, expr.Run per
// evaluation). It exists for operator-authored heuristic artefacts that
// don't require a trained model file, and backs RecoveryPolicy's
// ModelLoadFailed fallback (a constant-zero program).
type ExprModel struct {
	program *vm.Program
}

// CompileExprModel compiles formula against an environment keyed by the
// canonical feature names (features.Names, e.g. "global_syn_rate",
// "src_syn_ratio"), expecting a float64 result in [0, 1].
func CompileExprModel(formula string) (*ExprModel, error) {
	env := make(map[string]float64, features.Arity)
	for _, name := range features.Names {
		env[name] = 0
	}
	program, err := expr.Compile(formula, expr.Env(env), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("classifier: compile expr formula: %w", err)
	}
	return &ExprModel{program: program}, nil
}

// MustCompileConstant returns an ExprModel that always scores `value`,
// used as the last-resort fallback when no real artefact can be loaded.
func MustCompileConstant(value float64) *ExprModel {
	formula := "0.0"
	if value != 0 {
		formula = fmt.Sprintf("%v", value)
	}
	m, err := CompileExprModel(formula)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *ExprModel) Arity() int { return features.Arity }

func (m *ExprModel) Predict(v features.Vector) (float64, error) {
	env := vectorToEnv(v)
	out, err := expr.Run(m.program, env)
	if err != nil {
		return 0, &BackendError{Cause: err}
	}
	p, ok := out.(float64)
	if !ok {
		return 0, &BackendError{Cause: fmt.Errorf("expr program returned %T, want float64", out)}
	}
	return p, nil
}

// vectorToEnv builds the map[string]float64 environment expr.Run evaluates
// a compiled formula against, one entry per canonical feature name.
func vectorToEnv(v features.Vector) map[string]float64 {
	env := make(map[string]float64, features.Arity)
	for i, name := range features.Names {
		env[name] = v[i]
	}
	return env
}
