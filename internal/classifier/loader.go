package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sakin-sensor/internal/features"
)

// maxArtefactBytes is the on-disk size cap from spec.md §6.
const maxArtefactBytes = 100 * 1024 * 1024

// ModelLoader deserialises a classifier artefact from disk and validates it
// against the declared arity before handing a bound Classifier back to the
// coordinator. Backend is chosen by file extension: ".gob" loads a
// LinearArtefact, ".expr" compiles a formula file as an ExprModel.
type ModelLoader struct{}

func NewModelLoader() *ModelLoader { return &ModelLoader{} }

// Load reads path, validates its size and declared arity, and returns a
// Classifier bound to the decoded model at the given probability threshold.
func (ModelLoader) Load(path string, threshold float64) (*Classifier, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: stat artefact %q: %w", path, err)
	}
	if info.Size() > maxArtefactBytes {
		return nil, fmt.Errorf("classifier: artefact %q exceeds %d byte limit", path, maxArtefactBytes)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gob":
		return loadLinear(path, threshold)
	case ".expr":
		return loadExpr(path, threshold)
	default:
		return nil, fmt.Errorf("classifier: unrecognised artefact extension %q", filepath.Ext(path))
	}
}

func loadLinear(path string, threshold float64) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: open %q: %w", path, err)
	}
	defer f.Close()

	artefact, err := DecodeLinearArtefact(f)
	if err != nil {
		return nil, err
	}
	if len(artefact.Weights) != features.Arity {
		return nil, fmt.Errorf("%w: artefact declares %d weights, want %d", ErrInputShapeMismatch, len(artefact.Weights), features.Arity)
	}
	thr := threshold
	if artefact.Threshold > 0 {
		thr = artefact.Threshold
	}
	return New(artefact.Model(), artefact.Scaler(), thr), nil
}

func loadExpr(path string, threshold float64) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: read %q: %w", path, err)
	}
	model, err := CompileExprModel(string(data))
	if err != nil {
		return nil, err
	}
	return New(model, nil, threshold), nil
}

// Fallback returns a Classifier bound to a constant-zero ExprModel, the
// RecoveryPolicy ModelLoadFailed strategy's last resort when no real
// artefact can be loaded.
func Fallback(threshold float64) *Classifier {
	return New(MustCompileConstant(0), nil, threshold)
}
