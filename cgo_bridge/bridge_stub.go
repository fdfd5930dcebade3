//go:build !cgo || !(linux || darwin)

package cgo_bridge

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

var errNoCgo = errors.Wrap(engine.ErrEngineUnavailable, "native engine requires cgo on linux or darwin")

// Library is unavailable in this build. Open always fails.
type Library struct{}

var _ engine.Binding = (*Library)(nil)

// Open reports ErrEngineUnavailable.
func Open(path string, opts ...Option) (*Library, error) {
	return nil, errors.Wrapf(errNoCgo, "cannot load %s", path)
}

func (*Library) Add(layers.LayerSpec) error { return errNoCgo }
func (*Library) AddTrainingSample(_, _ []float64) error { return errNoCgo }
func (*Library) Compile(engine.CompileConfig) error { return errNoCgo }
func (*Library) CompileWithParams(engine.CompileConfig) error { return errNoCgo }
func (*Library) Train(_, _ int) error { return errNoCgo }
func (*Library) Eval([]float64) ([]float64, error) { return nil, errNoCgo }
func (*Library) Save(string) error { return errNoCgo }
func (*Library) Load(string) error { return errNoCgo }
func (*Library) Close() error { return nil }

func (*Library) StateLoaded(optimizer.Config, training.RegularizerType, int, int) error {
	return errNoCgo
}
