// Package enginetest provides an in-memory engine.Binding for tests.
package enginetest

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

// Call is one recorded method invocation.
type Call struct {
	Method string
	Args   []interface{}
}

// Sample is one queued training pair.
type Sample struct {
	Input  []float64
	Target []float64
}

// LoadedState holds the arguments of the last StateLoaded call.
type LoadedState struct {
	Optimizer   optimizer.Config
	Regularizer training.RegularizerType
	InputSize   int
	OutputSize  int
}

type failure struct {
	nth int
	err error
}

// weightsFile is what Recorder.Save writes. It stands in for the opaque
// engine weights artifact.
type weightsFile struct {
	Layers     []layers.LayerSpec `json:"layers"`
	TrainCalls int                `json:"train_calls"`
}

// Recorder records every call and keeps just enough state to behave like
// an engine: registered layers, queued samples and a weights file.
type Recorder struct {
	Calls      []Call
	Layers     []layers.LayerSpec
	Compiled   *engine.CompileConfig
	WithParams bool
	Samples    []Sample
	TrainCalls int
	Restored   *LoadedState
	Closed     bool

	// Output, when set, is returned by Eval instead of a zero vector sized
	// to the last registered layer.
	Output []float64

	failures map[string]failure
	counts   map[string]int
	sealed   bool
}

var _ engine.Binding = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		failures: make(map[string]failure),
		counts:   make(map[string]int),
	}
}

// Opener returns an engine.Opener that hands out r.
func (r *Recorder) Opener() engine.Opener {
	return func() (engine.Binding, error) { return r, nil }
}

// FailOn makes the nth call (1-based) of method return err. An nth of 0
// fails every call.
func (r *Recorder) FailOn(method string, nth int, err error) {
	r.failures[method] = failure{nth: nth, err: err}
}

// ClearFailures removes every configured failure.
func (r *Recorder) ClearFailures() {
	r.failures = make(map[string]failure)
}

// Count returns how many times method was called.
func (r *Recorder) Count(method string) int {
	return r.counts[method]
}

// Methods returns the recorded method names in call order.
func (r *Recorder) Methods() []string {
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.Method
	}
	return out
}

// Reset forgets recorded calls but keeps configured failures.
func (r *Recorder) Reset() {
	r.Calls = nil
	r.counts = make(map[string]int)
}

func (r *Recorder) record(method string, args ...interface{}) error {
	r.Calls = append(r.Calls, Call{Method: method, Args: args})
	r.counts[method]++
	if f, ok := r.failures[method]; ok && (f.nth == 0 || f.nth == r.counts[method]) {
		return f.err
	}
	return nil
}

// Add records the layer. The first Add after a compile or load drops the
// previously registered layers.
func (r *Recorder) Add(layer layers.LayerSpec) error {
	if err := r.record("Add", layer); err != nil {
		return err
	}
	if r.sealed {
		r.Layers = nil
		r.sealed = false
	}
	r.Layers = append(r.Layers, layer)
	return nil
}

// AddTrainingSample queues a copy of the sample.
func (r *Recorder) AddTrainingSample(input, target []float64) error {
	if err := r.record("AddTrainingSample", input, target); err != nil {
		return err
	}
	r.Samples = append(r.Samples, Sample{
		Input:  append([]float64(nil), input...),
		Target: append([]float64(nil), target...),
	})
	return nil
}

// Compile records cfg as compiled with default optimizer parameters.
func (r *Recorder) Compile(cfg engine.CompileConfig) error {
	if err := r.record("Compile", cfg); err != nil {
		return err
	}
	r.Compiled = &cfg
	r.WithParams = false
	r.sealed = true
	return nil
}

// CompileWithParams records cfg as compiled with an explicit optimizer record.
func (r *Recorder) CompileWithParams(cfg engine.CompileConfig) error {
	if err := r.record("CompileWithParams", cfg); err != nil {
		return err
	}
	r.Compiled = &cfg
	r.WithParams = true
	r.sealed = true
	return nil
}

// Train counts the run and drops the queued samples.
func (r *Recorder) Train(epochs, batchSize int) error {
	if err := r.record("Train", epochs, batchSize); err != nil {
		return err
	}
	r.TrainCalls++
	r.Samples = nil
	return nil
}

// Eval returns Output when set, otherwise zeros sized to the last layer.
func (r *Recorder) Eval(input []float64) ([]float64, error) {
	if err := r.record("Eval", input); err != nil {
		return nil, err
	}
	if r.Output != nil {
		return append([]float64(nil), r.Output...), nil
	}
	if len(r.Layers) == 0 {
		return nil, errors.New("no layers registered")
	}
	return make([]float64, r.Layers[len(r.Layers)-1].Neurons), nil
}

// Save writes the registered layers and train count to path as JSON.
func (r *Recorder) Save(path string) error {
	if err := r.record("Save", path); err != nil {
		return err
	}
	data, err := json.Marshal(weightsFile{Layers: r.Layers, TrainCalls: r.TrainCalls})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads a file written by Save.
func (r *Recorder) Load(path string) error {
	if err := r.record("Load", path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var wf weightsFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return errors.Wrap(err, "failed to decode weights")
	}
	r.Layers = wf.Layers
	r.TrainCalls = wf.TrainCalls
	r.Restored = nil
	r.sealed = true
	return nil
}

// StateLoaded stores its arguments in Restored.
func (r *Recorder) StateLoaded(opt optimizer.Config, reg training.RegularizerType, inputSize, outputSize int) error {
	if err := r.record("StateLoaded", opt, reg, inputSize, outputSize); err != nil {
		return err
	}
	r.Restored = &LoadedState{
		Optimizer:   opt,
		Regularizer: reg,
		InputSize:   inputSize,
		OutputSize:  outputSize,
	}
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	if err := r.record("Close"); err != nil {
		return err
	}
	r.Closed = true
	return nil
}
