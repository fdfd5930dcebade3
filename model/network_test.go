package model_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/engine/enginetest"
	"github.com/tsawler/go-neuralnet/model"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

var (
	xorInputs  = [][]float64{{0, 1}, {0, 0}, {1, 0}, {1, 1}}
	xorTargets = [][]float64{{1}, {0}, {1}, {0}}
)

func newNetwork(t *testing.T, opts ...model.Option) (*model.Network, *enginetest.Recorder) {
	t.Helper()
	rec := enginetest.NewRecorder()
	n, err := model.Open(rec.Opener(), opts...)
	require.NoError(t, err)
	return n, rec
}

// addXOR adds the 2-4-4-1 sigmoid stack used throughout these tests.
func addXOR(t *testing.T, n *model.Network) {
	t.Helper()
	require.NoError(t, n.AddDense(4, "sigmoid", 2))
	require.NoError(t, n.AddDense(4, "sigmoid", 0))
	require.NoError(t, n.AddDense(1, "sigmoid", 0))
}

func scenarioAOptions() training.CompileOptions {
	return training.CompileOptions{
		Optimizer:   optimizer.Named("adam"),
		Loss:        "quadratic",
		Initializer: "xavier_normal",
		Regularizer: "none",
	}
}

func compiledXOR(t *testing.T, opts ...model.Option) (*model.Network, *enginetest.Recorder) {
	t.Helper()
	n, rec := newNetwork(t, opts...)
	addXOR(t, n)
	require.NoError(t, n.Compile(scenarioAOptions()))
	return n, rec
}

func TestScenarioACompile(t *testing.T) {
	n, rec := compiledXOR(t)

	require.True(t, n.Compiled())
	st := n.State()
	assert.Equal(t, 2, st.InputSize)
	assert.Equal(t, 1, st.OutputSize)
	assert.Equal(t, optimizer.Adam, st.Optimizer.Type)
	assert.False(t, st.Parameterized)
	assert.Equal(t, training.Quadratic, st.Loss)
	assert.Equal(t, training.XavierNormal, st.Initializer)
	assert.Equal(t, training.NoRegularizer, st.Regularizer)

	assert.Equal(t, []string{"Add", "Add", "Add", "Compile"}, rec.Methods())
	require.Len(t, rec.Layers, 3)
	assert.Equal(t, []int{2, 4, 4}, []int{rec.Layers[0].Inputs, rec.Layers[1].Inputs, rec.Layers[2].Inputs})
	assert.Equal(t, engine.CompileConfig{
		Optimizer:   optimizer.DefaultConfig(optimizer.Adam),
		Loss:        training.Quadratic,
		Initializer: training.XavierNormal,
		Regularizer: training.NoRegularizer,
	}, *rec.Compiled)
}

func TestScenarioBFirstLayerWithoutInputs(t *testing.T) {
	n, rec := newNetwork(t)
	err := n.AddDense(4, "relu", 0)
	assert.True(t, errors.Is(err, model.ErrInvalidLayerConfig))
	assert.Empty(t, n.Layers())
	assert.Empty(t, rec.Calls)
}

func TestScenarioCMismatchedInputs(t *testing.T) {
	n, _ := newNetwork(t)
	require.NoError(t, n.AddDense(4, "relu", 2))
	err := n.AddDense(5, "relu", 3)
	assert.True(t, errors.Is(err, model.ErrInvalidTopology))
	assert.Len(t, n.Layers(), 1)
}

func TestAddRejectsUnknownActivation(t *testing.T) {
	n, _ := newNetwork(t)
	err := n.AddDense(4, "swish", 2)
	assert.True(t, errors.Is(err, model.ErrInvalidActivation))
}

func TestTopologyInvariantHolds(t *testing.T) {
	n, _ := newNetwork(t)
	sizes := []int{7, 3, 9, 2, 5}
	require.NoError(t, n.AddDense(sizes[0], "relu", 11))
	for _, s := range sizes[1:] {
		require.NoError(t, n.AddDense(s, "tanh", 0))
	}
	got := n.Layers()
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Neurons, got[i].Inputs)
	}
}

func TestCompileWithoutLayers(t *testing.T) {
	n, rec := newNetwork(t)
	err := n.Compile(training.DefaultCompileOptions())
	assert.True(t, errors.Is(err, model.ErrNoLayers))
	assert.False(t, n.Compiled())
	assert.Empty(t, rec.Calls)
}

func TestCompileRejectsUnknownHyperparameters(t *testing.T) {
	tests := map[string]training.CompileOptions{
		"optimizer":   {Optimizer: optimizer.Named("lion")},
		"loss":        {Loss: "hinge"},
		"initializer": {Initializer: "orthogonal"},
		"regularizer": {Regularizer: "dropout"},
	}
	for field, opts := range tests {
		t.Run(field, func(t *testing.T) {
			n, rec := newNetwork(t)
			addXOR(t, n)

			err := n.Compile(opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrInvalidHyperparameter))

			var fe *training.FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, field, fe.Field)

			assert.False(t, n.Compiled())
			assert.Empty(t, rec.Calls, "nothing reaches the engine")
		})
	}
}

func TestCompileRejectsMalformedParameterRecord(t *testing.T) {
	n, rec := newNetwork(t)
	addXOR(t, n)

	cfg := optimizer.DefaultConfig(optimizer.Momentum)
	cfg.Beta2 = 0.9
	err := n.Compile(training.CompileOptions{Optimizer: optimizer.WithParams(cfg)})
	assert.True(t, errors.Is(err, model.ErrInvalidHyperparameter))
	assert.False(t, n.Compiled())
	assert.Empty(t, rec.Calls)
}

func TestCompileWithParameterRecord(t *testing.T) {
	n, rec := newNetwork(t)
	addXOR(t, n)

	cfg := optimizer.DefaultConfig(optimizer.Nesterov)
	cfg.LearningRate = 0.05
	cfg.Momentum = 0.8
	require.NoError(t, n.Compile(training.CompileOptions{Optimizer: optimizer.WithParams(cfg), Loss: "cross_entropy"}))

	assert.Equal(t, 1, rec.Count("CompileWithParams"))
	assert.Equal(t, 0, rec.Count("Compile"))
	assert.True(t, rec.WithParams)
	assert.Equal(t, cfg, rec.Compiled.Optimizer)
	assert.True(t, n.State().Parameterized)
}

func TestCompileDefaults(t *testing.T) {
	n, rec := newNetwork(t)
	addXOR(t, n)
	require.NoError(t, n.Compile(training.CompileOptions{}))

	assert.Equal(t, optimizer.SGD, rec.Compiled.Optimizer.Type)
	assert.Equal(t, training.MeanSquaredError, rec.Compiled.Loss)
	assert.Equal(t, training.Random, rec.Compiled.Initializer)
	assert.Equal(t, training.NoRegularizer, rec.Compiled.Regularizer)
}

func TestAddAfterCompileDiscardsState(t *testing.T) {
	n, rec := compiledXOR(t)
	firstID := n.State().ModelID

	require.NoError(t, n.AddDense(2, "softmax", 0))
	assert.False(t, n.Compiled())
	assert.Nil(t, n.State())

	err := n.Save(t.TempDir() + "/model.bin")
	assert.True(t, errors.Is(err, model.ErrNotCompiled))

	require.NoError(t, n.Compile(scenarioAOptions()))
	assert.Equal(t, 2, n.State().OutputSize)
	assert.NotEqual(t, firstID, n.State().ModelID)
	assert.Len(t, rec.Layers, 4, "recompile starts a new layer sequence")
}

func TestStateIsACopy(t *testing.T) {
	n, _ := compiledXOR(t)
	st := n.State()
	st.Layers[0].Neurons = 100
	st.OutputSize = 9
	assert.Equal(t, 4, n.State().Layers[0].Neurons)
	assert.Equal(t, 1, n.State().OutputSize)
}

func TestCompileEngineFailureIsSticky(t *testing.T) {
	n, rec := newNetwork(t)
	addXOR(t, n)
	boom := errors.New("engine out of memory")
	rec.FailOn("Add", 2, boom)

	err := n.Compile(scenarioAOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, n.Compiled())
	assert.Equal(t, 0, rec.Count("Compile"), "no compile after a failed layer push")

	rec.ClearFailures()
	assert.True(t, errors.Is(n.Compile(scenarioAOptions()), model.ErrEngineInconsistent))
	assert.True(t, errors.Is(n.Fit(xorInputs, xorTargets, training.DefaultFitConfig()), model.ErrEngineInconsistent))
	_, err = n.Predict([]float64{0, 1})
	assert.True(t, errors.Is(err, model.ErrEngineInconsistent))
	assert.True(t, errors.Is(n.Save(t.TempDir()+"/m.bin"), model.ErrEngineInconsistent))
}

func TestCompileFailureOnHyperparameterPush(t *testing.T) {
	n, rec := newNetwork(t)
	addXOR(t, n)
	rec.FailOn("Compile", 1, errors.New("unsupported initializer"))

	require.Error(t, n.Compile(scenarioAOptions()))
	assert.False(t, n.Compiled())
	assert.True(t, errors.Is(n.Compile(scenarioAOptions()), model.ErrEngineInconsistent))
}

func TestFit(t *testing.T) {
	n, rec := newNetwork(t)
	addXOR(t, n)
	err := n.Fit(xorInputs, xorTargets, training.DefaultFitConfig())
	assert.True(t, errors.Is(err, model.ErrNotCompiled))

	require.NoError(t, n.Compile(scenarioAOptions()))
	rec.Reset()

	err = n.Fit(xorInputs, xorTargets, training.FitConfig{Epochs: 0, BatchSize: 1})
	assert.True(t, errors.Is(err, model.ErrInvalidHyperparameter))
	err = n.Fit(xorInputs, xorTargets, training.FitConfig{Epochs: 10, BatchSize: 0})
	assert.True(t, errors.Is(err, model.ErrInvalidHyperparameter))
	err = n.Fit(xorInputs, xorTargets[:3], training.DefaultFitConfig())
	assert.True(t, errors.Is(err, model.ErrInvalidTrainingData))
	err = n.Fit(nil, nil, training.DefaultFitConfig())
	assert.True(t, errors.Is(err, model.ErrInvalidTrainingData))
	assert.Empty(t, rec.Calls)

	require.NoError(t, n.Fit(xorInputs, xorTargets, training.FitConfig{Epochs: 1000, BatchSize: 2}))
	assert.Equal(t, []string{"AddTrainingSample", "AddTrainingSample", "AddTrainingSample", "AddTrainingSample", "Train"}, rec.Methods())
	train := rec.Calls[len(rec.Calls)-1]
	assert.Equal(t, []interface{}{1000, 2}, train.Args)
}

func TestFitPropagatesEngineErrors(t *testing.T) {
	n, rec := compiledXOR(t)
	rec.FailOn("AddTrainingSample", 3, errors.New("sample length mismatch"))

	err := n.Fit(xorInputs, xorTargets, training.DefaultFitConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample 2")
	assert.Equal(t, 0, rec.Count("Train"))
	assert.True(t, n.Compiled(), "a rejected sample does not uncompile the network")
}

func TestPredict(t *testing.T) {
	n, rec := newNetwork(t)
	addXOR(t, n)
	_, err := n.Predict([]float64{0, 1})
	assert.True(t, errors.Is(err, model.ErrNotCompiled))

	require.NoError(t, n.Compile(scenarioAOptions()))
	out, err := n.Predict([]float64{0, 1})
	require.NoError(t, err)
	assert.Len(t, out.Values, n.State().OutputSize)
	assert.Equal(t, 0, out.Argmax)

	rec.Output = []float64{0.1, 0.9}
	_, err = n.Predict([]float64{0, 1})
	assert.True(t, errors.Is(err, model.ErrEngineContract))
}

func TestPredictArgmax(t *testing.T) {
	n, rec := newNetwork(t)
	require.NoError(t, n.AddDense(8, "relu", 4))
	require.NoError(t, n.AddDense(3, "softmax", 0))
	require.NoError(t, n.Compile(training.CompileOptions{Loss: "cross_entropy"}))

	rec.Output = []float64{0.2, 0.7, 0.1}
	out, err := n.Predict([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Argmax)
	assert.Equal(t, 0.7, out.Value)
}

func TestOpenFailures(t *testing.T) {
	_, err := model.Open(func() (engine.Binding, error) {
		return nil, errors.New("dlopen failed")
	})
	assert.True(t, errors.Is(err, model.ErrEngineUnavailable))

	_, err = model.New(nil)
	assert.True(t, errors.Is(err, model.ErrEngineUnavailable))
}

func TestClose(t *testing.T) {
	n, rec := compiledXOR(t)
	require.NoError(t, n.Close())
	assert.True(t, rec.Closed)
	require.NoError(t, n.Close(), "second close is a no-op")

	_, err := n.Predict([]float64{0, 1})
	assert.True(t, errors.Is(err, model.ErrEngineUnavailable))
	assert.True(t, errors.Is(n.Compile(scenarioAOptions()), model.ErrEngineUnavailable))
}

func TestLifecycleLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n, _ := compiledXOR(t, model.WithLogger(logger))

	assert.Contains(t, buf.String(), "msg=compiled")
	assert.Contains(t, buf.String(), "model_id="+n.State().ModelID.String())
	assert.Contains(t, buf.String(), "input_size=2")
}

func TestSummary(t *testing.T) {
	n, _ := compiledXOR(t)
	summary := n.Summary()
	assert.Contains(t, summary, "Compiled")
	assert.Contains(t, summary, "Layer 3: Dense (sigmoid)")
	assert.Contains(t, summary, "Input Size: 2")
}
