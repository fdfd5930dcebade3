package model_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-neuralnet/engine/enginetest"
	"github.com/tsawler/go-neuralnet/model"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

const xorYAML = `
layers:
  - {neurons: 4, activation: sigmoid, inputs: 2}
  - {neurons: 4, activation: sigmoid}
  - {neurons: 1, activation: sigmoid}
compile:
  optimizer:
    type: rmsprop
    learning_rate: 0.005
    beta: 0.95
  loss: quadratic
  initializer: xavier_normal
fit:
  epochs: 500
  batch_size: 4
`

const xorJSON = `{
  "layers": [
    {"neurons": 4, "activation": "tanh", "inputs": 2},
    {"neurons": 1, "activation": "sigmoid"}
  ],
  "compile": {"optimizer": "nadam", "loss": "mean_absolute_error"}
}`

func writeDefinition(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefinitionFromYAML(t *testing.T) {
	def, err := model.LoadDefinition(writeDefinition(t, "xor.yaml", xorYAML))
	require.NoError(t, err)
	require.Len(t, def.Layers, 3)
	assert.Equal(t, training.FitConfig{Epochs: 500, BatchSize: 4}, def.FitConfig())

	rec := enginetest.NewRecorder()
	n, err := def.Open(rec.Opener())
	require.NoError(t, err)

	st := n.State()
	require.NotNil(t, st)
	assert.Equal(t, optimizer.RMSProp, st.Optimizer.Type)
	assert.Equal(t, 0.005, st.Optimizer.LearningRate)
	assert.Equal(t, 0.95, st.Optimizer.Beta)
	assert.True(t, st.Parameterized)
	assert.Equal(t, training.XavierNormal, st.Initializer)
	assert.Equal(t, training.NoRegularizer, st.Regularizer)
	assert.Equal(t, 1, rec.Count("CompileWithParams"))

	require.NoError(t, n.Fit(xorInputs, xorTargets, def.FitConfig()))
	assert.Equal(t, []interface{}{500, 4}, rec.Calls[len(rec.Calls)-1].Args)
}

func TestDefinitionFromJSON(t *testing.T) {
	def, err := model.LoadDefinition(writeDefinition(t, "xor.json", xorJSON))
	require.NoError(t, err)
	assert.Equal(t, training.DefaultFitConfig(), def.FitConfig())

	n, err := def.Open(enginetest.NewRecorder().Opener())
	require.NoError(t, err)
	st := n.State()
	assert.Equal(t, optimizer.DefaultConfig(optimizer.Nadam), st.Optimizer)
	assert.False(t, st.Parameterized)
	assert.Equal(t, training.MeanAbsoluteError, st.Loss)
	assert.Equal(t, 2, st.InputSize)
}

func TestLoadDefinitionErrors(t *testing.T) {
	_, err := model.LoadDefinition(writeDefinition(t, "xor.toml", "layers = []"))
	assert.Error(t, err)

	_, err = model.LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = model.LoadDefinition(writeDefinition(t, "bad.json", "{"))
	assert.Error(t, err)
}

func TestDefinitionBuildFailures(t *testing.T) {
	badLayer := `
layers:
  - {neurons: 4, activation: gelu, inputs: 2}
`
	def, err := model.LoadDefinition(writeDefinition(t, "bad.yml", badLayer))
	require.NoError(t, err)
	rec := enginetest.NewRecorder()
	_, err = def.Open(rec.Opener())
	assert.True(t, errors.Is(err, model.ErrInvalidActivation))
	assert.True(t, rec.Closed)

	badLoss := `
layers:
  - {neurons: 1, activation: sigmoid, inputs: 2}
compile:
  loss: hinge
`
	def, err = model.LoadDefinition(writeDefinition(t, "loss.yml", badLoss))
	require.NoError(t, err)
	_, err = def.Open(enginetest.NewRecorder().Opener())
	assert.True(t, errors.Is(err, model.ErrInvalidHyperparameter))
}
