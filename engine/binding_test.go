package engine_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/engine/enginetest"
)

func TestOpenWrapsFailures(t *testing.T) {
	_, err := engine.Open(nil)
	assert.True(t, errors.Is(err, engine.ErrEngineUnavailable))

	_, err = engine.Open(func() (engine.Binding, error) {
		return nil, errors.New("libneuralnet.so: cannot open shared object file")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrEngineUnavailable))
	assert.Contains(t, err.Error(), "libneuralnet.so")

	_, err = engine.Open(func() (engine.Binding, error) { return nil, nil })
	assert.True(t, errors.Is(err, engine.ErrEngineUnavailable))
}

func TestOpenReturnsBinding(t *testing.T) {
	rec := enginetest.NewRecorder()
	b, err := engine.Open(rec.Opener())
	require.NoError(t, err)
	assert.Same(t, rec, b)
}

func TestNewOutput(t *testing.T) {
	out := engine.NewOutput([]float64{0.1, 0.7, 0.7, 0.2})
	assert.Equal(t, 1, out.Argmax)
	assert.Equal(t, 0.7, out.Value)
	assert.Len(t, out.Values, 4)

	neg := engine.NewOutput([]float64{-3, -1, -2})
	assert.Equal(t, 1, neg.Argmax)
	assert.Equal(t, -1.0, neg.Value)

	empty := engine.NewOutput(nil)
	assert.Equal(t, -1, empty.Argmax)
	assert.Empty(t, empty.Values)
}

func TestNewOutputCopies(t *testing.T) {
	raw := []float64{1, 2}
	out := engine.NewOutput(raw)
	raw[0] = 9
	assert.Equal(t, 1.0, out.Values[0])
}
