package checkpoints_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/tsawler/go-neuralnet/checkpoints"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

func sampleMetadata() *checkpoints.Metadata {
	return &checkpoints.Metadata{
		ModelID:       uuid.New(),
		CreatedAt:     time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC),
		Optimizer:     optimizer.DefaultConfig(optimizer.AMSBound),
		Parameterized: true,
		Loss:          training.CrossEntropy,
		Initializer:   training.HeUniform,
		Regularizer:   training.L1L2,
		InputSize:     2,
		OutputSize:    1,
		Layers: []checkpoints.LayerRecord{
			{Neurons: 4, Activation: layers.Sigmoid, Inputs: 2},
			{Neurons: 1, Activation: layers.Softmax, Inputs: 4},
		},
		WeightsDigest: "abc123",
	}
}

func TestSidecarPath(t *testing.T) {
	tests := map[string]string{
		"/models/xor.bin": "/models/.state.xor.bin",
		"xor.bin":         ".state.xor.bin",
		"a/b/c":           "a/b/.state.c",
	}
	for in, want := range tests {
		assert.Equal(t, filepath.FromSlash(want), checkpoints.SidecarPath(filepath.FromSlash(in)))
	}
}

type SidecarStoreSuite struct {
	suite.Suite
	dir     string
	weights string
}

func (s *SidecarStoreSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.weights = filepath.Join(s.dir, "model.bin")
	s.Require().NoError(os.WriteFile(s.weights, []byte("weights"), 0644))
}

func (s *SidecarStoreSuite) roundTrip(format checkpoints.SidecarFormat) {
	meta := sampleMetadata()
	store := checkpoints.NewSidecarStore(format)
	s.Require().NoError(store.Save(meta, s.weights))

	_, err := os.Stat(filepath.Join(s.dir, ".state.model.bin"))
	s.Require().NoError(err)

	got, err := checkpoints.NewSidecarStore(checkpoints.FormatJSON).Load(s.weights)
	s.Require().NoError(err)

	s.Equal(checkpoints.SchemaVersion, got.SchemaVersion)
	s.Equal(checkpoints.Framework, got.Framework)
	s.Equal(meta.ModelID, got.ModelID)
	s.True(meta.CreatedAt.Equal(got.CreatedAt))
	s.Equal(meta.Optimizer, got.Optimizer)
	s.Equal(meta.Parameterized, got.Parameterized)
	s.Equal(meta.Loss, got.Loss)
	s.Equal(meta.Initializer, got.Initializer)
	s.Equal(meta.Regularizer, got.Regularizer)
	s.Equal(meta.InputSize, got.InputSize)
	s.Equal(meta.OutputSize, got.OutputSize)
	s.Equal(meta.Layers, got.Layers)
	s.Equal(meta.WeightsDigest, got.WeightsDigest)
}

func (s *SidecarStoreSuite) TestJSONRoundTrip() {
	s.roundTrip(checkpoints.FormatJSON)

	data, err := os.ReadFile(checkpoints.SidecarPath(s.weights))
	s.Require().NoError(err)
	s.Contains(string(data), `"optimizer": {`)
	s.Contains(string(data), `"type": "amsbound"`)
	s.Contains(string(data), `"activation": "softmax"`)
}

func (s *SidecarStoreSuite) TestProtoRoundTrip() {
	s.roundTrip(checkpoints.FormatProto)

	data, err := os.ReadFile(checkpoints.SidecarPath(s.weights))
	s.Require().NoError(err)
	s.NotEqual(byte('{'), data[0])
}

func (s *SidecarStoreSuite) TestOverwriteLeavesNoTempFiles() {
	store := checkpoints.NewSidecarStore(checkpoints.FormatJSON)
	s.Require().NoError(store.Save(sampleMetadata(), s.weights))
	s.Require().NoError(store.Save(sampleMetadata(), s.weights))

	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *SidecarStoreSuite) TestMissingSidecar() {
	_, err := checkpoints.NewSidecarStore(checkpoints.FormatJSON).Load(s.weights)
	s.True(errors.Is(err, checkpoints.ErrInvalidModelPath))
}

func (s *SidecarStoreSuite) TestCheckArtifacts() {
	s.True(errors.Is(checkpoints.CheckArtifacts(s.weights), checkpoints.ErrInvalidModelPath))

	s.Require().NoError(checkpoints.NewSidecarStore(checkpoints.FormatJSON).Save(sampleMetadata(), s.weights))
	s.NoError(checkpoints.CheckArtifacts(s.weights))

	s.True(errors.Is(checkpoints.CheckArtifacts(filepath.Join(s.dir, "other.bin")), checkpoints.ErrInvalidModelPath))
	s.True(errors.Is(checkpoints.CheckArtifacts(s.dir), checkpoints.ErrInvalidModelPath))
}

func TestSidecarStoreSuite(t *testing.T) {
	suite.Run(t, new(SidecarStoreSuite))
}

func TestDecodeRejectsBadSidecars(t *testing.T) {
	store := checkpoints.NewSidecarStore(checkpoints.FormatJSON)

	future := sampleMetadata()
	future.SchemaVersion = 7
	data, err := store.Encode(future)
	require.NoError(t, err)
	_, err = checkpoints.Decode(data)
	assert.True(t, errors.Is(err, checkpoints.ErrUnsupportedSchema))

	mismatched := sampleMetadata()
	mismatched.SchemaVersion = checkpoints.SchemaVersion
	mismatched.OutputSize = 3
	data, err = store.Encode(mismatched)
	require.NoError(t, err)
	_, err = checkpoints.Decode(data)
	assert.True(t, errors.Is(err, checkpoints.ErrCorruptSidecar))

	_, err = checkpoints.Decode([]byte(`{"schema_version": 1, "loss": "hinge"}`))
	assert.True(t, errors.Is(err, checkpoints.ErrCorruptSidecar))

	_, err = checkpoints.Decode([]byte{0x08, 0x01, 0x12, 0xff})
	assert.True(t, errors.Is(err, checkpoints.ErrCorruptSidecar))
}

func TestVerifyWeights(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "w.bin")
	require.NoError(t, os.WriteFile(weights, []byte("one"), 0644))

	digest, err := checkpoints.FileDigest(weights)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	meta := sampleMetadata()
	meta.WeightsDigest = digest
	require.NoError(t, checkpoints.VerifyWeights(meta, weights))

	require.NoError(t, os.WriteFile(weights, []byte("two"), 0644))
	err = checkpoints.VerifyWeights(meta, weights)
	assert.True(t, errors.Is(err, checkpoints.ErrArtifactMismatch))

	meta.WeightsDigest = ""
	assert.NoError(t, checkpoints.VerifyWeights(meta, weights))
}
