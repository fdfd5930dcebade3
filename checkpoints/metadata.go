package checkpoints

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

// SchemaVersion is the sidecar layout written by this package.
const SchemaVersion = 1

// Framework identifies the writer in every sidecar.
const Framework = "go-neuralnet"

var (
	// ErrInvalidModelPath reports a missing weights file or sidecar.
	ErrInvalidModelPath = errors.New("invalid model path")

	// ErrArtifactMismatch reports a sidecar whose recorded weights digest
	// does not match the weights file next to it.
	ErrArtifactMismatch = errors.New("weights and metadata artifacts do not match")

	// ErrCorruptSidecar reports a sidecar that cannot be decoded or that
	// describes an impossible network.
	ErrCorruptSidecar = errors.New("corrupt metadata sidecar")

	// ErrUnsupportedSchema reports a sidecar written with an unknown schema version.
	ErrUnsupportedSchema = errors.New("unsupported sidecar schema version")
)

// LayerRecord is the persisted form of one dense layer.
type LayerRecord struct {
	Neurons    int                   `json:"neurons"`
	Activation layers.ActivationType `json:"activation"`
	Inputs     int                   `json:"inputs"`
}

// Metadata is everything needed to rebuild a compiled network around an
// engine weights artifact.
type Metadata struct {
	SchemaVersion int       `json:"schema_version"`
	Framework     string    `json:"framework"`
	ModelID       uuid.UUID `json:"model_id"`
	CreatedAt     time.Time `json:"created_at"`

	Optimizer     optimizer.Config         `json:"optimizer"`
	Parameterized bool                     `json:"parameterized"`
	Loss          training.LossType        `json:"loss"`
	Initializer   training.InitializerType `json:"initializer"`
	Regularizer   training.RegularizerType `json:"regularizer"`

	InputSize  int           `json:"input_size"`
	OutputSize int           `json:"output_size"`
	Layers     []LayerRecord `json:"layers"`

	// WeightsDigest is the hex SHA-256 of the weights file written with this
	// sidecar. Empty disables the artifact check on load.
	WeightsDigest string `json:"weights_digest,omitempty"`
}

// RecordLayers converts layer specs to their persisted form.
func RecordLayers(specs []layers.LayerSpec) []LayerRecord {
	out := make([]LayerRecord, len(specs))
	for i, s := range specs {
		out[i] = LayerRecord{Neurons: s.Neurons, Activation: s.Activation, Inputs: s.Inputs}
	}
	return out
}

// LayerSpecs converts the persisted layers back to specs.
func (m *Metadata) LayerSpecs() []layers.LayerSpec {
	out := make([]layers.LayerSpec, len(m.Layers))
	for i, r := range m.Layers {
		out[i] = layers.LayerSpec{Neurons: r.Neurons, Activation: r.Activation, Inputs: r.Inputs}
	}
	return out
}

// Validate checks the schema version and the internal consistency of the
// record. Layer chaining is checked when the topology is rebuilt.
func (m *Metadata) Validate() error {
	if m.SchemaVersion != SchemaVersion {
		return errors.Wrapf(ErrUnsupportedSchema, "version %d (supported: %d)", m.SchemaVersion, SchemaVersion)
	}
	if err := m.Optimizer.Validate(); err != nil {
		return errors.Wrapf(ErrCorruptSidecar, "optimizer: %v", err)
	}
	if !m.Loss.Valid() || !m.Initializer.Valid() || !m.Regularizer.Valid() {
		return errors.Wrap(ErrCorruptSidecar, "unknown loss, initializer or regularizer code")
	}
	if len(m.Layers) == 0 {
		return errors.Wrap(ErrCorruptSidecar, "no layers recorded")
	}
	if m.InputSize != m.Layers[0].Inputs {
		return errors.Wrapf(ErrCorruptSidecar, "input size %d does not match first layer inputs %d",
			m.InputSize, m.Layers[0].Inputs)
	}
	if last := m.Layers[len(m.Layers)-1]; m.OutputSize != last.Neurons {
		return errors.Wrapf(ErrCorruptSidecar, "output size %d does not match last layer neurons %d",
			m.OutputSize, last.Neurons)
	}
	return nil
}

// SidecarPath returns the metadata artifact path for a weights path:
// the same directory, with ".state." prefixed to the file name.
func SidecarPath(weightsPath string) string {
	return filepath.Join(filepath.Dir(weightsPath), ".state."+filepath.Base(weightsPath))
}

// CheckArtifacts verifies that both the weights file and its sidecar exist.
func CheckArtifacts(weightsPath string) error {
	for _, p := range []string{weightsPath, SidecarPath(weightsPath)} {
		info, err := os.Stat(p)
		if err != nil {
			return errors.Wrapf(ErrInvalidModelPath, "%s: %v", p, err)
		}
		if info.IsDir() {
			return errors.Wrapf(ErrInvalidModelPath, "%s is a directory", p)
		}
	}
	return nil
}
