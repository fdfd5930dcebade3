package layers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidTopology reports a declared input count that disagrees with the
// neuron count of the previous layer.
var ErrInvalidTopology = errors.New("invalid topology")

// TopologyState tracks where a Topology is in its build/compile lifecycle.
type TopologyState int

const (
	TopologyEmpty TopologyState = iota
	TopologyBuilding
	TopologyCompiled
)

func (ts TopologyState) String() string {
	switch ts {
	case TopologyEmpty:
		return "Empty"
	case TopologyBuilding:
		return "Building"
	case TopologyCompiled:
		return "Compiled"
	default:
		return "Unknown"
	}
}

// Topology is an append-only, shape-checked sequence of dense layers.
// Every stored layer has its Inputs resolved, so for i > 0
// layers[i].Inputs == layers[i-1].Neurons.
type Topology struct {
	layers []LayerSpec
	state  TopologyState
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{
		layers: make([]LayerSpec, 0),
		state:  TopologyEmpty,
	}
}

// Add appends a layer, inferring its input size from the previous layer.
// Adding to a compiled topology moves it back to Building.
func (t *Topology) Add(layer LayerSpec) error {
	if err := layer.Validate(); err != nil {
		return err
	}

	if len(t.layers) == 0 {
		if layer.Inputs <= 0 {
			return errors.Wrap(ErrInvalidLayerConfig, "first layer must declare positive input size")
		}
		t.layers = append(t.layers, layer)
		t.state = TopologyBuilding
		return nil
	}

	prevNeurons := t.layers[len(t.layers)-1].Neurons
	if layer.Inputs != 0 && layer.Inputs != prevNeurons {
		return errors.Wrapf(ErrInvalidTopology,
			"layer %d declares %d inputs but previous layer has %d neurons",
			len(t.layers), layer.Inputs, prevNeurons)
	}

	layer.Inputs = prevNeurons
	t.layers = append(t.layers, layer)
	t.state = TopologyBuilding
	return nil
}

// MarkCompiled records a successful compile. It has no effect on an empty topology.
func (t *Topology) MarkCompiled() {
	if t.state == TopologyBuilding {
		t.state = TopologyCompiled
	}
}

// State returns the lifecycle state.
func (t *Topology) State() TopologyState {
	return t.state
}

// Len returns the number of layers.
func (t *Topology) Len() int {
	return len(t.layers)
}

// Layers returns a copy of the layer sequence.
func (t *Topology) Layers() []LayerSpec {
	out := make([]LayerSpec, len(t.layers))
	copy(out, t.layers)
	return out
}

// InputSize is the declared input count of the first layer, or 0 when empty.
func (t *Topology) InputSize() int {
	if len(t.layers) == 0 {
		return 0
	}
	return t.layers[0].Inputs
}

// OutputSize is the neuron count of the last layer, or 0 when empty.
func (t *Topology) OutputSize() int {
	if len(t.layers) == 0 {
		return 0
	}
	return t.layers[len(t.layers)-1].Neurons
}

// ParameterCount sums weights and biases over all layers.
func (t *Topology) ParameterCount() int64 {
	var total int64
	for _, l := range t.layers {
		total += l.ParameterCount()
	}
	return total
}

// Summary renders a human readable description of the topology.
func (t *Topology) Summary() string {
	if len(t.layers) == 0 {
		return "Topology empty"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Topology Summary (%s):\n", t.state)
	fmt.Fprintf(&sb, "Input Size: %d\n", t.InputSize())
	fmt.Fprintf(&sb, "Output Size: %d\n", t.OutputSize())
	fmt.Fprintf(&sb, "Total Parameters: %d\n", t.ParameterCount())
	fmt.Fprintf(&sb, "Layers: %d\n\n", len(t.layers))

	for i, l := range t.layers {
		fmt.Fprintf(&sb, "Layer %d: Dense (%s)\n", i+1, l.Activation)
		fmt.Fprintf(&sb, "  Input:  %d\n", l.Inputs)
		fmt.Fprintf(&sb, "  Output: %d\n", l.Neurons)
		fmt.Fprintf(&sb, "  Params: %d\n", l.ParameterCount())
	}

	return sb.String()
}
