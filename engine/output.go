package engine

// Output is the result of one forward pass.
type Output struct {
	// Values holds one entry per output neuron.
	Values []float64 `json:"values"`

	// Value is the largest entry of Values.
	Value float64 `json:"value"`

	// Argmax is the index of Value, the first one on ties. It is -1 for an empty output.
	Argmax int `json:"argmax"`
}

// NewOutput wraps raw engine values. The slice is copied.
func NewOutput(values []float64) Output {
	out := Output{
		Values: append([]float64(nil), values...),
		Argmax: -1,
	}
	for i, v := range out.Values {
		if out.Argmax < 0 || v > out.Value {
			out.Value = v
			out.Argmax = i
		}
	}
	return out
}
