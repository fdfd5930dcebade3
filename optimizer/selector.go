package optimizer

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Selector chooses an optimizer either by name, using the default
// hyperparameters, or by an explicit parameter record.
type Selector struct {
	name   string
	params *Config
}

// Named selects an optimizer by name. The name is checked by Resolve.
func Named(name string) Selector {
	return Selector{name: name}
}

// WithParams selects an optimizer through an explicit parameter record.
func WithParams(cfg Config) Selector {
	return Selector{params: &cfg}
}

// IsZero reports whether no optimizer was selected.
func (s Selector) IsZero() bool {
	return s.name == "" && s.params == nil
}

// Parameterized reports whether s carries an explicit parameter record.
func (s Selector) Parameterized() bool {
	return s.params != nil
}

// Resolve returns the effective parameter record.
func (s Selector) Resolve() (Config, error) {
	if s.params != nil {
		if err := s.params.Validate(); err != nil {
			return Config{}, err
		}
		return *s.params, nil
	}
	if s.name == "" {
		return Config{}, errors.Wrap(ErrInvalidHyperparameter, "no optimizer selected")
	}
	t, err := ParseType(s.name)
	if err != nil {
		return Config{}, err
	}
	return DefaultConfig(t), nil
}

func (s Selector) String() string {
	if s.params != nil {
		return s.params.Type.String() + "(params)"
	}
	return s.name
}

// rawParams distinguishes omitted fields from explicit zeros so that a
// partial record is completed with the kind's defaults.
type rawParams struct {
	Type              string   `json:"type" yaml:"type"`
	LearningRate      *float64 `json:"learning_rate" yaml:"learning_rate"`
	Momentum          *float64 `json:"momentum" yaml:"momentum"`
	Beta              *float64 `json:"beta" yaml:"beta"`
	Beta1             *float64 `json:"beta1" yaml:"beta1"`
	Beta2             *float64 `json:"beta2" yaml:"beta2"`
	FinalLearningRate *float64 `json:"final_learning_rate" yaml:"final_learning_rate"`
	Gamma             *float64 `json:"gamma" yaml:"gamma"`
}

func (r rawParams) config() (Config, error) {
	t, err := ParseType(r.Type)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig(t)
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&cfg.LearningRate, r.LearningRate)
	set(&cfg.Momentum, r.Momentum)
	set(&cfg.Beta, r.Beta)
	set(&cfg.Beta1, r.Beta1)
	set(&cfg.Beta2, r.Beta2)
	set(&cfg.FinalLearningRate, r.FinalLearningRate)
	set(&cfg.Gamma, r.Gamma)
	return cfg, nil
}

// MarshalJSON encodes a name as a string and a parameter record as an object.
func (s Selector) MarshalJSON() ([]byte, error) {
	if s.params != nil {
		return json.Marshal(s.params)
	}
	return json.Marshal(s.name)
}

// UnmarshalJSON accepts either "adam" or {"type": "adam", "learning_rate": 0.001}.
func (s *Selector) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = Named(name)
		return nil
	}

	var raw rawParams
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrapf(ErrInvalidHyperparameter, "optimizer must be a name or a parameter object: %v", err)
	}
	cfg, err := raw.config()
	if err != nil {
		return err
	}
	*s = WithParams(cfg)
	return nil
}

// MarshalYAML mirrors MarshalJSON.
func (s Selector) MarshalYAML() (interface{}, error) {
	if s.params != nil {
		return s.params, nil
	}
	return s.name, nil
}

// UnmarshalYAML accepts a scalar name or a mapping parameter record.
func (s *Selector) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = Named(value.Value)
		return nil
	case yaml.MappingNode:
		var raw rawParams
		if err := value.Decode(&raw); err != nil {
			return errors.Wrapf(ErrInvalidHyperparameter, "optimizer parameters: %v", err)
		}
		cfg, err := raw.config()
		if err != nil {
			return err
		}
		*s = WithParams(cfg)
		return nil
	default:
		return errors.Wrapf(ErrInvalidHyperparameter, "optimizer must be a name or a mapping (line %d)", value.Line)
	}
}
