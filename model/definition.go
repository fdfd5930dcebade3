package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/training"
)

// LayerDefinition declares one dense layer by name.
type LayerDefinition struct {
	Neurons    int    `json:"neurons" yaml:"neurons"`
	Activation string `json:"activation" yaml:"activation"`
	Inputs     int    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Definition is a declarative description of a network: its layers, its
// compile options and, optionally, how to train it.
//
//	layers:
//	  - {neurons: 4, activation: sigmoid, inputs: 2}
//	  - {neurons: 1, activation: sigmoid}
//	compile:
//	  optimizer: adam
//	  loss: quadratic
//	fit:
//	  epochs: 1000
//	  batch_size: 1
type Definition struct {
	Layers  []LayerDefinition       `json:"layers" yaml:"layers"`
	Compile training.CompileOptions `json:"compile" yaml:"compile"`
	Fit     *training.FitConfig     `json:"fit,omitempty" yaml:"fit,omitempty"`
}

// LoadDefinition reads a definition from a .yaml, .yml or .json file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read definition %s", path)
	}

	var def Definition
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &def)
	case ".json":
		err = json.Unmarshal(data, &def)
	default:
		return nil, errors.Errorf("unsupported definition format %q", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse definition %s", path)
	}
	return &def, nil
}

// FitConfig returns the training settings, or the defaults when none were given.
func (d *Definition) FitConfig() training.FitConfig {
	if d.Fit == nil {
		return training.DefaultFitConfig()
	}
	return *d.Fit
}

// Build adds every layer to n and compiles it.
func (d *Definition) Build(n *Network) error {
	for i, l := range d.Layers {
		if err := n.AddDense(l.Neurons, l.Activation, l.Inputs); err != nil {
			return errors.Wrapf(err, "layer %d", i+1)
		}
	}
	return n.Compile(d.Compile)
}

// Open acquires a binding from opener and builds the definition on it.
func (d *Definition) Open(opener engine.Opener, opts ...Option) (*Network, error) {
	n, err := Open(opener, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Build(n); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}
