package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-neuralnet/checkpoints"
	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

// CompiledState is the frozen configuration produced by a successful
// compile or load. It is never modified; a later Add discards it.
type CompiledState struct {
	ModelID       uuid.UUID
	Optimizer     optimizer.Config
	Parameterized bool
	Loss          training.LossType
	Initializer   training.InitializerType
	Regularizer   training.RegularizerType
	InputSize     int
	OutputSize    int
	Layers        []layers.LayerSpec
}

func newCompiledState(res training.Resolved, snapshot []layers.LayerSpec) *CompiledState {
	return &CompiledState{
		ModelID:       uuid.New(),
		Optimizer:     res.Optimizer,
		Parameterized: res.Parameterized,
		Loss:          res.Loss,
		Initializer:   res.Initializer,
		Regularizer:   res.Regularizer,
		InputSize:     snapshot[0].Inputs,
		OutputSize:    snapshot[len(snapshot)-1].Neurons,
		Layers:        snapshot,
	}
}

func (cs *CompiledState) compileConfig() engine.CompileConfig {
	return engine.CompileConfig{
		Optimizer:   cs.Optimizer,
		Loss:        cs.Loss,
		Initializer: cs.Initializer,
		Regularizer: cs.Regularizer,
	}
}

func (cs *CompiledState) metadata(digest string) *checkpoints.Metadata {
	return &checkpoints.Metadata{
		SchemaVersion: checkpoints.SchemaVersion,
		Framework:     checkpoints.Framework,
		ModelID:       cs.ModelID,
		CreatedAt:     time.Now().UTC(),
		Optimizer:     cs.Optimizer,
		Parameterized: cs.Parameterized,
		Loss:          cs.Loss,
		Initializer:   cs.Initializer,
		Regularizer:   cs.Regularizer,
		InputSize:     cs.InputSize,
		OutputSize:    cs.OutputSize,
		Layers:        checkpoints.RecordLayers(cs.Layers),
		WeightsDigest: digest,
	}
}

func stateFromMetadata(meta *checkpoints.Metadata, snapshot []layers.LayerSpec) *CompiledState {
	return &CompiledState{
		ModelID:       meta.ModelID,
		Optimizer:     meta.Optimizer,
		Parameterized: meta.Parameterized,
		Loss:          meta.Loss,
		Initializer:   meta.Initializer,
		Regularizer:   meta.Regularizer,
		InputSize:     meta.InputSize,
		OutputSize:    meta.OutputSize,
		Layers:        snapshot,
	}
}

func (cs *CompiledState) String() string {
	return fmt.Sprintf("CompiledState(id=%s, optimizer=%s, loss=%s, initializer=%s, regularizer=%s, %d->%d)",
		cs.ModelID, cs.Optimizer.Type, cs.Loss, cs.Initializer, cs.Regularizer, cs.InputSize, cs.OutputSize)
}
