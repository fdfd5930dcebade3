package checkpoints

import (
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

// Field numbers of the protobuf sidecar. They are part of the persisted
// format and must never be reused.
//
//	message Metadata {
//	  uint32 schema_version = 1;
//	  string model_id = 2;
//	  google.protobuf.Timestamp created_at = 3;
//	  Optimizer optimizer = 4;
//	  bool parameterized = 5;
//	  string loss = 6;
//	  string initializer = 7;
//	  string regularizer = 8;
//	  uint32 input_size = 9;
//	  uint32 output_size = 10;
//	  repeated Layer layers = 11;
//	  string weights_digest = 12;
//	  string framework = 13;
//	}
//	message Optimizer {
//	  string type = 1;
//	  double learning_rate = 2;
//	  double momentum = 3;
//	  double beta = 4;
//	  double beta1 = 5;
//	  double beta2 = 6;
//	  double final_learning_rate = 7;
//	  double gamma = 8;
//	}
//	message Layer {
//	  uint32 neurons = 1;
//	  string activation = 2;
//	  uint32 inputs = 3;
//	}
const (
	fieldSchemaVersion protowire.Number = 1
	fieldModelID       protowire.Number = 2
	fieldCreatedAt     protowire.Number = 3
	fieldOptimizer     protowire.Number = 4
	fieldParameterized protowire.Number = 5
	fieldLoss          protowire.Number = 6
	fieldInitializer   protowire.Number = 7
	fieldRegularizer   protowire.Number = 8
	fieldInputSize     protowire.Number = 9
	fieldOutputSize    protowire.Number = 10
	fieldLayers        protowire.Number = 11
	fieldWeightsDigest protowire.Number = 12
	fieldFramework     protowire.Number = 13
)

const (
	optFieldType protowire.Number = iota + 1
	optFieldLearningRate
	optFieldMomentum
	optFieldBeta
	optFieldBeta1
	optFieldBeta2
	optFieldFinalLearningRate
	optFieldGamma
)

const (
	layerFieldNeurons protowire.Number = iota + 1
	layerFieldActivation
	layerFieldInputs
)

func marshalProto(meta *Metadata) ([]byte, error) {
	var b []byte
	b = appendVarint(b, fieldSchemaVersion, uint64(meta.SchemaVersion))
	b = appendString(b, fieldModelID, meta.ModelID.String())

	ts, err := proto.Marshal(timestamppb.New(meta.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode created_at")
	}
	b = appendMessage(b, fieldCreatedAt, ts)

	b = appendMessage(b, fieldOptimizer, marshalOptimizer(meta.Optimizer))
	if meta.Parameterized {
		b = appendVarint(b, fieldParameterized, 1)
	}
	b = appendString(b, fieldLoss, meta.Loss.String())
	b = appendString(b, fieldInitializer, meta.Initializer.String())
	b = appendString(b, fieldRegularizer, meta.Regularizer.String())
	b = appendVarint(b, fieldInputSize, uint64(meta.InputSize))
	b = appendVarint(b, fieldOutputSize, uint64(meta.OutputSize))
	for _, l := range meta.Layers {
		var lb []byte
		lb = appendVarint(lb, layerFieldNeurons, uint64(l.Neurons))
		lb = appendString(lb, layerFieldActivation, l.Activation.String())
		lb = appendVarint(lb, layerFieldInputs, uint64(l.Inputs))
		b = appendMessage(b, fieldLayers, lb)
	}
	if meta.WeightsDigest != "" {
		b = appendString(b, fieldWeightsDigest, meta.WeightsDigest)
	}
	b = appendString(b, fieldFramework, meta.Framework)
	return b, nil
}

func marshalOptimizer(cfg optimizer.Config) []byte {
	var b []byte
	b = appendString(b, optFieldType, cfg.Type.String())
	b = appendDouble(b, optFieldLearningRate, cfg.LearningRate)
	b = appendDouble(b, optFieldMomentum, cfg.Momentum)
	b = appendDouble(b, optFieldBeta, cfg.Beta)
	b = appendDouble(b, optFieldBeta1, cfg.Beta1)
	b = appendDouble(b, optFieldBeta2, cfg.Beta2)
	b = appendDouble(b, optFieldFinalLearningRate, cfg.FinalLearningRate)
	b = appendDouble(b, optFieldGamma, cfg.Gamma)
	return b
}

func unmarshalProto(data []byte) (*Metadata, error) {
	meta := &Metadata{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		var err error
		switch num {
		case fieldSchemaVersion:
			meta.SchemaVersion = int(v.varint)
		case fieldModelID:
			meta.ModelID, err = uuid.Parse(string(v.bytes))
		case fieldCreatedAt:
			ts := &timestamppb.Timestamp{}
			if err = proto.Unmarshal(v.bytes, ts); err == nil {
				if err = ts.CheckValid(); err == nil {
					meta.CreatedAt = ts.AsTime()
				}
			}
		case fieldOptimizer:
			meta.Optimizer, err = unmarshalOptimizer(v.bytes)
		case fieldParameterized:
			meta.Parameterized = v.varint != 0
		case fieldLoss:
			meta.Loss, err = training.ParseLoss(string(v.bytes))
		case fieldInitializer:
			meta.Initializer, err = training.ParseInitializer(string(v.bytes))
		case fieldRegularizer:
			meta.Regularizer, err = training.ParseRegularizer(string(v.bytes))
		case fieldInputSize:
			meta.InputSize = int(v.varint)
		case fieldOutputSize:
			meta.OutputSize = int(v.varint)
		case fieldLayers:
			var rec LayerRecord
			rec, err = unmarshalLayer(v.bytes)
			meta.Layers = append(meta.Layers, rec)
		case fieldWeightsDigest:
			meta.WeightsDigest = string(v.bytes)
		case fieldFramework:
			meta.Framework = string(v.bytes)
		}
		if err != nil {
			return errors.Wrapf(err, "field %d", num)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptSidecar, "failed to decode proto sidecar: %v", err)
	}
	return meta, nil
}

func unmarshalOptimizer(data []byte) (optimizer.Config, error) {
	var cfg optimizer.Config
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		var err error
		switch num {
		case optFieldType:
			cfg.Type, err = optimizer.ParseType(string(v.bytes))
		case optFieldLearningRate:
			cfg.LearningRate = v.double()
		case optFieldMomentum:
			cfg.Momentum = v.double()
		case optFieldBeta:
			cfg.Beta = v.double()
		case optFieldBeta1:
			cfg.Beta1 = v.double()
		case optFieldBeta2:
			cfg.Beta2 = v.double()
		case optFieldFinalLearningRate:
			cfg.FinalLearningRate = v.double()
		case optFieldGamma:
			cfg.Gamma = v.double()
		}
		return err
	})
	return cfg, err
}

func unmarshalLayer(data []byte) (LayerRecord, error) {
	var rec LayerRecord
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v fieldValue) error {
		var err error
		switch num {
		case layerFieldNeurons:
			rec.Neurons = int(v.varint)
		case layerFieldActivation:
			rec.Activation, err = layers.ParseActivation(string(v.bytes))
		case layerFieldInputs:
			rec.Inputs = int(v.varint)
		}
		return err
	})
	return rec, err
}

// fieldValue holds the decoded payload of one field. Only the member that
// matches the wire type is set.
type fieldValue struct {
	varint  uint64
	fixed64 uint64
	bytes   []byte
}

func (v fieldValue) double() float64 { return math.Float64frombits(v.fixed64) }

// walkFields calls fn for every field in a message. Unknown wire types are
// skipped so newer writers can add fields.
func walkFields(data []byte, fn func(protowire.Number, protowire.Type, fieldValue) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var v fieldValue
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			v.fixed64, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendDouble(b []byte, num protowire.Number, f float64) []byte {
	if f == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(f))
}
