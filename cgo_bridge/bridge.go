//go:build cgo && (linux || darwin)

package cgo_bridge

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef struct {
    unsigned int neurons;
    unsigned int activation;     // 0 = sigmoid .. 5 = softmax
    unsigned int inputs;
} dense_t;

typedef int (*nn_add_fn)(dense_t layer);
typedef int (*nn_add_training_sample_fn)(const double* input, const double* target);
typedef int (*nn_compile_fn)(unsigned int optimizer, unsigned int loss, unsigned int initializer, unsigned int regularizer);
typedef int (*nn_compile_optimizer_fn)(unsigned int optimizer, const double* params, unsigned int nparams,
                                       unsigned int loss, unsigned int initializer, unsigned int regularizer);
typedef int (*nn_train_fn)(unsigned int epochs, unsigned int batch_size);
typedef int (*nn_eval_fn)(const double* input, double* output);
typedef int (*nn_path_fn)(const char* path);
typedef int (*nn_state_loaded_fn)(unsigned int optimizer, const double* params, unsigned int nparams,
                                  unsigned int regularizer, unsigned int input_size, unsigned int output_size);

// Trampolines: cgo cannot call C function pointers directly.
static int call_add(void* f, dense_t layer) {
    return ((nn_add_fn)f)(layer);
}
static int call_add_training_sample(void* f, const double* input, const double* target) {
    return ((nn_add_training_sample_fn)f)(input, target);
}
static int call_compile(void* f, unsigned int opt, unsigned int loss, unsigned int init, unsigned int reg) {
    return ((nn_compile_fn)f)(opt, loss, init, reg);
}
static int call_compile_optimizer(void* f, unsigned int opt, const double* params, unsigned int nparams,
                                  unsigned int loss, unsigned int init, unsigned int reg) {
    return ((nn_compile_optimizer_fn)f)(opt, params, nparams, loss, init, reg);
}
static int call_train(void* f, unsigned int epochs, unsigned int batch_size) {
    return ((nn_train_fn)f)(epochs, batch_size);
}
static int call_eval(void* f, const double* input, double* output) {
    return ((nn_eval_fn)f)(input, output);
}
static int call_path(void* f, const char* path) {
    return ((nn_path_fn)f)(path);
}
static int call_state_loaded(void* f, unsigned int opt, const double* params, unsigned int nparams,
                             unsigned int reg, unsigned int input_size, unsigned int output_size) {
    return ((nn_state_loaded_fn)f)(opt, params, nparams, reg, input_size, output_size);
}

static void* open_library(const char* path) {
    return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static const char* last_error() {
    return dlerror();
}
*/
import "C"
import (
	"log/slog"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

// Library is an engine.Binding backed by a dynamically loaded engine
// library. The library keeps one network per process, so at most one
// Library should be open per library file.
type Library struct {
	path    string
	handle  unsafe.Pointer
	symbols map[string]unsafe.Pointer

	inputSize  int
	outputSize int

	// sealed is set by a compile or load; the next Add starts a new network.
	sealed bool

	logger *slog.Logger
}

var _ engine.Binding = (*Library)(nil)

// Open loads the library at path and resolves every required symbol.
func Open(path string, opts ...Option) (*Library, error) {
	o := buildOptions(opts)

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.open_library(cpath)
	if handle == nil {
		return nil, errors.Wrapf(engine.ErrEngineUnavailable, "failed to load %s: %s", path, dlerror())
	}

	lib := &Library{
		path:    path,
		handle:  handle,
		symbols: make(map[string]unsafe.Pointer, len(Symbols)),
		logger:  o.logger,
	}
	for _, name := range Symbols {
		cname := C.CString(name)
		sym := C.dlsym(handle, cname)
		C.free(unsafe.Pointer(cname))
		if sym == nil {
			C.dlclose(handle)
			return nil, errors.Wrapf(engine.ErrEngineUnavailable, "%s does not export %s", path, name)
		}
		lib.symbols[name] = sym
	}

	lib.logger.Info("engine library loaded", "path", path)
	return lib, nil
}

func dlerror() string {
	if msg := C.last_error(); msg != nil {
		return C.GoString(msg)
	}
	return "unknown error"
}

func (l *Library) sym(name string) (unsafe.Pointer, error) {
	if l.handle == nil {
		return nil, errors.Wrap(engine.ErrEngineUnavailable, "engine library closed")
	}
	return l.symbols[name], nil
}

func (l *Library) Add(layer layers.LayerSpec) error {
	rec, err := NewDenseRecord(layer)
	if err != nil {
		return err
	}
	f, err := l.sym(symAdd)
	if err != nil {
		return err
	}
	d := C.dense_t{
		neurons:    C.uint(rec.Neurons),
		activation: C.uint(rec.Activation),
		inputs:     C.uint(rec.Inputs),
	}
	if err := statusError(symAdd, int(C.call_add(f, d))); err != nil {
		return err
	}
	if l.sealed {
		l.inputSize = 0
		l.sealed = false
	}
	if l.inputSize == 0 {
		l.inputSize = layer.Inputs
	}
	l.outputSize = layer.Neurons
	return nil
}

// AddTrainingSample copies one sample into the engine. Lengths are checked
// here because the engine reads exactly the registered sizes.
func (l *Library) AddTrainingSample(input, target []float64) error {
	if len(input) != l.inputSize || len(target) != l.outputSize {
		return errors.Errorf("sample shape %d/%d does not match network %d/%d",
			len(input), len(target), l.inputSize, l.outputSize)
	}
	f, err := l.sym(symAddTrainingSample)
	if err != nil {
		return err
	}
	status := C.call_add_training_sample(f, doubles(input), doubles(target))
	return statusError(symAddTrainingSample, int(status))
}

func (l *Library) Compile(cfg engine.CompileConfig) error {
	f, err := l.sym(symCompile)
	if err != nil {
		return err
	}
	status := C.call_compile(f,
		C.uint(cfg.Optimizer.Type),
		C.uint(cfg.Loss),
		C.uint(cfg.Initializer),
		C.uint(cfg.Regularizer))
	return l.sealOn(statusError(symCompile, int(status)))
}

func (l *Library) CompileWithParams(cfg engine.CompileConfig) error {
	params, err := PackOptimizer(cfg.Optimizer)
	if err != nil {
		return err
	}
	f, err := l.sym(symCompileOptimizer)
	if err != nil {
		return err
	}
	status := C.call_compile_optimizer(f,
		C.uint(cfg.Optimizer.Type),
		doubles(params),
		C.uint(len(params)),
		C.uint(cfg.Loss),
		C.uint(cfg.Initializer),
		C.uint(cfg.Regularizer))
	return l.sealOn(statusError(symCompileOptimizer, int(status)))
}

func (l *Library) Train(epochs, batchSize int) error {
	f, err := l.sym(symTrain)
	if err != nil {
		return err
	}
	l.logger.Debug("native training started", "epochs", epochs, "batch_size", batchSize)
	return statusError(symTrain, int(C.call_train(f, C.uint(epochs), C.uint(batchSize))))
}

func (l *Library) Eval(input []float64) ([]float64, error) {
	if len(input) != l.inputSize {
		return nil, errors.Errorf("input has %d values, network expects %d", len(input), l.inputSize)
	}
	f, err := l.sym(symEval)
	if err != nil {
		return nil, err
	}
	out := make([]float64, l.outputSize)
	var outPtr *C.double
	if len(out) > 0 {
		outPtr = (*C.double)(unsafe.Pointer(&out[0]))
	}
	if err := statusError(symEval, int(C.call_eval(f, doubles(input), outPtr))); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Library) Save(path string) error {
	return l.callPath(symSave, path)
}

func (l *Library) Load(path string) error {
	return l.sealOn(l.callPath(symLoad, path))
}

func (l *Library) sealOn(err error) error {
	if err == nil {
		l.sealed = true
	}
	return err
}

func (l *Library) callPath(symbol, path string) error {
	f, err := l.sym(symbol)
	if err != nil {
		return err
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	return statusError(symbol, int(C.call_path(f, cpath)))
}

func (l *Library) StateLoaded(opt optimizer.Config, reg training.RegularizerType, inputSize, outputSize int) error {
	params, err := PackOptimizer(opt)
	if err != nil {
		return err
	}
	f, err := l.sym(symStateLoaded)
	if err != nil {
		return err
	}
	status := C.call_state_loaded(f,
		C.uint(opt.Type),
		doubles(params),
		C.uint(len(params)),
		C.uint(reg),
		C.uint(inputSize),
		C.uint(outputSize))
	if err := statusError(symStateLoaded, int(status)); err != nil {
		return err
	}
	l.inputSize = inputSize
	l.outputSize = outputSize
	return nil
}

// Close unloads the library. Further calls fail with ErrEngineUnavailable.
func (l *Library) Close() error {
	if l.handle == nil {
		return nil
	}
	rc := C.dlclose(l.handle)
	l.handle = nil
	l.symbols = nil
	if rc != 0 {
		return errors.Errorf("failed to unload %s: %s", l.path, dlerror())
	}
	l.logger.Info("engine library unloaded", "path", l.path)
	return nil
}

func doubles(v []float64) *C.double {
	if len(v) == 0 {
		return nil
	}
	return (*C.double)(unsafe.Pointer(&v[0]))
}
