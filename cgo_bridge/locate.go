package cgo_bridge

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/engine"
)

// EnvLibrary overrides library discovery with an explicit path.
const EnvLibrary = "NEURALNET_ENGINE_LIBRARY"

// libraryBase is the file name stem of the engine library.
const libraryBase = "neuralnet"

// ErrLibraryNotFound reports that no engine library could be located.
var ErrLibraryNotFound = errors.Wrap(engine.ErrEngineUnavailable, "engine library not found")

// Variant selects an engine library build.
type Variant int

const (
	VariantAuto Variant = iota
	VariantGeneric
	VariantAVX2
	VariantAVX512
)

func (v Variant) String() string {
	switch v {
	case VariantAuto:
		return "auto"
	case VariantGeneric:
		return "generic"
	case VariantAVX2:
		return "avx2"
	case VariantAVX512:
		return "avx512"
	default:
		return "unknown"
	}
}

// DetectVariant picks the fastest build the CPU can run.
func DetectVariant() Variant {
	if cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ) {
		return VariantAVX512
	}
	if cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) {
		return VariantAVX2
	}
	return VariantGeneric
}

// LocateOptions controls library discovery.
type LocateOptions struct {
	// SearchDirs are tried in order. Empty means DefaultSearchDirs.
	SearchDirs []string `json:"search_dirs" yaml:"search_dirs"`

	// Variant pins a build. VariantAuto uses DetectVariant.
	Variant Variant `json:"variant" yaml:"variant"`
}

// DefaultSearchDirs returns the executable's directory, the working
// directory and the system library directories.
func DefaultSearchDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	dirs = append(dirs, ".")
	if runtime.GOOS != "windows" {
		dirs = append(dirs, "/usr/local/lib", "/usr/lib")
	}
	return dirs
}

// LibraryNames returns candidate file names for v, most specific first.
// Every list ends with the generic build.
func LibraryNames(v Variant) []string {
	if v == VariantAuto {
		v = DetectVariant()
	}

	var suffixes []string
	switch v {
	case VariantAVX512:
		suffixes = []string{"_avx512", "_avx2", ""}
	case VariantAVX2:
		suffixes = []string{"_avx2", ""}
	default:
		suffixes = []string{""}
	}

	names := make([]string, len(suffixes))
	for i, s := range suffixes {
		names[i] = libraryFileName(libraryBase + s)
	}
	return names
}

func libraryFileName(stem string) string {
	switch runtime.GOOS {
	case "windows":
		return stem + ".dll"
	case "darwin":
		return "lib" + stem + ".dylib"
	default:
		return "lib" + stem + ".so"
	}
}

// Locate returns the path of the engine library. EnvLibrary wins over the
// search directories.
func Locate(opts LocateOptions) (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvLibrary)); p != "" {
		if isFile(p) {
			return p, nil
		}
		return "", errors.Wrapf(ErrLibraryNotFound, "%s=%s does not name a file", EnvLibrary, p)
	}

	dirs := opts.SearchDirs
	if len(dirs) == 0 {
		dirs = DefaultSearchDirs()
	}
	names := LibraryNames(opts.Variant)
	for _, name := range names {
		for _, dir := range dirs {
			candidate := filepath.Join(dir, name)
			if isFile(candidate) {
				return candidate, nil
			}
		}
	}
	return "", errors.Wrapf(ErrLibraryNotFound, "looked for %s in %s",
		strings.Join(names, ", "), strings.Join(dirs, ", "))
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
