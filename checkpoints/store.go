package checkpoints

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// SidecarFormat defines how the metadata sidecar is serialized
type SidecarFormat int

const (
	FormatJSON SidecarFormat = iota
	FormatProto
)

func (sf SidecarFormat) String() string {
	switch sf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// SidecarStore reads and writes metadata sidecars. The format only applies
// to writes; Load accepts either format.
type SidecarStore struct {
	format SidecarFormat
}

// NewSidecarStore creates a store that writes the given format.
func NewSidecarStore(format SidecarFormat) *SidecarStore {
	return &SidecarStore{format: format}
}

// Format returns the write format.
func (ss *SidecarStore) Format() SidecarFormat {
	return ss.format
}

// Save writes meta next to weightsPath. The sidecar is replaced atomically.
func (ss *SidecarStore) Save(meta *Metadata, weightsPath string) error {
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = SchemaVersion
	}
	if meta.Framework == "" {
		meta.Framework = Framework
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	data, err := ss.Encode(meta)
	if err != nil {
		return err
	}
	return writeFileAtomic(SidecarPath(weightsPath), data)
}

// Load reads the sidecar that belongs to weightsPath.
func (ss *SidecarStore) Load(weightsPath string) (*Metadata, error) {
	path := SidecarPath(weightsPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrInvalidModelPath, "sidecar %s not found", path)
		}
		return nil, errors.Wrapf(err, "failed to read sidecar %s", path)
	}
	return Decode(data)
}

// Encode serializes meta in the store's format.
func (ss *SidecarStore) Encode(meta *Metadata) ([]byte, error) {
	switch ss.format {
	case FormatJSON:
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode sidecar")
		}
		return append(data, '\n'), nil
	case FormatProto:
		return marshalProto(meta)
	default:
		return nil, errors.Errorf("unsupported sidecar format: %s", ss.format)
	}
}

// Decode parses a sidecar in either format and validates it.
func Decode(data []byte) (*Metadata, error) {
	var (
		meta *Metadata
		err  error
	)
	if isJSON(data) {
		meta = &Metadata{}
		if err = json.Unmarshal(data, meta); err != nil {
			return nil, errors.Wrapf(ErrCorruptSidecar, "failed to decode JSON sidecar: %v", err)
		}
	} else {
		meta, err = unmarshalProto(data)
		if err != nil {
			return nil, err
		}
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

func isJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrap(err, "failed to create sidecar file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write sidecar")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync sidecar")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close sidecar")
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return errors.Wrap(err, "failed to set sidecar permissions")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "failed to move sidecar into place")
	}
	return nil
}
