package checkpoints

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileDigest returns the hex SHA-256 of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "failed to hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyWeights checks that the weights file is the one meta was written
// with. Sidecars without a digest are accepted.
func VerifyWeights(meta *Metadata, weightsPath string) error {
	if meta.WeightsDigest == "" {
		return nil
	}
	digest, err := FileDigest(weightsPath)
	if err != nil {
		return err
	}
	if digest != meta.WeightsDigest {
		return errors.Wrapf(ErrArtifactMismatch, "model %s: weights digest %s, sidecar expects %s",
			meta.ModelID, digest, meta.WeightsDigest)
	}
	return nil
}
