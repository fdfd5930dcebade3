package model

import (
	"log/slog"

	"github.com/tsawler/go-neuralnet/checkpoints"
)

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger for lifecycle events. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Network) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithSidecarFormat selects how Save writes the metadata sidecar.
// Load reads either format.
func WithSidecarFormat(format checkpoints.SidecarFormat) Option {
	return func(n *Network) {
		n.store = checkpoints.NewSidecarStore(format)
	}
}

// WithLenientArtifacts skips the check that the weights file is the one the
// sidecar was written with.
func WithLenientArtifacts() Option {
	return func(n *Network) {
		n.lenient = true
	}
}
