package device

import (
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/rc-loader/rcl/config"
	"github.com/ZanzyTHEbar/rc-loader/rcl/tensor"
)

// ErrDeviceUnavailable indicates device placement was requested but this
// build cannot reach an accelerator.
var ErrDeviceUnavailable = errors.New("device placement not available")

// Placer moves tensors to a device. Place blocks until the data is resident.
type Placer interface {
	Name() string
	Place(t tensor.Tensor) error
}

type hostPlacer struct{}

// Host returns a Placer that keeps tensors in host memory.
func Host() Placer { return hostPlacer{} }

func (hostPlacer) Name() string { return tensor.HostDevice }

func (hostPlacer) Place(t tensor.Tensor) error {
	t.Bind(tensor.HostDevice, nil)
	return nil
}

// New selects a Placer from configuration.
func New(cfg config.DeviceConfig) (Placer, error) {
	if !cfg.Enabled {
		return Host(), nil
	}
	return NewONNXPlacer(cfg.ExecutionProvider, cfg.DeviceID)
}

func normalizeEP(ep string) string {
	ep = strings.ToLower(strings.TrimSpace(ep))
	if ep == "" {
		return "cuda"
	}
	return ep
}
