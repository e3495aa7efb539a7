//go:build !onnx
// +build !onnx

package device

import "fmt"

// NewONNXPlacer is a stub used when built without the "onnx" build tag.
func NewONNXPlacer(ep string, deviceID int) (Placer, error) {
	return nil, fmt.Errorf("%w: %s:%d requested; build with -tags onnx and install onnxruntime",
		ErrDeviceUnavailable, normalizeEP(ep), deviceID)
}
