//go:build onnx
// +build onnx

package device

import (
	"fmt"
	"sync"

	"github.com/ZanzyTHEbar/rc-loader/rcl/tensor"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit sync.Once
var ortInitErr error

func ensureRuntime() error {
	ortInit.Do(func() {
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				ortInitErr = fmt.Errorf("initialize onnx runtime: %w", err)
			}
		}
	})
	return ortInitErr
}

// onnxPlacer wraps batch tensors in ONNX Runtime values. The values are
// consumed by sessions built with SessionOptions, whose execution provider
// owns the device copy.
type onnxPlacer struct {
	ep       string
	deviceID int
	name     string
}

// NewONNXPlacer returns a Placer for the given execution provider: "cuda",
// "tensorrt", "coreml", "dml" or "cpu".
func NewONNXPlacer(ep string, deviceID int) (Placer, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	p := &onnxPlacer{ep: normalizeEP(ep), deviceID: deviceID}
	p.name = fmt.Sprintf("%s:%d", p.ep, deviceID)

	// Probe the provider once so a missing accelerator fails at construction.
	opts, err := p.SessionOptions()
	if err != nil {
		return nil, err
	}
	_ = opts.Destroy()
	return p, nil
}

func (p *onnxPlacer) Name() string { return p.name }

// SessionOptions builds ORT session options targeting the placer's provider.
// The caller owns the result and must Destroy it.
func (p *onnxPlacer) SessionOptions() (*ort.SessionOptions, error) {
	o, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %v", ErrDeviceUnavailable, err)
	}
	_ = o.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	switch p.ep {
	case "cpu":
	case "cuda":
		cu, e := ort.NewCUDAProviderOptions()
		if e == nil {
			e = cu.Update(map[string]string{"device_id": fmt.Sprint(p.deviceID)})
			if e == nil {
				e = o.AppendExecutionProviderCUDA(cu)
			}
			_ = cu.Destroy()
		}
		err = e
	case "tensorrt":
		trt, e := ort.NewTensorRTProviderOptions()
		if e == nil {
			e = o.AppendExecutionProviderTensorRT(trt)
			_ = trt.Destroy()
		}
		err = e
	case "coreml":
		err = o.AppendExecutionProviderCoreMLV2(map[string]string{})
	case "dml":
		err = o.AppendExecutionProviderDirectML(p.deviceID)
	default:
		err = fmt.Errorf("unknown execution provider %q", p.ep)
	}
	if err != nil {
		_ = o.Destroy()
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, p.ep, err)
	}
	return o, nil
}

func (p *onnxPlacer) Place(t tensor.Tensor) error {
	dims := t.Shape()
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}

	var h tensor.Handle
	var err error
	switch t.DType() {
	case tensor.Int64:
		h, err = ort.NewTensor(ort.NewShape(shape...), t.Int64s())
	case tensor.Float32:
		h, err = ort.NewTensor(ort.NewShape(shape...), t.Float32s())
	default:
		return fmt.Errorf("place %s tensor: unsupported dtype", t.DType())
	}
	if err != nil {
		return fmt.Errorf("place tensor %v on %s: %w", dims, p.name, err)
	}
	t.Bind(p.name, h)
	return nil
}
