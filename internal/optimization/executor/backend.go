package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

// Backend identifies an executor implementation.
type Backend string

const (
	BackendPool       Backend = "pool"
	BackendSequential Backend = "sequential"
	BackendOpenCL     Backend = "opencl"
)

// ErrUnknownBackend is returned when the name does not match a known backend.
var ErrUnknownBackend = errors.New("unknown executor backend")

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu", "pool", "parallel":
		return BackendPool
	case "seq", "sequential", "serial":
		return BackendSequential
	case "gpu", "opencl", "cl", "wgpu":
		return BackendOpenCL
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by the factory.
func SupportedBackends() []Backend {
	return []Backend{BackendPool, BackendSequential, BackendOpenCL}
}

// New constructs the requested executor. Accelerator backends are accepted
// but not built; their Submit always fails with ExecutorUnavailable.
func New(name string, opts Options) (Executor, error) {
	switch backend := NormalizeBackend(name); backend {
	case BackendPool:
		return NewPool(opts), nil
	case BackendSequential:
		return NewSequential(opts), nil
	case BackendOpenCL:
		return accelerator{name: string(backend)}, nil
	default:
		return nil, optimization.WrapError(fmt.Errorf("%w: %s", ErrUnknownBackend, name),
			optimization.KindInvalidInput, "cannot create executor").
			WithComponent("executor").WithOperation("New")
	}
}

// accelerator stands in for a device backend that is not part of this build.
type accelerator struct {
	name string
}

func (a accelerator) Name() string { return a.name }

func (a accelerator) Submit(*Workload) (*Handle, error) {
	return nil, optimization.NewErrorf(optimization.KindExecutorUnavailable,
		"%s backend is not available in this build", a.name).
		WithComponent("executor").WithOperation(a.name + ".Submit")
}
