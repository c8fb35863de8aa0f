package indicator

import (
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// Factory returns a calculator with default configuration.
type Factory func() Calculator

// Registry manages all available calculators.
type Registry interface {
	Register(name types.IndicatorType, factory Factory) error
	// New returns a fresh calculator configured with params.
	New(name types.IndicatorType, params ...any) (Calculator, error)
	List() []types.IndicatorType
}

// RegistryV1 manages all available calculators.
type RegistryV1 struct {
	factories map[types.IndicatorType]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() Registry {
	return &RegistryV1{
		factories: make(map[types.IndicatorType]Factory),
		mu:        sync.RWMutex{},
	}
}

// NewDefaultRegistry creates a registry holding every built-in calculator.
func NewDefaultRegistry() Registry {
	r := NewRegistry()

	_ = r.Register(types.IndicatorTypeEMA, NewEMA)
	_ = r.Register(types.IndicatorTypeMA, NewMA)
	_ = r.Register(types.IndicatorTypeRSI, NewRSI)
	_ = r.Register(types.IndicatorTypeATR, NewATR)
	_ = r.Register(types.IndicatorTypeCVD, NewCVD)

	return r
}

// Register adds a calculator factory to the registry.
func (r *RegistryV1) Register(name types.IndicatorType, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "calculator %s already registered", name)
	}

	r.factories[name] = factory

	return nil
}

func (r *RegistryV1) New(name types.IndicatorType, params ...any) (Calculator, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrCodeCalculatorNotFound, "calculator %s not found", name)
	}

	calc := factory()
	if len(params) == 0 {
		return calc, nil
	}

	if err := calc.Config(params...); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "failed to configure %s", name)
	}

	return calc, nil
}

// List returns the registered names, sorted.
func (r *RegistryV1) List() []types.IndicatorType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]types.IndicatorType, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	return names
}

func errInvalidParams(msg string) error {
	return errors.New(errors.ErrCodeInvalidParameter, msg)
}
