package autodiff

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/born-ml/squeezedet/internal/config"
)

// PropFactory creates an operator description from string parameters, the
// way graph definitions carry operator attributes.
type PropFactory func(params map[string]string) (OpProp, error)

// Registry maps operator names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]PropFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]PropFactory),
	}
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, factory PropFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("operator %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Get returns the factory for an operator name.
func (r *Registry) Get(name string) (PropFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	return f, ok
}

// Create looks up name and builds its OpProp from params.
func (r *Registry) Create(name string, params map[string]string) (OpProp, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", name)
	}
	return f(params)
}

// Names returns the registered operator names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operator parameter names understood by the regression output factory.
const (
	ParamAnchorsPerGrid = "anchors_per_grid"
	ParamBBoxAttrs      = "bbox_attrs"
	ParamClasses        = "classes"
	ParamScoreRule      = "score_rule"
)

// RegisterDefaults registers the detection loss operator under
// RegressionOutputName and RegressionOutputAlias.
func RegisterDefaults(r *Registry) error {
	factory := func(params map[string]string) (OpProp, error) {
		cfg, err := ConfigFromParams(params)
		if err != nil {
			return nil, err
		}
		return NewRegressionOutputProp(cfg)
	}
	for _, name := range []string{RegressionOutputName, RegressionOutputAlias} {
		if err := r.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFromParams overlays string parameters onto config.Default.
func ConfigFromParams(params map[string]string) (config.Config, error) {
	cfg := config.Default()

	ints := []struct {
		key string
		dst *int
	}{
		{ParamAnchorsPerGrid, &cfg.AnchorsPerGrid},
		{ParamBBoxAttrs, &cfg.NumBBoxAttrs},
		{ParamClasses, &cfg.NumClasses},
	}
	for _, p := range ints {
		v, ok := params[p.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return config.Config{}, &config.ConfigurationError{Detail: fmt.Sprintf("parameter %s: %v", p.key, err)}
		}
		*p.dst = n
	}

	if v, ok := params[ParamScoreRule]; ok {
		rule, err := config.ParseScoreRule(v)
		if err != nil {
			return config.Config{}, err
		}
		cfg.ScoreRule = rule
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
