package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/devopsctl/internal/logger"
)

// Registry manages kind registration and dependency resolution.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]Plugin
	metadata map[string]Metadata
	graph    *dependencyGraph
	disabled map[string]bool
	logger   *logger.Logger
	config   *RegistryConfig
}

// NewRegistry returns an empty registry. A nil config selects DefaultConfig.
func NewRegistry(cfg *RegistryConfig, log *logger.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		plugins:  make(map[string]Plugin),
		metadata: make(map[string]Metadata),
		graph:    newDependencyGraph(),
		disabled: make(map[string]bool),
		logger:   log,
		config:   cfg,
	}
}

// Register adds a kind to the registry.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}

	meta := p.Metadata()
	if err := meta.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[meta.Name]; exists {
		return fmt.Errorf("kind '%s' already registered", meta.Name)
	}

	r.plugins[meta.Name] = p
	r.metadata[meta.Name] = meta
	names := make([]string, 0, len(meta.Dependencies))
	for _, dep := range meta.Dependencies {
		names = append(names, dep.Name)
	}
	r.graph.add(meta.Name, names...)
	delete(r.disabled, meta.Name)
	return nil
}

// ValidateDependencies checks that every declared dependency is registered,
// satisfies its version constraint and that there are no cycles. Under the
// graceful policy offending kinds are disabled instead of failing.
func (r *Registry) ValidateDependencies() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disabled = make(map[string]bool)
	strict := r.config.DependencyPolicy == PolicyStrict
	conflicts := make(map[string]*ErrVersionConflict)

	for _, name := range r.sortedNames() {
		meta := r.metadata[name]
		for _, dep := range meta.Dependencies {
			depMeta, exists := r.metadata[dep.Name]
			if !exists {
				err := ErrMissingDependency{Plugin: name, Dependency: dep.Name}
				if strict {
					return err
				}
				r.disabled[name] = true
				r.logger.Warn(err.Error())
				continue
			}
			if !dep.Satisfied(depMeta.Version) {
				c := conflicts[dep.Name]
				if c == nil {
					c = &ErrVersionConflict{Plugin: dep.Name, ActualVersion: depMeta.Version, RequiredBy: map[string]string{}}
					conflicts[dep.Name] = c
				}
				c.RequiredBy[name] = dep.Constraint
				if strict {
					return *c
				}
			}
		}
	}

	for _, c := range conflicts {
		for dependent := range c.RequiredBy {
			r.disabled[dependent] = true
		}
		r.logger.Warn(c.Error())
	}

	if cycle := r.graph.cycle(); len(cycle) > 0 {
		err := ErrCircularDependency{Cycle: cycle}
		if strict {
			return err
		}
		for _, name := range cycle {
			r.disabled[name] = true
		}
		r.logger.Warn(err.Error())
	}
	return nil
}

// InitializePlugins calls Init on every enabled kind that implements
// Initializer, dependencies first.
func (r *Registry) InitializePlugins() error {
	r.mu.RLock()
	order, err := r.graph.order(r.disabled)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	var targets []Plugin
	var names []string
	for _, name := range order {
		p, ok := r.plugins[name]
		if !ok || r.disabled[name] {
			continue
		}
		targets = append(targets, p)
		names = append(names, name)
	}
	r.mu.RUnlock()

	for i, p := range targets {
		if init, ok := p.(Initializer); ok {
			if err := init.Init(r); err != nil {
				return fmt.Errorf("init kind '%s': %w", names[i], err)
			}
		}
	}
	return nil
}

// Get retrieves an enabled kind by name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok || r.disabled[name] {
		return nil, ErrPluginNotFound{Name: name}
	}
	return p, nil
}

// GetForDependent retrieves pluginName on behalf of dependentName, enforcing
// the access policy for undeclared dependencies.
func (r *Registry) GetForDependent(dependentName, pluginName string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[pluginName]
	if !ok || r.disabled[pluginName] {
		return nil, ErrPluginNotFound{Name: pluginName}
	}
	meta, ok := r.metadata[dependentName]
	if !ok {
		return nil, ErrPluginNotFound{Name: dependentName}
	}

	declared := false
	for _, dep := range meta.Dependencies {
		if dep.Name == pluginName {
			declared = true
			break
		}
	}
	if !declared {
		switch r.config.AccessPolicy {
		case AccessStrict:
			return nil, ErrUndeclaredDependency{Caller: dependentName, Dependency: pluginName}
		case AccessWarn:
			r.logger.Warn(ErrUndeclaredDependency{Caller: dependentName, Dependency: pluginName}.Error())
		}
	}
	return p, nil
}

// List returns the enabled kind names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for _, name := range r.sortedNames() {
		if !r.disabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// Resolve fetches a dependency and asserts the capability the caller needs.
func Resolve[T any](r *Registry, dependentName, pluginName string) (T, error) {
	var zero T
	if r == nil {
		return zero, ErrPluginNotFound{Name: pluginName}
	}
	p, err := r.GetForDependent(dependentName, pluginName)
	if err != nil {
		return zero, err
	}
	capability, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("kind '%s' does not provide %T", pluginName, &zero)
	}
	return capability, nil
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
