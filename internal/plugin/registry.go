package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Reference schemes with a loader registered by NewRegistry.
const (
	SchemeBuiltin  = "builtin"
	SchemeFile     = "file"
	SchemeMCPStdio = "mcp+stdio"
)

// Loader resolves a normalized reference to a factory. It runs in the import
// stage: errors it returns are reported as import failures.
type Loader interface {
	Load(ctx context.Context, reference string) (Factory, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, reference string) (Factory, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, reference string) (Factory, error) {
	return f(ctx, reference)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// CWD is the working directory for manifest tools and MCP servers.
	CWD    string
	Logger zerolog.Logger
}

// Registry maps reference schemes to loaders and holds the compiled-in
// factories served under builtin:<name>.
type Registry struct {
	mu        sync.RWMutex
	loaders   map[string]Loader
	factories map[string]Factory
	logger    zerolog.Logger
}

// NewRegistry creates a registry with the builtin, file and mcp+stdio
// loaders installed.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		loaders:   make(map[string]Loader),
		factories: make(map[string]Factory),
		logger:    opts.Logger,
	}
	r.loaders[SchemeBuiltin] = LoaderFunc(r.loadBuiltin)
	r.loaders[SchemeFile] = &manifestLoader{cwd: opts.CWD, logger: opts.Logger}
	r.loaders[SchemeMCPStdio] = &mcpLoader{cwd: opts.CWD, logger: opts.Logger}
	return r
}

// RegisterFactory makes f available as builtin:<name>.
func (r *Registry) RegisterFactory(name string, f Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("builtin plugin name must not be empty")
	}
	if f == nil {
		return fmt.Errorf("builtin plugin '%s' has no factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("builtin plugin '%s' already registered", name)
	}
	r.factories[name] = f
	return nil
}

// RegisterLoader installs l for scheme, replacing any previous loader.
func (r *Registry) RegisterLoader(scheme string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(scheme)] = l
}

// Builtins returns the registered builtin names, sorted.
func (r *Registry) Builtins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve finds the factory for a normalized reference.
func (r *Registry) Resolve(ctx context.Context, reference string) (Factory, error) {
	scheme := referenceScheme(reference)

	r.mu.RLock()
	loader, ok := r.loaders[scheme]
	r.mu.RUnlock()
	if !ok {
		if scheme == "" {
			return nil, fmt.Errorf("unsupported plugin reference '%s'", reference)
		}
		return nil, fmt.Errorf("no loader registered for scheme '%s'", scheme)
	}
	return loader.Load(ctx, reference)
}

func (r *Registry) loadBuiltin(_ context.Context, reference string) (Factory, error) {
	name := strings.TrimSpace(reference[len(SchemeBuiltin)+1:])

	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown builtin plugin '%s'", name)
	}
	return f, nil
}
