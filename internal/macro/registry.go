package macro

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry caches scripts in memory on top of a Repository. Returned
// scripts are deep copies; callers may modify them freely.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Script // by ID
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Script),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every script from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	scripts, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading scripts: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Script, len(scripts))
	for i := range scripts {
		r.cache[scripts[i].ID] = scripts[i].DeepCopy()
	}

	r.logger.Info("script cache refreshed", "count", len(scripts))
	return nil
}

// Get retrieves a script by ID.
func (r *Registry) Get(_ context.Context, id string) (*Script, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrScriptNotFound
}

// Resolve finds a script by ID or, failing that, by name.
func (r *Registry) Resolve(ctx context.Context, ref string) (*Script, error) {
	if s, err := r.Get(ctx, ref); err == nil {
		return s, nil
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	for _, s := range r.cache {
		if s.Name == ref {
			return s.DeepCopy(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrScriptNotFound, ref)
}

// List returns every script sorted by name.
func (r *Registry) List(_ context.Context) []Script {
	r.cacheMu.RLock()
	scripts := make([]Script, 0, len(r.cache))
	for _, s := range r.cache {
		scripts = append(scripts, *s.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts
}

// Create validates, persists and caches a new script. A missing ID is
// generated and a missing version defaults to 1.
func (r *Registry) Create(ctx context.Context, s *Script) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if err := ValidateScript(s); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("script created", "id", s.ID, "name", s.Name)
	return nil
}

// Update validates, persists and re-caches a script, bumping its version.
func (r *Registry) Update(ctx context.Context, s *Script) error {
	if err := ValidateScript(s); err != nil {
		return err
	}

	r.cacheMu.RLock()
	current, ok := r.cache[s.ID]
	r.cacheMu.RUnlock()
	if ok && s.Version <= current.Version {
		s.Version = current.Version + 1
	}

	if err := r.repo.Update(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("script updated", "id", s.ID, "name", s.Name, "version", s.Version)
	return nil
}

// Delete removes a script from persistence and cache.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("script deleted", "id", id)
	return nil
}

// Count returns the number of cached scripts.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
