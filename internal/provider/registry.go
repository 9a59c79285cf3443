package provider

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/campaign"
)

// ErrUnknownProvider is returned when no adapter is registered under the
// requested name.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds the configured adapters keyed by provider name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter. A later registration under the same name wins.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// ForJob resolves the adapter for a job from the provider named in its
// payload, checking that the adapter serves the job's channel.
func (r *Registry) ForJob(j *campaign.Job) (Adapter, error) {
	name := j.Provider()
	if name == "" {
		return nil, fmt.Errorf("job %s has no provider", j.ID)
	}

	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if a.Channel() != j.JobType {
		return nil, fmt.Errorf("provider %s serves %s, job %s is %s", name, a.Channel(), j.ID, j.JobType)
	}
	return a, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
