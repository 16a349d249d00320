package resilience

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health is a point-in-time view of one provider.
type Health struct {
	Name        string
	State       gobreaker.State
	Counts      gobreaker.Counts
	LastSuccess time.Time
	LastFailure time.Time
	LastError   string
}

// Closed reports whether calls to the provider flow normally.
func (h Health) Closed() bool {
	return h.State == gobreaker.StateClosed
}

// Registry records the outcome of every call made by its clients.
// A nil *Registry ignores everything.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	client      *Client
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), now: time.Now}
}

// track adds c, replacing any client of the same name.
func (r *Registry) track(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[c.Name()] = &entry{client: c}
}

// Observe records the outcome of a call to the named provider. Unknown names are ignored.
func (r *Registry) Observe(name string, err error) {
	r.observe(name, err)
}

func (r *Registry) observe(name string, err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	if err == nil {
		e.lastSuccess = r.now()
		return
	}
	e.lastFailure = r.now()
	e.lastError = err.Error()
}

// Get returns the health of the named provider.
func (r *Registry) Get(name string) (Health, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return Health{}, false
	}
	return e.health(name), true
}

// All returns the health of every provider, ordered by name.
func (r *Registry) All() []Health {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]Health, 0, len(r.entries))
	for name, e := range r.entries {
		all = append(all, e.health(name))
	}
	slices.SortFunc(all, func(a, b Health) int { return strings.Compare(a.Name, b.Name) })
	return all
}

func (e *entry) health(name string) Health {
	return Health{
		Name:        name,
		State:       e.client.State(),
		Counts:      e.client.Counts(),
		LastSuccess: e.lastSuccess,
		LastFailure: e.lastFailure,
		LastError:   e.lastError,
	}
}
