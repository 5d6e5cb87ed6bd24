package provider

import (
	"context"
	"time"

	"github.com/BadgerOps/epggen/internal/config"
)

// Channel is one entry of a provider catalog. Name and aliases are kept
// exactly as the provider publishes them.
type Channel struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// Names returns the canonical name followed by every alias.
func (c Channel) Names() []string {
	names := make([]string, 0, 1+len(c.Aliases))
	names = append(names, c.Name)
	return append(names, c.Aliases...)
}

// Catalog is a snapshot of every channel one provider exposes for a region
// and timezone at the time it was fetched.
type Catalog struct {
	Provider  string
	Region    int
	TZ        int // UTC offset in minutes
	Timestamp time.Time
	Channels  []Channel
}

// ByID looks up a channel by its provider-scoped id.
func (c Catalog) ByID(id int) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

// Location returns the fixed zone the catalog's schedules are expressed in.
func (c Catalog) Location() *time.Location {
	return time.FixedZone("", c.TZ*60)
}

// Binding identifies the playlist slot a schedule is fetched for.
type Binding struct {
	PlaylistID int
	Name       string
	ChannelID  int
}

// Provider is the capability every external schedule source implements.
type Provider interface {
	// Name returns the provider identifier (e.g., "mailru", "yandex")
	Name() string

	// Lang returns the language tag of titles and descriptions
	Lang() string

	// Configure loads provider-specific settings from the unified config
	Configure(cfg ProviderConfig) error

	// FetchIndex builds a fresh catalog, going to the network for any page
	// not already cached
	FetchIndex(ctx context.Context, region, tz int) (Catalog, error)

	// RestoreIndex rebuilds the catalog from cached pages only
	RestoreIndex(ctx context.Context, region, tz int) (Catalog, error)

	// FetchChannel returns the programmes of the week window around ref
	FetchChannel(ctx context.Context, catalog Catalog, b Binding, ref time.Time) ([]Programme, error)

	// RestoreChannel is FetchChannel restricted to cached data
	RestoreChannel(ctx context.Context, catalog Catalog, b Binding, ref time.Time) ([]Programme, error)
}

// ProviderConfig is an alias for config.ProviderConfig to avoid import cycles.
type ProviderConfig = config.ProviderConfig

// Registry holds all registered providers in registration order.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry using its Name(). Registering a
// name twice replaces the provider but keeps its original position.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, ok := r.providers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns all registered provider names in registration order
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// All returns the registered providers in registration order
func (r *Registry) All() []Provider {
	all := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.providers[name])
	}
	return all
}
