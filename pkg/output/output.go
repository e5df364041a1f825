// Package output renders a discovered capability registry for display in
// several formats (pretty, plain, json, yaml).
//
// The package uses a registry pattern so formatters can be selected by name
// at runtime.
//
// Basic usage:
//
//	reg, topo, _ := lib.Capabilities()
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.NewReport(reg, topo)); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// Report is the data every formatter renders. Technologies that were not
// discovered are nil.
type Report struct {
	// FormatVersion is the capability model version tag.
	FormatVersion int `json:"format_version" yaml:"format_version"`

	// Interface is the hardware-access interface used for discovery.
	Interface string `json:"interface" yaml:"interface"`

	// Brand is the processor brand string, if known.
	Brand string `json:"brand,omitempty" yaml:"brand,omitempty"`

	Sockets    int `json:"sockets" yaml:"sockets"`
	Cores      int `json:"cores" yaml:"cores"`
	L2Clusters int `json:"l2_clusters" yaml:"l2_clusters"`
	L3Clusters int `json:"l3_clusters" yaml:"l3_clusters"`

	L2Cache topology.CacheGeometry `json:"l2_cache" yaml:"l2_cache"`
	L3Cache topology.CacheGeometry `json:"l3_cache" yaml:"l3_cache"`

	Monitoring *capability.MonitoringCapability `json:"monitoring,omitempty" yaml:"monitoring,omitempty"`
	L3Alloc    *capability.L3Allocation         `json:"l3ca,omitempty" yaml:"l3ca,omitempty"`
	L2Alloc    *capability.L2Allocation         `json:"l2ca,omitempty" yaml:"l2ca,omitempty"`
	Bandwidth  *capability.BandwidthCapability  `json:"mba,omitempty" yaml:"mba,omitempty"`
}

// NewReport builds a report from a registry and topology snapshot. Either
// may be nil.
func NewReport(reg *capability.Registry, topo *topology.Topology) *Report {
	r := &Report{FormatVersion: capability.FormatVersion}

	if topo != nil {
		r.Brand = topo.Brand
		r.Cores = len(topo.Cores)
		r.Sockets = len(topo.Sockets())
		if ids, err := topo.Clusters(topology.L2); err == nil {
			r.L2Clusters = len(ids)
		}
		if ids, err := topo.Clusters(topology.L3); err == nil {
			r.L3Clusters = len(ids)
		}
		r.L2Cache = topo.L2
		r.L3Cache = topo.L3
	}

	if reg == nil {
		return r
	}
	r.FormatVersion = reg.Version()
	r.Interface = reg.Interface().String()
	if m, ok := reg.Monitoring(); ok {
		r.Monitoring = m
	}
	if a, ok := reg.L3(); ok {
		r.L3Alloc = a
	}
	if a, ok := reg.L2(); ok {
		r.L2Alloc = a
	}
	if b, ok := reg.Bandwidth(); ok {
		r.Bandwidth = b
	}
	return r
}

// Empty reports whether no technology was discovered.
func (r *Report) Empty() bool {
	return r.Monitoring == nil && r.L3Alloc == nil && r.L2Alloc == nil && r.Bandwidth == nil
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted report to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any existing
// formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
