// Package topology describes the logical cores, sockets and cache-sharing
// clusters of the machine together with per-level cache geometry.
package topology

import (
	"fmt"
	"slices"

	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// Level is a cache level that supports allocation.
type Level int

// Cache levels.
const (
	L2 Level = 2
	L3 Level = 3
)

// String returns "L2" or "L3".
func (l Level) String() string {
	switch l {
	case L2:
		return "L2"
	case L3:
		return "L3"
	default:
		return fmt.Sprintf("L%d?", int(l))
	}
}

// Valid reports whether l is L2 or L3.
func (l Level) Valid() bool {
	return l == L2 || l == L3
}

// Core is one online logical core.
type Core struct {
	ID     int `json:"lcore" yaml:"lcore"`
	Socket int `json:"socket" yaml:"socket"`
	L2ID   int `json:"l2_id" yaml:"l2_id"`
	L3ID   int `json:"l3_id" yaml:"l3_id"`
}

// CacheGeometry is the shape of one cache level. Detected is false when the
// level could not be described, in which case the other fields are zero.
type CacheGeometry struct {
	Detected       bool   `json:"detected" yaml:"detected"`
	TotalSizeBytes uint64 `json:"total_size" yaml:"total_size"`
	Ways           uint32 `json:"ways" yaml:"ways"`
	Sets           uint32 `json:"sets" yaml:"sets"`
	LineSizeBytes  uint32 `json:"line_size" yaml:"line_size"`
}

// WaySizeBytes returns the size of one way, or 0 when ways are unknown.
func (g CacheGeometry) WaySizeBytes() uint64 {
	if g.Ways == 0 {
		return 0
	}
	return g.TotalSizeBytes / uint64(g.Ways)
}

// Topology is a snapshot of the machine layout. Cores are sorted by ID.
type Topology struct {
	Brand string        `json:"brand,omitempty" yaml:"brand,omitempty"`
	Cores []Core        `json:"cores" yaml:"cores"`
	L2    CacheGeometry `json:"l2" yaml:"l2"`
	L3    CacheGeometry `json:"l3" yaml:"l3"`
}

// Provider builds a topology snapshot.
type Provider interface {
	Discover() (*Topology, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() (*Topology, error)

// Discover implements Provider.
func (f ProviderFunc) Discover() (*Topology, error) { return f() }

// Sockets returns the distinct socket ids in ascending order.
func (t *Topology) Sockets() []int {
	return t.distinct(func(c Core) int { return c.Socket })
}

// Clusters returns the distinct cache-sharing cluster ids for level.
func (t *Topology) Clusters(level Level) ([]int, error) {
	switch level {
	case L2:
		return t.distinct(func(c Core) int { return c.L2ID }), nil
	case L3:
		return t.distinct(func(c Core) int { return c.L3ID }), nil
	default:
		return nil, fmt.Errorf("%w: no clusters for cache level %d", qoserr.ErrParameter, int(level))
	}
}

// SocketCore returns the lowest numbered core on socket.
func (t *Topology) SocketCore(socket int) (int, bool) {
	for _, c := range t.Cores {
		if c.Socket == socket {
			return c.ID, true
		}
	}
	return 0, false
}

// ClusterCore returns the lowest numbered core in cluster id of level.
func (t *Topology) ClusterCore(level Level, id int) (int, bool) {
	for _, c := range t.Cores {
		if (level == L2 && c.L2ID == id) || (level == L3 && c.L3ID == id) {
			return c.ID, true
		}
	}
	return 0, false
}

// Geometry returns the cache geometry of level.
func (t *Topology) Geometry(level Level) (CacheGeometry, error) {
	switch level {
	case L2:
		return t.L2, nil
	case L3:
		return t.L3, nil
	default:
		return CacheGeometry{}, fmt.Errorf("%w: no geometry for cache level %d", qoserr.ErrParameter, int(level))
	}
}

// MaxCore returns the highest core id, or -1 for an empty topology.
func (t *Topology) MaxCore() int {
	hi := -1
	for _, c := range t.Cores {
		if c.ID > hi {
			hi = c.ID
		}
	}
	return hi
}

// Clone returns a deep copy.
func (t *Topology) Clone() *Topology {
	c := *t
	c.Cores = slices.Clone(t.Cores)
	return &c
}

func (t *Topology) distinct(key func(Core) int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, c := range t.Cores {
		k := key(c)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
