// Package capability holds the canonical, versioned model of the platform
// QoS capabilities discovered on this machine: monitoring, L3 and L2 cache
// allocation, and memory bandwidth allocation.
//
// A Registry owns one record per discovered technology. Records are plain
// values behind a sealed Record interface; type-switch on the concrete
// pointer type or use the typed accessors on Registry.
//
// Registry is not safe for concurrent use. The qos.Library serializes every
// read and mutation under its dual lock and hands out deep copies.
package capability

import "fmt"

// Kind identifies a technology.
type Kind int

// Capability kinds, in discovery order.
const (
	KindMonitoring Kind = iota + 1
	KindL3Alloc
	KindL2Alloc
	KindBandwidth
)

// Kinds lists every kind in discovery order.
var Kinds = []Kind{KindMonitoring, KindL3Alloc, KindL2Alloc, KindBandwidth}

// String returns the short name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMonitoring:
		return "mon"
	case KindL3Alloc:
		return "l3ca"
	case KindL2Alloc:
		return "l2ca"
	case KindBandwidth:
		return "mba"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Record is one discovered technology. The set of implementations is closed:
// *MonitoringCapability, *L3Allocation, *L2Allocation, *BandwidthCapability.
type Record interface {
	Kind() Kind
	// Clone returns a deep copy of the record.
	Clone() Record
	isRecord()
}

// EventKind identifies a monitoring event. Values are bit flags so a set of
// events can be expressed as a mask.
type EventKind uint32

// Monitoring events. The first four are cache monitoring events keyed by
// RMID; the last two are derived from core performance counters.
const (
	EventL3Occupancy EventKind = 0x1
	EventLocalMemBW  EventKind = 0x2
	EventTotalMemBW  EventKind = 0x4
	EventRemoteMemBW EventKind = 0x8
	EventLLCMiss     EventKind = 0x4000
	EventIPC         EventKind = 0x8000
)

// String returns the short name of the event.
func (e EventKind) String() string {
	switch e {
	case EventL3Occupancy:
		return "llc_occupancy"
	case EventLocalMemBW:
		return "local_mem_bw"
	case EventTotalMemBW:
		return "total_mem_bw"
	case EventRemoteMemBW:
		return "remote_mem_bw"
	case EventLLCMiss:
		return "llc_misses"
	case EventIPC:
		return "ipc"
	default:
		return fmt.Sprintf("event(0x%x)", uint32(e))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e EventKind) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// MonitorEvent describes one supported monitoring event.
type MonitorEvent struct {
	Kind        EventKind `json:"kind" yaml:"kind"`
	MaxRMID     uint32    `json:"max_rmid" yaml:"max_rmid"`
	ScaleFactor uint32    `json:"scale_factor" yaml:"scale_factor"`
}

// MonitoringCapability describes cache and memory bandwidth monitoring.
type MonitoringCapability struct {
	MaxRMID     uint32         `json:"max_rmid" yaml:"max_rmid"`
	L3SizeBytes uint64         `json:"l3_size_bytes" yaml:"l3_size_bytes"`
	Events      []MonitorEvent `json:"events" yaml:"events"`
}

// Kind implements Record.
func (*MonitoringCapability) Kind() Kind { return KindMonitoring }

// Clone implements Record.
func (m *MonitoringCapability) Clone() Record {
	c := *m
	c.Events = append(make([]MonitorEvent, 0, len(m.Events)), m.Events...)
	return &c
}

func (*MonitoringCapability) isRecord() {}

// Event returns the descriptor for kind if the event is supported.
func (m *MonitoringCapability) Event(kind EventKind) (MonitorEvent, bool) {
	for _, ev := range m.Events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return MonitorEvent{}, false
}

// Supports reports whether every event in mask is supported.
func (m *MonitoringCapability) Supports(mask EventKind) bool {
	var have EventKind
	for _, ev := range m.Events {
		have |= ev.Kind
	}
	return have&mask == mask
}

// AllocationCapability is the shape shared by L3 and L2 cache allocation.
type AllocationCapability struct {
	NumClasses        uint32 `json:"num_classes" yaml:"num_classes"`
	NumWays           uint32 `json:"num_ways" yaml:"num_ways"`
	WaySizeBytes      uint64 `json:"way_size_bytes" yaml:"way_size_bytes"`
	SplitSupported    bool   `json:"cdp_supported" yaml:"cdp_supported"`
	SplitEnabled      bool   `json:"cdp_enabled" yaml:"cdp_enabled"`
	WayContentionMask uint64 `json:"way_contention_mask" yaml:"way_contention_mask"`
}

// CacheSizeBytes returns the cache size implied by way size and count.
func (a *AllocationCapability) CacheSizeBytes() uint64 {
	return a.WaySizeBytes * uint64(a.NumWays)
}

// L3Allocation is the L3 cache allocation capability.
type L3Allocation struct {
	AllocationCapability `yaml:",inline"`
}

// Kind implements Record.
func (*L3Allocation) Kind() Kind { return KindL3Alloc }

// Clone implements Record.
func (a *L3Allocation) Clone() Record {
	c := *a
	return &c
}

func (*L3Allocation) isRecord() {}

// L2Allocation is the L2 cache allocation capability.
type L2Allocation struct {
	AllocationCapability `yaml:",inline"`
}

// Kind implements Record.
func (*L2Allocation) Kind() Kind { return KindL2Alloc }

// Clone implements Record.
func (a *L2Allocation) Clone() Record {
	c := *a
	return &c
}

func (*L2Allocation) isRecord() {}

// Tristate is a yes/no answer that may not be known yet.
type Tristate int

// Tristate values.
const (
	Unknown Tristate = iota
	No
	Yes
)

// String returns "unknown", "no" or "yes".
func (t Tristate) String() string {
	switch t {
	case No:
		return "no"
	case Yes:
		return "yes"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tristate) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// BandwidthCapability describes memory bandwidth allocation. Only linear
// throttling is supported; ThrottleStepPercent is the granularity.
type BandwidthCapability struct {
	NumClasses          uint32   `json:"num_classes" yaml:"num_classes"`
	ThrottleMaxPercent  uint32   `json:"throttle_max" yaml:"throttle_max"`
	ThrottleStepPercent uint32   `json:"throttle_step" yaml:"throttle_step"`
	Linear              bool     `json:"is_linear" yaml:"is_linear"`
	ControlSupported    Tristate `json:"ctrl_supported" yaml:"ctrl_supported"`
	ControlEnabled      bool     `json:"ctrl_enabled" yaml:"ctrl_enabled"`
}

// Kind implements Record.
func (*BandwidthCapability) Kind() Kind { return KindBandwidth }

// Clone implements Record.
func (b *BandwidthCapability) Clone() Record {
	c := *b
	return &c
}

func (*BandwidthCapability) isRecord() {}
