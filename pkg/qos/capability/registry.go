package capability

import (
	"fmt"

	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// FormatVersion tags the layout of the capability model.
const FormatVersion = 1

// Registry is the aggregated set of discovered capabilities.
type Registry struct {
	version int
	inter   iface.Interface
	records []Record
}

// NewRegistry builds a registry from records in discovery order. It fails
// with ErrFatal when no record is given, a kind repeats, or a record is nil.
func NewRegistry(inter iface.Interface, records ...Record) (*Registry, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no platform QoS capability discovered", qoserr.ErrFatal)
	}
	if len(records) > len(Kinds) {
		return nil, fmt.Errorf("%w: %d capability records, at most %d expected",
			qoserr.ErrFatal, len(records), len(Kinds))
	}

	seen := make(map[Kind]bool, len(records))
	owned := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: nil capability record", qoserr.ErrFatal)
		}
		if seen[rec.Kind()] {
			return nil, fmt.Errorf("%w: duplicate %s capability", qoserr.ErrFatal, rec.Kind())
		}
		seen[rec.Kind()] = true
		owned = append(owned, rec)
	}

	return &Registry{
		version: FormatVersion,
		inter:   inter,
		records: owned,
	}, nil
}

// Version returns the format version tag.
func (r *Registry) Version() int { return r.version }

// Interface returns the hardware-access interface the registry was built for.
func (r *Registry) Interface() iface.Interface { return r.inter }

// Len returns the number of records.
func (r *Registry) Len() int { return len(r.records) }

// Records returns the records in discovery order. The slice is a copy; the
// records are shared with the registry.
func (r *Registry) Records() []Record {
	return append([]Record(nil), r.records...)
}

// Find returns the record of the given kind.
func (r *Registry) Find(kind Kind) (Record, bool) {
	for _, rec := range r.records {
		if rec.Kind() == kind {
			return rec, true
		}
	}
	return nil, false
}

// Monitoring returns the monitoring record, if discovered.
func (r *Registry) Monitoring() (*MonitoringCapability, bool) {
	rec, ok := r.Find(KindMonitoring)
	if !ok {
		return nil, false
	}
	return rec.(*MonitoringCapability), true
}

// L3 returns the L3 allocation record, if discovered.
func (r *Registry) L3() (*L3Allocation, bool) {
	rec, ok := r.Find(KindL3Alloc)
	if !ok {
		return nil, false
	}
	return rec.(*L3Allocation), true
}

// L2 returns the L2 allocation record, if discovered.
func (r *Registry) L2() (*L2Allocation, bool) {
	rec, ok := r.Find(KindL2Alloc)
	if !ok {
		return nil, false
	}
	return rec.(*L2Allocation), true
}

// Bandwidth returns the memory bandwidth allocation record, if discovered.
func (r *Registry) Bandwidth() (*BandwidthCapability, bool) {
	rec, ok := r.Find(KindBandwidth)
	if !ok {
		return nil, false
	}
	return rec.(*BandwidthCapability), true
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		version: r.version,
		inter:   r.inter,
		records: make([]Record, 0, len(r.records)),
	}
	for _, rec := range r.records {
		c.records = append(c.records, rec.Clone())
	}
	return c
}
