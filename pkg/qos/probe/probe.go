// Package probe is the hardware access boundary: CPU identification queries
// and per-core model specific register reads and writes.
package probe

import "errors"

// Regs holds the four registers returned by a CPUID query.
type Regs struct {
	EAX, EBX, ECX, EDX uint32
}

// Bit reports whether bit n of v is set.
func Bit(v uint32, n uint) bool {
	return v&(1<<n) != 0
}

// Prober issues hardware queries on behalf of the discovery engine.
type Prober interface {
	// CPUID executes the identification instruction for leaf and subleaf.
	CPUID(leaf, subleaf uint32) (Regs, error)
	// ReadMSR reads register addr on logical core.
	ReadMSR(core int, addr uint32) (uint64, error)
	// WriteMSR writes value to register addr on logical core.
	WriteMSR(core int, addr uint32, value uint64) error
}

// Machine is a Prober whose per-core handles are opened for the lifetime of
// an initialized library.
type Machine interface {
	Prober
	// Open prepares access to cores 0 through maxCore.
	Open(maxCore int) error
	// Close releases every handle opened since Open.
	Close() error
}

// ErrNotOpen is returned when a register is accessed before Open.
var ErrNotOpen = errors.New("probe: machine access not open")

// ErrCoreRange is returned for a core outside the range passed to Open.
var ErrCoreRange = errors.New("probe: core out of range")
