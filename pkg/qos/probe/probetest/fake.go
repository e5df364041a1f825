// Package probetest provides a scriptable Prober for tests.
package probetest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
)

// ErrNoRegister is returned when reading a register that was never scripted.
var ErrNoRegister = errors.New("probetest: register not scripted")

type leafKey struct {
	leaf, subleaf uint32
}

type msrKey struct {
	core int
	addr uint32
}

// Write records one WriteMSR call.
type Write struct {
	Core  int
	Addr  uint32
	Value uint64
}

// Fake is an in-memory probe.Machine. Unscripted CPUID leaves read as zero,
// matching hardware behaviour for unsupported leaves; unscripted registers
// fail to read.
type Fake struct {
	mu     sync.Mutex
	leaves map[leafKey]probe.Regs
	msrs   map[msrKey]uint64
	writes []Write

	// OpenErr, when set, is returned by Open.
	OpenErr error
	// CloseErr, when set, is returned by Close.
	CloseErr error

	opened  bool
	maxCore int
	opens   int
	closes  int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		leaves: make(map[leafKey]probe.Regs),
		msrs:   make(map[msrKey]uint64),
	}
}

// SetCPUID scripts the response for leaf/subleaf.
func (f *Fake) SetCPUID(leaf, subleaf uint32, r probe.Regs) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves[leafKey{leaf, subleaf}] = r
	return f
}

// SetMSR scripts the value of register addr on core.
func (f *Fake) SetMSR(core int, addr uint32, value uint64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msrs[msrKey{core, addr}] = value
	return f
}

// SetBrand scripts the extended leaves that carry the processor brand string.
func (f *Fake) SetBrand(brand string) *Fake {
	var raw [48]byte
	copy(raw[:], brand)

	f.SetCPUID(0x80000000, 0, probe.Regs{EAX: 0x80000004})
	for i := 0; i < 3; i++ {
		b := raw[i*16 : (i+1)*16]
		f.SetCPUID(0x80000002+uint32(i), 0, probe.Regs{
			EAX: binary.LittleEndian.Uint32(b[0:4]),
			EBX: binary.LittleEndian.Uint32(b[4:8]),
			ECX: binary.LittleEndian.Uint32(b[8:12]),
			EDX: binary.LittleEndian.Uint32(b[12:16]),
		})
	}
	return f
}

// CPUID implements probe.Prober.
func (f *Fake) CPUID(leaf, subleaf uint32) (probe.Regs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves[leafKey{leaf, subleaf}], nil
}

// ReadMSR implements probe.Prober.
func (f *Fake) ReadMSR(core int, addr uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.msrs[msrKey{core, addr}]
	if !ok {
		return 0, fmt.Errorf("%w: core %d addr 0x%x", ErrNoRegister, core, addr)
	}
	return v, nil
}

// WriteMSR implements probe.Prober.
func (f *Fake) WriteMSR(core int, addr uint32, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.msrs[msrKey{core, addr}] = value
	f.writes = append(f.writes, Write{Core: core, Addr: addr, Value: value})
	return nil
}

// Open implements probe.Machine.
func (f *Fake) Open(maxCore int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.opened = true
	f.maxCore = maxCore
	f.opens++
	return nil
}

// Close implements probe.Machine.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = false
	f.closes++
	return f.CloseErr
}

// Opened reports whether Open succeeded without a matching Close.
func (f *Fake) Opened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// MaxCore returns the bound passed to the last Open.
func (f *Fake) MaxCore() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxCore
}

// Calls returns how many times Open and Close were called.
func (f *Fake) Calls() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes
}

// Writes returns every recorded register write in call order.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

var _ probe.Machine = (*Fake)(nil)
