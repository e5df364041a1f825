package probe

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// DefaultDevRoot is where the cpuid and msr character devices live.
const DefaultDevRoot = "/dev"

// DevCPU accesses the hardware through the Linux cpuid and msr drivers
// (/dev/cpu/N/cpuid, /dev/cpu/N/msr). MSR handles are opened on first use
// and cached until Close.
type DevCPU struct {
	root string

	mu      sync.Mutex
	open    bool
	maxCore int
	cpuid   *os.File
	msr     []*os.File
}

// NewDevCPU returns a DevCPU rooted at devRoot ("" means /dev).
func NewDevCPU(devRoot string) *DevCPU {
	if devRoot == "" {
		devRoot = DefaultDevRoot
	}
	return &DevCPU{root: devRoot}
}

// Open implements Machine.
func (d *DevCPU) Open(maxCore int) error {
	if maxCore < 0 {
		return fmt.Errorf("%w: %d", ErrCoreRange, maxCore)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil
	}
	d.maxCore = maxCore
	d.msr = make([]*os.File, maxCore+1)
	d.open = true
	return nil
}

// Close implements Machine.
func (d *DevCPU) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for i, f := range d.msr {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close msr handle for core %d: %w", i, err)
		}
	}
	if d.cpuid != nil {
		if err := d.cpuid.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close cpuid handle: %w", err)
		}
	}
	d.msr = nil
	d.cpuid = nil
	d.open = false
	return firstErr
}

// CPUID implements Prober. The query runs on core 0; the leaves used for
// capability discovery are package-uniform.
func (d *DevCPU) CPUID(leaf, subleaf uint32) (Regs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cpuid == nil {
		f, err := os.Open(d.devicePath(0, "cpuid"))
		if err != nil {
			return Regs{}, fmt.Errorf("open cpuid device: %w", err)
		}
		d.cpuid = f
	}

	// The cpuid driver takes the leaf in the low and the subleaf in the
	// high half of the file offset.
	var buf [16]byte
	off := int64(subleaf)<<32 | int64(leaf)
	if err := preadFull(d.cpuid, buf[:], off); err != nil {
		return Regs{}, fmt.Errorf("cpuid 0x%x.%d: %w", leaf, subleaf, err)
	}

	return Regs{
		EAX: binary.LittleEndian.Uint32(buf[0:4]),
		EBX: binary.LittleEndian.Uint32(buf[4:8]),
		ECX: binary.LittleEndian.Uint32(buf[8:12]),
		EDX: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// ReadMSR implements Prober.
func (d *DevCPU) ReadMSR(core int, addr uint32) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := d.msrHandle(core)
	if err != nil {
		return 0, err
	}

	var buf [8]byte
	if err := preadFull(f, buf[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("rdmsr 0x%x on core %d: %w", addr, core, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteMSR implements Prober.
func (d *DevCPU) WriteMSR(core int, addr uint32, value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := d.msrHandle(core)
	if err != nil {
		return err
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	if err := pwriteFull(f, buf[:], int64(addr)); err != nil {
		return fmt.Errorf("wrmsr 0x%x on core %d: %w", addr, core, err)
	}
	return nil
}

func (d *DevCPU) msrHandle(core int) (*os.File, error) {
	if !d.open {
		return nil, ErrNotOpen
	}
	if core < 0 || core > d.maxCore {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrCoreRange, core, d.maxCore)
	}
	if f := d.msr[core]; f != nil {
		return f, nil
	}

	f, err := os.OpenFile(d.devicePath(core, "msr"), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open msr device for core %d: %w", core, err)
	}
	d.msr[core] = f
	return f, nil
}

func (d *DevCPU) devicePath(core int, dev string) string {
	return filepath.Join(d.root, "cpu", strconv.Itoa(core), dev)
}
