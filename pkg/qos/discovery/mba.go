package discovery

import (
	"fmt"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// bandwidth detects memory bandwidth allocation through CPUID. Only linear
// throttling is accepted.
func (e *engine) bandwidth() (capability.Record, error) {
	features, err := e.cpuid(leafExtendedFeatures, 0)
	if err != nil {
		return nil, err
	}
	if !probe.Bit(features.EBX, bitAllocation) {
		return nil, absent("CPUID.0x7.0: memory bandwidth allocation not supported")
	}

	enum, err := e.cpuid(leafAllocation, 0)
	if err != nil {
		return nil, err
	}
	if !probe.Bit(enum.EBX, resMBA) {
		return nil, absent("CPUID.0x10.0: memory bandwidth allocation not supported")
	}

	regs, err := e.cpuid(leafAllocation, resMBA)
	if err != nil {
		return nil, err
	}
	mba := &capability.BandwidthCapability{
		NumClasses:         regs.EDX&0xffff + 1,
		ThrottleMaxPercent: regs.EAX&0xfff + 1,
		Linear:             probe.Bit(regs.ECX, bitMBALinear),
	}
	if !mba.Linear {
		return nil, absent("non-linear memory bandwidth throttling")
	}
	if mba.ThrottleMaxPercent >= 100 {
		return nil, fmt.Errorf("%w: throttle max %d%% leaves no step", qoserr.ErrFatal, mba.ThrottleMaxPercent)
	}
	mba.ThrottleStepPercent = 100 - mba.ThrottleMaxPercent

	e.log.Info("memory bandwidth allocation detected",
		"classes", mba.NumClasses,
		"throttle_max", mba.ThrottleMaxPercent,
		"step", mba.ThrottleStepPercent)
	return mba, nil
}
