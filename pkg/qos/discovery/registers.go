package discovery

// CPUID leaves.
const (
	leafExtendedFeatures = 0x7
	leafArchPerfMon      = 0xA
	leafMonitoring       = 0xF
	leafAllocation       = 0x10
	leafExtendedMax      = 0x80000000
	leafBrandFirst       = 0x80000002
	leafBrandLast        = 0x80000004
)

// Feature bits.
const (
	// CPUID(0x7,0).EBX
	bitMonitoring = 12
	bitAllocation = 15

	// CPUID(0xF,0).EDX
	bitL3Monitoring = 1

	// CPUID(0xF,1).EDX
	bitOccupancy = 0
	bitTotalBW   = 1
	bitLocalBW   = 2

	// CPUID(0x10,0).EBX resource ids, also the subleaf describing each.
	resL3Alloc = 1
	resL2Alloc = 2
	resMBA     = 3

	// CPUID(0x10,n).ECX
	bitSplitSupported = 2
	bitMBALinear      = 2
)

// Model specific registers.
const (
	msrL3SplitConfig = 0xC81
	msrL2SplitConfig = 0xC82
	msrL3MaskBase    = 0xC90
	maxL3Classes     = 128
)

// brandClasses is the class count of CPUs that implement L3 allocation
// without advertising it through CPUID.
const brandClasses = 4

// allocationBrands lists the brand string fragments of those CPUs.
var allocationBrands = []string{
	"E5-2658 v3",
	"E5-2648L v3",
	"E5-2628L v3",
	"E5-2618L v3",
	"E5-2608L v3",
	"E5-2658A v3",
	"E3-1258L v4",
	"E3-1278L v4",
}
