package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// DefaultSysfsRoot is the sysfs mount point.
const DefaultSysfsRoot = "/sys"

// SysfsProvider reads the topology from /sys/devices/system/cpu. Cache
// levels sysfs does not describe fall back to the CPUID-derived sizes of
// github.com/klauspost/cpuid when CPUIDFallback is set.
type SysfsProvider struct {
	Root          string
	CPUIDFallback bool
}

// NewSysfsProvider returns a provider rooted at sysRoot ("" means /sys) with
// the CPUID fallback enabled.
func NewSysfsProvider(sysRoot string) *SysfsProvider {
	if sysRoot == "" {
		sysRoot = DefaultSysfsRoot
	}
	return &SysfsProvider{Root: sysRoot, CPUIDFallback: true}
}

// cacheIndex is one cpuN/cache/indexK directory.
type cacheIndex struct {
	level int
	id    int
	geom  CacheGeometry
}

// Discover implements Provider.
func (p *SysfsProvider) Discover() (*Topology, error) {
	log := logging.Get("topology")
	cpuBase := filepath.Join(p.Root, "devices", "system", "cpu")

	entries, err := os.ReadDir(cpuBase)
	if err != nil {
		return nil, fmt.Errorf("%w: read cpu topology: %v", qoserr.ErrFatal, err)
	}

	topo := &Topology{}
	for _, entry := range entries {
		id, ok := cpuDirID(entry.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(cpuBase, entry.Name())

		// Offline cores have no topology directory.
		socket, err := readSysfsInt(filepath.Join(dir, "topology", "physical_package_id"))
		if err != nil {
			log.Debug("skipping core without topology", "core", id)
			continue
		}

		core := Core{ID: id, Socket: socket, L2ID: -1, L3ID: -1}
		for _, idx := range readCacheIndexes(dir) {
			switch idx.level {
			case 2:
				core.L2ID = idx.id
				if !topo.L2.Detected {
					topo.L2 = idx.geom
				}
			case 3:
				core.L3ID = idx.id
				if !topo.L3.Detected {
					topo.L3 = idx.geom
				}
			}
		}
		topo.Cores = append(topo.Cores, core)
	}

	if len(topo.Cores) == 0 {
		return nil, fmt.Errorf("%w: no online cores under %s", qoserr.ErrFatal, cpuBase)
	}
	slices.SortFunc(topo.Cores, func(a, b Core) int { return a.ID - b.ID })

	// Without sysfs cache ids every core is its own L2 cluster and every
	// socket its own L3 cluster.
	for i := range topo.Cores {
		c := &topo.Cores[i]
		if c.L2ID < 0 {
			c.L2ID = c.ID
		}
		if c.L3ID < 0 {
			c.L3ID = c.Socket
		}
	}

	if p.CPUIDFallback {
		applyCPUIDFallback(topo)
	}

	log.Debug("topology discovered",
		"cores", len(topo.Cores),
		"sockets", len(topo.Sockets()),
		"l3", humanize.IBytes(topo.L3.TotalSizeBytes),
		"l2", humanize.IBytes(topo.L2.TotalSizeBytes))

	return topo, nil
}

func applyCPUIDFallback(topo *Topology) {
	topo.Brand = strings.TrimSpace(cpuid.CPU.BrandName)
	if !topo.L2.Detected && cpuid.CPU.Cache.L2 > 0 {
		topo.L2 = CacheGeometry{Detected: true, TotalSizeBytes: uint64(cpuid.CPU.Cache.L2)}
	}
	if !topo.L3.Detected && cpuid.CPU.Cache.L3 > 0 {
		topo.L3 = CacheGeometry{Detected: true, TotalSizeBytes: uint64(cpuid.CPU.Cache.L3)}
	}
	if topo.L2.LineSizeBytes == 0 && topo.L2.Detected && cpuid.CPU.CacheLine > 0 {
		topo.L2.LineSizeBytes = uint32(cpuid.CPU.CacheLine)
	}
	if topo.L3.LineSizeBytes == 0 && topo.L3.Detected && cpuid.CPU.CacheLine > 0 {
		topo.L3.LineSizeBytes = uint32(cpuid.CPU.CacheLine)
	}
}

// readCacheIndexes returns the unified and data caches of one cpu directory.
func readCacheIndexes(cpuDir string) []cacheIndex {
	matches, err := filepath.Glob(filepath.Join(cpuDir, "cache", "index[0-9]*"))
	if err != nil {
		return nil
	}

	var out []cacheIndex
	for _, dir := range matches {
		if readSysfsString(filepath.Join(dir, "type")) == "Instruction" {
			continue
		}
		level, err := readSysfsInt(filepath.Join(dir, "level"))
		if err != nil || (level != 2 && level != 3) {
			continue
		}

		id, err := readSysfsInt(filepath.Join(dir, "id"))
		if err != nil {
			// Older kernels lack the id file; the lowest sharing cpu
			// identifies the instance.
			id, err = firstListed(readSysfsString(filepath.Join(dir, "shared_cpu_list")))
			if err != nil {
				continue
			}
		}

		idx := cacheIndex{level: level, id: id}
		if size, err := parseCacheSize(readSysfsString(filepath.Join(dir, "size"))); err == nil {
			idx.geom.Detected = true
			idx.geom.TotalSizeBytes = size
		}
		if idx.geom.Detected {
			idx.geom.Ways = readSysfsUint32(filepath.Join(dir, "ways_of_associativity"))
			idx.geom.Sets = readSysfsUint32(filepath.Join(dir, "number_of_sets"))
			idx.geom.LineSizeBytes = readSysfsUint32(filepath.Join(dir, "coherency_line_size"))
		}
		out = append(out, idx)
	}
	return out
}

// parseCacheSize parses sysfs sizes like "30720K". The kernel's K is KiB.
func parseCacheSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty cache size")
	}
	if last := s[len(s)-1]; last == 'K' || last == 'M' || last == 'G' {
		s += "iB"
	}
	return humanize.ParseBytes(s)
}

func cpuDirID(name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, "cpu")
	if !ok || suffix == "" || suffix[0] < '0' || suffix[0] > '9' {
		return 0, false
	}
	id, err := strconv.Atoi(suffix)
	return id, err == nil
}

// firstListed returns the first cpu of a list such as "0-7,16-23".
func firstListed(list string) (int, error) {
	first, _, _ := strings.Cut(list, ",")
	first, _, _ = strings.Cut(first, "-")
	return strconv.Atoi(strings.TrimSpace(first))
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readSysfsInt(path string) (int, error) {
	return strconv.Atoi(readSysfsString(path))
}

func readSysfsUint32(path string) uint32 {
	v, err := strconv.ParseUint(readSysfsString(path), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
