package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// PrettyFormatter formats the report with colors and boxes using lipgloss.
// It is meant for terminal display.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")

	if r.Empty() {
		w.WriteString(MutedStyle.Render("  No platform QoS capability discovered\n"))
	}
	if m := r.Monitoring; m != nil {
		w.WriteString(f.formatMonitoring(m))
	}
	if a := r.L3Alloc; a != nil {
		w.WriteString(f.formatAllocation("L3 cache allocation", &a.AllocationCapability))
	}
	if a := r.L2Alloc; a != nil {
		w.WriteString(f.formatAllocation("L2 cache allocation", &a.AllocationCapability))
	}
	if b := r.Bandwidth; b != nil {
		w.WriteString(f.formatBandwidth(b))
	}

	w.WriteString(FooterBox.Render(MutedStyle.Render("Use -o plain for unformatted output")))
	w.WriteString("\n")
	return nil
}

// formatHeader builds the header box with the platform summary.
func (f *PrettyFormatter) formatHeader(r *Report) string {
	var lines []string

	if r.Brand != "" {
		lines = append(lines, field("CPU:", r.Brand))
	}
	lines = append(lines, strings.Join([]string{
		field("Interface:", r.Interface),
		field("Sockets:", fmt.Sprintf("%d", r.Sockets)),
		field("Cores:", fmt.Sprintf("%d", r.Cores)),
	}, "  "))

	var caches []string
	if r.L2Cache.Detected {
		caches = append(caches, field("L2:", cacheSummary(r.L2Cache, r.L2Clusters)))
	}
	if r.L3Cache.Detected {
		caches = append(caches, field("L3:", cacheSummary(r.L3Cache, r.L3Clusters)))
	}
	if len(caches) > 0 {
		lines = append(lines, strings.Join(caches, "  "))
	}

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatMonitoring(m *capability.MonitoringCapability) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Monitoring"))
	sb.WriteString("\n")
	sb.WriteString("  " + field("RMIDs:", fmt.Sprintf("%d", m.MaxRMID)))
	if m.L3SizeBytes > 0 {
		sb.WriteString("  " + field("L3 size:", SizeStyle.Render(humanize.IBytes(m.L3SizeBytes))))
	}
	sb.WriteString("\n")
	for _, ev := range m.Events {
		name := padRight(ev.Kind.String(), 14)
		if ev.MaxRMID == 0 && ev.ScaleFactor == 0 {
			sb.WriteString(fmt.Sprintf("  %s %s\n", SuccessStyle.Render(name), MutedStyle.Render("perf")))
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s %s %s\n", SuccessStyle.Render(name),
			field("rmids", fmt.Sprintf("%d", ev.MaxRMID)),
			field("scale", fmt.Sprintf("%d", ev.ScaleFactor))))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (f *PrettyFormatter) formatAllocation(title string, a *capability.AllocationCapability) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render(title))
	sb.WriteString("\n")
	sb.WriteString("  " + strings.Join([]string{
		field("Classes:", fmt.Sprintf("%d", a.NumClasses)),
		field("Ways:", fmt.Sprintf("%d", a.NumWays)),
		field("Way size:", sizeOrUnknown(a.WaySizeBytes)),
	}, "  "))
	sb.WriteString("\n")
	sb.WriteString("  " + field("CDP:", splitState(a.SplitSupported, a.SplitEnabled)))
	if a.WayContentionMask != 0 {
		sb.WriteString("  " + field("Contention:", fmt.Sprintf("0x%x", a.WayContentionMask)))
	}
	sb.WriteString("\n\n")
	return sb.String()
}

func (f *PrettyFormatter) formatBandwidth(b *capability.BandwidthCapability) string {
	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("Memory bandwidth allocation"))
	sb.WriteString("\n")
	sb.WriteString("  " + strings.Join([]string{
		field("Classes:", fmt.Sprintf("%d", b.NumClasses)),
		field("Max throttle:", fmt.Sprintf("%d%%", b.ThrottleMaxPercent)),
		field("Step:", fmt.Sprintf("%d%%", b.ThrottleStepPercent)),
	}, "  "))
	sb.WriteString("\n")

	ctrl := b.ControlSupported.String()
	if b.ControlEnabled {
		ctrl += ", enabled"
	}
	sb.WriteString("  " + field("Controller:", ctrl))
	sb.WriteString("\n\n")
	return sb.String()
}

func field(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

func cacheSummary(g topology.CacheGeometry, clusters int) string {
	s := humanize.IBytes(g.TotalSizeBytes)
	if g.Ways > 0 {
		s += fmt.Sprintf(" %d-way", g.Ways)
	}
	if clusters > 1 {
		s += fmt.Sprintf(" x%d", clusters)
	}
	return s
}

func sizeOrUnknown(n uint64) string {
	if n == 0 {
		return "unknown"
	}
	return humanize.IBytes(n)
}

func splitState(supported, enabled bool) string {
	switch {
	case enabled:
		return "enabled"
	case supported:
		return "supported, disabled"
	default:
		return "unsupported"
	}
}

// padRight pads s with spaces to width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
