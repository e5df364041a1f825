package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
)

// PlainFormatter formats the report as an aligned TECHNOLOGY/PROPERTY/VALUE
// table with no styling, suitable for scripting.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	rows := [][3]string{{"TECHNOLOGY", "PROPERTY", "VALUE"}}
	add := func(tech, prop string, v any) {
		rows = append(rows, [3]string{tech, prop, fmt.Sprint(v)})
	}

	add("platform", "interface", r.Interface)
	if r.Brand != "" {
		add("platform", "brand", r.Brand)
	}
	add("platform", "sockets", r.Sockets)
	add("platform", "cores", r.Cores)

	if m := r.Monitoring; m != nil {
		add("mon", "max_rmid", m.MaxRMID)
		add("mon", "l3_size_bytes", m.L3SizeBytes)
		for _, ev := range m.Events {
			add("mon", "event."+ev.Kind.String(), fmt.Sprintf("rmids=%d scale=%d", ev.MaxRMID, ev.ScaleFactor))
		}
	}
	if a := r.L3Alloc; a != nil {
		rows = appendAllocation(rows, "l3ca", &a.AllocationCapability)
	}
	if a := r.L2Alloc; a != nil {
		rows = appendAllocation(rows, "l2ca", &a.AllocationCapability)
	}
	if b := r.Bandwidth; b != nil {
		add("mba", "num_classes", b.NumClasses)
		add("mba", "throttle_max", b.ThrottleMaxPercent)
		add("mba", "throttle_step", b.ThrottleStepPercent)
		add("mba", "is_linear", b.Linear)
		add("mba", "ctrl_supported", b.ControlSupported)
		add("mba", "ctrl_enabled", b.ControlEnabled)
	}

	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", row[0], row[1], row[2]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func appendAllocation(rows [][3]string, tech string, a *capability.AllocationCapability) [][3]string {
	return append(rows,
		[3]string{tech, "num_classes", fmt.Sprint(a.NumClasses)},
		[3]string{tech, "num_ways", fmt.Sprint(a.NumWays)},
		[3]string{tech, "way_size_bytes", fmt.Sprint(a.WaySizeBytes)},
		[3]string{tech, "cdp_supported", fmt.Sprint(a.SplitSupported)},
		[3]string{tech, "cdp_enabled", fmt.Sprint(a.SplitEnabled)},
		[3]string{tech, "way_contention_mask", fmt.Sprintf("0x%x", a.WayContentionMask)},
	)
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
