package certify

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"certtrace/internal/trace"
)

// WriteConfigReport writes the structured configuration report for
// every registered version: base version, component map, linked
// safety case with status and evidence, and whether the version is
// certification-ready per the gate.
func WriteConfigReport(w io.Writer, gate *Gate, snap *trace.Snapshot) error {
	for _, v := range gate.registry.Versions() {
		eval, err := gate.Evaluate(snap, v.Version)
		if err != nil {
			return err
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "version: %s\n", v.Version)
		fmt.Fprintf(&sb, "  status: %s\n", v.Status)
		fmt.Fprintf(&sb, "  base_version: %s\n", orNone(v.BaseVersion))

		fmt.Fprintf(&sb, "  components:\n")
		components := make([]string, 0, len(v.Config))
		for c := range v.Config {
			components = append(components, c)
		}
		sort.Strings(components)
		for _, c := range components {
			fmt.Fprintf(&sb, "    %s: %s\n", c, v.Config[c])
		}

		if v.SafetyCaseID == "" {
			fmt.Fprintf(&sb, "  safety_case: none\n")
		} else if sc, err := gate.registry.SafetyCase(v.SafetyCaseID); err == nil {
			fmt.Fprintf(&sb, "  safety_case: %s (%s)\n", sc.ID, sc.Status)
			cats := make([]string, 0, len(sc.Evidence))
			for cat := range sc.Evidence {
				cats = append(cats, cat)
			}
			sort.Strings(cats)
			for _, cat := range cats {
				fmt.Fprintf(&sb, "    evidence %s: %d reference(s)\n", cat, len(sc.Evidence[cat]))
			}
		}

		fmt.Fprintf(&sb, "  certification_ready: %t\n", eval.OK)
		for _, reason := range eval.Reasons {
			fmt.Fprintf(&sb, "    blocked: %s\n", reason)
		}

		if _, err := io.WriteString(w, sb.String()); err != nil {
			return fmt.Errorf("failed to write config report: %w", err)
		}
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
