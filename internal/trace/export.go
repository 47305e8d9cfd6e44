package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// WriteTraceabilityCSV writes the traceability matrix: one row per
// (requirement, verification, test) triple in the graph, with the
// test status and its evidence references. The column set is fixed by
// the external interface consumed by audit tooling.
func WriteTraceabilityCSV(w io.Writer, snap *Snapshot) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"Requirement", "Verification", "Test", "Status", "Evidence"}); err != nil {
		return fmt.Errorf("failed to write traceability header: %w", err)
	}
	for _, triple := range snap.Triples() {
		row := []string{
			triple.Requirement.ID,
			triple.Verification.ID,
			triple.Test.ID,
			string(triple.Test.Status),
			strings.Join(triple.Test.Evidence, ";"),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write traceability row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
