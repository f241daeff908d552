package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dyluth/forno/pkg/board"
)

// FormatTable writes the report as a formatted table to the provided writer.
// Columns: ORDER, STATE and the order's recorded quality scores.
// Returns the number of orders formatted.
func FormatTable(w io.Writer, r *Report, instanceName string) int {
	if len(r.StateByOrder) == 0 && len(r.LostOrders) == 0 {
		fmt.Fprintf(w, "No orders found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Orders for instance '%s':\n\n", instanceName)
	fmt.Fprintf(w, "%-8s %-12s %s\n", "ORDER", "STATE", "QUALITY")
	fmt.Fprintf(w, "%-8s %-12s %s\n", "--------", "------------", "----------------------------------------")

	orderIDs := make([]int, 0, len(r.StateByOrder))
	for orderID := range r.StateByOrder {
		orderIDs = append(orderIDs, orderID)
	}
	sort.Ints(orderIDs)

	for _, orderID := range orderIDs {
		fmt.Fprintf(w, "%-8d %-12s %s\n",
			orderID,
			r.StateByOrder[orderID],
			formatQuality(r.QualityByOrder[orderID]),
		)
	}

	shelved := len(r.Shelved())
	fmt.Fprintf(w, "\n%d %s found, %d shelved, %d lost\n",
		len(orderIDs), plural(len(orderIDs), "order"), shelved, len(r.LostOrders))

	return len(orderIDs)
}

// FormatJSON writes the report as a single indented JSON object, for
// processing with tools like jq.
func FormatJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// formatQuality renders a quality map as "stage=0.97" pairs in stage name
// order.
func formatQuality(quality map[board.OrderState]float64) string {
	if len(quality) == 0 {
		return "-"
	}
	stages := make([]string, 0, len(quality))
	for stage := range quality {
		stages = append(stages, string(stage))
	}
	sort.Strings(stages)

	parts := make([]string, len(stages))
	for i, stage := range stages {
		parts[i] = fmt.Sprintf("%s=%.2f", stage, quality[board.OrderState(stage)])
	}
	return strings.Join(parts, " ")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
