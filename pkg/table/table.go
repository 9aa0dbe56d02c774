// Package table renders pterm tables for command output.
package table

import (
	"strings"

	"github.com/pterm/pterm"
)

// PrintTableNoPad prints rows as a table without trailing padding on each line.
func PrintTableNoPad(rows pterm.TableData, hasHeader bool) {
	out, err := pterm.DefaultTable.WithHasHeader(hasHeader).WithData(rows).Srender()
	if err != nil {
		pterm.Error.Printf("failed to render table: %v\n", err)
		return
	}
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	pterm.Println(strings.Join(lines, "\n"))
}
