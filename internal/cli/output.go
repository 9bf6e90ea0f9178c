package cli

import (
	"encoding/json"
	"os"

	"github.com/dl-alexandre/odsync/internal/types"
	"github.com/olekukonko/tablewriter"
)

// writeOut renders data as indented JSON or, for table format, hands the
// rows to tablewriter.
func writeOut(data interface{}, headers []string, rows [][]string) error {
	if globalFlags.OutputFormat == types.OutputFormatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
	return nil
}

// writeJSONOnly renders data as JSON regardless of format; used where a
// table adds nothing.
func writeJSONOnly(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
