package main

import (
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable draws a rounded table. Columns listed in rightAligned (1-based)
// are right aligned; rows shorter than headers are padded with blanks.
func renderTable(title string, headers []string, rows [][]string, rightAligned ...int) string {
	if len(headers) == 0 {
		return ""
	}
	toRow := func(cells []string) table.Row {
		row := make(table.Row, len(headers))
		for i := range row {
			row[i] = ""
			if i < len(cells) {
				row[i] = cells[i]
			}
		}
		return row
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	tw.AppendHeader(toRow(headers))
	for _, r := range rows {
		tw.AppendRow(toRow(r))
	}
	configs := make([]table.ColumnConfig, 0, len(headers))
	for n := 1; n <= len(headers); n++ {
		align := text.AlignLeft
		if slices.Contains(rightAligned, n) {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: n, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
