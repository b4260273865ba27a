package cmd

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

func renderTable(headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

func renderList(title string, items []string) string {
	rows := make([][]string, len(items))
	for i, item := range items {
		rows[i] = []string{item}
	}
	return renderTable([]string{title}, rows)
}

func statusCell(ok, colorize bool) string {
	label, color := "FAIL", text.FgRed
	if ok {
		label, color = "OK", text.FgGreen
	}
	if !colorize {
		return label
	}
	return color.Sprint(label)
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
