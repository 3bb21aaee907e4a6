package ui

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

// Table is a simple row-oriented table rendered with go-pretty
type Table struct {
	header table.Row
	rows   []table.Row
	footer table.Row
}

// NewTable creates a table with the given column titles
func NewTable(columns ...interface{}) *Table {
	return &Table{header: table.Row(columns)}
}

// Row appends a row
func (t *Table) Row(cells ...interface{}) *Table {
	t.rows = append(t.rows, table.Row(cells))
	return t
}

// Footer sets the footer row
func (t *Table) Footer(cells ...interface{}) *Table {
	t.footer = table.Row(cells)
	return t
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table to the ui output. Tables are printed in quiet
// mode too, since they are what the user asked for.
func (t *Table) Render() {
	tw := table.NewWriter()
	tw.SetOutputMirror(Output())
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(t.header)
	for _, r := range t.rows {
		tw.AppendRow(r)
	}
	if t.footer != nil {
		tw.AppendFooter(t.footer)
	}
	tw.Render()
}
