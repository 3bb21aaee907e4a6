package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ChangeStatus classifies a Change
type ChangeStatus string

const (
	StatusChanged ChangeStatus = "changed"
	StatusNew     ChangeStatus = "new"
	StatusError   ChangeStatus = "error"
)

// Change is the difference for one query between two snapshots
type Change struct {
	Query    string
	Status   ChangeStatus
	Previous *int
	Current  *int
	Diff     int
	// Percentage is relative to Previous; NaN when there is no base
	Percentage float64
}

// Compare lists the queries of cur whose total changed since prev. Queries
// missing a count on either side are reported as errors and sorted last;
// the rest are ordered by the size of the change.
func Compare(prev, cur Snapshot) []Change {
	changes := []Change{}

	for query, current := range cur {
		previous, known := prev[query]

		switch {
		case current == nil || (known && previous == nil):
			changes = append(changes, Change{Query: query, Status: StatusError, Previous: previous, Current: current})
		case !known:
			changes = append(changes, Change{
				Query:      query,
				Status:     StatusNew,
				Current:    current,
				Diff:       *current,
				Percentage: math.NaN(),
			})
		default:
			diff := *current - *previous
			if diff == 0 {
				continue
			}
			pct := math.NaN()
			if *previous != 0 {
				pct = float64(diff) / float64(*previous) * 100
			}
			changes = append(changes, Change{
				Query:      query,
				Status:     StatusChanged,
				Previous:   previous,
				Current:    current,
				Diff:       diff,
				Percentage: pct,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if (a.Status == StatusError) != (b.Status == StatusError) {
			return b.Status == StatusError
		}
		if da, db := abs(a.Diff), abs(b.Diff); da != db {
			return da > db
		}
		return a.Query < b.Query
	})
	return changes
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Render writes changes as a table
func Render(w io.Writer, changes []Change) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Format.Footer = text.FormatDefault
	tbl.AppendHeader(table.Row{"Query", "Previous", "Current", "Change", "%"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	for _, c := range changes {
		if c.Status == StatusError {
			tbl.AppendRow(table.Row{c.Query, formatCount(c.Previous), formatCount(c.Current), "error", ""})
			continue
		}
		tbl.AppendRow(table.Row{
			c.Query,
			formatCount(c.Previous),
			formatCount(c.Current),
			formatDiff(c.Diff),
			formatPercent(c.Percentage),
		})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d changed", len(changes))})
	tbl.Render()
}

// RenderSnapshot writes a snapshot as a table in query order
func RenderSnapshot(w io.Writer, snap Snapshot) {
	queries := make([]string, 0, len(snap))
	for q := range snap {
		queries = append(queries, q)
	}
	sort.Strings(queries)

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Query", "Total"})
	tbl.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, q := range queries {
		tbl.AppendRow(table.Row{q, formatCount(snap[q])})
	}
	tbl.Render()
}

func formatCount(n *int) string {
	if n == nil {
		return "-"
	}
	return humanize.Comma(int64(*n))
}

func formatDiff(d int) string {
	if d > 0 {
		return "+" + humanize.Comma(int64(d))
	}
	return humanize.Comma(int64(d))
}

func formatPercent(p float64) string {
	if math.IsNaN(p) {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", p)
}
